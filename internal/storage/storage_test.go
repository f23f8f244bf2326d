package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/and161185/fitpanda/internal/errs"
)

func TestMemory_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	v := []byte("value")
	if err := m.Set(ctx, "k", v); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v[0] = 'X'
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "value" {
		t.Fatalf("Get: %q %v (stored value must be copied)", got, err)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete must be a no-op: %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}
