// Package library keeps the user's saved nutrition items on the device.
//
// The whole list lives under one storage key and is rewritten on every
// mutation. Entries are kept oldest first.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/collection"
	"github.com/and161185/fitpanda/internal/convert"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/storage"
)

// Key is the general-storage entry holding the library.
const Key = "library"

// Library is a collection.Source over general storage.
type Library struct {
	store storage.Store
	log   *zap.Logger
	now   func() time.Time

	// serializes read-modify-write cycles
	mu sync.Mutex
}

var _ collection.Source[model.LibraryEntry] = (*Library)(nil)

// New returns a Library backed by store.
func New(store storage.Store, log *zap.Logger) *Library {
	if log == nil {
		log = zap.NewNop()
	}
	return &Library{store: store, log: log, now: time.Now}
}

// List returns every saved entry, oldest first.
func (l *Library) List(ctx context.Context) ([]model.LibraryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.read(ctx)
}

// Create validates draft, assigns the next id and saves it.
func (l *Library) Create(ctx context.Context, draft model.LibraryEntry) (model.LibraryEntry, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Brand = strings.TrimSpace(draft.Brand)
	if draft.Name == "" {
		return model.LibraryEntry{}, errs.Validation("food name is required")
	}
	if err := checkNutrients(draft.NutritionItem); err != nil {
		return model.LibraryEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.read(ctx)
	if err != nil {
		return model.LibraryEntry{}, err
	}
	draft.ID = nextID(entries)
	if draft.SavedAt.IsZero() {
		draft.SavedAt = l.now().UTC()
	}
	if err := l.write(ctx, append(entries, draft)); err != nil {
		return model.LibraryEntry{}, err
	}
	l.log.Debug("library entry saved", zap.Int64("id", draft.ID))
	return draft, nil
}

// Delete removes the entry with id. A missing id is not an error.
func (l *Library) Delete(ctx context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.read(ctx)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return l.write(ctx, kept)
}

// Clear drops the whole library.
func (l *Library) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, Key); err != nil {
		return fmt.Errorf("library: clear: %w", err)
	}
	return nil
}

func (l *Library) read(ctx context.Context) ([]model.LibraryEntry, error) {
	raw, err := l.store.Get(ctx, Key)
	if errors.Is(err, errs.ErrNotFound) {
		return []model.LibraryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: read: %w", err)
	}
	entries, err := convert.DecodeLibrary(raw)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	assignLegacyIDs(entries)
	return entries, nil
}

func (l *Library) write(ctx context.Context, entries []model.LibraryEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("library: encode: %w", err)
	}
	if err := l.store.Set(ctx, Key, raw); err != nil {
		return fmt.Errorf("library: write: %w", err)
	}
	return nil
}

// assignLegacyIDs numbers entries saved without an id after the current
// maximum, in stored order, so the same blob always yields the same ids.
func assignLegacyIDs(entries []model.LibraryEntry) {
	next := nextID(entries)
	for i := range entries {
		if entries[i].ID == 0 {
			entries[i].ID = next
			next++
		}
	}
}

func nextID(entries []model.LibraryEntry) int64 {
	var hi int64
	for _, e := range entries {
		hi = max(hi, e.ID)
	}
	return hi + 1
}

func checkNutrients(it model.NutritionItem) error {
	for name, v := range map[string]*float64{
		"calories": it.Calories, "carbs": it.Carbs, "protein": it.Protein, "fat": it.Fat,
	} {
		if v != nil && *v < 0 {
			return errs.Validation("%s must not be negative", name)
		}
	}
	return nil
}
