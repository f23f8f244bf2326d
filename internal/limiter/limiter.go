// Package limiter throttles repeated failed logins on the device so a
// mistyped password loop does not hammer the backend.
package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/storage"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, username string) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, username string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, username string) (bool, time.Duration, error)
}

// Key is the storage entry holding limiter state.
const Key = "limiter.login"

const (
	DefaultWindow   = 15 * time.Minute
	DefaultMaxFails = 5
	DefaultBlockFor = 5 * time.Minute
)

type entry struct {
	Fails        int       `json:"fails"`
	UpdatedAt    time.Time `json:"updatedAt"`
	BlockedUntil time.Time `json:"blockedUntil"`
}

// Stored is a Limiter whose counters live in a storage.Store, so lockouts
// survive restarts of a short-lived process such as the CLI.
type Stored struct {
	store    storage.Store
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time

	mu sync.Mutex
}

var _ Limiter = (*Stored)(nil)

// New returns a Stored limiter. Failures further apart than window start a
// new count; maxFails failures inside one window block for blockFor.
func New(store storage.Store, window time.Duration, maxFails int, blockFor time.Duration) *Stored {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxFails <= 0 {
		maxFails = DefaultMaxFails
	}
	if blockFor <= 0 {
		blockFor = DefaultBlockFor
	}
	return &Stored{store: store, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether username may attempt a login now.
func (l *Stored) Allow(ctx context.Context, username string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.load(ctx)
	if err != nil {
		return false, 0, err
	}
	e, ok := state[normalize(username)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.BlockedUntil.After(now) {
		return false, e.BlockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets username's failures.
func (l *Stored) Success(ctx context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.load(ctx)
	if err != nil {
		return err
	}
	key := normalize(username)
	if _, ok := state[key]; !ok {
		return nil
	}
	delete(state, key)
	return l.save(ctx, state)
}

// Failure counts a failed attempt and reports whether username is now blocked.
func (l *Stored) Failure(ctx context.Context, username string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, err := l.load(ctx)
	if err != nil {
		return false, 0, err
	}
	now := l.now()
	key := normalize(username)
	e := state[key]
	if now.Sub(e.UpdatedAt) > l.window {
		e.Fails = 0
	}
	e.Fails++
	e.UpdatedAt = now
	blocked := e.Fails >= l.maxFails
	if blocked {
		e.BlockedUntil = now.Add(l.blockFor)
		e.Fails = 0
	}
	state[key] = e
	if err := l.save(ctx, state); err != nil {
		return false, 0, err
	}
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}

func (l *Stored) load(ctx context.Context) (map[string]entry, error) {
	raw, err := l.store.Get(ctx, Key)
	if errors.Is(err, errs.ErrNotFound) {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("limiter: read: %w", err)
	}
	state := map[string]entry{}
	if err := json.Unmarshal(raw, &state); err != nil {
		// unreadable counters start over
		return map[string]entry{}, nil
	}
	return state, nil
}

func (l *Stored) save(ctx context.Context, state map[string]entry) error {
	now := l.now()
	for k, e := range state {
		if now.Sub(e.UpdatedAt) > l.window && !e.BlockedUntil.After(now) {
			delete(state, k)
		}
	}
	if len(state) == 0 {
		return l.store.Delete(ctx, Key)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("limiter: encode: %w", err)
	}
	if err := l.store.Set(ctx, Key, raw); err != nil {
		return fmt.Errorf("limiter: write: %w", err)
	}
	return nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
