// Package session owns the authenticated identity: held in memory, persisted to
// secure storage, and mutated only through Store's own methods.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/storage"
)

// DefaultKey is the secure-storage entry holding the encoded identity.
const DefaultKey = "auth.user"

// Phase is the store's position in its lifecycle.
type Phase int

const (
	Uninitialized Phase = iota
	ReadyEmpty
	ReadyWithIdentity
)

func (p Phase) String() string {
	switch p {
	case ReadyEmpty:
		return "ready_empty"
	case ReadyWithIdentity:
		return "ready_with_identity"
	default:
		return "uninitialized"
	}
}

// State is an immutable view of the session.
type State struct {
	Phase    Phase
	Identity *model.Identity // nil unless Phase == ReadyWithIdentity
}

// Ready reports whether the initial load has completed.
func (s State) Ready() bool { return s.Phase != Uninitialized }

// Store is the process-wide session cell. The zero value is not usable; see New.
type Store struct {
	secure storage.Store
	key    string
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	phase     Phase
	identity  *model.Identity
	listeners map[int]func(State)
	nextSub   int

	// serializes persistence so writes land in call order
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithKey overrides the secure-storage entry name.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// New constructs an uninitialized Store over secure storage.
func New(secure storage.Store, opts ...Option) *Store {
	s := &Store{
		secure:    secure,
		key:       DefaultKey,
		log:       zap.NewNop(),
		now:       time.Now,
		listeners: map[int]func(State){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads a persisted identity. Read and decode failures leave the
// session empty; the store becomes ready regardless. It may run only once.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != Uninitialized {
		s.mu.Unlock()
		return errs.ErrAlreadyInitialized
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	id := s.load(ctx)

	s.mu.Lock()
	if s.phase != Uninitialized {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return errs.ErrAlreadyInitialized
	}
	s.setLocked(id)
	st := s.stateLocked()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.log.Info("session initialized", zap.Stringer("phase", st.Phase))
	s.notify(st)
	return nil
}

func (s *Store) load(ctx context.Context) *model.Identity {
	raw, err := s.secure.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("session read failed", zap.Error(err))
		}
		return nil
	}
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		s.log.Warn("session decode failed", zap.Error(err))
		return nil
	}
	if !id.Valid() {
		s.log.Warn("persisted identity has no id; discarding")
		if err := s.secure.Delete(ctx, s.key); err != nil {
			s.log.Warn("discard stale identity", zap.Error(err))
		}
		return nil
	}
	return &id
}

// SetIdentity persists and publishes id. An invalid id clears the session.
// The in-memory identity changes only after the write succeeds.
func (s *Store) SetIdentity(ctx context.Context, id *model.Identity) error {
	if !id.Valid() {
		return s.ClearIdentity(ctx)
	}
	if !s.Ready() {
		return errs.ErrNotReady
	}
	cp := cloneIdentity(id)
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("session: encode identity: %w", err)
	}

	s.writeMu.Lock()
	if err := s.secure.Set(ctx, s.key, raw); err != nil {
		s.writeMu.Unlock()
		s.log.Error("session persist failed", zap.Error(err))
		return fmt.Errorf("session: persist identity: %w", err)
	}

	s.mu.Lock()
	s.setLocked(cp)
	st := s.stateLocked()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.log.Info("session identity set", zap.String("id", cp.ID))
	s.notify(st)
	return nil
}

// ClearIdentity drops the identity from memory and secure storage. Idempotent.
func (s *Store) ClearIdentity(ctx context.Context) error {
	if !s.Ready() {
		return errs.ErrNotReady
	}
	s.writeMu.Lock()
	s.mu.Lock()
	had := s.identity != nil
	s.setLocked(nil)
	st := s.stateLocked()
	s.mu.Unlock()
	err := s.secure.Delete(ctx, s.key)
	s.writeMu.Unlock()

	// listeners may call back into the store, so no lock is held here
	if had {
		s.notify(st)
	}
	if err != nil {
		s.log.Error("session delete failed", zap.Error(err))
		return fmt.Errorf("session: delete identity: %w", err)
	}
	return nil
}

// Identity returns a copy of the current identity.
func (s *Store) Identity() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *cloneIdentity(s.identity), true
}

// Ready reports whether Initialize has completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase != Uninitialized
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe registers fn for every transition and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) setLocked(id *model.Identity) {
	s.identity = id
	if id == nil {
		s.phase = ReadyEmpty
		return
	}
	s.phase = ReadyWithIdentity
}

func (s *Store) stateLocked() State {
	st := State{Phase: s.phase}
	if s.identity != nil {
		st.Identity = cloneIdentity(s.identity)
	}
	return st
}

func (s *Store) notify(st State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func cloneIdentity(id *model.Identity) *model.Identity {
	cp := *id
	if id.Height != nil {
		h := *id.Height
		cp.Height = &h
	}
	if id.Weight != nil {
		w := *id.Weight
		cp.Weight = &w
	}
	return &cp
}
