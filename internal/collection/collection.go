// Package collection keeps a remote-backed ordered list in memory and applies
// load, create, remove and like mutations against it.
//
// Creates wait for the source to confirm before anything is inserted. Removes
// are optimistic and roll back on failure. Likes never leave the process.
// Loads are sequenced so an older response cannot overwrite a newer one.
package collection

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/errs"
)

// DefaultTimeout bounds every source call unless WithTimeout overrides it.
const DefaultTimeout = 15 * time.Second

// Item is anything the collection can hold. Key is the server-assigned id;
// 0 is the placeholder for drafts that have not been confirmed yet.
type Item interface {
	Key() int64
}

// Likeable items support local like toggles.
type Likeable[T any] interface {
	LikeCount() int
	WithLikes(n int) T
}

// Source is the remote collaborator behind a collection.
type Source[T Item] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, draft T) (T, error)
	Delete(ctx context.Context, key int64) error
}

// Status of the last load.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// State is a point-in-time copy of the collection.
type State[T Item] struct {
	Items  []T
	Status Status
	Err    string
	Liked  map[int64]bool
	Loaded bool // at least one load has succeeded
}

type opKind int

const (
	opCreate opKind = iota + 1
	opRemove
)

// mutation is a journal entry replayed onto load results that were requested
// before the mutation happened.
type mutation[T Item] struct {
	seq  uint64
	kind opKind
	key  int64
	item T
}

// Collection is safe for concurrent use. No source call runs under the lock.
type Collection[T Item] struct {
	src       Source[T]
	name      string
	log       *zap.Logger
	timeout   time.Duration
	appendNew bool

	mu         sync.Mutex
	items      []T
	status     Status
	errMsg     string
	liked      map[int64]bool
	loaded     bool
	closed     bool
	loadSeq    uint64
	appliedSeq uint64
	inflight   int
	jseq       uint64
	journal    []mutation[T]
	removing   map[int64]bool
	listeners  map[int]func(State[T])
	nextSub    int
}

// Option configures a Collection.
type Option func(*options)

type options struct {
	name      string
	log       *zap.Logger
	timeout   time.Duration
	appendNew bool
}

// WithName labels log lines.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTimeout bounds each source call; d <= 0 disables the bound.
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithAppend inserts confirmed creates at the back instead of the front.
func WithAppend() Option { return func(o *options) { o.appendNew = true } }

// New returns an idle, empty collection over src.
func New[T Item](src Source[T], opts ...Option) *Collection[T] {
	o := options{name: "collection", log: zap.NewNop(), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Collection[T]{
		src:       src,
		name:      o.name,
		log:       o.log.With(zap.String("collection", o.name)),
		timeout:   o.timeout,
		appendNew: o.appendNew,
		liked:     map[int64]bool{},
		removing:  map[int64]bool{},
		listeners: map[int]func(State[T]){},
	}
}

// Load fetches the full list and replaces the items with it. A response that
// arrives after a newer one has been applied is dropped. On failure the
// previous items stay and the error is both recorded and returned.
func (c *Collection[T]) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	c.loadSeq++
	seq, mark := c.loadSeq, c.jseq
	c.inflight++
	c.status = StatusLoading
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)

	ctx, cancel := c.callCtx(ctx)
	items, err := c.src.List(ctx)
	cancel()

	c.mu.Lock()
	c.inflight--
	defer c.pruneJournal()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	if seq < c.appliedSeq {
		c.mu.Unlock()
		c.log.Debug("stale load discarded", zap.Uint64("seq", seq))
		return nil
	}
	c.appliedSeq = seq
	if err != nil {
		c.status = StatusError
		c.errMsg = err.Error()
		st = c.stateLocked()
		c.mu.Unlock()
		c.log.Warn("load failed", zap.Uint64("seq", seq), zap.Error(err))
		c.notify(st)
		return err
	}
	c.items = c.replayLocked(items, mark)
	c.liked = map[int64]bool{}
	c.status = StatusLoaded
	c.errMsg = ""
	c.loaded = true
	st = c.stateLocked()
	c.mu.Unlock()
	c.log.Debug("loaded", zap.Uint64("seq", seq), zap.Int("items", len(st.Items)))
	c.notify(st)
	return nil
}

// replayLocked builds the new item list from a server response, applying
// mutations that happened after the request was issued and dropping items
// with a delete still in flight.
func (c *Collection[T]) replayLocked(server []T, mark uint64) []T {
	removed := map[int64]bool{}
	for k := range c.removing {
		removed[k] = true
	}
	var created []T
	for _, m := range c.journal {
		if m.seq <= mark {
			continue
		}
		switch m.kind {
		case opRemove:
			removed[m.key] = true
		case opCreate:
			delete(removed, m.key)
			created = append(created, m.item)
		}
	}

	seen := make(map[int64]bool, len(server)+len(created))
	out := make([]T, 0, len(server)+len(created))
	for _, it := range server {
		k := it.Key()
		if removed[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	for _, it := range created {
		k := it.Key()
		if removed[k] || seen[k] {
			continue
		}
		seen[k] = true
		out = c.insert(out, it)
	}
	return out
}

// Create sends draft to the source and inserts the confirmed item. Nothing is
// inserted when the source fails.
func (c *Collection[T]) Create(ctx context.Context, draft T) (T, error) {
	var zero T
	if c.isClosed() {
		return zero, errs.ErrClosed
	}

	ctx, cancel := c.callCtx(ctx)
	item, err := c.src.Create(ctx, draft)
	cancel()
	if err != nil {
		c.log.Warn("create failed", zap.Error(err))
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, errs.ErrClosed
	}
	k := item.Key()
	if i := c.indexLocked(k); i >= 0 {
		c.items[i] = item
	} else {
		c.items = c.insert(c.items, item)
	}
	c.recordLocked(mutation[T]{kind: opCreate, key: k, item: item})
	st := c.stateLocked()
	c.mu.Unlock()

	c.log.Debug("created", zap.Int64("key", k))
	c.notify(st)
	return item, nil
}

// Remove deletes the item locally and then at the source. A second call while
// the first is pending, or a call for an absent key, is a no-op. If the source
// fails the item goes back to where it was and the error is returned; a source
// that no longer has the item counts as success.
func (c *Collection[T]) Remove(ctx context.Context, key int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	idx := c.indexLocked(key)
	if c.removing[key] || idx < 0 {
		c.mu.Unlock()
		return nil
	}
	item := c.items[idx]
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	c.removing[key] = true
	jseq := c.recordLocked(mutation[T]{kind: opRemove, key: key})
	wasLiked := c.liked[key]
	delete(c.liked, key)
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)

	ctx, cancel := c.callCtx(ctx)
	err := c.src.Delete(ctx, key)
	cancel()

	c.mu.Lock()
	delete(c.removing, key)
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	if err == nil || errors.Is(err, errs.ErrNotFound) {
		c.mu.Unlock()
		c.log.Debug("removed", zap.Int64("key", key))
		return nil
	}

	c.dropJournalLocked(jseq)
	if c.indexLocked(key) < 0 {
		pos := min(idx, len(c.items))
		c.items = append(c.items[:pos:pos], append([]T{item}, c.items[pos:]...)...)
		if wasLiked {
			c.liked[key] = true
		}
	}
	st = c.stateLocked()
	c.mu.Unlock()

	c.log.Warn("remove failed, restored", zap.Int64("key", key), zap.Error(err))
	c.notify(st)
	return err
}

// ToggleLike flips the local liked flag on key and adjusts its count by one.
// It reports the new flag. Likes are never sent anywhere and reset on Load.
func (c *Collection[T]) ToggleLike(key int64) (bool, error) {
	return c.adjustLike(key, likeToggle)
}

// Like adds one to key's count and marks it liked.
func (c *Collection[T]) Like(key int64) error {
	_, err := c.adjustLike(key, likeOn)
	return err
}

// Unlike takes one from key's count, never below zero, and clears the flag.
func (c *Collection[T]) Unlike(key int64) error {
	_, err := c.adjustLike(key, likeOff)
	return err
}

type likeMode int

const (
	likeToggle likeMode = iota
	likeOn
	likeOff
)

func (c *Collection[T]) adjustLike(key int64, mode likeMode) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, errs.ErrClosed
	}
	i := c.indexLocked(key)
	if i < 0 {
		c.mu.Unlock()
		return false, errs.ErrNotFound
	}
	lk, ok := any(c.items[i]).(Likeable[T])
	if !ok {
		c.mu.Unlock()
		return false, errs.ErrUnsupported
	}
	like := mode == likeOn || (mode == likeToggle && !c.liked[key])
	delta := -1
	if like {
		delta = 1
		c.liked[key] = true
	} else {
		delete(c.liked, key)
	}
	c.items[i] = lk.WithLikes(max(lk.LikeCount()+delta, 0))
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)
	return like, nil
}

// Snapshot returns a copy of the current state.
func (c *Collection[T]) Snapshot() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Get returns the item with key.
func (c *Collection[T]) Get(key int64) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(key); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Subscribe registers fn for every state change.
func (c *Collection[T]) Subscribe(fn func(State[T])) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Close detaches the consumer. Responses still in flight are dropped and
// every later call returns errs.ErrClosed.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.listeners = map[int]func(State[T]){}
	c.journal = nil
	c.log.Debug("closed")
}

func (c *Collection[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Collection[T]) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Collection[T]) insert(list []T, it T) []T {
	if c.appendNew {
		return append(list, it)
	}
	return append([]T{it}, list...)
}

func (c *Collection[T]) indexLocked(key int64) int {
	for i := range c.items {
		if c.items[i].Key() == key {
			return i
		}
	}
	return -1
}

// recordLocked journals m if a load could still be affected by it.
func (c *Collection[T]) recordLocked(m mutation[T]) uint64 {
	c.jseq++
	m.seq = c.jseq
	if c.inflight > 0 {
		c.journal = append(c.journal, m)
	}
	return m.seq
}

func (c *Collection[T]) dropJournalLocked(seq uint64) {
	for i := range c.journal {
		if c.journal[i].seq == seq {
			c.journal = append(c.journal[:i:i], c.journal[i+1:]...)
			return
		}
	}
}

// pruneJournal drops the journal once no load can replay it.
func (c *Collection[T]) pruneJournal() {
	c.mu.Lock()
	if c.inflight == 0 {
		c.journal = nil
	}
	c.mu.Unlock()
}

func (c *Collection[T]) stateLocked() State[T] {
	st := State[T]{
		Items:  append([]T(nil), c.items...),
		Status: c.status,
		Err:    c.errMsg,
		Liked:  make(map[int64]bool, len(c.liked)),
		Loaded: c.loaded,
	}
	for k := range c.liked {
		st.Liked[k] = true
	}
	if st.Items == nil {
		st.Items = []T{}
	}
	return st
}

func (c *Collection[T]) notify(st State[T]) {
	c.mu.Lock()
	fns := make([]func(State[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}
