// Package sealed implements secure on-device storage: every key lives in its
// own file, sealed with XChaCha20-Poly1305 under a subkey of the device master key.
package sealed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/crypto"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/storage"
)

const (
	deviceKeyFile = "device.key"
	saltFile      = "salt"
	entrySuffix   = ".sealed"
)

// Store is a file-backed secure storage.Store.
type Store struct {
	dir    string
	master []byte
	log    *zap.Logger

	mu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	passphrase []byte
	log        *zap.Logger
}

// WithPassphrase derives the master key with Argon2id instead of a random device key.
func WithPassphrase(p []byte) Option {
	return func(o *options) { o.passphrase = append([]byte(nil), p...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open prepares dir (0700) and loads or creates the master key material.
func Open(dir string, opts ...Option) (*Store, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errs.Validation("sealed: empty dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sealed: mkdir: %w", err)
	}

	var master []byte
	if len(o.passphrase) > 0 {
		salt, err := loadOrCreate(filepath.Join(dir, saltFile), crypto.SaltLen)
		if err != nil {
			return nil, err
		}
		master = crypto.DeriveMasterKey(o.passphrase, salt)
	} else {
		key, err := loadOrCreate(filepath.Join(dir, deviceKeyFile), crypto.KeyLen)
		if err != nil {
			return nil, err
		}
		master = key
	}
	return &Store{dir: dir, master: master, log: o.log}, nil
}

// Get opens the sealed entry for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	blob, err := os.ReadFile(path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("sealed: read %q: %w", key, err)
	}
	ek, err := crypto.DeriveEntryKey(s.master, key)
	if err != nil {
		return nil, err
	}
	pt, err := crypto.Open(ek, []byte(key), blob)
	if err != nil {
		return nil, fmt.Errorf("sealed: open %q: %w: %v", key, errs.ErrDecode, err)
	}
	return pt, nil
}

// Set seals value and atomically replaces the entry for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	ek, err := crypto.DeriveEntryKey(s.master, key)
	if err != nil {
		return err
	}
	blob, err := crypto.Seal(ek, []byte(key), value)
	if err != nil {
		return fmt.Errorf("sealed: seal %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(path, blob); err != nil {
		return fmt.Errorf("sealed: write %q: %w", key, err)
	}
	s.log.Debug("sealed entry written", zap.String("key", key), zap.Int("bytes", len(blob)))
	return nil
}

// Delete removes the entry for key; a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sealed: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" || k == "." || k == ".." {
		return "", errs.Validation("sealed: bad key %q", key)
	}
	return filepath.Join(s.dir, url.PathEscape(k)+entrySuffix), nil
}

func loadOrCreate(path string, n int) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		if len(b) != n {
			return nil, fmt.Errorf("sealed: %s: %w: want %d bytes, got %d", filepath.Base(path), errs.ErrDecode, n, len(b))
		}
		return b, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("sealed: read %s: %w", filepath.Base(path), err)
	}
	b, err = crypto.RandBytes(n)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, b); err != nil {
		return nil, fmt.Errorf("sealed: write %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
