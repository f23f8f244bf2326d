package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/session"
	"github.com/and161185/fitpanda/internal/storage"
)

// fakeBackend records calls and serves an in-memory forum.
type fakeBackend struct {
	mu sync.Mutex

	loginFn  func(model.Credentials) (model.Identity, error)
	echo     *model.Identity
	err      error // returned by every account call when set
	calls    []string
	profiles []model.Profile
	resets   []model.PasswordReset

	posts    []model.Post
	comments map[int64][]model.Comment
	nextID   int64
	deleted  []int64
}

var (
	_ AuthBackend  = (*fakeBackend)(nil)
	_ ForumBackend = (*fakeBackend)(nil)
)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{comments: map[int64][]model.Comment{}, nextID: 100}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Login(_ context.Context, cred model.Credentials) (model.Identity, error) {
	f.record("login")
	if f.loginFn != nil {
		return f.loginFn(cred)
	}
	if f.err != nil {
		return model.Identity{}, f.err
	}
	return model.Identity{ID: cred.Username + "@example.com"}, nil
}

func (f *fakeBackend) CreateLogin(_ context.Context, _ model.Registration) (*model.Identity, error) {
	f.record("createLogin")
	return f.echo, f.err
}

func (f *fakeBackend) Signup(_ context.Context, p model.Profile) error {
	f.record("signup")
	if f.err != nil {
		return f.err
	}
	f.profiles = append(f.profiles, p)
	return nil
}

func (f *fakeBackend) SendCode(context.Context, string) error {
	f.record("sendCode")
	return f.err
}

func (f *fakeBackend) ChangePassword(_ context.Context, r model.PasswordReset) error {
	f.record("changePassword")
	if f.err != nil {
		return f.err
	}
	f.resets = append(f.resets, r)
	return nil
}

func (f *fakeBackend) ListPosts(context.Context) ([]model.Post, error) {
	f.record("listPosts")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Post(nil), f.posts...), nil
}

func (f *fakeBackend) CreatePost(_ context.Context, p model.Post) (model.Post, error) {
	f.record("createPost")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	f.posts = append([]model.Post{p}, f.posts...)
	return p, nil
}

func (f *fakeBackend) DeletePost(_ context.Context, id int64) error {
	f.record("deletePost")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.posts {
		if p.ID == id {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeBackend) ListComments(_ context.Context, postID int64) ([]model.Comment, error) {
	f.record("listComments")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Comment(nil), f.comments[postID]...), nil
}

func (f *fakeBackend) CreateComment(_ context.Context, c model.Comment) (model.Comment, error) {
	f.record("createComment")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	f.comments[c.PostID] = append(f.comments[c.PostID], c)
	return c, nil
}

func readySession(t *testing.T) *session.Store {
	t.Helper()
	s := session.New(storage.NewMemory())
	require.NoError(t, s.Initialize(context.Background()))
	return s
}
