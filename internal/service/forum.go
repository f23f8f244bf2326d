package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/api"
	"github.com/and161185/fitpanda/internal/collection"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

// ForumBackend is the forum half of the backend.
type ForumBackend interface {
	api.PostAPI
	api.CommentAPI
}

// ForumService owns the post feed and one comment thread per opened post.
type ForumService struct {
	backend ForumBackend
	session Session
	log     *zap.Logger
	opts    []collection.Option

	posts *collection.Collection[model.Post]

	mu      sync.Mutex
	threads map[int64]*collection.Collection[model.Comment]
}

// NewForumService constructs ForumService. opts apply to every collection it
// creates.
func NewForumService(backend ForumBackend, session Session, log *zap.Logger, opts ...collection.Option) *ForumService {
	if log == nil {
		log = zap.NewNop()
	}
	base := append([]collection.Option{collection.WithLogger(log)}, opts...)
	return &ForumService{
		backend: backend,
		session: session,
		log:     log,
		opts:    base,
		posts:   collection.New[model.Post](api.Posts(backend), append(base, collection.WithName("posts"))...),
		threads: map[int64]*collection.Collection[model.Comment]{},
	}
}

// Posts returns the feed collection.
func (s *ForumService) Posts() *collection.Collection[model.Post] { return s.posts }

// Comments returns the thread of postID, creating it on first use.
func (s *ForumService) Comments(postID int64) (*collection.Collection[model.Comment], error) {
	if postID <= 0 {
		return nil, errs.Validation("post id must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		return nil, errs.ErrClosed
	}
	if c, ok := s.threads[postID]; ok {
		return c, nil
	}
	c := collection.New[model.Comment](api.Comments(s.backend, postID),
		append(s.opts, collection.WithName("comments"))...)
	s.threads[postID] = c
	return c, nil
}

// Publish creates a post authored by the signed-in user.
func (s *ForumService) Publish(ctx context.Context, content string) (model.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Post{}, errs.Validation("post text is empty")
	}
	me, ok := s.session.Identity()
	if !ok {
		return model.Post{}, errs.ErrUnauthorized
	}
	return s.posts.Create(ctx, model.Post{AuthorID: me.ID, Content: content})
}

// Reply adds a comment to postID authored by the signed-in user.
func (s *ForumService) Reply(ctx context.Context, postID int64, content string) (model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Comment{}, errs.Validation("comment text is empty")
	}
	me, ok := s.session.Identity()
	if !ok {
		return model.Comment{}, errs.ErrUnauthorized
	}
	thread, err := s.Comments(postID)
	if err != nil {
		return model.Comment{}, err
	}
	return thread.Create(ctx, model.Comment{PostID: postID, AuthorID: me.ID, Content: content})
}

// CanDelete reports whether the signed-in user wrote p.
func (s *ForumService) CanDelete(p model.Post) bool {
	me, ok := s.session.Identity()
	return ok && p.AuthorID != "" && p.AuthorID == me.ID
}

// Delete removes one of the user's own posts from the feed. Deleting a post
// that is not in the feed is a no-op.
func (s *ForumService) Delete(ctx context.Context, postID int64) error {
	p, ok := s.posts.Get(postID)
	if !ok {
		return nil
	}
	if !s.CanDelete(p) {
		return errs.ErrUnauthorized
	}
	if err := s.posts.Remove(ctx, postID); err != nil {
		return err
	}
	s.mu.Lock()
	if c, ok := s.threads[postID]; ok {
		c.Close()
		delete(s.threads, postID)
	}
	s.mu.Unlock()
	return nil
}

// Close detaches every collection.
func (s *ForumService) Close() {
	s.posts.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.threads {
		c.Close()
	}
	s.threads = nil
}
