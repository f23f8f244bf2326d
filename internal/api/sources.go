package api

import (
	"context"

	"github.com/and161185/fitpanda/internal/collection"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

var (
	_ collection.Source[model.Post]    = (*PostSource)(nil)
	_ collection.Source[model.Comment] = (*CommentSource)(nil)
)

// PostAPI is the post half of Backend.
type PostAPI interface {
	ListPosts(ctx context.Context) ([]model.Post, error)
	CreatePost(ctx context.Context, p model.Post) (model.Post, error)
	DeletePost(ctx context.Context, id int64) error
}

// CommentAPI is the comment half of Backend.
type CommentAPI interface {
	ListComments(ctx context.Context, postID int64) ([]model.Comment, error)
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
}

// PostSource backs the post feed collection.
type PostSource struct{ b PostAPI }

// Posts adapts b to a post collection source.
func Posts(b PostAPI) *PostSource { return &PostSource{b: b} }

func (s *PostSource) List(ctx context.Context) ([]model.Post, error) { return s.b.ListPosts(ctx) }

func (s *PostSource) Create(ctx context.Context, draft model.Post) (model.Post, error) {
	return s.b.CreatePost(ctx, draft)
}

func (s *PostSource) Delete(ctx context.Context, id int64) error { return s.b.DeletePost(ctx, id) }

// CommentSource backs the comment thread of one post.
type CommentSource struct {
	b      CommentAPI
	postID int64
}

// Comments adapts b to the comment thread of postID.
func Comments(b CommentAPI, postID int64) *CommentSource {
	return &CommentSource{b: b, postID: postID}
}

func (s *CommentSource) List(ctx context.Context) ([]model.Comment, error) {
	return s.b.ListComments(ctx, s.postID)
}

func (s *CommentSource) Create(ctx context.Context, draft model.Comment) (model.Comment, error) {
	draft.PostID = s.postID
	return s.b.CreateComment(ctx, draft)
}

// Delete is not offered by the backend for comments.
func (s *CommentSource) Delete(context.Context, int64) error { return errs.ErrUnsupported }
