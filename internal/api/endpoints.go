package api

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/convert"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

// Backend is the set of calls the services depend on.
type Backend interface {
	ListPosts(ctx context.Context) ([]model.Post, error)
	CreatePost(ctx context.Context, p model.Post) (model.Post, error)
	DeletePost(ctx context.Context, id int64) error
	ListComments(ctx context.Context, postID int64) ([]model.Comment, error)
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
	Login(ctx context.Context, cred model.Credentials) (model.Identity, error)
	CreateLogin(ctx context.Context, reg model.Registration) (*model.Identity, error)
	Signup(ctx context.Context, p model.Profile) error
	SendCode(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, r model.PasswordReset) error
}

var _ Backend = (*Client)(nil)

func path(p string) *url.URL { return &url.URL{Path: p} }

func withID(p string, id int64) *url.URL {
	return &url.URL{Path: p, RawQuery: url.Values{"id": {strconv.FormatInt(id, 10)}}.Encode()}
}

// ListPosts fetches every post.
func (c *Client) ListPosts(ctx context.Context) ([]model.Post, error) {
	data, err := c.do(ctx, "list_posts", http.MethodGet, path("/api/getPosts"), nil)
	if err != nil {
		return nil, err
	}
	return convert.DecodePosts(data)
}

// CreatePost publishes p and returns the stored post with its server id.
func (c *Client) CreatePost(ctx context.Context, p model.Post) (model.Post, error) {
	data, err := c.do(ctx, "create_post", http.MethodPost, path("/api/makePost"), convert.ToPostDraft(p))
	if err != nil {
		return model.Post{}, err
	}
	return convert.DecodePost(data)
}

// DeletePost removes the post with id.
func (c *Client) DeletePost(ctx context.Context, id int64) error {
	if id <= 0 {
		return errs.Validation("post id must be positive")
	}
	_, err := c.do(ctx, "delete_post", http.MethodPost, withID("/api/deletePost", id), nil)
	return err
}

// ListComments fetches the comments on postID.
func (c *Client) ListComments(ctx context.Context, postID int64) ([]model.Comment, error) {
	if postID <= 0 {
		return nil, errs.Validation("post id must be positive")
	}
	data, err := c.do(ctx, "list_comments", http.MethodGet, withID("/api/getComments", postID), nil)
	if err != nil {
		return nil, err
	}
	return convert.DecodeComments(data)
}

// CreateComment stores a reply to cm.PostID.
func (c *Client) CreateComment(ctx context.Context, cm model.Comment) (model.Comment, error) {
	if cm.PostID <= 0 {
		return model.Comment{}, errs.Validation("post id must be positive")
	}
	rel := path("/api/posts/" + strconv.FormatInt(cm.PostID, 10) + "/comments")
	data, err := c.do(ctx, "create_comment", http.MethodPost, rel, convert.ToCommentDraft(cm))
	if err != nil {
		return model.Comment{}, err
	}
	return convert.DecodeComment(data)
}

// Login exchanges credentials for the identity record.
func (c *Client) Login(ctx context.Context, cred model.Credentials) (model.Identity, error) {
	data, err := c.do(ctx, "login", http.MethodPost, path("/api/login"), cred)
	if err != nil {
		return model.Identity{}, err
	}
	return convert.DecodeIdentity(data)
}

// CreateLogin registers an account. The backend may echo the identity; a
// missing or unreadable echo yields nil.
func (c *Client) CreateLogin(ctx context.Context, reg model.Registration) (*model.Identity, error) {
	data, err := c.do(ctx, "create_login", http.MethodPost, path("/api/createlogin"), reg)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	id, err := convert.DecodeIdentity(data)
	if err != nil {
		c.log.Debug("create_login echo ignored", zap.Error(err))
		return nil, nil
	}
	return &id, nil
}

// Signup completes the profile of a registered account.
func (c *Client) Signup(ctx context.Context, p model.Profile) error {
	_, err := c.do(ctx, "signup", http.MethodPost, path("/api/signup"), p)
	return err
}

// SendCode asks the backend to mail a reset code to email.
func (c *Client) SendCode(ctx context.Context, email string) error {
	body := struct {
		ID string `json:"id"`
	}{ID: email}
	_, err := c.do(ctx, "send_code", http.MethodPost, path("/api/sendCode"), body)
	return err
}

// ChangePassword sets a new password using a mailed reset code.
func (c *Client) ChangePassword(ctx context.Context, r model.PasswordReset) error {
	_, err := c.do(ctx, "change_password", http.MethodPost, path("/api/changePassword"), r)
	return err
}
