package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

type captured struct {
	method string
	path   string
	query  string
	header http.Header
	body   map[string]any
}

// backend records every request and answers from routes keyed by "METHOD /path".
type backend struct {
	t      *testing.T
	mu     sync.Mutex
	reqs   []captured
	routes map[string]func(w http.ResponseWriter)
}

func newBackend(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*backend, *httptest.Server) {
	b := &backend{t: t, routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	c := captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &c.body)
	}
	b.mu.Lock()
	b.reqs = append(b.reqs, c)
	b.mu.Unlock()

	h, ok := b.routes[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w)
}

func (b *backend) last() captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(b.t, b.reqs)
	return b.reqs[len(b.reqs)-1]
}

func reply(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestParseBaseURL(t *testing.T) {
	u, err := parseBaseURL("")
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, u.String())

	u, err = parseBaseURL(" 10.0.0.5:9000/fit/?x=1 ")
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:9000/fit", u.String())

	_, err = parseBaseURL("http://")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestJoinURL(t *testing.T) {
	rel := withID("/api/deletePost", 7)
	for base, want := range map[string]string{
		"http://h:1":      "http://h:1/api/deletePost?id=7",
		"http://h:1/fit":  "http://h:1/fit/api/deletePost?id=7",
		"https://h/a/b//": "https://h/a/b/api/deletePost?id=7",
	} {
		u, err := parseBaseURL(base)
		require.NoError(t, err)
		require.Equal(t, want, JoinURL(u, rel).String(), base)
	}
}

func TestClient_BasePathPrefix(t *testing.T) {
	b, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /fit/api/getPosts": reply(200, `[]`),
	})
	c, err := New(srv.URL + "/fit")
	require.NoError(t, err)

	_, err = c.ListPosts(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/fit/api/getPosts", b.last().path)
}

func TestClient_Headers(t *testing.T) {
	b, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /api/getPosts": reply(200, `[]`),
	})
	c, err := New(srv.URL, WithToken(func() string { return "tok" }), WithUserAgent("fit-test"))
	require.NoError(t, err)

	_, err = c.ListPosts(context.Background())
	require.NoError(t, err)

	h := b.last().header
	require.Equal(t, "Bearer tok", h.Get("Authorization"))
	require.Equal(t, "fit-test", h.Get("User-Agent"))
	require.Equal(t, "application/json", h.Get("Accept"))
	_, err = uuid.FromString(h.Get("X-Request-ID"))
	require.NoError(t, err)
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	b, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /api/getPosts": reply(200, `[]`),
	})
	c, err := New(srv.URL, WithToken(func() string { return "" }))
	require.NoError(t, err)
	_, err = c.ListPosts(context.Background())
	require.NoError(t, err)
	require.Empty(t, b.last().header.Get("Authorization"))
}

func TestClient_Endpoints(t *testing.T) {
	ctx := context.Background()
	b, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /api/getPosts":          reply(200, `[{"id":1,"authorId":"u1","content":"a","likes":2}]`),
		"POST /api/makePost":         reply(201, `{"id":101,"authorId":"u1","content":"hello","likes":0}`),
		"POST /api/deletePost":       reply(204, ``),
		"GET /api/getComments":       reply(200, `[{"id":5,"postId":1,"authorId":"u2","content":"c"}]`),
		"POST /api/posts/1/comments": reply(200, `{"id":6,"postId":1,"authorId":"u1","content":"re"}`),
		"POST /api/login":            reply(200, `{"id":"u1@x.io","name":"U","username":"u1","height":70,"weight":180,"sex":"male"}`),
		"POST /api/createlogin":      reply(200, ``),
		"POST /api/signup":           reply(200, `{}`),
		"POST /api/sendCode":         reply(200, ``),
		"POST /api/changePassword":   reply(200, ``),
	})
	c, err := New(srv.URL)
	require.NoError(t, err)

	ps, err := c.ListPosts(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.Post{{ID: 1, AuthorID: "u1", Content: "a", Likes: 2}}, ps)

	p, err := c.CreatePost(ctx, model.Post{AuthorID: "u1", Content: "hello"})
	require.NoError(t, err)
	require.Equal(t, int64(101), p.ID)
	require.Equal(t, map[string]any{"authorId": "u1", "content": "hello", "likes": float64(0), "comments": float64(0)}, b.last().body)
	require.Equal(t, "application/json", b.last().header.Get("Content-Type"))

	require.NoError(t, c.DeletePost(ctx, 101))
	require.Equal(t, "id=101", b.last().query)
	require.Equal(t, http.MethodPost, b.last().method)

	cs, err := c.ListComments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, "id=1", b.last().query)

	cm, err := c.CreateComment(ctx, model.Comment{PostID: 1, AuthorID: "u1", Content: "re"})
	require.NoError(t, err)
	require.Equal(t, int64(6), cm.ID)
	require.Equal(t, float64(1), b.last().body["postId"])

	id, err := c.Login(ctx, model.Credentials{Username: "u1", Password: "secret1"})
	require.NoError(t, err)
	require.Equal(t, "u1@x.io", id.ID)
	require.Equal(t, map[string]any{"username": "u1", "password": "secret1"}, b.last().body)

	echo, err := c.CreateLogin(ctx, model.Registration{ID: "u1@x.io", Username: "u1", Password: "secret1"})
	require.NoError(t, err)
	require.Nil(t, echo)
	require.Equal(t, "u1@x.io", b.last().body["id"])

	require.NoError(t, c.Signup(ctx, model.Profile{ID: "u1@x.io", Name: "U", Height: 70, Weight: 180, Sex: "male", Goal: "cut"}))
	require.Equal(t, "cut", b.last().body["description"])
	require.NotContains(t, b.last().body, "username")

	require.NoError(t, c.SendCode(ctx, "u1@x.io"))
	require.Equal(t, map[string]any{"id": "u1@x.io"}, b.last().body)

	require.NoError(t, c.ChangePassword(ctx, model.PasswordReset{ID: "u1@x.io", Code: "1234", NewPassword: "newpass"}))
	require.Equal(t, map[string]any{"id": "u1@x.io", "code": "1234", "newPassword": "newpass"}, b.last().body)
}

func TestClient_CreateLoginEcho(t *testing.T) {
	_, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"POST /api/createlogin": reply(200, `{"id":"a@b.co","username":"ab"}`),
	})
	c, err := New(srv.URL)
	require.NoError(t, err)
	echo, err := c.CreateLogin(context.Background(), model.Registration{ID: "a@b.co"})
	require.NoError(t, err)
	require.NotNil(t, echo)
	require.Equal(t, "ab", echo.Username)
}

func TestClient_HTTPErrors(t *testing.T) {
	_, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"POST /api/login":      reply(401, `{"message":"Invalid credentials"}`),
		"POST /api/deletePost": reply(404, ``),
		"GET /api/getPosts":    reply(503, strings.Repeat("x", 1000)),
	})
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Login(ctx, model.Credentials{Username: "u", Password: "wrong!"})
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	var he *errs.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, "Invalid credentials", he.Body)
	require.Equal(t, "login", he.Op)

	require.ErrorIs(t, c.DeletePost(ctx, 9), errs.ErrNotFound)

	_, err = c.ListPosts(ctx)
	require.ErrorAs(t, err, &he)
	require.Equal(t, 503, he.Status)
	require.LessOrEqual(t, len(he.Body), maxErrExcerpt+3)
	require.True(t, errs.Retryable(err))
}

func TestClient_DecodeFailure(t *testing.T) {
	_, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /api/getPosts": reply(200, `[{"id":"x"}]`),
	})
	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.ListPosts(context.Background())
	require.ErrorIs(t, err, errs.ErrDecode)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(srv.URL, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	_, err = c.ListPosts(context.Background())
	require.ErrorIs(t, err, errs.ErrTimeout)
	require.True(t, errs.Retryable(err))
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.ListPosts(context.Background())
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestClient_Canceled(t *testing.T) {
	_, srv := newBackend(t, nil)
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ListPosts(ctx)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestClient_LocalValidation(t *testing.T) {
	b, srv := newBackend(t, nil)
	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, c.DeletePost(ctx, 0), errs.ErrValidation)
	_, err = c.ListComments(ctx, -1)
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = c.CreateComment(ctx, model.Comment{Content: "x"})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, b.reqs)
}

func TestClient_LogsWithoutPayloads(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	_, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"POST /api/login": reply(200, `{"id":"u1"}`),
	})
	c, err := New(srv.URL, WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = c.Login(context.Background(), model.Credentials{Username: "u1", Password: "hunter22"})
	require.NoError(t, err)

	entries := logs.FilterMessage("http").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/api/login", fields["path"])
	require.EqualValues(t, 200, fields["status"])
	for _, v := range fields {
		s, _ := v.(string)
		require.NotContains(t, s, "hunter22")
	}
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	b, srv := newBackend(t, map[string]func(http.ResponseWriter){
		"GET /api/getComments":       reply(200, `[]`),
		"POST /api/posts/7/comments": reply(200, `{"id":1,"postId":7,"authorId":"u1","content":"x"}`),
	})
	c, err := New(srv.URL)
	require.NoError(t, err)

	src := Comments(c, 7)
	_, err = src.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "id=7", b.last().query)

	got, err := src.Create(ctx, model.Comment{AuthorID: "u1", Content: "x"})
	require.NoError(t, err)
	require.Equal(t, int64(7), got.PostID)

	require.ErrorIs(t, src.Delete(ctx, 1), errs.ErrUnsupported)
}
