package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fitpanda/internal/collection"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
)

func signedIn(t *testing.T, id string) (*ForumService, *fakeBackend) {
	t.Helper()
	sess := readySession(t)
	if id != "" {
		require.NoError(t, sess.SetIdentity(context.Background(), &model.Identity{ID: id}))
	}
	be := newFakeBackend()
	f := NewForumService(be, sess, zaptest.NewLogger(t))
	t.Cleanup(f.Close)
	return f, be
}

func TestForum_PublishThenDelete(t *testing.T) {
	ctx := context.Background()
	f, be := signedIn(t, "u1")
	require.NoError(t, f.Posts().Load(ctx))

	p, err := f.Publish(ctx, "  hello ")
	require.NoError(t, err)
	require.Equal(t, model.Post{ID: 101, AuthorID: "u1", Content: "hello"}, p)

	st := f.Posts().Snapshot()
	require.Equal(t, []model.Post{p}, st.Items)
	require.True(t, f.CanDelete(p))

	require.NoError(t, f.Delete(ctx, 101))
	require.Empty(t, f.Posts().Snapshot().Items)
	require.Equal(t, []int64{101}, be.deleted)
}

func TestForum_RejectsEmptyText(t *testing.T) {
	ctx := context.Background()
	f, be := signedIn(t, "u1")

	_, err := f.Publish(ctx, " \n\t")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.Reply(ctx, 1, "")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, be.Calls())
}

func TestForum_RequiresIdentity(t *testing.T) {
	ctx := context.Background()
	f, be := signedIn(t, "")

	_, err := f.Publish(ctx, "hello")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = f.Reply(ctx, 1, "hi")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Empty(t, be.Calls())
}

func TestForum_DeleteOnlyOwnPosts(t *testing.T) {
	ctx := context.Background()
	f, be := signedIn(t, "u1")
	be.posts = []model.Post{{ID: 7, AuthorID: "someone-else", Content: "theirs"}}
	require.NoError(t, f.Posts().Load(ctx))

	p, ok := f.Posts().Get(7)
	require.True(t, ok)
	require.False(t, f.CanDelete(p))
	require.ErrorIs(t, f.Delete(ctx, 7), errs.ErrUnauthorized)
	require.Len(t, f.Posts().Snapshot().Items, 1)

	require.NoError(t, f.Delete(ctx, 999), "unknown post is a no-op")
	require.NotContains(t, be.Calls(), "deletePost")
}

func TestForum_Reply(t *testing.T) {
	ctx := context.Background()
	f, be := signedIn(t, "u1")
	be.comments[5] = []model.Comment{{ID: 1, PostID: 5, AuthorID: "u2", Content: "first"}}

	thread, err := f.Comments(5)
	require.NoError(t, err)
	require.NoError(t, thread.Load(ctx))

	c, err := f.Reply(ctx, 5, "second")
	require.NoError(t, err)
	require.Equal(t, int64(5), c.PostID)
	require.Equal(t, "u1", c.AuthorID)

	again, err := f.Comments(5)
	require.NoError(t, err)
	require.Same(t, thread, again)
	items := again.Snapshot().Items
	require.Len(t, items, 2)
	require.Equal(t, "second", items[0].Content, "new comments go to the front")

	_, err = f.Comments(0)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestForum_CloseDetachesThreads(t *testing.T) {
	f, _ := signedIn(t, "u1")
	thread, err := f.Comments(3)
	require.NoError(t, err)

	f.Close()
	_, err = f.Comments(3)
	require.ErrorIs(t, err, errs.ErrClosed)
	_, err = thread.Create(context.Background(), model.Comment{Content: "late"})
	require.ErrorIs(t, err, errs.ErrClosed)
	require.Equal(t, collection.StatusIdle, f.Posts().Snapshot().Status)
}
