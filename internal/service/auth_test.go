package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/limiter"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/storage"
)

func TestLogin_StoresIdentity(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	sess := readySession(t)
	svc := NewAuthService(be, sess, nil, zaptest.NewLogger(t))

	id, err := svc.Login(ctx, "  una ", "secret1")
	require.NoError(t, err)
	require.Equal(t, "una@example.com", id.ID)
	require.Equal(t, "una", id.Username, "username defaults to the login name")

	got, ok := sess.Identity()
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestLogin_ValidatesBeforeNetwork(t *testing.T) {
	be := newFakeBackend()
	svc := NewAuthService(be, readySession(t), nil, nil)

	cases := []struct{ user, pass string }{
		{"", "secret1"},
		{"   ", "secret1"},
		{"una", "short"},
	}
	for _, c := range cases {
		_, err := svc.Login(context.Background(), c.user, c.pass)
		require.ErrorIs(t, err, errs.ErrValidation, "%q/%q", c.user, c.pass)
	}
	require.Empty(t, be.Calls())
}

func TestLogin_FailureLeavesSessionEmpty(t *testing.T) {
	be := newFakeBackend()
	be.err = errs.ErrUnauthorized
	sess := readySession(t)
	svc := NewAuthService(be, sess, nil, nil)

	_, err := svc.Login(context.Background(), "una", "secret1")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	_, ok := sess.Identity()
	require.False(t, ok)
}

func TestLogin_LocalThrottle(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	be.loginFn = func(cred model.Credentials) (model.Identity, error) {
		if cred.Password != "correct1" {
			return model.Identity{}, errs.ErrUnauthorized
		}
		return model.Identity{ID: "u1"}, nil
	}
	lim := limiter.New(storage.NewMemory(), time.Minute, 2, time.Hour)
	svc := NewAuthService(be, readySession(t), lim, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Login(ctx, "una", "wrong12")
		require.ErrorIs(t, err, errs.ErrUnauthorized)
	}
	_, err := svc.Login(ctx, "UNA", "correct1")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Len(t, be.Calls(), 2, "blocked attempts never reach the backend")

	_, err = svc.Login(ctx, "other", "correct1")
	require.NoError(t, err, "throttle is per username")
}

func TestLogin_TransportErrorsDoNotCount(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	be.err = errs.ErrTransport
	lim := limiter.New(storage.NewMemory(), time.Minute, 1, time.Hour)
	svc := NewAuthService(be, readySession(t), lim, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "una", "secret1")
		require.ErrorIs(t, err, errs.ErrTransport)
	}
	require.Len(t, be.Calls(), 3)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	sess := readySession(t)
	svc := NewAuthService(be, sess, nil, nil)

	p, err := svc.Register(ctx, "una@example.com", "una", "secret1")
	require.NoError(t, err)
	require.Equal(t, Pending{Email: "una@example.com", Username: "una"}, p)
	_, ok := sess.Identity()
	require.False(t, ok, "registration alone does not sign in")

	be.echo = &model.Identity{ID: "canonical@example.com"}
	p, err = svc.Register(ctx, "una@example.com", "una", "secret1")
	require.NoError(t, err)
	require.Equal(t, "canonical@example.com", p.Email)

	for _, c := range []struct{ email, user, pass string }{
		{"not-an-email", "una", "secret1"},
		{"una@localhost", "una", "secret1"},
		{"Una <una@example.com>", "una", "secret1"},
		{"una@example.com", "", "secret1"},
		{"una@example.com", "una", "12345"},
	} {
		_, err := svc.Register(ctx, c.email, c.user, c.pass)
		require.ErrorIs(t, err, errs.ErrValidation, "%+v", c)
	}
	require.Equal(t, []string{"createLogin", "createLogin"}, be.Calls())
}

func TestCompleteProfile(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	sess := readySession(t)
	svc := NewAuthService(be, sess, nil, nil)

	id, err := svc.CompleteProfile(ctx, model.Profile{
		ID: "una@example.com", Name: " Una ", Username: "una",
		Height: 65, Weight: 140, Sex: "Female", Goal: "run a 10k",
	})
	require.NoError(t, err)
	require.Equal(t, "female", id.Sex)
	require.Equal(t, "Una", id.Name)
	require.Equal(t, 65.0, *id.Height)

	got, ok := sess.Identity()
	require.True(t, ok)
	require.Equal(t, "una", got.Username)
	require.Len(t, be.profiles, 1)

	bad := []model.Profile{
		{Height: 65, Weight: 140, Sex: "male", Goal: "g"},
		{ID: "x", Weight: 140, Sex: "male", Goal: "g"},
		{ID: "x", Height: 65, Sex: "male", Goal: "g"},
		{ID: "x", Height: 65, Weight: 140, Sex: "other", Goal: "g"},
		{ID: "x", Height: 65, Weight: 140, Sex: "male"},
	}
	for _, p := range bad {
		_, err := svc.CompleteProfile(ctx, p)
		require.ErrorIs(t, err, errs.ErrValidation, "%+v", p)
	}
}

func TestCompleteProfile_BackendFailureKeepsSession(t *testing.T) {
	be := newFakeBackend()
	be.err = errors.New("boom")
	sess := readySession(t)
	svc := NewAuthService(be, sess, nil, nil)

	_, err := svc.CompleteProfile(context.Background(), model.Profile{ID: "x", Height: 1, Weight: 1, Sex: "male", Goal: "g"})
	require.Error(t, err)
	_, ok := sess.Identity()
	require.False(t, ok)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	svc := NewAuthService(be, readySession(t), nil, nil)

	require.NoError(t, svc.SendResetCode(ctx, "una@example.com"))
	require.ErrorIs(t, svc.SendResetCode(ctx, "una"), errs.ErrValidation)

	require.NoError(t, svc.ResetPassword(ctx, "una@example.com", " 1234 ", "newpass"))
	require.Equal(t, []model.PasswordReset{{ID: "una@example.com", Code: "1234", NewPassword: "newpass"}}, be.resets)

	require.ErrorIs(t, svc.ResetPassword(ctx, "una@example.com", "", "newpass"), errs.ErrValidation)
	require.ErrorIs(t, svc.ResetPassword(ctx, "una@example.com", "1234", "short"), errs.ErrValidation)
	require.Equal(t, []string{"sendCode", "changePassword"}, be.Calls())
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	sess := readySession(t)
	svc := NewAuthService(newFakeBackend(), sess, nil, nil)
	_, err := svc.Login(ctx, "una", "secret1")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx))
	require.NoError(t, svc.SignOut(ctx))
	_, ok := sess.Identity()
	require.False(t, ok)
}
