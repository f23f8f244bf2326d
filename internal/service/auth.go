// Package service contains the account and forum flows built on the session,
// the backend client and the synced collections.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/limiter"
	"github.com/and161185/fitpanda/internal/model"
)

// MinPasswordLen is the shortest password the forms accept.
const MinPasswordLen = 6

// Session is the part of session.Store the services use.
type Session interface {
	Identity() (model.Identity, bool)
	SetIdentity(ctx context.Context, id *model.Identity) error
	ClearIdentity(ctx context.Context) error
}

// AuthBackend is the account half of the backend.
type AuthBackend interface {
	Login(ctx context.Context, cred model.Credentials) (model.Identity, error)
	CreateLogin(ctx context.Context, reg model.Registration) (*model.Identity, error)
	Signup(ctx context.Context, p model.Profile) error
	SendCode(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, r model.PasswordReset) error
}

// AuthService runs login, registration, password reset and sign-out.
type AuthService struct {
	backend AuthBackend
	session Session
	lim     limiter.Limiter
	log     *zap.Logger
}

// NewAuthService constructs AuthService. lim may be nil to disable local
// login throttling.
func NewAuthService(backend AuthBackend, session Session, lim limiter.Limiter, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{backend: backend, session: session, lim: lim, log: log}
}

// Login authenticates and stores the returned identity in the session.
func (s *AuthService) Login(ctx context.Context, username, password string) (model.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return model.Identity{}, errs.Validation("username is required")
	}
	if len(password) < MinPasswordLen {
		return model.Identity{}, errs.Validation("password must be at least %d characters", MinPasswordLen)
	}

	if s.lim != nil {
		ok, retry, err := s.lim.Allow(ctx, username)
		if err != nil {
			s.log.Warn("limiter unavailable", zap.Error(err))
		} else if !ok {
			return model.Identity{}, fmt.Errorf("%w: try again in %s", errs.ErrRateLimited, retry.Round(time.Second))
		}
	}

	id, err := s.backend.Login(ctx, model.Credentials{Username: username, Password: password})
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) && s.lim != nil {
			if blocked, _, ferr := s.lim.Failure(ctx, username); ferr == nil && blocked {
				s.log.Warn("login blocked locally", zap.String("username", username))
			}
		}
		return model.Identity{}, err
	}
	if s.lim != nil {
		_ = s.lim.Success(ctx, username)
	}
	if id.Username == "" {
		id.Username = username
	}
	if err := s.session.SetIdentity(ctx, &id); err != nil {
		return model.Identity{}, err
	}
	s.log.Info("logged in", zap.String("id", id.ID))
	return id, nil
}

// Pending is an account that exists on the backend but has no profile yet.
type Pending struct {
	Email    string
	Username string
}

// Register creates the account. The session is not touched until the
// profile is completed.
func (s *AuthService) Register(ctx context.Context, email, username, password string) (Pending, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if !ValidEmail(email) {
		return Pending{}, errs.Validation("email %q is not valid", email)
	}
	if username == "" {
		return Pending{}, errs.Validation("username is required")
	}
	if len(password) < MinPasswordLen {
		return Pending{}, errs.Validation("password must be at least %d characters", MinPasswordLen)
	}
	echo, err := s.backend.CreateLogin(ctx, model.Registration{ID: email, Username: username, Password: password})
	if err != nil {
		return Pending{}, err
	}
	p := Pending{Email: email, Username: username}
	if echo != nil && echo.ID != "" {
		p.Email = echo.ID
	}
	return p, nil
}

// CompleteProfile sends the profile and signs the user in with it.
func (s *AuthService) CompleteProfile(ctx context.Context, p model.Profile) (model.Identity, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Goal = strings.TrimSpace(p.Goal)
	p.Sex = strings.ToLower(strings.TrimSpace(p.Sex))
	switch {
	case p.ID == "":
		return model.Identity{}, errs.Validation("account id is required")
	case p.Height <= 0:
		return model.Identity{}, errs.Validation("height must be positive")
	case p.Weight <= 0:
		return model.Identity{}, errs.Validation("weight must be positive")
	case p.Sex != "male" && p.Sex != "female":
		return model.Identity{}, errs.Validation("sex must be male or female")
	case p.Goal == "":
		return model.Identity{}, errs.Validation("a fitness goal is required")
	}

	if err := s.backend.Signup(ctx, p); err != nil {
		return model.Identity{}, err
	}
	height, weight := p.Height, p.Weight
	id := model.Identity{
		ID:       p.ID,
		Name:     p.Name,
		Username: p.Username,
		Height:   &height,
		Weight:   &weight,
		Sex:      p.Sex,
		Goal:     p.Goal,
	}
	if err := s.session.SetIdentity(ctx, &id); err != nil {
		return model.Identity{}, err
	}
	return id, nil
}

// SendResetCode asks the backend to mail a reset code.
func (s *AuthService) SendResetCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return errs.Validation("email %q is not valid", email)
	}
	return s.backend.SendCode(ctx, email)
}

// ResetPassword sets a new password with a mailed code.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if !ValidEmail(email) {
		return errs.Validation("email %q is not valid", email)
	}
	if code == "" {
		return errs.Validation("reset code is required")
	}
	if len(newPassword) < MinPasswordLen {
		return errs.Validation("password must be at least %d characters", MinPasswordLen)
	}
	return s.backend.ChangePassword(ctx, model.PasswordReset{ID: email, Code: code, NewPassword: newPassword})
}

// SignOut clears the session.
func (s *AuthService) SignOut(ctx context.Context) error {
	return s.session.ClearIdentity(ctx)
}

// ValidEmail reports whether s is a bare address with a dotted domain.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}
