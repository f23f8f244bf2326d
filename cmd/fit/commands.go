package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/session"
)

// pendingKey holds a registration awaiting its profile between invocations.
const pendingKey = "registration.pending"

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

// identityView is what the CLI prints for the signed-in user. The token
// itself is never printed.
type identityView struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	Username     string     `json:"username,omitempty"`
	Height       *float64   `json:"height,omitempty"`
	Weight       *float64   `json:"weight,omitempty"`
	Sex          string     `json:"sex,omitempty"`
	Goal         string     `json:"goal,omitempty"`
	TokenExpires *time.Time `json:"tokenExpires,omitempty"`
}

func viewOf(id model.Identity) identityView {
	v := identityView{
		ID:       id.ID,
		Name:     id.Name,
		Username: id.Username,
		Height:   id.Height,
		Weight:   id.Weight,
		Sex:      id.Sex,
		Goal:     id.Goal,
	}
	if exp, ok := session.TokenExpiry(id.AccessToken); ok {
		v.TokenExpires = &exp
	}
	return v
}

// ---- account ----

func cmdLogin(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("login")
	user := fs.StringP("username", "u", "", "username")
	pass := fs.StringP("password", "p", "", "password")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	id, err := a.auth.Login(ctx, *user, *pass)
	if err != nil {
		return nil, err
	}
	return viewOf(id), nil
}

type pendingView struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

func cmdRegister(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("register")
	email := fs.StringP("email", "e", "", "email address")
	user := fs.StringP("username", "u", "", "username")
	pass := fs.StringP("password", "p", "", "password")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	p, err := a.auth.Register(ctx, *email, *user, *pass)
	if err != nil {
		return nil, err
	}
	out := pendingView{Email: p.Email, Username: p.Username}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := a.general.Set(ctx, pendingKey, raw); err != nil {
		return nil, fmt.Errorf("remember registration: %w", err)
	}
	return out, nil
}

func cmdProfile(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("profile")
	email := fs.StringP("email", "e", "", "account email (defaults to the pending registration)")
	name := fs.String("name", "", "display name")
	height := fs.Float64("height", 0, "height in inches")
	weight := fs.Float64("weight", 0, "weight")
	sex := fs.String("sex", "", "male or female")
	goal := fs.String("goal", "", "fitness goal")
	if err := parse(fs, args); err != nil {
		return nil, err
	}

	var pending pendingView
	raw, err := a.general.Get(ctx, pendingKey)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &pending); jerr != nil {
			a.log.Warn("pending registration unreadable", zap.Error(jerr))
		}
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}
	if strings.TrimSpace(*email) != "" {
		pending.Email = *email
	}
	if pending.Email == "" {
		return nil, usagef("profile: no pending registration, run register or pass --email")
	}

	id, err := a.auth.CompleteProfile(ctx, model.Profile{
		ID:       pending.Email,
		Name:     *name,
		Username: pending.Username,
		Height:   *height,
		Weight:   *weight,
		Sex:      *sex,
		Goal:     *goal,
	})
	if err != nil {
		return nil, err
	}
	if err := a.general.Delete(ctx, pendingKey); err != nil {
		a.log.Warn("forget registration failed", zap.Error(err))
	}
	return viewOf(id), nil
}

func cmdSendCode(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("send-code")
	email := fs.StringP("email", "e", "", "account email")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := a.auth.SendResetCode(ctx, *email); err != nil {
		return nil, err
	}
	return map[string]string{"sent": strings.TrimSpace(*email)}, nil
}

func cmdResetPassword(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("reset-password")
	email := fs.StringP("email", "e", "", "account email")
	code := fs.String("code", "", "mailed reset code")
	pass := fs.String("new", "", "new password")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if err := a.auth.ResetPassword(ctx, *email, *code, *pass); err != nil {
		return nil, err
	}
	return map[string]bool{"changed": true}, nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) (any, error) {
	if err := a.auth.SignOut(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"signedOut": true}, nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) (any, error) {
	id, ok := a.session.Identity()
	if !ok {
		return nil, fmt.Errorf("not signed in: %w", errs.ErrUnauthorized)
	}
	return viewOf(id), nil
}

// ---- forum ----

func cmdPosts(ctx context.Context, a *app, _ []string) (any, error) {
	feed := a.forum.Posts()
	if err := feed.Load(ctx); err != nil {
		return nil, err
	}
	return feed.Snapshot().Items, nil
}

func cmdPost(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("post")
	msg := fs.StringP("message", "m", "", "post text")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return a.forum.Publish(ctx, *msg)
}

func cmdRmPost(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("rm-post")
	id := fs.Int64("id", 0, "post id")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if *id <= 0 {
		return nil, usagef("rm-post: --id must be positive")
	}
	feed := a.forum.Posts()
	if err := feed.Load(ctx); err != nil {
		return nil, err
	}
	if _, ok := feed.Get(*id); !ok {
		return nil, fmt.Errorf("post %d: %w", *id, errs.ErrNotFound)
	}
	if err := a.forum.Delete(ctx, *id); err != nil {
		return nil, err
	}
	return map[string]int64{"deleted": *id}, nil
}

func cmdComments(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("comments")
	post := fs.Int64("post", 0, "post id")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	thread, err := a.forum.Comments(*post)
	if err != nil {
		return nil, err
	}
	if err := thread.Load(ctx); err != nil {
		return nil, err
	}
	return thread.Snapshot().Items, nil
}

func cmdComment(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("comment")
	post := fs.Int64("post", 0, "post id")
	msg := fs.StringP("message", "m", "", "comment text")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	return a.forum.Reply(ctx, *post, *msg)
}

// ---- nutrition ----

func cmdLibrary(ctx context.Context, a *app, args []string) (any, error) {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		if err := a.saved.Load(ctx); err != nil {
			return nil, err
		}
		return a.saved.Snapshot().Items, nil
	case "rm":
		fs := newFlags("library rm")
		id := fs.Int64("id", 0, "entry id")
		if err := parse(fs, args); err != nil {
			return nil, err
		}
		if err := a.saved.Load(ctx); err != nil {
			return nil, err
		}
		if _, ok := a.saved.Get(*id); !ok {
			return nil, fmt.Errorf("library entry %d: %w", *id, errs.ErrNotFound)
		}
		if err := a.saved.Remove(ctx, *id); err != nil {
			return nil, err
		}
		return map[string]int64{"deleted": *id}, nil
	case "clear":
		if err := a.library.Clear(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"cleared": true}, nil
	default:
		return nil, usagef("library: unknown subcommand %q", sub)
	}
}

func cmdScan(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("scan")
	save := fs.Bool("save", false, "save the product to the library")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, usagef("scan: exactly one barcode is required")
	}
	item, err := a.foods.Lookup(ctx, fs.Arg(0))
	if err != nil {
		return nil, err
	}
	if !*save {
		return item, nil
	}
	return a.saved.Create(ctx, model.LibraryEntry{NutritionItem: item})
}

func cmdAddFood(ctx context.Context, a *app, args []string) (any, error) {
	fs := newFlags("add-food")
	name := fs.String("name", "", "product name")
	brand := fs.String("brand", "", "brand")
	fs.Float64("calories", 0, "calories per serving")
	fs.Float64("carbs", 0, "carbohydrates in grams")
	fs.Float64("protein", 0, "protein in grams")
	fs.Float64("fat", 0, "fat in grams")
	if err := parse(fs, args); err != nil {
		return nil, err
	}
	item := model.NutritionItem{
		Name:     *name,
		Brand:    *brand,
		Calories: optFloat(fs, "calories"),
		Carbs:    optFloat(fs, "carbs"),
		Protein:  optFloat(fs, "protein"),
		Fat:      optFloat(fs, "fat"),
	}
	return a.saved.Create(ctx, model.LibraryEntry{NutritionItem: item})
}

// optFloat returns the flag value only when it was given.
func optFloat(fs *pflag.FlagSet, name string) *float64 {
	if !fs.Changed(name) {
		return nil
	}
	v, err := fs.GetFloat64(name)
	if err != nil {
		return nil
	}
	return &v
}
