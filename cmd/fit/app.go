package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/api"
	"github.com/and161185/fitpanda/internal/collection"
	"github.com/and161185/fitpanda/internal/config"
	"github.com/and161185/fitpanda/internal/foodfacts"
	"github.com/and161185/fitpanda/internal/library"
	"github.com/and161185/fitpanda/internal/limiter"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/service"
	"github.com/and161185/fitpanda/internal/session"
	"github.com/and161185/fitpanda/internal/storage/sealed"
	"github.com/and161185/fitpanda/internal/storage/sqlitekv"
	"github.com/and161185/fitpanda/internal/telemetry"
)

// app holds everything a command may touch.
type app struct {
	log     *zap.Logger
	general *sqlitekv.KV
	session *session.Store
	auth    *service.AuthService
	forum   *service.ForumService
	library *library.Library
	saved   *collection.Collection[model.LibraryEntry]
	foods   *foodfacts.Client
}

func openApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	secure, err := sealed.Open(cfg.SecureDir, sealed.WithPassphrase(cfg.Passphrase()), sealed.WithLogger(log))
	if err != nil {
		return nil, err
	}
	general, err := sqlitekv.Open(ctx, cfg.LibraryDB(), log)
	if err != nil {
		return nil, err
	}

	sess := session.New(secure, session.WithLogger(log))
	if err := sess.Initialize(ctx); err != nil {
		_ = general.Close()
		return nil, err
	}

	rec, err := telemetry.New(nil)
	if err != nil {
		_ = general.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	ua := "fitpanda-cli/" + version
	client, err := api.New(cfg.APIBase,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(log),
		api.WithMetrics(rec),
		api.WithToken(sess.BearerToken),
		api.WithUserAgent(ua),
	)
	if err != nil {
		_ = general.Close()
		return nil, err
	}
	foods, err := foodfacts.New(cfg.FoodFactsBase, cfg.RequestTimeout, log,
		foodfacts.WithMetrics(rec), foodfacts.WithUserAgent(ua))
	if err != nil {
		_ = general.Close()
		return nil, err
	}

	lib := library.New(general, log)
	saved := collection.New[model.LibraryEntry](lib,
		collection.WithName("library"), collection.WithAppend(), collection.WithLogger(log))
	return &app{
		log:     log,
		general: general,
		session: sess,
		auth:    service.NewAuthService(client, sess, limiter.New(general, 0, 0, 0), log),
		forum:   service.NewForumService(client, sess, log, collection.WithTimeout(cfg.RequestTimeout)),
		library: lib,
		saved:   saved,
		foods:   foods,
	}, nil
}

func (a *app) Close() {
	a.forum.Close()
	a.saved.Close()
	if err := a.general.Close(); err != nil {
		a.log.Warn("close storage", zap.Error(err))
	}
}
