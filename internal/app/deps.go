package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/config"
	"github.com/vidfriends/toptop/internal/db"
	"github.com/vidfriends/toptop/internal/engagement"
	"github.com/vidfriends/toptop/internal/feed"
	"github.com/vidfriends/toptop/internal/logging"
	"github.com/vidfriends/toptop/internal/media"
	"github.com/vidfriends/toptop/internal/session"
	"github.com/vidfriends/toptop/internal/ui"
)

// dependencies is everything a command may need. Commands reach the API only
// through client so that every call shares one session and one pipeline.
type dependencies struct {
	cfg       config.Config
	logger    *slog.Logger
	session   *session.Provider
	client    *api.Client
	events    *engagement.Dispatcher
	feed      *feed.Loader
	media     *media.Resolver
	notifier  ui.Notifier
	navigator ui.Navigator
}

type cleanupFunc func(ctx context.Context) error

// buildDependencies wires together the concrete implementations used by the
// commands. The returned cleanup drains the event queue and closes the store.
func buildDependencies(ctx context.Context, cfg config.Config, stderr io.Writer) (*dependencies, cleanupFunc, error) {
	logger := logging.New(stderr, cfg.LogLevel)
	ctx = logging.WithLogger(ctx, logger)

	store, closeStore, err := openStore(ctx, cfg.Session)
	if err != nil {
		return nil, nil, err
	}

	provider, err := session.NewProvider(ctx, store, logger)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	notifier := ui.NewWriterNotifier(stderr)
	navigator := ui.NewWriterNavigator(stderr)

	client := api.NewClient(cfg.APIBaseURL, provider,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
		api.WithNotifier(notifier),
		api.WithNavigator(navigator),
		api.WithThrottle(api.NewThrottle(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst)),
		api.WithRefreshMode(api.ParseRefreshMode(cfg.RefreshMode)),
	)

	events := engagement.NewDispatcher(engagement.DispatcherConfig{
		QueueSize:  cfg.Events.QueueSize,
		Workers:    cfg.Events.Workers,
		JobTimeout: cfg.Events.JobTimeout,
	}, logger)

	loader := feed.NewLoader(client.Videos, cfg.FeedCacheTTL,
		feed.WithFollowing(client.Users, provider),
		feed.WithNotifier(notifier),
		feed.WithLogger(logger),
	)

	var s3Source media.Source
	if src, err := media.NewS3Source(ctx, media.S3Config{Region: cfg.ObjectStore.Region, Endpoint: cfg.ObjectStore.Endpoint}); err != nil {
		logger.Warn("s3 media source disabled", "error", err)
	} else {
		s3Source = src
	}
	resolver := media.NewResolver(s3Source, media.NewYTDLPSource(cfg.YTDLPPath, cfg.YTDLPTimeout))

	deps := &dependencies{
		cfg:       cfg,
		logger:    logger,
		session:   provider,
		client:    client,
		events:    events,
		feed:      loader,
		media:     resolver,
		notifier:  notifier,
		navigator: navigator,
	}

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := events.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain events: %w", err))
		}
		if err := closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("close session store: %w", err))
		}
		return errors.Join(errs...)
	}

	return deps, cleanup, nil
}

// openStore selects the session backend named by the configuration.
func openStore(ctx context.Context, cfg config.SessionConfig) (session.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), noop, nil
	case config.BackendFile:
		store, err := session.NewFileStore(cfg.Path, cfg.Key)
		if err != nil {
			return nil, nil, fmt.Errorf("open session file: %w", err)
		}
		return store, noop, nil
	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := session.NewPostgresStore(pool, cfg.Namespace)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error { pool.Close(); return nil }, nil
	case config.BackendRedis:
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.Namespace,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
