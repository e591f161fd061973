package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/vidfriends/toptop/internal/config"
	"github.com/vidfriends/toptop/internal/session"
)

func testConfig(backend string) config.Config {
	return config.Config{
		APIBaseURL:     "http://127.0.0.1:1",
		LogLevel:       "error",
		RequestTimeout: time.Second,
		RefreshMode:    config.RefreshSingleFlight,
		ViewThreshold:  0.8,
		FeedCacheTTL:   time.Minute,
		YTDLPPath:      "yt-dlp",
		YTDLPTimeout:   time.Second,
		RateLimit:      config.RateLimitConfig{Requests: 10, Window: time.Second, Burst: 5},
		Events:         config.EventsConfig{QueueSize: 4, Workers: 1, JobTimeout: time.Second},
		Session:        config.SessionConfig{Backend: backend, Namespace: "test"},
		ObjectStore:    config.ObjectStoreConfig{Region: "us-east-1", Endpoint: "http://localhost:9000"},
	}
}

func TestBuildDependencies(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	deps, cleanup, err := buildDependencies(context.Background(), testConfig(config.BackendMemory), io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Fatalf("cleanup: %v", err)
		}
	}()

	if deps.session == nil {
		t.Fatal("expected session provider to be configured")
	}
	if deps.client == nil || deps.client.Session() != deps.session {
		t.Fatal("expected api client backed by the session provider")
	}
	if deps.events == nil {
		t.Fatal("expected event dispatcher to be configured")
	}
	if deps.feed == nil {
		t.Fatal("expected feed loader to be configured")
	}
	if deps.media == nil || deps.media.Local == nil || deps.media.Web == nil {
		t.Fatal("expected media resolver with local and web sources")
	}
	if deps.media.S3 == nil {
		t.Fatal("expected s3 media source to be configured")
	}
	if deps.session.LoggedIn() {
		t.Fatal("fresh memory session must be logged out")
	}
}

func TestOpenStoreFileBackend(t *testing.T) {
	cfg := testConfig(config.BackendFile).Session
	cfg.Path = filepath.Join(t.TempDir(), "session.json")
	cfg.Key = "passphrase"

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer closeStore()

	fileStore, ok := store.(*session.FileStore)
	if !ok {
		t.Fatalf("expected *session.FileStore, got %T", store)
	}
	if fileStore.Path() != cfg.Path {
		t.Fatalf("unexpected path %q", fileStore.Path())
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	if _, _, err := openStore(context.Background(), config.SessionConfig{Backend: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRunUsesConfiguredDependencies(t *testing.T) {
	var built bool
	c := &cli{
		stdout:     io.Discard,
		stderr:     io.Discard,
		loadConfig: func() (config.Config, error) { return testConfig(config.BackendMemory), nil },
		build: func(ctx context.Context, cfg config.Config, stderr io.Writer) (*dependencies, cleanupFunc, error) {
			built = true
			return buildDependencies(ctx, cfg, stderr)
		},
	}

	if err := c.execute(context.Background(), []string{"can", "read:Page"}); err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if !built {
		t.Fatal("expected dependencies to be built")
	}
	if c.cleanup != nil {
		t.Fatal("expected cleanup to run after the command")
	}
}
