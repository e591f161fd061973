package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestLocalSourceOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o600); err != nil {
		t.Fatalf("prepare file: %v", err)
	}

	asset, err := LocalSource{}.Open(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer asset.Close()

	if asset.Name != "clip.mp4" || asset.Title != "clip" || asset.Size != int64(len("video-bytes")) {
		t.Fatalf("unexpected asset: %+v", asset)
	}

	first, _ := io.ReadAll(asset)
	if _, err := asset.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	second, _ := io.ReadAll(asset)
	if string(first) != "video-bytes" || string(second) != "video-bytes" {
		t.Fatalf("expected asset to be re-readable, got %q then %q", first, second)
	}

	if err := asset.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("local files must not be removed on close: %v", err)
	}
}

func TestLocalSourceRejectsDirectories(t *testing.T) {
	if _, err := (LocalSource{}).Open(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for directory")
	}
	if _, err := (LocalSource{}).Open(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestYTDLPSourceOpen(t *testing.T) {
	source := NewYTDLPSource("yt-dlp", time.Second)
	source.TempDir = t.TempDir()

	var downloadDir string
	source.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		wantPrefix := []string{"--dump-single-json", "--no-simulate", "--no-warnings", "--no-playlist", "-P"}
		if len(args) != len(wantPrefix)+2 {
			return nil, fmt.Errorf("unexpected args length: got %d", len(args))
		}
		for i, arg := range wantPrefix {
			if args[i] != arg {
				return nil, fmt.Errorf("unexpected arg at %d: got %q want %q", i, args[i], arg)
			}
		}
		if args[len(args)-1] != "https://example.com/watch?v=1" {
			return nil, fmt.Errorf("unexpected url %q", args[len(args)-1])
		}
		downloadDir = args[len(wantPrefix)]
		file := filepath.Join(downloadDir, "Example.mp4")
		if err := os.WriteFile(file, []byte("content"), 0o600); err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf(`{"title":"Example","description":"Desc","requested_downloads":[{"filepath":%q}]}`, file)), nil
	}

	asset, err := source.Open(context.Background(), "https://example.com/watch?v=1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if asset.Title != "Example" || asset.Description != "Desc" || asset.Name != "Example.mp4" {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	data, _ := io.ReadAll(asset)
	if string(data) != "content" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := asset.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(downloadDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temporary directory to be removed, stat err = %v", err)
	}
}

func TestYTDLPSourceFailuresCleanUp(t *testing.T) {
	tests := []struct {
		name string
		run  CommandRunner
	}{
		{"command error", func(context.Context, string, ...string) ([]byte, error) { return nil, errors.New("exit 1") }},
		{"bad json", func(context.Context, string, ...string) ([]byte, error) { return []byte("nope"), nil }},
		{"no download", func(context.Context, string, ...string) ([]byte, error) {
			return []byte(`{"title":"Example","requested_downloads":[]}`), nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewYTDLPSource("", 0)
			source.TempDir = t.TempDir()
			source.Run = tt.run

			if _, err := source.Open(context.Background(), "https://example.com"); err == nil {
				t.Fatal("expected error")
			}
			entries, err := os.ReadDir(source.TempDir)
			if err != nil {
				t.Fatalf("read temp dir: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("expected temporary data to be removed, found %d entries", len(entries))
			}
		})
	}
}

type downloaderStub struct {
	bucket, key string
	body        string
	err         error
}

func (d *downloaderStub) Download(_ context.Context, w io.WriterAt, input *s3.GetObjectInput, _ ...func(*manager.Downloader)) (int64, error) {
	d.bucket = aws.ToString(input.Bucket)
	d.key = aws.ToString(input.Key)
	if d.err != nil {
		return 0, d.err
	}
	n, err := w.WriteAt([]byte(d.body), 0)
	return int64(n), err
}

func TestS3SourceOpen(t *testing.T) {
	stub := &downloaderStub{body: "s3-bytes"}
	tmp := t.TempDir()
	source := NewS3SourceWithDownloader(stub, tmp)

	asset, err := source.Open(context.Background(), "s3://media/uploads/dance.mp4")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if stub.bucket != "media" || stub.key != "uploads/dance.mp4" {
		t.Fatalf("unexpected object %s/%s", stub.bucket, stub.key)
	}
	if asset.Name != "dance.mp4" || asset.Title != "dance" || asset.Size != int64(len("s3-bytes")) {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	data, _ := io.ReadAll(asset)
	if string(data) != "s3-bytes" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := asset.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("expected temporary file to be removed, found %d entries", len(entries))
	}
}

func TestS3SourceDownloadFailure(t *testing.T) {
	tmp := t.TempDir()
	source := NewS3SourceWithDownloader(&downloaderStub{err: errors.New("access denied")}, tmp)

	if _, err := source.Open(context.Background(), "s3://media/clip.mp4"); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Fatalf("expected temporary file to be removed, found %d entries", len(entries))
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://media/a/b.mp4")
	if err != nil || bucket != "media" || key != "a/b.mp4" {
		t.Fatalf("ParseS3URL() = %q, %q, %v", bucket, key, err)
	}
	for _, bad := range []string{"s3://media", "s3:///key", "https://media/key"} {
		if _, _, err := ParseS3URL(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

type sourceFunc func(ctx context.Context, location string) (*Asset, error)

func (f sourceFunc) Open(ctx context.Context, location string) (*Asset, error) { return f(ctx, location) }

func TestResolverDispatch(t *testing.T) {
	var got string
	record := func(kind string) Source {
		return sourceFunc(func(_ context.Context, location string) (*Asset, error) {
			got = kind + " " + location
			return nil, nil
		})
	}
	r := &Resolver{Local: record("local"), S3: record("s3"), Web: record("web")}

	tests := map[string]string{
		"/tmp/a.mp4":           "local /tmp/a.mp4",
		"file:///tmp/a.mp4":    "local file:///tmp/a.mp4",
		"s3://bucket/a.mp4":    "s3 s3://bucket/a.mp4",
		"https://example.com":  "web https://example.com",
		" http://example.com ": "web http://example.com",
	}
	for location, want := range tests {
		if _, err := r.Open(context.Background(), location); err != nil {
			t.Fatalf("Open(%q) error = %v", location, err)
		}
		if got != want {
			t.Fatalf("Open(%q) dispatched to %q want %q", location, got, want)
		}
	}

	if _, err := r.Open(context.Background(), "ftp://example.com/a.mp4"); !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}

	bare := NewResolver(nil, nil)
	if _, err := bare.Open(context.Background(), "s3://bucket/a.mp4"); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
