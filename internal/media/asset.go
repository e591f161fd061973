// Package media resolves an upload location (a local path, an s3:// object or
// a web page yt-dlp understands) into a seekable file ready for upload.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedSource is returned for a location no configured source handles.
	ErrUnsupportedSource = errors.New("unsupported media source")
	// ErrSourceUnavailable is returned when a source is not configured.
	ErrSourceUnavailable = errors.New("media source unavailable")
)

// Asset is an opened media file. It is seekable so an upload can be replayed;
// Close releases any temporary files behind it.
type Asset struct {
	Name        string
	Title       string
	Description string
	Size        int64

	file    *os.File
	cleanup func() error
}

var _ io.ReadSeekCloser = (*Asset)(nil)

// Read implements io.Reader.
func (a *Asset) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Seek implements io.Seeker.
func (a *Asset) Seek(offset int64, whence int) (int64, error) {
	return a.file.Seek(offset, whence)
}

// Close closes the file and removes temporary data.
func (a *Asset) Close() error {
	err := a.file.Close()
	if a.cleanup != nil {
		err = errors.Join(err, a.cleanup())
	}
	return err
}

// Source opens a location.
type Source interface {
	Open(ctx context.Context, location string) (*Asset, error)
}

// openFile wraps path as an Asset. cleanup, when set, runs on Close and also
// when opening fails.
func openFile(path string, cleanup func() error) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s is a directory", path)
	}
	if err != nil {
		f.Close()
		if cleanup != nil {
			_ = cleanup()
		}
		return nil, err
	}

	name := filepath.Base(path)
	return &Asset{
		Name:    name,
		Title:   strings.TrimSuffix(name, filepath.Ext(name)),
		Size:    info.Size(),
		file:    f,
		cleanup: cleanup,
	}, nil
}

// LocalSource opens files on disk.
type LocalSource struct{}

// Open implements Source. A file:// prefix is accepted.
func (LocalSource) Open(_ context.Context, location string) (*Asset, error) {
	path := strings.TrimPrefix(location, "file://")
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnsupportedSource)
	}
	return openFile(path, nil)
}
