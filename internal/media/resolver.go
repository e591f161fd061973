package media

import (
	"context"
	"fmt"
	"strings"
)

// Resolver picks a Source by the location's scheme.
type Resolver struct {
	Local Source
	S3    Source
	Web   Source
}

// NewResolver returns a resolver that handles local paths. S3 and web sources
// are optional.
func NewResolver(s3 Source, web Source) *Resolver {
	return &Resolver{Local: LocalSource{}, S3: s3, Web: web}
}

// Open resolves location and opens it.
func (r *Resolver) Open(ctx context.Context, location string) (*Asset, error) {
	location = strings.TrimSpace(location)
	var (
		src  Source
		kind string
	)
	switch {
	case strings.HasPrefix(location, "s3://"):
		src, kind = r.S3, "s3"
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		src, kind = r.Web, "web"
	case strings.Contains(location, "://") && !strings.HasPrefix(location, "file://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, location)
	default:
		src, kind = r.Local, "local"
	}
	if src == nil {
		return nil, fmt.Errorf("%s: %w", kind, ErrSourceUnavailable)
	}
	return src.Open(ctx, location)
}
