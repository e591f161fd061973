package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates the object store.
type S3Config struct {
	Region   string
	Endpoint string
}

// Downloader is the part of the S3 transfer manager S3Source uses.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// S3Source downloads s3://bucket/key objects into temporary files.
type S3Source struct {
	downloader Downloader
	tempDir    string
}

// NewS3Source configures a downloader targeting the provided object store.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if strings.TrimSpace(cfg.Endpoint) != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 5 * 1024 * 1024
	})

	return NewS3SourceWithDownloader(downloader, ""), nil
}

// NewS3SourceWithDownloader builds a source around an existing downloader.
// Temporary files go to tempDir, or the system default when empty.
func NewS3SourceWithDownloader(d Downloader, tempDir string) *S3Source {
	return &S3Source{downloader: d, tempDir: tempDir}
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", location, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %s is not an s3 url", ErrUnsupportedSource, location)
	}
	key = strings.TrimLeft(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %s needs a bucket and a key", location)
	}
	return u.Host, key, nil
}

// Open implements Source.
func (s *S3Source) Open(ctx context.Context, location string) (*Asset, error) {
	if s == nil || s.downloader == nil {
		return nil, fmt.Errorf("s3: %w", ErrSourceUnavailable)
	}
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.tempDir, "toptop-s3-*"+path.Ext(key))
	if err != nil {
		return nil, fmt.Errorf("s3 temp file: %w", err)
	}
	remove := func() error { return os.Remove(tmp.Name()) }

	_, err = s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if err != nil {
		_ = remove()
		return nil, fmt.Errorf("s3 download %s/%s: %w", bucket, key, err)
	}
	if closeErr != nil {
		_ = remove()
		return nil, fmt.Errorf("s3 temp file: %w", closeErr)
	}

	asset, err := openFile(tmp.Name(), remove)
	if err != nil {
		return nil, err
	}
	asset.Name = path.Base(key)
	asset.Title = strings.TrimSuffix(asset.Name, path.Ext(asset.Name))
	return asset, nil
}
