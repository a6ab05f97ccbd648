// Package artifact loads trained model artifacts from the local filesystem or from
// S3-compatible object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/config"
)

// S3Scheme prefixes object storage URIs.
const S3Scheme = "s3://"

// maxArtifactBytes caps the size of a loaded artifact.
const maxArtifactBytes = 64 << 20

// ErrInvalidURI is returned for URIs that name neither a file nor an object.
var ErrInvalidURI = errors.New("invalid artifact uri")

// Loader reads artifacts by URI. A URI is either a filesystem path or s3://bucket/key.
// The S3 client is created on first use. Loader is safe for concurrent use.
type Loader struct {
	cfg    config.ArtifactConfig
	logger zerolog.Logger

	once   sync.Once
	client *s3.Client
	err    error
}

// NewLoader creates a loader using cfg for object storage access.
func NewLoader(cfg config.ArtifactConfig, logger zerolog.Logger) *Loader {
	return &Loader{
		cfg:    cfg,
		logger: logger.With().Str("component", "artifact").Logger(),
	}
}

// Read returns the artifact bytes at uri.
func (l *Loader) Read(ctx context.Context, uri string) ([]byte, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURI)
	}

	if !strings.HasPrefix(uri, S3Scheme) {
		return l.readFile(uri)
	}

	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	return l.readObject(ctx, bucket, key)
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	l.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("artifact loaded from file")
	return data, nil
}

func (l *Loader) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := l.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxArtifactBytes))
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	l.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("artifact loaded from object storage")
	return data, nil
}

func (l *Loader) s3Client(ctx context.Context) (*s3.Client, error) {
	l.once.Do(func() {
		l.client, l.err = NewS3Client(ctx, l.cfg)
	})
	return l.client, l.err
}

// NewS3Client creates an S3 client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.ArtifactConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, S3Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an s3 uri", ErrInvalidURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and a key", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}
