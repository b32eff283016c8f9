// Package mirror copies stored submissions to an S3 compatible bucket.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Prefix is the object key prefix, matching the on-disk layout.
const Prefix = "uploads"

// Config locates the bucket.
type Config struct {
	Endpoint  string // "minio:9000" or "https://s3.example.com"
	AccessKey string
	SecretKey string
	Bucket    string

	MaxFailures uint32        // consecutive failures before the breaker opens, default 5
	Cooldown    time.Duration // default 30s
}

type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// Mirror uploads submission files.
type Mirror struct {
	client  objectStore
	bucket  string
	breaker *Breaker
	logger  *zap.Logger
}

// New connects to the object store and checks that the bucket exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("mirror configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	m := newMirror(client, cfg, logger)
	if err := m.Check(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newMirror(client objectStore, cfg Config, logger *zap.Logger) *Mirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mirror")

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	return &Mirror{
		client:  client,
		bucket:  cfg.Bucket,
		breaker: NewBreaker(maxFailures, cooldown, logger),
		logger:  logger,
	}
}

// normaliseEndpoint accepts "host:port" or a URL with an http(s) scheme and
// no path.
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// Bare host:port is plain HTTP, as for a local MinIO.
	return raw, false, nil
}

// ObjectKey is the key a submission file is stored under.
func ObjectKey(id, name string) string {
	return path.Join(Prefix, id, name)
}

// Replicate uploads every file of submission id. Files are put in name order;
// the first failure stops the run.
func (m *Mirror) Replicate(ctx context.Context, id string, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	err := m.breaker.Execute(func() error {
		for _, name := range names {
			data := files[name]
			key := ObjectKey(id, name)
			_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
				ContentType: contentType(name),
			})
			if err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replicate %s: %w", id, err)
	}

	m.logger.Debug("submission mirrored", zap.String("id", id), zap.Int("files", len(names)))
	return nil
}

// Check verifies the bucket is reachable.
func (m *Mirror) Check(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket does not exist: %s", m.bucket)
	}
	return nil
}

// BreakerState reports the state of the upload circuit breaker.
func (m *Mirror) BreakerState() State {
	return m.breaker.State()
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
