package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Koiiichi/symphony-lite/internal/config"
)

// Environment fallbacks for remote credentials
const (
	EnvAccessKey = "SYMPHONY_REMOTE_ACCESS_KEY"
	EnvSecretKey = "SYMPHONY_REMOTE_SECRET_KEY"
)

// objectStore is the subset of *minio.Client the mirror uses
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Mirror uploads finished run directories to an S3-compatible bucket
type Mirror struct {
	store  objectStore
	bucket string
	region string
	prefix string
}

// NewMirror creates a mirror from the remote configuration. Empty
// credentials fall back to SYMPHONY_REMOTE_ACCESS_KEY/SECRET_KEY.
func NewMirror(cfg config.RemoteConfig) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("remote mirror: endpoint and bucket are required")
	}
	access := cfg.AccessKey
	if access == "" {
		access = os.Getenv(EnvAccessKey)
	}
	secret := cfg.SecretKey
	if secret == "" {
		secret = os.Getenv(EnvSecretKey)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(access, secret, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("remote mirror: %w", err)
	}
	return newMirror(client, cfg), nil
}

func newMirror(store objectStore, cfg config.RemoteConfig) *Mirror {
	return &Mirror{
		store:  store,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
	}
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Upload copies every file under runDir to <prefix>/<run id>/<relative path>
// and returns the number of objects written.
func (m *Mirror) Upload(ctx context.Context, runDir string) (int, error) {
	exists, err := m.store.BucketExists(ctx, m.bucket)
	if err != nil {
		return 0, fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		if err := m.store.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
			return 0, fmt.Errorf("make bucket %s: %w", m.bucket, err)
		}
	}

	runID := filepath.Base(runDir)
	uploaded := 0
	err = filepath.WalkDir(runDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(runDir, p)
		if err != nil {
			return err
		}
		key := m.objectKey(runID, rel)
		if _, err := m.store.FPutObject(ctx, m.bucket, key, p, minio.PutObjectOptions{ContentType: contentType(p)}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

func (m *Mirror) objectKey(runID, rel string) string {
	return path.Join(m.prefix, runID, filepath.ToSlash(rel))
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
