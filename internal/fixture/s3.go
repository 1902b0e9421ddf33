package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
	platformstore "github.com/animus-labs/replay-testing/internal/platform/objectstore"
	"github.com/animus-labs/replay-testing/internal/storage/objectstore"
)

// StoreFactory builds an object store client from the resolved configuration.
type StoreFactory func(cfg platformstore.Config) (objectstore.Store, error)

// S3Provider fetches a recording from an S3-compatible bucket. Connection settings
// come from the AWS_* environment at download time; Bucket overrides AWS_BUCKET.
type S3Provider struct {
	ObjectKey string
	Bucket    string
	UseCache  bool
	Cache     Cache
	NewStore  StoreFactory
	Logger    *slog.Logger
}

func (p S3Provider) Key() string { return domain.Stem(p.ObjectKey) }

func (p S3Provider) Source() string {
	bucket := strings.TrimSpace(p.Bucket)
	if bucket == "" {
		bucket = "$AWS_BUCKET"
	}
	return "s3://" + bucket + "/" + strings.TrimPrefix(p.ObjectKey, "/")
}

func (p S3Provider) Download(ctx context.Context, destDir string) (domain.LogRef, error) {
	logger := logging.OrDiscard(p.Logger)
	key := strings.TrimPrefix(strings.TrimSpace(p.ObjectKey), "/")
	filename := path.Base(key)
	if key == "" || filename == "." || filename == "/" {
		return domain.LogRef{}, downloadErr("s3 object key is required")
	}

	cfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return domain.LogRef{}, downloadErr("%v", err)
	}
	bucket := strings.TrimSpace(p.Bucket)
	if bucket == "" {
		bucket = strings.TrimSpace(cfg.Bucket)
	}
	if bucket == "" {
		return domain.LogRef{}, downloadErr("s3 bucket is not set (AWS_BUCKET)")
	}
	cfg.Bucket = bucket

	newStore := p.NewStore
	if newStore == nil {
		newStore = func(cfg platformstore.Config) (objectstore.Store, error) {
			return objectstore.NewMinioStore(cfg)
		}
	}
	store, err := newStore(cfg)
	if err != nil {
		return domain.LogRef{}, downloadErr("s3 client: %v", err)
	}

	info, err := store.Stat(ctx, bucket, key)
	if err != nil {
		return domain.LogRef{}, downloadErr("stat s3://%s/%s: %v", bucket, key, err)
	}
	logger.Info("resolved s3 fixture", "bucket", bucket, "key", key, "size_mb", fmt.Sprintf("%.2f", float64(info.Size)/(1024*1024)), "endpoint", cfg.Endpoint)

	if err := ensureDir(destDir); err != nil {
		return domain.LogRef{}, downloadErr("prepare %s: %v", destDir, err)
	}
	dst := filepath.Join(destDir, filename)

	if !p.UseCache {
		if err := fetchObject(ctx, store, bucket, key, dst); err != nil {
			return domain.LogRef{}, err
		}
		return domain.LogRef{Path: dst}, nil
	}

	entry := p.Cache.Entry(path.Join("s3", bucket), key)
	remote := &Fingerprint{ID: info.VersionID, Checksum: info.Checksum()}
	if entry.Valid(remote) {
		logger.Info("fixture cache hit", "path", entry.Path)
	} else {
		if err := fetchObject(ctx, store, bucket, key, entry.Path); err != nil {
			_ = entry.Invalidate()
			return domain.LogRef{}, err
		}
		if err := entry.Commit(p.Source(), *remote); err != nil {
			logger.Warn("write fixture cache metadata", "path", entry.MetaPath, "err", err)
		}
	}
	if err := copyFile(entry.Path, dst); err != nil {
		return domain.LogRef{}, downloadErr("copy cached %s: %v", entry.Path, err)
	}
	return domain.LogRef{Path: dst}, nil
}

func fetchObject(ctx context.Context, store objectstore.Store, bucket, key, dst string) error {
	body, _, err := store.Get(ctx, bucket, key)
	if err != nil {
		return downloadErr("get s3://%s/%s: %v", bucket, key, err)
	}
	defer body.Close()
	if err := writeAtomic(dst, body); err != nil {
		return downloadErr("write %s: %v", dst, err)
	}
	if !isMCAP(dst) {
		_ = os.Remove(dst)
		return downloadErr("s3://%s/%s is not an MCAP file", bucket, key)
	}
	return nil
}

