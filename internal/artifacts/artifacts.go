// Package artifacts uploads the outputs of a session to object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
	"github.com/animus-labs/replay-testing/internal/storage/objectstore"
)

type Uploader struct {
	Store  objectstore.Store
	Bucket string
	Prefix string
	Logger *slog.Logger
}

// Upload copies the report files found in resultsDir and every log referenced by
// rep to <prefix>/<session>/, keeping paths relative to resultsDir. It returns the
// uploaded keys.
func (u Uploader) Upload(ctx context.Context, resultsDir string, rep domain.Report, reportFiles ...string) ([]string, error) {
	if u.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if strings.TrimSpace(u.Bucket) == "" {
		return nil, errors.New("artifact bucket is required")
	}
	if strings.TrimSpace(rep.SessionID) == "" {
		return nil, errors.New("report has no session id")
	}
	logger := logging.OrDiscard(u.Logger)

	var files []string
	for _, name := range reportFiles {
		files = append(files, filepath.Join(resultsDir, name))
	}
	for _, run := range rep.Runs() {
		files = append(files, run.FilteredPath, run.OutputPath)
	}

	seen := map[string]struct{}{}
	var keys []string
	var errs []error
	for _, file := range files {
		if file == "" {
			continue
		}
		if _, ok := seen[file]; ok {
			continue
		}
		seen[file] = struct{}{}
		key, err := u.key(resultsDir, rep.SessionID, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := u.put(ctx, file, key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("artifact missing, skipping", "path", file)
				continue
			}
			errs = append(errs, err)
			continue
		}
		logger.Debug("artifact uploaded", "path", file, "bucket", u.Bucket, "key", key)
		keys = append(keys, key)
	}
	logger.Info("artifacts uploaded", "bucket", u.Bucket, "count", len(keys))
	return keys, errors.Join(errs...)
}

func (u Uploader) key(resultsDir, sessionID, file string) (string, error) {
	rel, err := filepath.Rel(resultsDir, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %s is outside %s", file, resultsDir)
	}
	return path.Join(strings.Trim(u.Prefix, "/"), sessionID, filepath.ToSlash(rel)), nil
}

func (u Uploader) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := u.Store.Put(ctx, u.Bucket, key, f, info.Size(), contentType(file)); err != nil {
		return fmt.Errorf("upload %s: %w", file, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
