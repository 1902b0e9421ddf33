package fixture

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/replay-testing/internal/domain"
)

// LocalProvider serves a recording already present on disk.
type LocalProvider struct {
	Path string
}

func (p LocalProvider) Key() string { return domain.Stem(p.Path) }

func (p LocalProvider) Source() string { return p.Path }

func (p LocalProvider) Download(ctx context.Context, destDir string) (domain.LogRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.LogRef{}, err
	}
	path := strings.TrimSpace(p.Path)
	info, err := os.Stat(path)
	if err != nil {
		return domain.LogRef{}, validationErr("input %s: %v", path, err)
	}
	if info.IsDir() {
		return domain.LogRef{}, validationErr("input %s is a directory", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".mcap") {
		return domain.LogRef{}, validationErr("input %s is not an .mcap file", path)
	}
	if !isMCAP(path) {
		return domain.LogRef{}, validationErr("input %s does not start with the MCAP magic", path)
	}
	if err := ensureDir(destDir); err != nil {
		return domain.LogRef{}, validationErr("prepare %s: %v", destDir, err)
	}
	dst := filepath.Join(destDir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		return domain.LogRef{}, validationErr("copy %s: %v", path, err)
	}
	return domain.LogRef{Path: dst}, nil
}
