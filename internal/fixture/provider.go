// Package fixture resolves declared input recordings to local MCAP files.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/logstore"
)

// Provider fetches one input recording into a local directory.
type Provider interface {
	// Key is the file stem of the recording and names the fixture.
	Key() string
	// Source describes where the recording comes from.
	Source() string
	Download(ctx context.Context, destDir string) (domain.LogRef, error)
}

func downloadErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrFixtureDownload, fmt.Sprintf(format, args...))
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrFixtureValidation, fmt.Sprintf(format, args...))
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("destination directory is required")
	}
	return os.MkdirAll(dir, 0o755)
}

// copyFile copies src to dst through a temporary sibling so dst is never partial.
func copyFile(src, dst string) error {
	if same, err := samePath(src, dst); err == nil && same {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeAtomic(dst, in)
}

func writeAtomic(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func samePath(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(ai, bi), nil
}

// isMCAP reports whether path starts with the MCAP magic. Unreadable files are not MCAP.
func isMCAP(path string) bool {
	ok, err := logstore.HasMagic(path)
	return err == nil && ok
}
