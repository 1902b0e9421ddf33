package fixture

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const DefaultCacheDir = "/tmp/replay_testing/.cache"

// Fingerprint identifies a remote object version. Checksum is "<algo>:<value>".
type Fingerprint struct {
	ID       string `json:"id,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

type cacheMeta struct {
	Source string `json:"source"`
	Fingerprint
}

// Cache stores downloaded recordings next to a .meta sidecar describing them.
type Cache struct {
	Dir string
}

type CacheEntry struct {
	Path     string
	MetaPath string
}

// Entry returns the cache location of key within namespace. Keys cannot escape Dir.
func (c Cache) Entry(namespace, key string) CacheEntry {
	dir := strings.TrimSpace(c.Dir)
	if dir == "" {
		dir = DefaultCacheDir
	}
	rel := filepath.Clean("/" + namespace + "/" + key)
	path := filepath.Join(dir, rel)
	return CacheEntry{Path: path, MetaPath: path + ".meta"}
}

// Valid reports whether the cached file may be reused for remote. Missing remote
// metadata, a missing sidecar or any mismatch invalidates the entry.
func (e CacheEntry) Valid(remote *Fingerprint) bool {
	if _, err := os.Stat(e.Path); err != nil {
		return false
	}
	if remote == nil || strings.TrimSpace(remote.Checksum) == "" {
		return false
	}
	raw, err := os.ReadFile(e.MetaPath)
	if err != nil {
		return false
	}
	var meta cacheMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return false
	}
	if meta.Checksum != remote.Checksum {
		return false
	}
	if remote.ID != "" && meta.ID != "" && meta.ID != remote.ID {
		return false
	}
	return true
}

// Commit records the fingerprint of the file now at Path.
func (e CacheEntry) Commit(source string, fp Fingerprint) error {
	raw, err := json.MarshalIndent(cacheMeta{Source: source, Fingerprint: fp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.MetaPath, raw, 0o644)
}

// Invalidate removes the cached file and its sidecar.
func (e CacheEntry) Invalidate() error {
	var errs []error
	for _, p := range []string{e.Path, e.MetaPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
