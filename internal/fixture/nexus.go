package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/platform/env"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
)

type NexusConfig struct {
	Server     string
	Repository string
	Username   string
	Password   string
	Headers    map[string]string
}

func NexusConfigFromEnv() (NexusConfig, error) {
	headers, err := env.Headers("NEXUS_EXTRA_HEADERS")
	if err != nil {
		return NexusConfig{}, err
	}
	cfg := NexusConfig{
		Server:     strings.TrimRight(strings.TrimSpace(env.String("NEXUS_SERVER", "")), "/"),
		Repository: strings.TrimSpace(env.String("NEXUS_REPOSITORY", "")),
		Username:   env.String("NEXUS_USERNAME", ""),
		Password:   env.String("NEXUS_PASSWORD", ""),
		Headers:    headers,
	}
	if err := cfg.Validate(); err != nil {
		return NexusConfig{}, err
	}
	return cfg, nil
}

func (c NexusConfig) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("NEXUS_SERVER is required")
	}
	if !strings.HasPrefix(c.Server, "http://") && !strings.HasPrefix(c.Server, "https://") {
		return fmt.Errorf("NEXUS_SERVER must be an http(s) URL: %q", c.Server)
	}
	if c.Repository == "" {
		return fmt.Errorf("NEXUS_REPOSITORY is required")
	}
	return nil
}

// NexusProvider fetches a recording from a Nexus raw repository.
type NexusProvider struct {
	Path     string
	UseCache bool
	Cache    Cache
	Client   *http.Client
	Logger   *slog.Logger
}

func (p NexusProvider) Key() string { return domain.Stem(p.Path) }

func (p NexusProvider) Source() string { return "nexus:" + p.assetPath() }

func (p NexusProvider) assetPath() string {
	return strings.TrimPrefix(strings.TrimSpace(p.Path), "/")
}

func (p NexusProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}

func (p NexusProvider) Download(ctx context.Context, destDir string) (domain.LogRef, error) {
	logger := logging.OrDiscard(p.Logger)
	asset := p.assetPath()
	if asset == "" || path.Base(asset) == "." {
		return domain.LogRef{}, downloadErr("nexus path is required")
	}
	cfg, err := NexusConfigFromEnv()
	if err != nil {
		return domain.LogRef{}, downloadErr("%v", err)
	}
	if err := ensureDir(destDir); err != nil {
		return domain.LogRef{}, downloadErr("prepare %s: %v", destDir, err)
	}
	dst := filepath.Join(destDir, path.Base(asset))

	if !p.UseCache {
		if err := p.fetch(ctx, cfg, asset, dst); err != nil {
			return domain.LogRef{}, err
		}
		return domain.LogRef{Path: dst}, nil
	}

	remote, err := p.lookup(ctx, cfg, asset)
	if err != nil {
		logger.Warn("nexus asset metadata unavailable, cache bypassed", "path", asset, "err", err)
	}
	entry := p.Cache.Entry(cfg.Repository, asset)
	if entry.Valid(remote) {
		logger.Info("fixture cache hit", "path", entry.Path)
	} else {
		if err := p.fetch(ctx, cfg, asset, entry.Path); err != nil {
			_ = entry.Invalidate()
			return domain.LogRef{}, err
		}
		if remote != nil && remote.Checksum != "" {
			if err := entry.Commit(p.Source(), *remote); err != nil {
				logger.Warn("write fixture cache metadata", "path", entry.MetaPath, "err", err)
			}
		} else {
			_ = os.Remove(entry.MetaPath)
		}
	}
	if err := copyFile(entry.Path, dst); err != nil {
		return domain.LogRef{}, downloadErr("copy cached %s: %v", entry.Path, err)
	}
	return domain.LogRef{Path: dst}, nil
}

type nexusSearchResponse struct {
	Items []nexusAsset `json:"items"`
}

type nexusAsset struct {
	ID       string            `json:"id"`
	Path     string            `json:"path"`
	Checksum map[string]string `json:"checksum"`
}

// lookup returns the fingerprint of the asset. A nil fingerprint with a nil error
// means the asset is unknown to the search API.
func (p NexusProvider) lookup(ctx context.Context, cfg NexusConfig, asset string) (*Fingerprint, error) {
	q := url.Values{}
	q.Set("repository", cfg.Repository)
	q.Set("name", "/"+asset)
	req, err := p.newRequest(ctx, cfg, cfg.Server+"/service/rest/v1/search/assets?"+q.Encode())
	if err != nil {
		return nil, err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search assets: http %d", resp.StatusCode)
	}
	var body nexusSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	for _, item := range body.Items {
		if strings.TrimPrefix(item.Path, "/") != asset {
			continue
		}
		fp := &Fingerprint{ID: item.ID}
		for _, algo := range []string{"sha256", "sha1", "md5"} {
			if v := strings.TrimSpace(item.Checksum[algo]); v != "" {
				fp.Checksum = algo + ":" + v
				break
			}
		}
		return fp, nil
	}
	return nil, nil
}

func (p NexusProvider) fetch(ctx context.Context, cfg NexusConfig, asset, dst string) error {
	u := cfg.Server + "/repository/" + url.PathEscape(cfg.Repository) + "/" + escapePath(asset)
	req, err := p.newRequest(ctx, cfg, u)
	if err != nil {
		return downloadErr("build request: %v", err)
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return downloadErr("get %s: %v", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return downloadErr("get %s: http %d", u, resp.StatusCode)
	}
	if err := writeAtomic(dst, resp.Body); err != nil {
		return downloadErr("write %s: %v", dst, err)
	}
	if !isMCAP(dst) {
		_ = os.Remove(dst)
		return downloadErr("%s is not an MCAP file", u)
	}
	return nil
}

func (p NexusProvider) newRequest(ctx context.Context, cfg NexusConfig, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Username != "" || cfg.Password != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
