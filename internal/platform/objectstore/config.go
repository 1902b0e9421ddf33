package objectstore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/animus-labs/replay-testing/internal/platform/env"
)

const (
	defaultEndpoint = "s3.amazonaws.com"
	defaultRegion   = "us-east-1"
)

// Config describes an S3-compatible endpoint. Endpoint is host[:port] without a scheme.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	UseSSL       bool
	Bucket       string
}

// ConfigFromEnv reads the standard AWS variables. AWS_S3_ENDPOINT_URL may carry a
// scheme, which selects TLS.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Endpoint:     defaultEndpoint,
		AccessKey:    env.String("AWS_ACCESS_KEY_ID", ""),
		SecretKey:    env.String("AWS_SECRET_ACCESS_KEY", ""),
		SessionToken: env.String("AWS_SESSION_TOKEN", ""),
		Region:       env.First(defaultRegion, "AWS_DEFAULT_REGION", "AWS_REGION"),
		UseSSL:       true,
		Bucket:       env.String("AWS_BUCKET", ""),
	}
	if raw := strings.TrimSpace(env.String("AWS_S3_ENDPOINT_URL", "")); raw != "" {
		endpoint, useSSL, err := ParseEndpoint(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse AWS_S3_ENDPOINT_URL: %w", err)
		}
		cfg.Endpoint = endpoint
		cfg.UseSSL = useSSL
	}
	return cfg, nil
}

// ParseEndpoint splits an endpoint URL into host[:port] and whether TLS is used.
// A bare host defaults to TLS.
func ParseEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("endpoint is empty")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, err
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
