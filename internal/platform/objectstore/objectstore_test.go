package objectstore

import (
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:  "localhost:9000",
		AccessKey: "a",
		SecretKey: "b",
		Region:    "us-east-1",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.AccessKey = " "
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing access key")
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		endpoint string
		ssl      bool
		wantErr  bool
	}{
		{raw: "http://localhost:9000", endpoint: "localhost:9000", ssl: false},
		{raw: "https://s3.eu-west-1.amazonaws.com/", endpoint: "s3.eu-west-1.amazonaws.com", ssl: true},
		{raw: "minio.internal:9000", endpoint: "minio.internal:9000", ssl: true},
		{raw: "ftp://host", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		endpoint, ssl, err := ParseEndpoint(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseEndpoint(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseEndpoint(%q) err=%v", tc.raw, err)
		}
		if endpoint != tc.endpoint || ssl != tc.ssl {
			t.Fatalf("ParseEndpoint(%q)=(%q,%v), want (%q,%v)", tc.raw, endpoint, ssl, tc.endpoint, tc.ssl)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_SESSION_TOKEN", "token")
	t.Setenv("AWS_DEFAULT_REGION", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_BUCKET", "fixtures")
	t.Setenv("AWS_S3_ENDPOINT_URL", "http://127.0.0.1:9000")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Endpoint != "127.0.0.1:9000" || cfg.UseSSL {
		t.Fatalf("endpoint=%q ssl=%v", cfg.Endpoint, cfg.UseSSL)
	}
	if cfg.Region != "us-east-1" {
		t.Fatalf("region=%q, want us-east-1", cfg.Region)
	}
	if cfg.Bucket != "fixtures" || cfg.SessionToken != "token" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestBucketLookup(t *testing.T) {
	cases := map[string]minio.BucketLookupType{
		"s3.amazonaws.com":               minio.BucketLookupAuto,
		"s3.eu-west-1.amazonaws.com:443": minio.BucketLookupAuto,
		"localhost:9000":                 minio.BucketLookupPath,
		"minio.internal.example.org":     minio.BucketLookupPath,
		"notamazonaws.com":               minio.BucketLookupPath,
	}
	for endpoint, want := range cases {
		if got := bucketLookup(endpoint); got != want {
			t.Fatalf("bucketLookup(%q)=%v, want %v", endpoint, got, want)
		}
	}
}
