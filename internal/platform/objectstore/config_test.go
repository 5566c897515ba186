package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	cfg := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "procdash",
		SecretKey:     "secret",
		Region:        "us-east-1",
		BucketExports: "audit-exports",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.Endpoint = "http://localhost:9000"
	if err := bad.Validate(); err == nil {
		t.Fatalf("endpoint with scheme must be rejected")
	}

	bad = cfg
	bad.BucketExports = ""
	if err := bad.Validate(); err == nil {
		t.Fatalf("empty bucket must be rejected")
	}
}
