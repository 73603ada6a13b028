package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/gx-hosting/internal/platform/env"
)

// Config points the client at an S3-compatible endpoint. The default targets
// the Cloud Storage XML API; HMAC keys go in AccessKey/SecretKey. Leaving both
// keys empty makes anonymous requests.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("OBJECTSTORE_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("OBJECTSTORE_ENDPOINT", "storage.googleapis.com"),
		AccessKey: env.String("OBJECTSTORE_ACCESS_KEY", ""),
		SecretKey: env.String("OBJECTSTORE_SECRET_KEY", ""),
		Region:    env.String("OBJECTSTORE_REGION", "us-east-1"),
		UseSSL:    useSSL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	hasAccess := strings.TrimSpace(c.AccessKey) != ""
	hasSecret := strings.TrimSpace(c.SecretKey) != ""
	if hasAccess != hasSecret {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}

func (c Config) Anonymous() bool {
	return strings.TrimSpace(c.AccessKey) == "" && strings.TrimSpace(c.SecretKey) == ""
}
