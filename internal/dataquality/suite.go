package dataquality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
)

type ExpectationSuite struct {
	Name          string                     `json:"expectation_suite_name"`
	Expectations  []ExpectationConfiguration `json:"expectations"`
	Meta          map[string]any             `json:"meta"`
	DataAssetType *string                    `json:"data_asset_type"`
}

type ExpectationConfiguration struct {
	ExpectationType string         `json:"expectation_type"`
	Kwargs          map[string]any `json:"kwargs"`
	Meta            map[string]any `json:"meta"`
}

func parseSuite(raw []byte, name string) (ExpectationSuite, error) {
	var suite ExpectationSuite
	if err := json.Unmarshal(raw, &suite); err != nil {
		return ExpectationSuite{}, fmt.Errorf("decode suite %q: %w", name, err)
	}
	if suite.Name == "" {
		suite.Name = name
	}
	if suite.Name != name {
		return ExpectationSuite{}, fmt.Errorf("suite file for %q declares name %q", name, suite.Name)
	}
	for i, exp := range suite.Expectations {
		if strings.TrimSpace(exp.ExpectationType) == "" {
			return ExpectationSuite{}, fmt.Errorf("suite %q: expectations[%d].expectation_type is required", name, i)
		}
		if exp.Kwargs == nil {
			suite.Expectations[i].Kwargs = map[string]any{}
		}
		if exp.Meta == nil {
			suite.Expectations[i].Meta = map[string]any{}
		}
	}
	if suite.Meta == nil {
		suite.Meta = map[string]any{}
	}
	return suite, nil
}

// suiteKey maps "a.b" to "a/b.json", the tuple-store layout.
func suiteKey(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("expectation suite name is required")
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("invalid expectation suite name %q", name)
		}
	}
	return strings.Join(parts, "/") + ".json", nil
}

type suiteStore interface {
	getSuite(ctx context.Context, name string) (ExpectationSuite, error)
}

type objectSuiteStore struct {
	store  objectstore.Store
	bucket string
	prefix string
}

func (s *objectSuiteStore) getSuite(ctx context.Context, name string) (ExpectationSuite, error) {
	key, err := suiteKey(name)
	if err != nil {
		return ExpectationSuite{}, err
	}
	if prefix := strings.Trim(s.prefix, "/"); prefix != "" {
		key = path.Join(prefix, key)
	}
	body, _, err := s.store.Get(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return ExpectationSuite{}, fmt.Errorf("%w: %q at %s/%s", ErrSuiteNotFound, name, s.bucket, key)
		}
		return ExpectationSuite{}, fmt.Errorf("get suite %q: %w", name, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return ExpectationSuite{}, fmt.Errorf("read suite %q: %w", name, err)
	}
	return parseSuite(raw, name)
}

type filesystemSuiteStore struct {
	dir string
}

func (s *filesystemSuiteStore) getSuite(ctx context.Context, name string) (ExpectationSuite, error) {
	key, err := suiteKey(name)
	if err != nil {
		return ExpectationSuite{}, err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	raw, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ExpectationSuite{}, fmt.Errorf("%w: %q at %s", ErrSuiteNotFound, name, full)
		}
		return ExpectationSuite{}, fmt.Errorf("read suite %q: %w", name, err)
	}
	return parseSuite(raw, name)
}
