package dataquality

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
)

type dataConnector interface {
	getBatch(ctx context.Context, req BatchRequest) (*Batch, error)
}

// assetMatcher infers data asset names from file paths using default_regex.
type assetMatcher struct {
	re     *regexp.Regexp
	groups []string
}

func newAssetMatcher(cfg *RegexConfig) (*assetMatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("default_regex is required")
	}
	// Anchored at the start of the path only; trailing text may follow.
	re, err := regexp.Compile("^(?:" + cfg.Pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("default_regex: %w", err)
	}
	if !containsString(cfg.GroupNames, assetGroupName) {
		return nil, fmt.Errorf("default_regex.group_names must include %q", assetGroupName)
	}
	if re.NumSubexp() < len(cfg.GroupNames) {
		return nil, fmt.Errorf("default_regex has %d groups, %d names given", re.NumSubexp(), len(cfg.GroupNames))
	}
	return &assetMatcher{re: re, groups: cfg.GroupNames}, nil
}

// match returns the inferred asset name and the remaining named groups.
func (m *assetMatcher) match(p string) (string, map[string]string, bool) {
	sub := m.re.FindStringSubmatch(p)
	if sub == nil {
		return "", nil, false
	}
	var asset string
	identifiers := make(map[string]string)
	for i, name := range m.groups {
		if name == assetGroupName {
			asset = sub[i+1]
			continue
		}
		identifiers[name] = sub[i+1]
	}
	return asset, identifiers, true
}

type fileCandidate struct {
	key         string
	identifiers map[string]string
}

// selectFile picks the last matching path in key order, the batch the
// validator treats as active when an asset spans several files.
func selectFile(m *assetMatcher, asset string, paths []string, relative func(string) string) (fileCandidate, bool) {
	var (
		best  fileCandidate
		found bool
	)
	for _, p := range paths {
		candidates := []string{relative(p)}
		if candidates[0] != p {
			candidates = append(candidates, p)
		}
		for _, c := range candidates {
			name, ids, ok := m.match(c)
			if !ok || name != asset {
				continue
			}
			if !found || p > best.key {
				best = fileCandidate{key: p, identifiers: ids}
			}
			found = true
			break
		}
	}
	return best, found
}

type objectConnector struct {
	datasource string
	name       string
	scheme     string
	store      objectstore.Store
	bucket     string
	prefix     string
	matcher    *assetMatcher
	separator  rune
}

func (c *objectConnector) getBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	infos, err := c.store.List(ctx, c.bucket, c.prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s://%s/%s: %w", c.scheme, c.bucket, c.prefix, err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Key, "/") {
			continue
		}
		keys = append(keys, info.Key)
	}

	chosen, ok := selectFile(c.matcher, req.DataAssetName, keys, func(key string) string {
		return strings.TrimPrefix(strings.TrimPrefix(key, c.prefix), "/")
	})
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s://%s/%s", ErrDataAssetNotFound, req.DataAssetName, c.scheme, c.bucket, c.prefix)
	}

	body, _, err := c.store.Get(ctx, c.bucket, chosen.key)
	if err != nil {
		return nil, fmt.Errorf("get %s://%s/%s: %w", c.scheme, c.bucket, chosen.key, err)
	}
	defer body.Close()

	columns, rows, err := readCSV(body, chosen.key, c.separator)
	if err != nil {
		return nil, fmt.Errorf("read %s://%s/%s: %w", c.scheme, c.bucket, chosen.key, err)
	}

	return &Batch{
		Definition: BatchDefinition{
			DatasourceName:    c.datasource,
			DataConnectorName: c.name,
			DataAssetName:     req.DataAssetName,
			BatchIdentifiers:  chosen.identifiers,
		},
		Spec: map[string]any{
			"path":          fmt.Sprintf("%s://%s/%s", c.scheme, c.bucket, chosen.key),
			"reader_method": "read_csv",
		},
		Columns: columns,
		Rows:    rows,
	}, nil
}

type filesystemConnector struct {
	datasource string
	name       string
	root       string
	matcher    *assetMatcher
	separator  rune
}

func (c *filesystemConnector) getBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	var paths []string
	err := fs.WalkDir(os.DirFS(c.root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", c.root, err)
	}

	chosen, ok := selectFile(c.matcher, req.DataAssetName, paths, path.Clean)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrDataAssetNotFound, req.DataAssetName, c.root)
	}

	full := filepath.Join(c.root, filepath.FromSlash(chosen.key))
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	defer f.Close()

	columns, rows, err := readCSV(f, chosen.key, c.separator)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", full, err)
	}

	return &Batch{
		Definition: BatchDefinition{
			DatasourceName:    c.datasource,
			DataConnectorName: c.name,
			DataAssetName:     req.DataAssetName,
			BatchIdentifiers:  chosen.identifiers,
		},
		Spec: map[string]any{
			"path":          full,
			"reader_method": "read_csv",
		},
		Columns: columns,
		Rows:    rows,
	}, nil
}

type runtimeConnector struct {
	name string
}

func (c *runtimeConnector) getBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	return nil, fmt.Errorf("data connector %q is a %s and needs in-memory batch data", c.name, connectorRuntime)
}
