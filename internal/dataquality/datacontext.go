package dataquality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
	"github.com/animus-labs/gx-hosting/internal/platform/sqldb"
)

type Options struct {
	Logger *slog.Logger
	// SQL is the pool configuration used by the default opener.
	SQL     sqldb.Config
	OpenSQL SQLOpener
	Now     func() time.Time
}

// DataContext holds the datasources and expectations store described by a
// ContextConfig. It is built per invocation and must be closed.
type DataContext struct {
	cfg    ContextConfig
	root   string
	logger *slog.Logger
	now    func() time.Time

	connectors map[string]map[string]dataConnector
	engines    []*sqlEngine
	suites     suiteStore
}

// NewDataContext wires datasources and the expectations store. Relative
// filesystem paths resolve against rootDir; bucket-backed components read
// through store.
func NewDataContext(cfg ContextConfig, rootDir string, store objectstore.Store, opts Options) (*DataContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	open := opts.OpenSQL
	if open == nil {
		poolCfg := opts.SQL
		if poolCfg.PingTimeout == 0 {
			poolCfg = sqldb.DefaultConfig()
		}
		open = func(ctx context.Context, driver string, dsn string) (*sql.DB, error) {
			return sqldb.Open(ctx, poolCfg, driver, dsn)
		}
	}
	if strings.TrimSpace(rootDir) == "" {
		rootDir = "."
	}

	dc := &DataContext{
		cfg:        cfg,
		root:       rootDir,
		logger:     logger,
		now:        now,
		connectors: make(map[string]map[string]dataConnector, len(cfg.Datasources)),
	}

	for _, dsName := range sortedKeys(cfg.Datasources) {
		ds := cfg.Datasources[dsName]
		conns, err := dc.buildConnectors(dsName, ds, store, open)
		if err != nil {
			_ = dc.Close()
			return nil, fmt.Errorf("datasource %q: %w", dsName, err)
		}
		dc.connectors[dsName] = conns
	}

	suites, err := dc.buildSuiteStore(store)
	if err != nil {
		_ = dc.Close()
		return nil, err
	}
	dc.suites = suites
	return dc, nil
}

func (dc *DataContext) buildConnectors(dsName string, ds DatasourceConfig, store objectstore.Store, open SQLOpener) (map[string]dataConnector, error) {
	var engine *sqlEngine
	if ds.ExecutionEngine.ClassName == engineSQL {
		e, err := newSQLEngine(ds.ExecutionEngine, open)
		if err != nil {
			return nil, err
		}
		engine = e
		dc.engines = append(dc.engines, e)
	}

	out := make(map[string]dataConnector, len(ds.DataConnectors))
	for _, name := range sortedKeys(ds.DataConnectors) {
		conn := ds.DataConnectors[name]
		switch conn.ClassName {
		case connectorSQL:
			out[name] = &sqlConnector{datasource: dsName, name: name, engine: engine, includeSchema: conn.IncludeSchemaName}
		case connectorGCS, connectorS3:
			if store == nil {
				return nil, fmt.Errorf("data connector %q needs an object store", name)
			}
			matcher, sep, err := fileConnectorParts(conn)
			if err != nil {
				return nil, fmt.Errorf("data connector %q: %w", name, err)
			}
			oc := &objectConnector{
				datasource: dsName,
				name:       name,
				store:      store,
				prefix:     strings.Trim(conn.Prefix, "/"),
				matcher:    matcher,
				separator:  sep,
			}
			if conn.ClassName == connectorGCS {
				oc.scheme, oc.bucket = "gs", conn.BucketOrName
			} else {
				oc.scheme, oc.bucket = "s3", conn.Bucket
			}
			out[name] = oc
		case connectorFilesystem:
			matcher, sep, err := fileConnectorParts(conn)
			if err != nil {
				return nil, fmt.Errorf("data connector %q: %w", name, err)
			}
			out[name] = &filesystemConnector{
				datasource: dsName,
				name:       name,
				root:       dc.resolvePath(conn.BaseDirectory),
				matcher:    matcher,
				separator:  sep,
			}
		case connectorRuntime:
			out[name] = &runtimeConnector{name: name}
		default:
			return nil, fmt.Errorf("data connector %q: class_name unsupported: %q", name, conn.ClassName)
		}
	}
	return out, nil
}

func fileConnectorParts(conn DataConnectorConfig) (*assetMatcher, rune, error) {
	matcher, err := newAssetMatcher(conn.DefaultRegex)
	if err != nil {
		return nil, 0, err
	}
	var opts map[string]any
	if conn.BatchSpecPassthrough != nil {
		opts = conn.BatchSpecPassthrough.ReaderOptions
	}
	sep, err := csvSeparator(opts)
	if err != nil {
		return nil, 0, err
	}
	return matcher, sep, nil
}

func (dc *DataContext) buildSuiteStore(store objectstore.Store) (suiteStore, error) {
	cfg := dc.cfg.Stores[dc.cfg.ExpectationsStoreName]
	backend := cfg.StoreBackend
	if backend == nil {
		return nil, fmt.Errorf("stores.%s.store_backend is required", dc.cfg.ExpectationsStoreName)
	}
	switch backend.ClassName {
	case backendGCS, backendS3:
		if store == nil {
			return nil, fmt.Errorf("expectations store %q needs an object store", dc.cfg.ExpectationsStoreName)
		}
		return &objectSuiteStore{store: store, bucket: backend.Bucket, prefix: backend.Prefix}, nil
	case backendFilesystem:
		return &filesystemSuiteStore{dir: dc.resolvePath(backend.BaseDirectory)}, nil
	}
	return nil, fmt.Errorf("expectations store backend unsupported: %q", backend.ClassName)
}

func (dc *DataContext) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dc.root, filepath.FromSlash(p))
}

// GetBatch loads the data asset named by req.
func (dc *DataContext) GetBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	conns, ok := dc.connectors[req.DatasourceName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDatasourceNotFound, req.DatasourceName)
	}
	conn, ok := conns[req.DataConnectorName]
	if !ok {
		return nil, fmt.Errorf("%w: %q in datasource %q", ErrDataConnectorNotFound, req.DataConnectorName, req.DatasourceName)
	}
	return conn.getBatch(ctx, req)
}

func (dc *DataContext) GetExpectationSuite(ctx context.Context, name string) (ExpectationSuite, error) {
	return dc.suites.getSuite(ctx, name)
}

// Close releases any database handles opened by SQL datasources.
func (dc *DataContext) Close() error {
	var errs []error
	for _, e := range dc.engines {
		if err := e.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
