package dataquality

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/animus-labs/gx-hosting/internal/platform/sqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// SQLOpener opens a database handle for a datasource.
type SQLOpener func(ctx context.Context, driver string, dsn string) (*sql.DB, error)

// sqlEngine opens its connection on first use and keeps it for the lifetime
// of the data context.
type sqlEngine struct {
	driver string
	dsn    string
	open   SQLOpener

	mu sync.Mutex
	db *sql.DB
}

func newSQLEngine(cfg ExecutionEngineConfig, open SQLOpener) (*sqlEngine, error) {
	connStr := strings.TrimSpace(cfg.ConnectionString)
	if connStr == "" {
		built, err := connectionStringFromCredentials(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		connStr = built
	}
	driver, dsn, err := parseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return &sqlEngine{driver: driver, dsn: dsn, open: open}, nil
}

func (e *sqlEngine) handle(ctx context.Context) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return e.db, nil
	}
	db, err := e.open(ctx, e.driver, e.dsn)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

func (e *sqlEngine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// parseConnectionString maps a dialect[+driver]:// URL onto a Go driver name
// and DSN.
func parseConnectionString(connStr string) (string, string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", "", fmt.Errorf("connection_string: %w", err)
	}
	dialect, _, _ := strings.Cut(strings.ToLower(u.Scheme), "+")

	switch dialect {
	case "postgresql", "postgres":
		u.Scheme = "postgres"
		return sqldb.DriverPostgres, u.String(), nil
	case "mysql", "mariadb":
		cfg := mysql.NewConfig()
		if u.User != nil {
			cfg.User = u.User.Username()
			cfg.Passwd, _ = u.User.Password()
		}
		cfg.Net = "tcp"
		host := u.Host
		if u.Port() == "" && host != "" {
			host = net.JoinHostPort(u.Hostname(), "3306")
		}
		cfg.Addr = host
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
		cfg.ParseTime = true
		if q := u.Query(); len(q) > 0 {
			cfg.Params = make(map[string]string, len(q))
			for k, v := range q {
				if len(v) > 0 {
					cfg.Params[k] = v[0]
				}
			}
		}
		return sqldb.DriverMySQL, cfg.FormatDSN(), nil
	case "":
		return "", "", errors.New("connection_string must include a dialect scheme")
	default:
		return "", "", fmt.Errorf("connection_string dialect unsupported: %q", dialect)
	}
}

func connectionStringFromCredentials(creds map[string]any) (string, error) {
	if len(creds) == 0 {
		return "", errors.New("execution_engine requires connection_string or credentials")
	}
	get := func(key string) string {
		if v, ok := creds[key]; ok && v != nil {
			return stringify(v)
		}
		return ""
	}
	drivername := get("drivername")
	if drivername == "" {
		return "", errors.New("credentials.drivername is required")
	}
	u := url.URL{Scheme: drivername, Host: get("host")}
	if port := get("port"); port != "" {
		u.Host = net.JoinHostPort(u.Host, port)
	}
	if user := get("username"); user != "" {
		if pass := get("password"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	if db := get("database"); db != "" {
		u.Path = "/" + db
	}
	if query, ok := creds["query"].(map[string]any); ok {
		q := url.Values{}
		for _, k := range sortedKeys(query) {
			q.Set(k, stringify(query[k]))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func quoteTable(driver string, parts []string) string {
	if driver == sqldb.DriverMySQL {
		quoted := make([]string, len(parts))
		for i, p := range parts {
			quoted[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
		}
		return strings.Join(quoted, ".")
	}
	return pgx.Identifier(parts).Sanitize()
}

type sqlConnector struct {
	datasource    string
	name          string
	engine        *sqlEngine
	includeSchema bool
}

func (c *sqlConnector) getBatch(ctx context.Context, req BatchRequest) (*Batch, error) {
	parts := strings.Split(req.DataAssetName, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: invalid table name %q", ErrDataAssetNotFound, req.DataAssetName)
		}
	}
	if len(parts) > 2 {
		return nil, fmt.Errorf("%w: table name %q has too many parts", ErrDataAssetNotFound, req.DataAssetName)
	}
	if len(parts) == 2 && !c.includeSchema {
		return nil, fmt.Errorf("%w: %q is schema-qualified but include_schema_name is off", ErrDataAssetNotFound, req.DataAssetName)
	}

	db, err := c.engine.handle(ctx)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: %w", c.datasource, err)
	}

	query := "SELECT * FROM " + quoteTable(c.engine.driver, parts)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.DataAssetName, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", req.DataAssetName, err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", req.DataAssetName, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", req.DataAssetName, err)
	}

	spec := map[string]any{"table_name": parts[len(parts)-1], "data_asset_name": req.DataAssetName}
	if len(parts) == 2 {
		spec["schema_name"] = parts[0]
	}
	return &Batch{
		Definition: BatchDefinition{
			DatasourceName:    c.datasource,
			DataConnectorName: c.name,
			DataAssetName:     req.DataAssetName,
			BatchIdentifiers:  map[string]string{},
		},
		Spec:    spec,
		Columns: columns,
		Rows:    out,
	}, nil
}
