package dataquality

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDataConnectorName is the inferred-asset connector every checkpoint
// run by the trigger uses.
const DefaultDataConnectorName = "default_inferred_data_connector_name"

const (
	engineSQL    = "SqlAlchemyExecutionEngine"
	enginePandas = "PandasExecutionEngine"

	connectorSQL        = "InferredAssetSqlDataConnector"
	connectorGCS        = "InferredAssetGCSDataConnector"
	connectorS3         = "InferredAssetS3DataConnector"
	connectorFilesystem = "InferredAssetFilesystemDataConnector"
	connectorRuntime    = "RuntimeDataConnector"

	backendGCS        = "TupleGCSStoreBackend"
	backendS3         = "TupleS3StoreBackend"
	backendFilesystem = "TupleFilesystemStoreBackend"

	storeExpectations        = "ExpectationsStore"
	storeValidations         = "ValidationsStore"
	storeEvaluationParameter = "EvaluationParameterStore"
	storeCheckpoint          = "CheckpointStore"
	storeProfiler            = "ProfilerStore"

	assetGroupName = "data_asset_name"
)

// ContextConfig is the project configuration a DataContext is built from.
// Unknown keys are rejected at decode time.
type ContextConfig struct {
	ConfigVersion                float64                       `yaml:"config_version"`
	Datasources                  map[string]DatasourceConfig   `yaml:"datasources"`
	Stores                       map[string]StoreConfig        `yaml:"stores"`
	ExpectationsStoreName        string                        `yaml:"expectations_store_name"`
	ValidationsStoreName         string                        `yaml:"validations_store_name,omitempty"`
	EvaluationParameterStoreName string                        `yaml:"evaluation_parameter_store_name,omitempty"`
	CheckpointStoreName          string                        `yaml:"checkpoint_store_name,omitempty"`
	ProfilerStoreName            string                        `yaml:"profiler_store_name,omitempty"`
	DataDocsSites                map[string]DataDocsSiteConfig `yaml:"data_docs_sites,omitempty"`
	AnonymousUsageStatistics     *UsageStatisticsConfig        `yaml:"anonymous_usage_statistics,omitempty"`
	PluginsDirectory             *string                       `yaml:"plugins_directory,omitempty"`
	ConfigVariablesFilePath      *string                       `yaml:"config_variables_file_path,omitempty"`
	IncludeRenderedContent       map[string]any                `yaml:"include_rendered_content,omitempty"`
	Notebooks                    map[string]any                `yaml:"notebooks,omitempty"`
	Concurrency                  map[string]any                `yaml:"concurrency,omitempty"`
	ProgressBars                 map[string]any                `yaml:"progress_bars,omitempty"`
}

type DatasourceConfig struct {
	Name            string                         `yaml:"name,omitempty"`
	ClassName       string                         `yaml:"class_name"`
	ModuleName      string                         `yaml:"module_name,omitempty"`
	ExecutionEngine ExecutionEngineConfig          `yaml:"execution_engine"`
	DataConnectors  map[string]DataConnectorConfig `yaml:"data_connectors"`
}

type ExecutionEngineConfig struct {
	ClassName        string         `yaml:"class_name"`
	ModuleName       string         `yaml:"module_name,omitempty"`
	ConnectionString string         `yaml:"connection_string,omitempty"`
	Credentials      map[string]any `yaml:"credentials,omitempty"`
}

type DataConnectorConfig struct {
	Name                 string                `yaml:"name,omitempty"`
	ClassName            string                `yaml:"class_name"`
	ModuleName           string                `yaml:"module_name,omitempty"`
	BucketOrName         string                `yaml:"bucket_or_name,omitempty"`
	Bucket               string                `yaml:"bucket,omitempty"`
	Prefix               string                `yaml:"prefix,omitempty"`
	BaseDirectory        string                `yaml:"base_directory,omitempty"`
	DefaultRegex         *RegexConfig          `yaml:"default_regex,omitempty"`
	IncludeSchemaName    bool                  `yaml:"include_schema_name,omitempty"`
	BatchSpecPassthrough *BatchSpecPassthrough `yaml:"batch_spec_passthrough,omitempty"`
	BatchIdentifiers     []string              `yaml:"batch_identifiers,omitempty"`
}

type RegexConfig struct {
	Pattern    string   `yaml:"pattern"`
	GroupNames []string `yaml:"group_names"`
}

type BatchSpecPassthrough struct {
	ReaderMethod  string         `yaml:"reader_method,omitempty"`
	ReaderOptions map[string]any `yaml:"reader_options,omitempty"`
}

type StoreConfig struct {
	ClassName    string              `yaml:"class_name"`
	ModuleName   string              `yaml:"module_name,omitempty"`
	StoreBackend *StoreBackendConfig `yaml:"store_backend,omitempty"`
}

type StoreBackendConfig struct {
	ClassName              string `yaml:"class_name"`
	ModuleName             string `yaml:"module_name,omitempty"`
	Bucket                 string `yaml:"bucket,omitempty"`
	Project                string `yaml:"project,omitempty"`
	Prefix                 string `yaml:"prefix,omitempty"`
	BaseDirectory          string `yaml:"base_directory,omitempty"`
	SuppressStoreBackendID bool   `yaml:"suppress_store_backend_id,omitempty"`
}

type DataDocsSiteConfig struct {
	ClassName        string             `yaml:"class_name"`
	ModuleName       string             `yaml:"module_name,omitempty"`
	ShowHowToButtons *bool              `yaml:"show_how_to_buttons,omitempty"`
	StoreBackend     StoreBackendConfig `yaml:"store_backend"`
	SiteIndexBuilder map[string]any     `yaml:"site_index_builder,omitempty"`
}

type UsageStatisticsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DataContextID      string `yaml:"data_context_id,omitempty"`
	UsageStatisticsURL string `yaml:"usage_statistics_url,omitempty"`
}

// ParseContextConfig decodes a YAML document. ${VAR} references are resolved
// through lookup (the process environment when nil).
func ParseContextConfig(raw []byte, lookup LookupFunc) (ContextConfig, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return ContextConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return ContextConfigFromMap(tree, lookup)
}

// ContextConfigFromMap builds a ContextConfig from an already parsed mapping.
func ContextConfigFromMap(tree map[string]any, lookup LookupFunc) (ContextConfig, error) {
	if len(tree) == 0 {
		return ContextConfig{}, &ConfigError{Issues: []string{"config is empty"}}
	}
	resolved, _ := substituteVariables(tree, lookup).(map[string]any)

	raw, err := yaml.Marshal(resolved)
	if err != nil {
		return ContextConfig{}, fmt.Errorf("encode config: %w", err)
	}

	var cfg ContextConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ContextConfig{}, decodeConfigError(err)
	}
	if err := cfg.Validate(); err != nil {
		return ContextConfig{}, err
	}
	return cfg, nil
}

func decodeConfigError(err error) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &ConfigError{Issues: append([]string(nil), typeErr.Errors...)}
	}
	return &ConfigError{Issues: []string{err.Error()}}
}

func (c ContextConfig) Validate() error {
	problems := &ConfigError{}

	if c.ConfigVersion < 3 {
		problems.Addf("config_version must be >= 3 (got %v)", c.ConfigVersion)
	}

	if len(c.Datasources) == 0 {
		problems.Addf("datasources must be non-empty")
	}
	for _, name := range sortedKeys(c.Datasources) {
		validateDatasource(problems, name, c.Datasources[name])
	}

	if len(c.Stores) == 0 {
		problems.Addf("stores must be non-empty")
	}
	for _, name := range sortedKeys(c.Stores) {
		validateStore(problems, name, c.Stores[name])
	}

	if strings.TrimSpace(c.ExpectationsStoreName) == "" {
		problems.Addf("expectations_store_name is required")
	} else {
		requireStore(problems, c.Stores, "expectations_store_name", c.ExpectationsStoreName, storeExpectations)
		if store, ok := c.Stores[c.ExpectationsStoreName]; ok && store.StoreBackend == nil {
			problems.Addf("stores.%s.store_backend is required", c.ExpectationsStoreName)
		}
	}
	requireStore(problems, c.Stores, "validations_store_name", c.ValidationsStoreName, storeValidations)
	requireStore(problems, c.Stores, "evaluation_parameter_store_name", c.EvaluationParameterStoreName, storeEvaluationParameter)
	requireStore(problems, c.Stores, "checkpoint_store_name", c.CheckpointStoreName, storeCheckpoint)
	requireStore(problems, c.Stores, "profiler_store_name", c.ProfilerStoreName, storeProfiler)

	for _, name := range sortedKeys(c.DataDocsSites) {
		site := c.DataDocsSites[name]
		if strings.TrimSpace(site.ClassName) == "" {
			problems.Addf("data_docs_sites.%s.class_name is required", name)
		}
		validateStoreBackend(problems, "data_docs_sites."+name+".store_backend", site.StoreBackend)
	}

	return problems.OrNil()
}

func validateDatasource(problems *ConfigError, name string, ds DatasourceConfig) {
	path := "datasources." + name
	if ds.ClassName != "" && ds.ClassName != "Datasource" {
		problems.Addf("%s.class_name unsupported: %q", path, ds.ClassName)
	}

	engine := ds.ExecutionEngine.ClassName
	switch engine {
	case engineSQL:
		if strings.TrimSpace(ds.ExecutionEngine.ConnectionString) == "" && len(ds.ExecutionEngine.Credentials) == 0 {
			problems.Addf("%s.execution_engine requires connection_string or credentials", path)
		}
	case enginePandas:
	case "":
		problems.Addf("%s.execution_engine.class_name is required", path)
	default:
		problems.Addf("%s.execution_engine.class_name unsupported: %q", path, engine)
	}

	if len(ds.DataConnectors) == 0 {
		problems.Addf("%s.data_connectors must be non-empty", path)
	}
	for _, connName := range sortedKeys(ds.DataConnectors) {
		conn := ds.DataConnectors[connName]
		connPath := path + ".data_connectors." + connName
		switch conn.ClassName {
		case connectorSQL:
			if engine != engineSQL {
				problems.Addf("%s requires execution_engine %s", connPath, engineSQL)
			}
		case connectorGCS:
			if strings.TrimSpace(conn.BucketOrName) == "" {
				problems.Addf("%s.bucket_or_name is required", connPath)
			}
			validateFileConnector(problems, connPath, engine, conn)
		case connectorS3:
			if strings.TrimSpace(conn.Bucket) == "" {
				problems.Addf("%s.bucket is required", connPath)
			}
			validateFileConnector(problems, connPath, engine, conn)
		case connectorFilesystem:
			if strings.TrimSpace(conn.BaseDirectory) == "" {
				problems.Addf("%s.base_directory is required", connPath)
			}
			validateFileConnector(problems, connPath, engine, conn)
		case connectorRuntime:
			if len(conn.BatchIdentifiers) == 0 {
				problems.Addf("%s.batch_identifiers must be non-empty", connPath)
			}
		case "":
			problems.Addf("%s.class_name is required", connPath)
		default:
			problems.Addf("%s.class_name unsupported: %q", connPath, conn.ClassName)
		}
	}
}

func validateFileConnector(problems *ConfigError, path string, engine string, conn DataConnectorConfig) {
	if engine != enginePandas {
		problems.Addf("%s requires execution_engine %s", path, enginePandas)
	}
	if conn.DefaultRegex == nil {
		problems.Addf("%s.default_regex is required", path)
	} else {
		if _, err := regexp.Compile(conn.DefaultRegex.Pattern); err != nil {
			problems.Addf("%s.default_regex.pattern invalid: %v", path, err)
		}
		if !containsString(conn.DefaultRegex.GroupNames, assetGroupName) {
			problems.Addf("%s.default_regex.group_names must include %q", path, assetGroupName)
		}
	}
	if p := conn.BatchSpecPassthrough; p != nil {
		if p.ReaderMethod != "" && p.ReaderMethod != "read_csv" {
			problems.Addf("%s.batch_spec_passthrough.reader_method unsupported: %q", path, p.ReaderMethod)
		}
		if _, err := csvSeparator(p.ReaderOptions); err != nil {
			problems.Addf("%s.batch_spec_passthrough.reader_options: %v", path, err)
		}
	}
}

func validateStore(problems *ConfigError, name string, store StoreConfig) {
	path := "stores." + name
	switch store.ClassName {
	case storeExpectations, storeValidations, storeEvaluationParameter, storeCheckpoint, storeProfiler:
	case "":
		problems.Addf("%s.class_name is required", path)
	default:
		problems.Addf("%s.class_name unsupported: %q", path, store.ClassName)
	}
	if store.StoreBackend != nil {
		validateStoreBackend(problems, path+".store_backend", *store.StoreBackend)
	}
}

func validateStoreBackend(problems *ConfigError, path string, backend StoreBackendConfig) {
	switch backend.ClassName {
	case backendGCS, backendS3:
		if strings.TrimSpace(backend.Bucket) == "" {
			problems.Addf("%s.bucket is required", path)
		}
	case backendFilesystem:
		if strings.TrimSpace(backend.BaseDirectory) == "" {
			problems.Addf("%s.base_directory is required", path)
		}
	case "":
		problems.Addf("%s.class_name is required", path)
	default:
		problems.Addf("%s.class_name unsupported: %q", path, backend.ClassName)
	}
}

func requireStore(problems *ConfigError, stores map[string]StoreConfig, field string, name string, className string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	store, ok := stores[name]
	if !ok {
		problems.Addf("%s references unknown store %q", field, name)
		return
	}
	if store.ClassName != className {
		problems.Addf("%s store %q must be a %s (got %q)", field, name, className, store.ClassName)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(in []string, value string) bool {
	for _, item := range in {
		if item == value {
			return true
		}
	}
	return false
}
