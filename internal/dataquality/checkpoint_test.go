package dataquality

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/gx-hosting/internal/platform/objectstore/objectstoretest"
)

const taxiSuiteJSON = `{
  "expectation_suite_name": "taxi.warning",
  "expectations": [
    {"expectation_type": "expect_table_row_count_to_be_between", "kwargs": {"min_value": 1, "max_value": 10}},
    {"expectation_type": "expect_column_values_to_not_be_null", "kwargs": {"column": "vendor_id"}},
    {"expectation_type": "expect_column_values_to_be_between", "kwargs": {"column": "fare", "min_value": 0, "max_value": 500}}
  ],
  "meta": {"great_expectations_version": "0.15.50"}
}`

var fixedRunTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestContext(t *testing.T, store *objectstoretest.MemoryStore) *DataContext {
	t.Helper()
	cfg, err := ParseContextConfig([]byte(gcsContextYAML), testLookup)
	if err != nil {
		t.Fatalf("ParseContextConfig() err=%v", err)
	}
	dc, err := NewDataContext(cfg, t.TempDir(), store, Options{Now: func() time.Time { return fixedRunTime }})
	if err != nil {
		t.Fatalf("NewDataContext() err=%v", err)
	}
	t.Cleanup(func() { _ = dc.Close() })
	return dc
}

func taxiCheckpoint(t *testing.T, dc *DataContext, datasource string) *Checkpoint {
	t.Helper()
	cp, err := dc.NewCheckpoint(CheckpointConfig{
		Name: "taxi_taxi.warning",
		Validations: []ValidationConfig{{
			BatchRequest: BatchRequest{
				DatasourceName:    datasource,
				DataConnectorName: DefaultDataConnectorName,
				DataAssetName:     "taxi",
			},
			ExpectationSuiteName: "taxi.warning",
		}},
	})
	if err != nil {
		t.Fatalf("NewCheckpoint() err=%v", err)
	}
	return cp
}

func TestCheckpointRun_GCS(t *testing.T) {
	store := objectstoretest.NewMemoryStore()
	store.PutString("demo-data", "raw/taxi_2023.csv", "vendor_id,fare\n1,-10\n")
	store.PutString("demo-data", "raw/taxi_2024.csv", "vendor_id,fare\n1,12.5\n2,7.25\n1,30\n")
	store.PutString("demo-data", "raw/zones.txt", "ignored")
	store.PutString("demo-ge", "expectations/taxi/warning.json", taxiSuiteJSON)

	dc := newTestContext(t, store)
	result, err := taxiCheckpoint(t, dc, "taxi_gcs").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !result.Success {
		t.Fatalf("success=false: %+v", result)
	}
	if result.RunID.RunName != "20240102T030405.000000Z" || result.RunID.RunTime != "2024-01-02T03:04:05.000000+00:00" {
		t.Fatalf("run_id=%+v", result.RunID)
	}
	if result.CheckpointConfig.ClassName != "SimpleCheckpoint" {
		t.Fatalf("class_name=%q", result.CheckpointConfig.ClassName)
	}
	if len(result.RunResults) != 1 {
		t.Fatalf("run_results=%d, want 1", len(result.RunResults))
	}
	for key, rr := range result.RunResults {
		if !strings.HasPrefix(key, "ValidationResultIdentifier::taxi.warning/20240102T030405.000000Z/20240102T030405.000000Z/") {
			t.Fatalf("key=%q", key)
		}
		def := rr.ValidationResult.Meta.ActiveBatchDefinition
		if def.BatchIdentifiers["year"] != "2024" {
			t.Fatalf("newest file not selected: %+v", def)
		}
		if !strings.HasSuffix(key, def.ID()) {
			t.Fatalf("key %q does not end with batch id %q", key, def.ID())
		}
		if rr.ValidationResult.Meta.BatchSpec["path"] != "gs://demo-data/raw/taxi_2024.csv" {
			t.Fatalf("batch_spec=%v", rr.ValidationResult.Meta.BatchSpec)
		}
		if rr.ValidationResult.Statistics.EvaluatedExpectations != 3 {
			t.Fatalf("statistics=%+v", rr.ValidationResult.Statistics)
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	for _, want := range []string{`"success":true`, `"actions_results":{}`, `"run_name":"20240102T030405.000000Z"`, `"expectation_suite_name":"taxi.warning"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("result json missing %s: %s", want, raw)
		}
	}
}

func TestCheckpointRun_FailingExpectation(t *testing.T) {
	store := objectstoretest.NewMemoryStore()
	store.PutString("demo-data", "raw/taxi_2024.csv", "vendor_id,fare\n1,12.5\n,-3\n")
	store.PutString("demo-ge", "expectations/taxi/warning.json", taxiSuiteJSON)

	dc := newTestContext(t, store)
	result, err := taxiCheckpoint(t, dc, "taxi_gcs").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if result.Success {
		t.Fatalf("success=true, want false")
	}
}

func TestCheckpointRun_ResolutionErrors(t *testing.T) {
	store := objectstoretest.NewMemoryStore()
	store.PutString("demo-ge", "expectations/taxi/warning.json", taxiSuiteJSON)
	dc := newTestContext(t, store)

	_, err := taxiCheckpoint(t, dc, "taxi_gcs").Run(context.Background())
	if !errors.Is(err, ErrDataAssetNotFound) {
		t.Fatalf("err=%v, want ErrDataAssetNotFound", err)
	}

	_, err = taxiCheckpoint(t, dc, "nope").Run(context.Background())
	if !errors.Is(err, ErrDatasourceNotFound) {
		t.Fatalf("err=%v, want ErrDatasourceNotFound", err)
	}

	store.PutString("demo-data", "raw/taxi_2024.csv", "vendor_id,fare\n1,2\n")
	_, err = dc.GetExpectationSuite(context.Background(), "taxi.critical")
	if !errors.Is(err, ErrSuiteNotFound) {
		t.Fatalf("err=%v, want ErrSuiteNotFound", err)
	}
}

func TestNewCheckpoint_Validation(t *testing.T) {
	dc := newTestContext(t, objectstoretest.NewMemoryStore())
	if _, err := dc.NewCheckpoint(CheckpointConfig{Name: "x"}); err == nil {
		t.Fatalf("expected error for checkpoint without validations")
	}
	if _, err := dc.NewCheckpoint(CheckpointConfig{
		Name:      "x",
		ClassName: "Checkpoint",
		Validations: []ValidationConfig{{
			BatchRequest:         BatchRequest{DatasourceName: "a", DataConnectorName: "b", DataAssetName: "c"},
			ExpectationSuiteName: "s",
		}},
	}); err == nil {
		t.Fatalf("expected error for unsupported class_name")
	}
}

func TestCheckpointRun_Filesystem(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "data", "taxi.csv"), "vendor_id;fare\n1;3\n")
	mustWrite(t, filepath.Join(root, "gx", "expectations", "taxi", "warning.json"), taxiSuiteJSON)

	raw := `
config_version: 3
datasources:
  local:
    execution_engine:
      class_name: PandasExecutionEngine
    data_connectors:
      default_inferred_data_connector_name:
        class_name: InferredAssetFilesystemDataConnector
        base_directory: data
        default_regex:
          pattern: '(.*)\.csv'
          group_names: [data_asset_name]
        batch_spec_passthrough:
          reader_options:
            sep: ';'
stores:
  expectations_store:
    class_name: ExpectationsStore
    store_backend:
      class_name: TupleFilesystemStoreBackend
      base_directory: gx/expectations
expectations_store_name: expectations_store
`
	cfg, err := ParseContextConfig([]byte(raw), nil)
	if err != nil {
		t.Fatalf("ParseContextConfig() err=%v", err)
	}
	dc, err := NewDataContext(cfg, root, nil, Options{})
	if err != nil {
		t.Fatalf("NewDataContext() err=%v", err)
	}
	defer dc.Close()

	result, err := taxiCheckpoint(t, dc, "local").Run(context.Background())
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !result.Success {
		t.Fatalf("success=false: %+v", result)
	}
}

func TestNewDataContext_ObjectStoreRequired(t *testing.T) {
	cfg, err := ParseContextConfig([]byte(gcsContextYAML), testLookup)
	if err != nil {
		t.Fatalf("ParseContextConfig() err=%v", err)
	}
	if _, err := NewDataContext(cfg, ".", nil, Options{}); err == nil {
		t.Fatalf("expected error without object store")
	}
}

func TestExpandRunName(t *testing.T) {
	cases := map[string]string{
		"":                    "20240102T030405.000000Z",
		"%Y%m%d-%H%M%S-daily": "20240102-030405-daily",
		"100%% %q":            "100% %q",
	}
	for template, want := range cases {
		if got := expandRunName(template, fixedRunTime); got != want {
			t.Fatalf("expandRunName(%q)=%q, want %q", template, got, want)
		}
	}
}

func mustWrite(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() err=%v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
}
