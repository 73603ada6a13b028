package dataquality

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
)

// BatchRequest selects one data asset through a datasource's data connector.
type BatchRequest struct {
	DatasourceName    string `json:"datasource_name"`
	DataConnectorName string `json:"data_connector_name"`
	DataAssetName     string `json:"data_asset_name"`
}

func (r BatchRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.DatasourceName) == "":
		return errors.New("batch_request.datasource_name is required")
	case strings.TrimSpace(r.DataConnectorName) == "":
		return errors.New("batch_request.data_connector_name is required")
	case strings.TrimSpace(r.DataAssetName) == "":
		return errors.New("batch_request.data_asset_name is required")
	}
	return nil
}

// BatchDefinition identifies the concrete data a batch was loaded from.
type BatchDefinition struct {
	DatasourceName    string            `json:"datasource_name"`
	DataConnectorName string            `json:"data_connector_name"`
	DataAssetName     string            `json:"data_asset_name"`
	BatchIdentifiers  map[string]string `json:"batch_identifiers"`
}

// ID is a stable hex digest of the definition.
func (d BatchDefinition) ID() string {
	h := xxhash.New()
	_, _ = h.WriteString(d.DatasourceName)
	_, _ = h.WriteString("\x00" + d.DataConnectorName)
	_, _ = h.WriteString("\x00" + d.DataAssetName)
	for _, k := range sortedKeys(d.BatchIdentifiers) {
		_, _ = h.WriteString("\x00" + k + "=" + d.BatchIdentifiers[k])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Batch is a table of rows; a nil cell is a missing value.
type Batch struct {
	Definition BatchDefinition
	Spec       map[string]any
	Columns    []string
	Rows       [][]any
}

func (b *Batch) columnIndex(name string) (int, error) {
	for i, col := range b.Columns {
		if col == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q not found in batch (columns: %s)", name, strings.Join(b.Columns, ", "))
}

func (b *Batch) columnValues(name string) ([]any, error) {
	idx, err := b.columnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(b.Rows))
	for i, row := range b.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// readCSV loads a delimited file with a header row. Empty fields become nil.
// Keys ending in .gz are decompressed first.
func readCSV(r io.Reader, key string, separator rune) ([]string, [][]any, error) {
	if strings.HasSuffix(strings.ToLower(key), ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	cr := csv.NewReader(r)
	cr.Comma = separator
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv is empty")
		}
		return nil, nil, fmt.Errorf("csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
	}

	var rows [][]any
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("csv row %d: %w", len(rows)+2, err)
		}
		row := make([]any, len(columns))
		for i := range columns {
			if i < len(record) && record[i] != "" {
				row[i] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func csvSeparator(opts map[string]any) (rune, error) {
	raw, ok := opts["sep"]
	if !ok {
		raw, ok = opts["delimiter"]
	}
	if !ok || raw == nil {
		return ',', nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("sep must be a string")
	}
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("sep must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// toFloat converts numeric cells, including numeric strings from CSV.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case bool:
		return strconv.FormatBool(s)
	case fmt.Stringer:
		return s.String()
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
