package dataquality

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDatasourceNotFound    = errors.New("datasource not found")
	ErrDataConnectorNotFound = errors.New("data connector not found")
	ErrDataAssetNotFound     = errors.New("data asset not found")
	ErrSuiteNotFound         = errors.New("expectation suite not found")
)

// ConfigError aggregates data context configuration issues.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid data context config"
	}
	return "invalid data context config: " + strings.Join(e.Issues, "; ")
}

func (e *ConfigError) Addf(format string, args ...any) {
	issue := fmt.Sprintf(format, args...)
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ConfigError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
