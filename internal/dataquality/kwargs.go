package dataquality

import (
	"fmt"
	"strings"
)

// kwargs is an expectation's keyword arguments as decoded from the suite JSON.
type kwargs map[string]any

func (k kwargs) str(key string) (string, error) {
	v, ok := k[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must be a non-empty string", key)
	}
	return s, nil
}

// optBound returns a numeric or string bound, nil when absent.
func (k kwargs) optBound(key string) (any, error) {
	v, ok := k[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch v.(type) {
	case string, float64, int, int64:
		return v, nil
	}
	return nil, fmt.Errorf("%s must be a number or string", key)
}

func (k kwargs) optNumber(key string) (*float64, error) {
	v, ok := k[key]
	if !ok || v == nil {
		return nil, nil
	}
	if _, isString := v.(string); isString {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}

func (k kwargs) number(key string) (float64, error) {
	f, err := k.optNumber(key)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	return *f, nil
}

func (k kwargs) flag(key string) (bool, error) {
	v, ok := k[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

func (k kwargs) list(key string) ([]any, error) {
	v, ok := k[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%s is required", key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", key)
	}
	return items, nil
}

func (k kwargs) mostly() (float64, error) {
	m, err := k.optNumber("mostly")
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 1, nil
	}
	if *m < 0 || *m > 1 {
		return 0, fmt.Errorf("mostly must be between 0 and 1 (got %v)", *m)
	}
	return *m, nil
}
