package dataquality

import (
	"os"
	"regexp"
)

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// LookupFunc resolves ${VAR} references inside configuration strings.
type LookupFunc func(name string) (string, bool)

// substituteVariables rewrites every string in a decoded YAML tree, replacing
// ${VAR} and $VAR with values from lookup. Unresolved references are kept.
func substituteVariables(node any, lookup LookupFunc) any {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	switch v := node.(type) {
	case string:
		return variablePattern.ReplaceAllStringFunc(v, func(ref string) string {
			m := variablePattern.FindStringSubmatch(ref)
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if value, ok := lookup(name); ok {
				return value
			}
			return ref
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = substituteVariables(item, lookup)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = substituteVariables(item, lookup)
		}
		return out
	default:
		return node
	}
}
