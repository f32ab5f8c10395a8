package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Format is the on-disk encoding of a config file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from the file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// toJSON returns data as JSON so both formats go through the same strict
// decoder.
func toJSON(f Format, data []byte) ([]byte, error) {
	if f != FormatYAML {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	v, err := stringKeys(v, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// stringKeys rewrites YAML maps so every key is a string. A non-string key
// (e.g. `3: daily`) is rejected since no config field is named by a number.
func stringKeys(in any, at string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := stringKeys(v, join(at, k))
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is not a string", orRoot(at), k)
			}
			nv, err := stringKeys(v, join(at, ks))
			if err != nil {
				return nil, err
			}
			m[ks] = nv
		}
		return m, nil
	case []any:
		for i := range x {
			nv, err := stringKeys(x[i], fmt.Sprintf("%s[%d]", orRoot(at), i))
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}

func join(at, k string) string {
	if at == "" {
		return k
	}
	return at + "." + k
}

func orRoot(at string) string {
	if at == "" {
		return "<root>"
	}
	return at
}
