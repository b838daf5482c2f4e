package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidSyntax    = errors.New("invalid configuration syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
)

// LoadFile reads imposter creation requests from a JSON or YAML file.
// The format is auto-detected from the extension (.yaml/.yml for YAML,
// otherwise JSON). The file holds either a bare list of creation
// requests or an object with an "imposters" list.
//
// YAML input is converted to JSON before decoding so the legacy-shape
// upgrades implemented in the JSON unmarshallers apply to both formats.
func LoadFile(path string) ([]*CreationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
	}

	return parseJSON(data)
}

func parseJSON(data []byte) ([]*CreationRequest, error) {
	var wrapper struct {
		Imposters []*CreationRequest `json:"imposters"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Imposters != nil {
		return wrapper.Imposters, nil
	}

	var list []*CreationRequest
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	return list, nil
}

// yamlToJSON re-encodes YAML as JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys (yaml.v3 emits map[string]any
// for string keys, but nested any-keyed maps can still appear) into
// map[string]any so the result marshals to JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
