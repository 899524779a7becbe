// Package loader discovers and parses petaltask configuration files.
// It supports YAML and JSON documents and falls back to a built-in
// configuration when a project declares none.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "PETALTASK_CONFIG"

// projectConfigNames are probed in order inside the project directory.
var projectConfigNames = []string{
	"petaltask.yaml",
	"petaltask.yml",
	"petaltask.json",
}

// Discover resolves the config file location with first-match semantics:
// explicit path, then $PETALTASK_CONFIG, then the project directory.
// It returns found=false when no file exists and none was requested.
func Discover(explicitPath, dir string) (path string, found bool, err error) {
	return DiscoverFrom(explicitPath, os.Getenv(EnvConfigPath), dir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, envPath, dir string) (string, bool, error) {
	requested := strings.TrimSpace(explicitPath)
	if requested == "" {
		requested = strings.TrimSpace(envPath)
	}
	if requested != "" {
		if !filepath.IsAbs(requested) && dir != "" {
			requested = filepath.Join(dir, requested)
		}
		info, err := os.Stat(requested)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("config file %q: %w", requested, os.ErrNotExist)
			}
			return "", false, fmt.Errorf("checking config path %q: %w", requested, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", requested)
		}
		return requested, true, nil
	}

	for _, name := range projectConfigNames {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	// yaml.v3 decodes mappings as map[string]any, which is JSON-compatible
	return json.Marshal(raw)
}
