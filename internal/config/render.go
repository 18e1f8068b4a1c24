package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const secretMask = "********"

// Render serialises cfg in the given format using the same keys and
// duration strings as the config file. The shared secret is masked.
func Render(cfg *Config, format string) ([]byte, error) {
	flat := settings(cfg)
	if s, _ := flat["gateway.shared_secret"].(string); s != "" {
		flat["gateway.shared_secret"] = secretMask
	}
	tree := nest(flat)

	switch strings.ToLower(format) {
	case "", FormatJSON:
		return json.MarshalIndent(tree, "", "  ")
	case FormatYAML, "yml":
		return yaml.Marshal(tree)
	default:
		return nil, fmt.Errorf("unknown format %q (must be json or yaml)", format)
	}
}

func nest(flat map[string]interface{}) map[string]interface{} {
	tree := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := tree
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return tree
}
