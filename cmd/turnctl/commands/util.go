package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadRequest loads a document from a YAML or JSON file
func loadRequest(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return decodeRequest(data, filepath.Ext(path), v)
}

func decodeRequest(data []byte, ext string, v any) error {
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		// YAML is a superset of JSON for our documents
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse file (tried YAML and JSON): %w", err)
		}
	}
	return nil
}

func requireInputFile() error {
	if inputFile == "" {
		return fmt.Errorf("input file is required, use -f flag")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
