// Package source loads object instances for ingestion from external
// files. Loaders produce plain map[string]any objects; deciding their node
// type and walking them against the schema is the mapper's job.
package source

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSON reads object instances from a JSON file holding either a single
// object or an array of objects.
func LoadJSON(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return []map[string]any{single}, nil
}
