package mapping

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	json "github.com/goccy/go-json"
)

// LoadDir reads every *.json file in dir as a Mapping. Mappings are
// returned sorted by id for deterministic Runner scheduling order.
func LoadDir(dir string) ([]Mapping, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mappings directory %s: %w", dir, err)
	}

	var mappings []Mapping
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
		}
		var m Mapping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid mapping file %s: %w", path, err)
		}
		mappings = append(mappings, m)
	}

	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ID < mappings[j].ID })
	return mappings, nil
}
