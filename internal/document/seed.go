package document

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Documents []*Document `yaml:"documents"`
}

// LoadSeed reads YAML fixtures from path and upserts them into store,
// returning how many were written.
func LoadSeed(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	docs, err := ParseSeed(data)
	if err != nil {
		return 0, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	for i, doc := range docs {
		if _, err := store.Upsert(ctx, doc); err != nil {
			return i, fmt.Errorf("seeding %q: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

func ParseSeed(data []byte) ([]*Document, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Documents, nil
}
