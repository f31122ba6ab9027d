package capability

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

type catalogFile struct {
	Capabilities []Descriptor `yaml:"capabilities"`
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) ([]Descriptor, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("capability: parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Capabilities))
	for i := range f.Capabilities {
		d := &f.Capabilities[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("capability: duplicate descriptor %q", d.ID)
		}
		seen[d.ID] = true
	}
	return f.Capabilities, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// BuiltinCatalog returns the descriptors embedded in the binary.
func BuiltinCatalog() ([]Descriptor, error) {
	return ParseCatalog(builtinCatalog)
}
