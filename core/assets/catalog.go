// Package assets holds the declared lab asset pool and the capability
// matching policy applied before a lock is granted.
package assets

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	configschema "github.com/wetbench/wetbench/core/infra/schema"
)

const assetsSchemaFile = "schema/assets.schema.json"

//go:embed schema/*.json
var assetSchemaFS embed.FS

// AssetSpec describes one lockable asset and its capability metadata.
type AssetSpec struct {
	Type         string         `yaml:"type"`
	Name         string         `yaml:"name"`
	Capabilities map[string]any `yaml:"capabilities,omitempty"`
}

// Catalog is the fixed pool of assets known to the deployment.
type Catalog struct {
	byKey map[string]AssetSpec
}

type rawCatalog struct {
	Assets []AssetSpec `yaml:"assets"`
}

// ParseCatalog parses catalog data from YAML bytes and validates it against
// the embedded schema.
func ParseCatalog(data []byte) (*Catalog, error) {
	if len(data) == 0 {
		return nil, errors.New("asset catalog is empty")
	}
	if err := validateCatalogSchema(data); err != nil {
		return nil, err
	}
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse asset catalog: %w", err)
	}
	if len(raw.Assets) == 0 {
		return nil, errors.New("asset catalog has no assets")
	}
	byKey := make(map[string]AssetSpec, len(raw.Assets))
	for _, spec := range raw.Assets {
		key := assetKey(spec.Type, spec.Name)
		if _, dup := byKey[key]; dup {
			return nil, fmt.Errorf("duplicate asset %s", key)
		}
		byKey[key] = spec
	}
	return &Catalog{byKey: byKey}, nil
}

// LoadCatalog reads a YAML asset catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("asset catalog path is empty")
	}
	// #nosec G304 -- catalog path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("load asset catalog %s: %w", path, err)
	}
	return cat, nil
}

// Lookup returns the spec for an asset identity, if declared.
func (c *Catalog) Lookup(assetType, assetName string) (AssetSpec, bool) {
	if c == nil {
		return AssetSpec{}, false
	}
	spec, ok := c.byKey[assetKey(assetType, assetName)]
	return spec, ok
}

// Len returns the number of declared assets.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byKey)
}

func validateCatalogSchema(data []byte) error {
	schemaBytes, err := assetSchemaFS.ReadFile(assetsSchemaFile)
	if err != nil {
		return fmt.Errorf("load assets schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse asset catalog: %w", err)
	}
	if err := configschema.ValidateSchema("assets", schemaBytes, payload); err != nil {
		return fmt.Errorf("validate asset catalog: %w", err)
	}
	return nil
}

func assetKey(assetType, assetName string) string {
	return assetType + ":" + assetName
}
