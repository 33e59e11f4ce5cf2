package assets

import (
	"errors"
	"fmt"
)

// ErrUnknownAsset is returned when an identity is not in the catalog.
var ErrUnknownAsset = errors.New("asset not in catalog")

// Matcher validates capability requirements against asset metadata. It is a
// pluggable policy: the lock manager treats it as an allow/deny hook and
// never consults it for mutual exclusion itself.
type Matcher interface {
	Match(assetType, assetName string, required map[string]any) error
}

// CatalogMatcher matches requirements against a declared asset catalog.
type CatalogMatcher struct {
	catalog *Catalog
}

// NewCatalogMatcher wraps a catalog as a Matcher.
func NewCatalogMatcher(catalog *Catalog) *CatalogMatcher {
	return &CatalogMatcher{catalog: catalog}
}

// Match returns nil when every required capability is satisfied by the asset.
// Scalar capabilities compare by stringified equality; list-valued
// capabilities match when they contain the required value.
func (m *CatalogMatcher) Match(assetType, assetName string, required map[string]any) error {
	if len(required) == 0 {
		return nil
	}
	spec, ok := m.catalog.Lookup(assetType, assetName)
	if !ok {
		return fmt.Errorf("%w: %s:%s", ErrUnknownAsset, assetType, assetName)
	}
	for key, want := range required {
		have, ok := spec.Capabilities[key]
		if !ok {
			return fmt.Errorf("asset %s:%s lacks capability %q", assetType, assetName, key)
		}
		if !capabilityMatches(have, want) {
			return fmt.Errorf("asset %s:%s capability %q is %v, need %v", assetType, assetName, key, have, want)
		}
	}
	return nil
}

func capabilityMatches(have, want any) bool {
	switch hv := have.(type) {
	case []any:
		for _, item := range hv {
			if scalarEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return scalarEqual(have, want)
	}
}

// scalarEqual compares via string form so YAML ints match JSON floats and
// callers need not care about the decoder's numeric type choice.
func scalarEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
