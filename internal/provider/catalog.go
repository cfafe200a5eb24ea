package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skyporthq/skyport/pkg/catalog"
)

// Catalog is the static, embedded capability data for one provider:
// resource types grouped by category, sizes keyed by resource type, regions.
type Catalog struct {
	ResourceTypes []TypeGroup       `json:"resourceTypes"`
	Sizes         map[string][]Size `json:"sizes"`
	Regions       []Region          `json:"regions"`
}

// LoadCatalog parses the embedded catalog file for a provider tag.
func LoadCatalog(tag string) (Catalog, error) {
	raw, err := catalog.FS.ReadFile(tag + ".json")
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", tag, err)
	}
	var c Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", tag, err)
	}
	return c, nil
}

// FilterTypes returns the groups matching category, or all groups when
// category is empty. Matching is case-insensitive.
func (c Catalog) FilterTypes(category string) []TypeGroup {
	if strings.TrimSpace(category) == "" {
		return c.ResourceTypes
	}
	out := make([]TypeGroup, 0, 1)
	for _, g := range c.ResourceTypes {
		if strings.EqualFold(g.Category, category) {
			out = append(out, g)
		}
	}
	return out
}

// SizesFor returns the size descriptors for a resource type, empty when the
// type has no size catalog.
func (c Catalog) SizesFor(resourceType string) []Size {
	for k, v := range c.Sizes {
		if strings.EqualFold(k, resourceType) {
			return v
		}
	}
	return nil
}
