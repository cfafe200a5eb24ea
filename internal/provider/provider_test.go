package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/pkg/types"
)

type stubProvider struct {
	tag types.CloudProvider
}

func (s stubProvider) Name() string              { return string(s.tag) }
func (s stubProvider) Type() types.CloudProvider { return s.tag }
func (s stubProvider) ResourceTypeCatalog(string) []TypeGroup {
	return nil
}
func (s stubProvider) InstanceSizeCatalog(string) []Size { return nil }
func (s stubProvider) RegionCatalog() []Region           { return nil }
func (s stubProvider) TestConnection(context.Context, credentials.Bundle) error {
	return nil
}
func (s stubProvider) FetchCostData(context.Context, string, types.TimeRange, credentials.Bundle) CostResult {
	return CostResult{}
}
func (s stubProvider) FetchOptimizations(context.Context, string, credentials.Bundle) OptimizationResult {
	return OptimizationResult{}
}
func (s stubProvider) FetchMetrics(context.Context, string, string, types.TimeRange, credentials.Bundle) MetricsResult {
	return MetricsResult{}
}
func (s stubProvider) Provision(context.Context, string, string, ProvisionConfig, credentials.Bundle) ProvisionResult {
	return ProvisionResult{}
}
func (s stubProvider) DiscoverResources(context.Context, string, credentials.Bundle) DiscoveryResult {
	return DiscoveryResult{}
}

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(
		stubProvider{types.ProviderAWS},
		stubProvider{types.ProviderAzure},
		stubProvider{types.ProviderGCP},
	)
	for _, tag := range []types.CloudProvider{types.ProviderAWS, types.ProviderAzure, types.ProviderGCP} {
		p, err := reg.Get(tag)
		if err != nil {
			t.Fatalf("Get(%s): %v", tag, err)
		}
		if p.Type() != tag {
			t.Fatalf("Get(%s) returned provider for %s", tag, p.Type())
		}
	}
	if len(reg.All()) != 3 {
		t.Fatalf("All() returned %d providers", len(reg.All()))
	}
}

func TestRegistryGetUnsupported(t *testing.T) {
	reg := NewRegistry(
		stubProvider{types.ProviderAWS},
		stubProvider{types.ProviderAzure},
		stubProvider{types.ProviderGCP},
	)
	if _, err := reg.Get(types.CloudProvider("oracle")); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	for _, tag := range []string{"aws", "azure", "gcp"} {
		cat, err := LoadCatalog(tag)
		if err != nil {
			t.Fatalf("LoadCatalog(%s): %v", tag, err)
		}
		if len(cat.ResourceTypes) == 0 {
			t.Fatalf("%s catalog has no resource types", tag)
		}
		if len(cat.Regions) == 0 {
			t.Fatalf("%s catalog has no regions", tag)
		}
		if len(cat.Sizes) == 0 {
			t.Fatalf("%s catalog has no sizes", tag)
		}
	}
	if _, err := LoadCatalog("oracle"); err == nil {
		t.Fatal("expected error for unknown catalog")
	}
}

func TestCatalogFilterTypes(t *testing.T) {
	cat, err := LoadCatalog("aws")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	all := cat.FilterTypes("")
	compute := cat.FilterTypes("compute")
	if len(compute) == 0 {
		t.Fatal("no compute types")
	}
	if len(compute) >= len(all) {
		t.Fatalf("filter did not narrow: %d vs %d", len(compute), len(all))
	}
	for _, g := range compute {
		if g.Category != "Compute" {
			t.Fatalf("unexpected category %q", g.Category)
		}
	}
	if got := cat.FilterTypes("no-such-category"); len(got) != 0 {
		t.Fatalf("expected empty result, got %d groups", len(got))
	}
}

func TestCatalogSizesFor(t *testing.T) {
	cat, err := LoadCatalog("aws")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	var anyType string
	for k := range cat.Sizes {
		anyType = k
		break
	}
	if got := cat.SizesFor(anyType); len(got) == 0 {
		t.Fatalf("no sizes for %q", anyType)
	}
	if got := cat.SizesFor("no-such-type"); got != nil {
		t.Fatalf("expected nil for unknown type, got %v", got)
	}
}
