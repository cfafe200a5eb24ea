// Package provider defines the capability interface shared by all cloud
// providers and the registry that dispatches on a provider tag.
package provider

import (
	"context"
	"errors"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/pkg/types"
)

// ErrUnsupportedProvider is returned for tags outside {aws, azure, gcp}.
// It distinguishes "not implemented" from "no data".
var ErrUnsupportedProvider = errors.New("unsupported provider")

// Provider is the uniform operation set every cloud implementation exposes.
// Catalog operations are static and perform no I/O; fetch operations report
// failures in the result's Error field so callers can render partial UI
// without unwinding.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Type returns the provider tag.
	Type() types.CloudProvider

	// ResourceTypeCatalog lists resource types, optionally filtered by category.
	ResourceTypeCatalog(category string) []TypeGroup

	// InstanceSizeCatalog lists size descriptors for a resource type.
	InstanceSizeCatalog(resourceType string) []Size

	// RegionCatalog lists the provider's regions.
	RegionCatalog() []Region

	// TestConnection verifies the credential bundle against the provider.
	TestConnection(ctx context.Context, creds credentials.Bundle) error

	// FetchCostData retrieves daily cost data for an account.
	FetchCostData(ctx context.Context, accountID string, rng types.TimeRange, creds credentials.Bundle) CostResult

	// FetchOptimizations retrieves cost-saving recommendations.
	FetchOptimizations(ctx context.Context, accountID string, creds credentials.Bundle) OptimizationResult

	// FetchMetrics retrieves normalized metric series for a resource.
	FetchMetrics(ctx context.Context, resourceID, resourceType string, rng types.TimeRange, creds credentials.Bundle) MetricsResult

	// DiscoverResources lists the resources the provider reports for an
	// account, normalized to the shared resource model.
	DiscoverResources(ctx context.Context, accountID string, creds credentials.Bundle) DiscoveryResult

	// Provision requests a new resource. Provisioning has no safe local
	// fallback, so failures are reported loudly.
	Provision(ctx context.Context, accountID, resourceType string, cfg ProvisionConfig, creds credentials.Bundle) ProvisionResult
}

// TypeGroup is one catalog category with its resource types.
type TypeGroup struct {
	Category string   `json:"category"`
	Types    []string `json:"types"`
}

// Size describes an instance size offering.
type Size struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	VCPUs    int     `json:"vCpus"`
	MemoryGB float64 `json:"memoryGb"`
}

// Region is one provider region.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CostResult carries daily cost data; Error is set instead of failing the
// whole call.
type CostResult struct {
	DailyCosts []types.DailyCost `json:"dailyCosts"`
	Total      float64           `json:"total"`
	Error      string            `json:"error,omitempty"`
}

// OptimizationResult carries recommendations with the same error contract.
type OptimizationResult struct {
	Recommendations []types.Recommendation `json:"recommendations"`
	Error           string                 `json:"error,omitempty"`
}

// MetricsResult carries metric series with the same error contract.
type MetricsResult struct {
	Metrics []types.MetricSeries `json:"metrics"`
	Error   string               `json:"error,omitempty"`
}

// DiscoveryResult carries provider-reported resources with the same error
// contract. Discovered resources have no local id; the store assigns one
// when they are first persisted.
type DiscoveryResult struct {
	Resources []types.Resource `json:"resources"`
	Error     string           `json:"error,omitempty"`
}

// ProvisionConfig is the free-form configuration for a provision request.
type ProvisionConfig struct {
	Name   string            `json:"name"`
	Region string            `json:"region,omitempty"`
	Size   string            `json:"size,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Extra  map[string]any    `json:"extra,omitempty"`
}

// ProvisionResult reports the outcome of a provision request.
type ProvisionResult struct {
	Success    bool           `json:"success"`
	ResourceID string         `json:"resourceId,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Registry holds the three provider implementations and dispatches on the
// provider tag. Adding a provider is a compile-time-checked change here
// rather than a runtime lookup.
type Registry struct {
	aws   Provider
	azure Provider
	gcp   Provider
}

// NewRegistry wires the three implementations.
func NewRegistry(aws, azure, gcp Provider) *Registry {
	return &Registry{aws: aws, azure: azure, gcp: gcp}
}

// Get returns the implementation for the tag or ErrUnsupportedProvider.
func (r *Registry) Get(tag types.CloudProvider) (Provider, error) {
	switch tag {
	case types.ProviderAWS:
		return r.aws, nil
	case types.ProviderAzure:
		return r.azure, nil
	case types.ProviderGCP:
		return r.gcp, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// All returns every registered implementation.
func (r *Registry) All() []Provider {
	return []Provider{r.aws, r.azure, r.gcp}
}
