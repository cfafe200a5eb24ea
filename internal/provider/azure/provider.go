// Package azure implements the Azure provider over the remote dispatch contract.
package azure

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/pkg/types"
)

// Provider implements the Azure capability set.
type Provider struct {
	rc      *remote.Client
	catalog provider.Catalog
	logger  *zap.Logger
}

// NewProvider builds the Azure provider with its embedded catalog.
func NewProvider(rc *remote.Client, logger *zap.Logger) (*Provider, error) {
	cat, err := provider.LoadCatalog("azure")
	if err != nil {
		return nil, err
	}
	return &Provider{rc: rc, catalog: cat, logger: logger}, nil
}

func (p *Provider) Name() string              { return "Microsoft Azure" }
func (p *Provider) Type() types.CloudProvider { return types.ProviderAzure }

func (p *Provider) ResourceTypeCatalog(category string) []provider.TypeGroup {
	return p.catalog.FilterTypes(category)
}

func (p *Provider) InstanceSizeCatalog(resourceType string) []provider.Size {
	return p.catalog.SizesFor(resourceType)
}

func (p *Provider) RegionCatalog() []provider.Region {
	return p.catalog.Regions
}

func (p *Provider) TestConnection(ctx context.Context, creds credentials.Bundle) error {
	req := map[string]any{
		"provider":       types.ProviderAzure,
		"credentials":    creds,
		"tenantId":       creds[credentials.FieldTenantID],
		"subscriptionId": creds[credentials.FieldSubscriptionID],
	}
	return p.rc.Call(ctx, "test-connection", req, nil)
}

// costResponse mirrors the Cost Management query shape: rows of
// [cost, yyyymmdd, currency] under properties.
type costResponse struct {
	Properties struct {
		Rows [][]any `json:"rows"`
	} `json:"properties"`
}

func (p *Provider) FetchCostData(ctx context.Context, accountID string, rng types.TimeRange, creds credentials.Bundle) provider.CostResult {
	req := map[string]any{
		"provider":       types.ProviderAzure,
		"credentials":    creds,
		"accountId":      accountID,
		"subscriptionId": creds[credentials.FieldSubscriptionID],
		"timeframe":      "Custom",
		"from":           rng.Start.Format("2006-01-02"),
		"to":             rng.End.Format("2006-01-02"),
		"granularity":    "Daily",
	}
	var resp costResponse
	if err := p.rc.Call(ctx, "fetch-cost-data", req, &resp); err != nil {
		p.logger.Warn("azure cost fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.CostResult{Error: err.Error()}
	}

	out := provider.CostResult{DailyCosts: make([]types.DailyCost, 0, len(resp.Properties.Rows))}
	for _, row := range resp.Properties.Rows {
		if len(row) < 2 {
			continue
		}
		amount, ok := row[0].(float64)
		if !ok {
			continue
		}
		// Dates come back as a numeric yyyymmdd column.
		dayNum, ok := row[1].(float64)
		if !ok {
			continue
		}
		date, err := time.Parse("20060102", fmt.Sprintf("%08.0f", dayNum))
		if err != nil {
			continue
		}
		out.DailyCosts = append(out.DailyCosts, types.DailyCost{Date: date, Amount: amount})
		out.Total += amount
	}
	sort.Slice(out.DailyCosts, func(i, j int) bool {
		return out.DailyCosts[i].Date.Before(out.DailyCosts[j].Date)
	})
	return out
}

type advisorResponse struct {
	Value []struct {
		ID         string `json:"id"`
		Properties struct {
			Category         string `json:"category"`
			Impact           string `json:"impact"`
			ShortDescription struct {
				Problem  string `json:"problem"`
				Solution string `json:"solution"`
			} `json:"shortDescription"`
			ExtendedProperties struct {
				SavingsAmount float64 `json:"annualSavingsAmount"`
			} `json:"extendedProperties"`
			ImpactedValue string `json:"impactedValue"`
			ImpactedField string `json:"impactedField"`
		} `json:"properties"`
	} `json:"value"`
}

func (p *Provider) FetchOptimizations(ctx context.Context, accountID string, creds credentials.Bundle) provider.OptimizationResult {
	req := map[string]any{
		"provider":       types.ProviderAzure,
		"credentials":    creds,
		"accountId":      accountID,
		"subscriptionId": creds[credentials.FieldSubscriptionID],
		"category":       "Cost",
	}
	var resp advisorResponse
	if err := p.rc.Call(ctx, "fetch-optimizations", req, &resp); err != nil {
		p.logger.Warn("azure optimization fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.OptimizationResult{Error: err.Error()}
	}

	now := time.Now().UTC()
	var recs []types.Recommendation
	for _, v := range resp.Value {
		savings := v.Properties.ExtendedProperties.SavingsAmount / 12
		if savings < 0 {
			savings = 0
		}
		recs = append(recs, types.Recommendation{
			ID:             types.DeterministicID(accountID, v.Properties.ImpactedValue, v.Properties.ShortDescription.Problem),
			AccountID:      accountID,
			Title:          v.Properties.ShortDescription.Problem,
			Description:    v.Properties.ShortDescription.Solution,
			MonthlySavings: savings,
			Difficulty:     difficultyFromImpact(v.Properties.Impact),
			Status:         types.RecommendationPending,
			ResourceID:     v.Properties.ImpactedValue,
			ResourceType:   v.Properties.ImpactedField,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return provider.OptimizationResult{Recommendations: recs}
}

// metricsResponse mirrors the Azure Monitor metrics shape:
// value[].timeseries[].data[].
type metricsResponse struct {
	Value []struct {
		Name struct {
			Value string `json:"value"`
		} `json:"name"`
		Unit       string `json:"unit"`
		Timeseries []struct {
			Data []struct {
				TimeStamp string   `json:"timeStamp"`
				Average   *float64 `json:"average"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"value"`
}

func (p *Provider) FetchMetrics(ctx context.Context, resourceID, resourceType string, rng types.TimeRange, creds credentials.Bundle) provider.MetricsResult {
	req := map[string]any{
		"provider":    types.ProviderAzure,
		"credentials": creds,
		"resourceId":  resourceID,
		"metricnames": "Percentage CPU,Available Memory Bytes,Disk Read Bytes,Network In Total",
		"timespan":    rng.Start.Format(time.RFC3339) + "/" + rng.End.Format(time.RFC3339),
		"interval":    "PT5M",
		"aggregation": "Average",
	}
	var resp metricsResponse
	if err := p.rc.Call(ctx, "fetch-metrics", req, &resp); err != nil {
		return provider.MetricsResult{Error: err.Error()}
	}

	out := provider.MetricsResult{}
	for _, v := range resp.Value {
		name, unit := normalizeMetric(v.Name.Value, v.Unit)
		series := types.MetricSeries{Name: name, Unit: unit}
		for _, ts := range v.Timeseries {
			for _, d := range ts.Data {
				if d.Average == nil {
					continue
				}
				at, err := time.Parse(time.RFC3339, d.TimeStamp)
				if err != nil {
					continue
				}
				series.Samples = append(series.Samples, types.MetricSample{Timestamp: at, Value: *d.Average})
			}
		}
		sort.Slice(series.Samples, func(i, j int) bool {
			return series.Samples[i].Timestamp.Before(series.Samples[j].Timestamp)
		})
		out.Metrics = append(out.Metrics, series)
	}
	return out
}

func (p *Provider) Provision(ctx context.Context, accountID, resourceType string, cfg provider.ProvisionConfig, creds credentials.Bundle) provider.ProvisionResult {
	req := map[string]any{
		"provider":       types.ProviderAzure,
		"credentials":    creds,
		"accountId":      accountID,
		"resourceType":   resourceType,
		"name":           cfg.Name,
		"location":       cfg.Region,
		"vmSize":         cfg.Size,
		"subscriptionId": creds[credentials.FieldSubscriptionID],
		"tags":           cfg.Tags,
		"extra":          cfg.Extra,
	}
	var resp struct {
		ResourceID string         `json:"resourceId"`
		Details    map[string]any `json:"details"`
	}
	if err := p.rc.Call(ctx, "provision", req, &resp); err != nil {
		return provider.ProvisionResult{Success: false, Error: err.Error()}
	}
	return provider.ProvisionResult{Success: true, ResourceID: resp.ResourceID, Details: resp.Details}
}

// discoveryResponse mirrors the ARM resource list shape: flat value array
// with slash-delimited resource ids and types.
type discoveryResponse struct {
	Value []struct {
		ID         string            `json:"id"`
		Name       string            `json:"name"`
		Type       string            `json:"type"`
		Location   string            `json:"location"`
		Tags       map[string]string `json:"tags"`
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
			PowerState        string `json:"powerState"`
		} `json:"properties"`
	} `json:"value"`
}

func (p *Provider) DiscoverResources(ctx context.Context, accountID string, creds credentials.Bundle) provider.DiscoveryResult {
	req := map[string]any{
		"provider":       types.ProviderAzure,
		"credentials":    creds,
		"accountId":      accountID,
		"subscriptionId": creds[credentials.FieldSubscriptionID],
	}
	var resp discoveryResponse
	if err := p.rc.Call(ctx, "discover-resources", req, &resp); err != nil {
		p.logger.Warn("azure discovery failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.DiscoveryResult{Error: err.Error()}
	}

	out := make([]types.Resource, 0, len(resp.Value))
	for _, v := range resp.Value {
		out = append(out, types.Resource{
			AccountID:  accountID,
			ProviderID: v.ID,
			Name:       v.Name,
			Type:       shortType(v.Type),
			Region:     v.Location,
			Status:     statusFromStates(v.Properties.ProvisioningState, v.Properties.PowerState),
			Tags:       v.Tags,
		})
	}
	return provider.DiscoveryResult{Resources: out}
}

// shortType keeps the trailing segment of an ARM type like
// Microsoft.Compute/virtualMachines.
func shortType(t string) string {
	if i := strings.LastIndex(t, "/"); i >= 0 {
		return t[i+1:]
	}
	return t
}

func statusFromStates(provisioning, power string) types.ResourceStatus {
	switch power {
	case "PowerState/running":
		return types.ResourceRunning
	case "PowerState/stopped", "PowerState/deallocated":
		return types.ResourceStopped
	case "PowerState/starting":
		return types.ResourceProvisioning
	case "PowerState/stopping", "PowerState/deallocating":
		return types.ResourceStopping
	}
	switch provisioning {
	case "Succeeded":
		return types.ResourceRunning
	case "Creating", "Updating":
		return types.ResourceProvisioning
	case "Deleting":
		return types.ResourceDeleted
	default:
		return types.ResourceError
	}
}

func difficultyFromImpact(impact string) types.Difficulty {
	switch impact {
	case "High":
		return types.DifficultyHard
	case "Medium":
		return types.DifficultyMedium
	default:
		return types.DifficultyEasy
	}
}

func normalizeMetric(name, unit string) (string, string) {
	switch name {
	case "Percentage CPU":
		return "cpu", "percent"
	case "Available Memory Bytes":
		return "memory", "bytes"
	case "Disk Read Bytes", "Disk Write Bytes":
		return "disk", "bytes"
	case "Network In Total", "Network Out Total":
		return "network", "bytes"
	default:
		if unit == "" {
			unit = "count"
		}
		return name, unit
	}
}
