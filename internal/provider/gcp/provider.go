// Package gcp implements the Google Cloud provider over the remote dispatch contract.
package gcp

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/pkg/types"
)

// Provider implements the GCP capability set.
type Provider struct {
	rc      *remote.Client
	catalog provider.Catalog
	logger  *zap.Logger
}

// NewProvider builds the GCP provider with its embedded catalog.
func NewProvider(rc *remote.Client, logger *zap.Logger) (*Provider, error) {
	cat, err := provider.LoadCatalog("gcp")
	if err != nil {
		return nil, err
	}
	return &Provider{rc: rc, catalog: cat, logger: logger}, nil
}

func (p *Provider) Name() string              { return "Google Cloud Platform" }
func (p *Provider) Type() types.CloudProvider { return types.ProviderGCP }

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
		"provider":    types.ProviderGCP,
		"credentials": creds,
		"projectId":   creds[credentials.FieldProjectID],
	}
	return p.rc.Call(ctx, "test-connection", req, nil)
}

// costResponse mirrors the BigQuery billing export shape the backend
// queries: one row per usage day with a numeric cost column.
type costResponse struct {
	Rows []struct {
		UsageDate string  `json:"usageDate"`
		Cost      float64 `json:"cost"`
		Currency  string  `json:"currency"`
	} `json:"rows"`
}

func (p *Provider) FetchCostData(ctx context.Context, accountID string, rng types.TimeRange, creds credentials.Bundle) provider.CostResult {
	req := map[string]any{
		"provider":    types.ProviderGCP,
		"credentials": creds,
		"accountId":   accountID,
		"projectId":   creds[credentials.FieldProjectID],
		"startDate":   rng.Start.Format("2006-01-02"),
		"endDate":     rng.End.Format("2006-01-02"),
	}
	var resp costResponse
	if err := p.rc.Call(ctx, "fetch-cost-data", req, &resp); err != nil {
		p.logger.Warn("gcp cost fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.CostResult{Error: err.Error()}
	}

	out := provider.CostResult{DailyCosts: make([]types.DailyCost, 0, len(resp.Rows))}
	for _, row := range resp.Rows {
		date, err := time.Parse("2006-01-02", row.UsageDate)
		if err != nil {
			continue
		}
		out.DailyCosts = append(out.DailyCosts, types.DailyCost{Date: date, Amount: row.Cost})
		out.Total += row.Cost
	}
	sort.Slice(out.DailyCosts, func(i, j int) bool {
		return out.DailyCosts[i].Date.Before(out.DailyCosts[j].Date)
	})
	return out
}

type recommenderResponse struct {
	Recommendations []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		PrimaryImpact struct {
			CostProjection struct {
				Cost struct {
					Units float64 `json:"units"`
					Nanos float64 `json:"nanos"`
				} `json:"cost"`
			} `json:"costProjection"`
		} `json:"primaryImpact"`
		Priority       string `json:"priority"`
		TargetResource string `json:"targetResource"`
	} `json:"recommendations"`
}

func (p *Provider) FetchOptimizations(ctx context.Context, accountID string, creds credentials.Bundle) provider.OptimizationResult {
	req := map[string]any{
		"provider":    types.ProviderGCP,
		"credentials": creds,
		"accountId":   accountID,
		"projectId":   creds[credentials.FieldProjectID],
		"recommender": "google.compute.instance.MachineTypeRecommender",
	}
	var resp recommenderResponse
	if err := p.rc.Call(ctx, "fetch-optimizations", req, &resp); err != nil {
		p.logger.Warn("gcp optimization fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.OptimizationResult{Error: err.Error()}
	}

	now := time.Now().UTC()
	var recs []types.Recommendation
	for _, r := range resp.Recommendations {
		// Cost projections report savings as a negative monthly delta in
		// units+nanos; a positive delta is a cost increase, not a saving.
		cost := r.PrimaryImpact.CostProjection.Cost
		savings := -(cost.Units + cost.Nanos/1e9)
		if savings < 0 {
			savings = 0
		}
		recs = append(recs, types.Recommendation{
			ID:             types.DeterministicID(accountID, shortName(r.TargetResource), shortName(r.Name)),
			AccountID:      accountID,
			Title:          shortName(r.Name),
			Description:    r.Description,
			MonthlySavings: savings,
			Difficulty:     difficultyFromPriority(r.Priority),
			Status:         types.RecommendationPending,
			ResourceID:     shortName(r.TargetResource),
			ResourceType:   "Compute Engine",
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return provider.OptimizationResult{Recommendations: recs}
}

// metricsResponse mirrors the Cloud Monitoring timeSeries shape. CPU
// utilization arrives as a 0..1 ratio.
type metricsResponse struct {
	TimeSeries []struct {
		Metric struct {
			Type string `json:"type"`
		} `json:"metric"`
		Unit   string `json:"unit"`
		Points []struct {
			Interval struct {
				EndTime string `json:"endTime"`
			} `json:"interval"`
			Value struct {
				DoubleValue float64 `json:"doubleValue"`
			} `json:"value"`
		} `json:"points"`
	} `json:"timeSeries"`
}

func (p *Provider) FetchMetrics(ctx context.Context, resourceID, resourceType string, rng types.TimeRange, creds credentials.Bundle) provider.MetricsResult {
	req := map[string]any{
		"provider":    types.ProviderGCP,
		"credentials": creds,
		"projectId":   creds[credentials.FieldProjectID],
		"resourceId":  resourceID,
		"filter":      `resource.type = "gce_instance"`,
		"startTime":   rng.Start.Format(time.RFC3339),
		"endTime":     rng.End.Format(time.RFC3339),
	}
	var resp metricsResponse
	if err := p.rc.Call(ctx, "fetch-metrics", req, &resp); err != nil {
		return provider.MetricsResult{Error: err.Error()}
	}

	out := provider.MetricsResult{}
	for _, ts := range resp.TimeSeries {
		name, unit, scale := normalizeMetric(ts.Metric.Type, ts.Unit)
		series := types.MetricSeries{Name: name, Unit: unit}
		for _, pt := range ts.Points {
			at, err := time.Parse(time.RFC3339, pt.Interval.EndTime)
			if err != nil {
				continue
			}
			series.Samples = append(series.Samples, types.MetricSample{Timestamp: at, Value: pt.Value.DoubleValue * scale})
		}
		// Points arrive newest-first.
		sort.Slice(series.Samples, func(i, j int) bool {
			return series.Samples[i].Timestamp.Before(series.Samples[j].Timestamp)
		})
		out.Metrics = append(out.Metrics, series)
	}
	return out
}

func (p *Provider) Provision(ctx context.Context, accountID, resourceType string, cfg provider.ProvisionConfig, creds credentials.Bundle) provider.ProvisionResult {
	req := map[string]any{
		"provider":     types.ProviderGCP,
		"credentials":  creds,
		"accountId":    accountID,
		"resourceType": resourceType,
		"name":         cfg.Name,
		"zone":         cfg.Region,
		"machineType":  cfg.Size,
		"projectId":    creds[credentials.FieldProjectID],
		"labels":       cfg.Tags,
		"extra":        cfg.Extra,
	}
	var resp struct {
		Name    string         `json:"name"`
		Details map[string]any `json:"details"`
	}
	if err := p.rc.Call(ctx, "provision", req, &resp); err != nil {
		return provider.ProvisionResult{Success: false, Error: err.Error()}
	}
	return provider.ProvisionResult{Success: true, ResourceID: resp.Name, Details: resp.Details}
}

// discoveryResponse mirrors the Compute Engine instance list: zone and
// machineType arrive as full resource URLs.
type discoveryResponse struct {
	Items []struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		MachineType string            `json:"machineType"`
		Zone        string            `json:"zone"`
		Status      string            `json:"status"`
		Labels      map[string]string `json:"labels"`
	} `json:"items"`
}

func (p *Provider) DiscoverResources(ctx context.Context, accountID string, creds credentials.Bundle) provider.DiscoveryResult {
	req := map[string]any{
		"provider":    types.ProviderGCP,
		"credentials": creds,
		"accountId":   accountID,
		"projectId":   creds[credentials.FieldProjectID],
	}
	var resp discoveryResponse
	if err := p.rc.Call(ctx, "discover-resources", req, &resp); err != nil {
		p.logger.Warn("gcp discovery failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.DiscoveryResult{Error: err.Error()}
	}

	out := make([]types.Resource, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, types.Resource{
			AccountID:  accountID,
			ProviderID: item.ID,
			Name:       item.Name,
			Type:       "compute-instance",
			Region:     shortName(item.Zone),
			Status:     statusFromInstance(item.Status),
			Tags:       item.Labels,
			Metadata:   map[string]any{"machineType": shortName(item.MachineType)},
		})
	}
	return provider.DiscoveryResult{Resources: out}
}

func statusFromInstance(status string) types.ResourceStatus {
	switch status {
	case "PROVISIONING", "STAGING":
		return types.ResourceProvisioning
	case "RUNNING":
		return types.ResourceRunning
	case "STOPPING", "SUSPENDING":
		return types.ResourceStopping
	case "TERMINATED", "SUSPENDED":
		return types.ResourceStopped
	default:
		return types.ResourceError
	}
}

func difficultyFromPriority(priority string) types.Difficulty {
	switch priority {
	case "P1":
		return types.DifficultyHard
	case "P2":
		return types.DifficultyMedium
	default:
		return types.DifficultyEasy
	}
}

// shortName trims a fully-qualified GCP resource name to its last segment.
func shortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func normalizeMetric(metricType, unit string) (name, normUnit string, scale float64) {
	switch {
	case strings.HasSuffix(metricType, "cpu/utilization"):
		return "cpu", "percent", 100
	case strings.Contains(metricType, "memory"):
		return "memory", "bytes", 1
	case strings.Contains(metricType, "disk"):
		return "disk", "bytes", 1
	case strings.Contains(metricType, "network"):
		return "network", "bytes", 1
	default:
		if unit == "" {
			unit = "count"
		}
		return metricType, unit, 1
	}
}
