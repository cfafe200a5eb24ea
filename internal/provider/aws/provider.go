// Package aws implements the AWS provider over the remote dispatch contract.
package aws

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/pkg/types"
)

// metricNames maps normalized metric names to CloudWatch metric names.
var metricNames = map[string]string{
	"cpu":     "CPUUtilization",
	"memory":  "MemoryUtilization",
	"disk":    "DiskReadBytes",
	"network": "NetworkIn",
}

// Provider implements the AWS capability set.
type Provider struct {
	rc      *remote.Client
	catalog provider.Catalog
	logger  *zap.Logger
}

// NewProvider builds the AWS provider with its embedded catalog.
func NewProvider(rc *remote.Client, logger *zap.Logger) (*Provider, error) {
	cat, err := provider.LoadCatalog("aws")
	if err != nil {
		return nil, err
	}
	return &Provider{rc: rc, catalog: cat, logger: logger}, nil
}

func (p *Provider) Name() string              { return "Amazon Web Services" }
func (p *Provider) Type() types.CloudProvider { return types.ProviderAWS }

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
		"provider":    types.ProviderAWS,
		"credentials": creds,
		"region":      creds[credentials.FieldRegion],
	}
	return p.rc.Call(ctx, "test-connection", req, nil)
}

// costResponse mirrors the Cost Explorer wire shape the backend forwards:
// amounts arrive as strings.
type costResponse struct {
	ResultsByTime []struct {
		TimePeriod struct {
			Start string `json:"start"`
		} `json:"timePeriod"`
		Total struct {
			UnblendedCost struct {
				Amount string `json:"amount"`
			} `json:"unblendedCost"`
		} `json:"total"`
	} `json:"resultsByTime"`
}

func (p *Provider) FetchCostData(ctx context.Context, accountID string, rng types.TimeRange, creds credentials.Bundle) provider.CostResult {
	req := map[string]any{
		"provider":    types.ProviderAWS,
		"credentials": creds,
		"accountId":   accountID,
		"region":      creds[credentials.FieldRegion],
		"start":       rng.Start.Format("2006-01-02"),
		"end":         rng.End.Format("2006-01-02"),
		"granularity": "DAILY",
		"metrics":     []string{"UnblendedCost"},
	}
	var resp costResponse
	if err := p.rc.Call(ctx, "fetch-cost-data", req, &resp); err != nil {
		p.logger.Warn("aws cost fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.CostResult{Error: err.Error()}
	}

	out := provider.CostResult{DailyCosts: make([]types.DailyCost, 0, len(resp.ResultsByTime))}
	for _, r := range resp.ResultsByTime {
		date, err := time.Parse("2006-01-02", r.TimePeriod.Start)
		if err != nil {
			continue
		}
		amount, _ := strconv.ParseFloat(r.Total.UnblendedCost.Amount, 64)
		out.DailyCosts = append(out.DailyCosts, types.DailyCost{Date: date, Amount: amount})
		out.Total += amount
	}
	return out
}

type rightsizingResponse struct {
	Recommendations []struct {
		ResourceID            string `json:"resourceId"`
		InstanceType          string `json:"instanceType"`
		RecommendedType       string `json:"recommendedType"`
		EstimatedMonthlySaves string `json:"estimatedMonthlySavings"`
	} `json:"rightsizingRecommendations"`
	IdleResources []struct {
		ResourceID            string `json:"resourceId"`
		ResourceType          string `json:"resourceType"`
		EstimatedMonthlySaves string `json:"estimatedMonthlySavings"`
	} `json:"idleResources"`
}

func (p *Provider) FetchOptimizations(ctx context.Context, accountID string, creds credentials.Bundle) provider.OptimizationResult {
	req := map[string]any{
		"provider":    types.ProviderAWS,
		"credentials": creds,
		"accountId":   accountID,
		"service":     "AmazonEC2",
	}
	var resp rightsizingResponse
	if err := p.rc.Call(ctx, "fetch-optimizations", req, &resp); err != nil {
		p.logger.Warn("aws optimization fetch failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.OptimizationResult{Error: err.Error()}
	}

	now := time.Now().UTC()
	var recs []types.Recommendation
	for _, r := range resp.Recommendations {
		savings, _ := strconv.ParseFloat(r.EstimatedMonthlySaves, 64)
		if savings < 0 {
			savings = 0
		}
		recs = append(recs, types.Recommendation{
			ID:             types.DeterministicID(accountID, r.ResourceID, "rightsize"),
			AccountID:      accountID,
			Title:          fmt.Sprintf("Rightsize %s from %s to %s", r.ResourceID, r.InstanceType, r.RecommendedType),
			Description:    "Instance is over-provisioned for its observed utilization.",
			MonthlySavings: savings,
			Difficulty:     types.DifficultyMedium,
			Status:         types.RecommendationPending,
			ResourceID:     r.ResourceID,
			ResourceType:   "EC2",
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	for _, r := range resp.IdleResources {
		savings, _ := strconv.ParseFloat(r.EstimatedMonthlySaves, 64)
		if savings < 0 {
			savings = 0
		}
		recs = append(recs, types.Recommendation{
			ID:             types.DeterministicID(accountID, r.ResourceID, "terminate-idle"),
			AccountID:      accountID,
			Title:          fmt.Sprintf("Terminate idle %s %s", r.ResourceType, r.ResourceID),
			Description:    "No traffic observed over the lookback window.",
			MonthlySavings: savings,
			Difficulty:     types.DifficultyEasy,
			Status:         types.RecommendationPending,
			ResourceID:     r.ResourceID,
			ResourceType:   r.ResourceType,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return provider.OptimizationResult{Recommendations: recs}
}

// metricsResponse mirrors the CloudWatch GetMetricData shape.
type metricsResponse struct {
	MetricDataResults []struct {
		Label      string    `json:"label"`
		Unit       string    `json:"unit"`
		Timestamps []string  `json:"timestamps"`
		Values     []float64 `json:"values"`
	} `json:"metricDataResults"`
}

func (p *Provider) FetchMetrics(ctx context.Context, resourceID, resourceType string, rng types.TimeRange, creds credentials.Bundle) provider.MetricsResult {
	native := make([]string, 0, len(metricNames))
	for _, n := range metricNames {
		native = append(native, n)
	}
	sort.Strings(native)
	req := map[string]any{
		"provider":    types.ProviderAWS,
		"credentials": creds,
		"resourceId":  resourceID,
		"namespace":   namespaceFor(resourceType),
		"metricNames": native,
		"startTime":   rng.Start.Format(time.RFC3339),
		"endTime":     rng.End.Format(time.RFC3339),
		"period":      300,
	}
	var resp metricsResponse
	if err := p.rc.Call(ctx, "fetch-metrics", req, &resp); err != nil {
		return provider.MetricsResult{Error: err.Error()}
	}

	out := provider.MetricsResult{}
	for _, m := range resp.MetricDataResults {
		name, unit := normalizeMetric(m.Label, m.Unit)
		series := types.MetricSeries{Name: name, Unit: unit}
		for i, ts := range m.Timestamps {
			if i >= len(m.Values) {
				break
			}
			at, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				continue
			}
			series.Samples = append(series.Samples, types.MetricSample{Timestamp: at, Value: m.Values[i]})
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
		"provider":     types.ProviderAWS,
		"credentials":  creds,
		"accountId":    accountID,
		"resourceType": resourceType,
		"name":         cfg.Name,
		"region":       cfg.Region,
		"instanceType": cfg.Size,
		"tags":         cfg.Tags,
		"extra":        cfg.Extra,
	}
	var resp struct {
		InstanceID string         `json:"instanceId"`
		Details    map[string]any `json:"details"`
	}
	if err := p.rc.Call(ctx, "provision", req, &resp); err != nil {
		// No safe local fallback for provisioning: report failure loudly.
		return provider.ProvisionResult{Success: false, Error: err.Error()}
	}
	return provider.ProvisionResult{Success: true, ResourceID: resp.InstanceID, Details: resp.Details}
}

// discoveryResponse mirrors the DescribeInstances shape: instances nested
// under reservations, tags as key/value pairs.
type discoveryResponse struct {
	Reservations []struct {
		Instances []struct {
			InstanceID   string `json:"instanceId"`
			InstanceType string `json:"instanceType"`
			State        struct {
				Name string `json:"name"`
			} `json:"state"`
			Placement struct {
				AvailabilityZone string `json:"availabilityZone"`
			} `json:"placement"`
			Tags []struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			} `json:"tags"`
		} `json:"instances"`
	} `json:"reservations"`
}

func (p *Provider) DiscoverResources(ctx context.Context, accountID string, creds credentials.Bundle) provider.DiscoveryResult {
	req := map[string]any{
		"provider":    types.ProviderAWS,
		"credentials": creds,
		"accountId":   accountID,
		"region":      creds[credentials.FieldRegion],
	}
	var resp discoveryResponse
	if err := p.rc.Call(ctx, "discover-resources", req, &resp); err != nil {
		p.logger.Warn("aws discovery failed", zap.String("account_id", accountID), zap.Error(err))
		return provider.DiscoveryResult{Error: err.Error()}
	}

	var out []types.Resource
	for _, res := range resp.Reservations {
		for _, inst := range res.Instances {
			tags := make(map[string]string, len(inst.Tags))
			name := inst.InstanceID
			for _, tag := range inst.Tags {
				tags[tag.Key] = tag.Value
				if tag.Key == "Name" && tag.Value != "" {
					name = tag.Value
				}
			}
			out = append(out, types.Resource{
				AccountID:  accountID,
				ProviderID: inst.InstanceID,
				Name:       name,
				Type:       "ec2",
				Region:     regionFromAZ(inst.Placement.AvailabilityZone),
				Status:     statusFromState(inst.State.Name),
				Tags:       tags,
				Metadata:   map[string]any{"instanceType": inst.InstanceType},
			})
		}
	}
	return provider.DiscoveryResult{Resources: out}
}

// regionFromAZ strips the zone letter: us-east-1a -> us-east-1.
func regionFromAZ(az string) string {
	if az == "" {
		return ""
	}
	last := az[len(az)-1]
	if last >= 'a' && last <= 'z' {
		return az[:len(az)-1]
	}
	return az
}

func statusFromState(state string) types.ResourceStatus {
	switch state {
	case "pending":
		return types.ResourceProvisioning
	case "running":
		return types.ResourceRunning
	case "stopping":
		return types.ResourceStopping
	case "stopped":
		return types.ResourceStopped
	case "shutting-down", "terminated":
		return types.ResourceDeleted
	default:
		return types.ResourceError
	}
}

func namespaceFor(resourceType string) string {
	switch resourceType {
	case "RDS":
		return "AWS/RDS"
	case "Lambda":
		return "AWS/Lambda"
	case "ELB":
		return "AWS/ELB"
	default:
		return "AWS/EC2"
	}
}

func normalizeMetric(label, unit string) (string, string) {
	switch label {
	case "CPUUtilization":
		return "cpu", "percent"
	case "MemoryUtilization":
		return "memory", "percent"
	case "DiskReadBytes", "DiskWriteBytes":
		return "disk", "bytes"
	case "NetworkIn", "NetworkOut":
		return "network", "bytes"
	default:
		if unit == "" {
			unit = "count"
		}
		return label, unit
	}
}
