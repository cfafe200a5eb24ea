package aws

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/remote"
	"github.com/skyporthq/skyport/pkg/types"
)

func dispatchStub(t *testing.T, data map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := r.URL.Path[len("/api/v1/dispatch/"):]
		payload, ok := data[op]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		raw, _ := json.Marshal(payload)
		_ = json.NewEncoder(w).Encode(remote.Envelope{Success: true, Data: raw})
	}))
}

func newTestProvider(t *testing.T, base string) *Provider {
	t.Helper()
	p, err := NewProvider(remote.New(base, time.Second, 0), zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestFetchCostDataParsesStringAmounts(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-cost-data": map[string]any{
			"resultsByTime": []map[string]any{
				{
					"timePeriod": map[string]any{"start": "2026-08-01"},
					"total":      map[string]any{"unblendedCost": map[string]any{"amount": "12.50"}},
				},
				{
					"timePeriod": map[string]any{"start": "2026-08-02"},
					"total":      map[string]any{"unblendedCost": map[string]any{"amount": "7.25"}},
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	rng := types.TimeRange{Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)}
	res := p.FetchCostData(context.Background(), "acct-1", rng, credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.DailyCosts) != 2 {
		t.Fatalf("expected 2 daily costs, got %d", len(res.DailyCosts))
	}
	if math.Abs(res.Total-19.75) > 1e-9 {
		t.Fatalf("total = %v, want 19.75", res.Total)
	}
	if res.DailyCosts[0].Date.Day() != 1 || res.DailyCosts[0].Amount != 12.5 {
		t.Fatalf("unexpected first day: %+v", res.DailyCosts[0])
	}
}

func TestFetchCostDataBackendDown(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:1")
	res := p.FetchCostData(context.Background(), "acct-1", types.TimeRange{}, credentials.Bundle{})
	if res.Error == "" {
		t.Fatal("expected error string on unreachable backend")
	}
	if len(res.DailyCosts) != 0 {
		t.Fatalf("expected no data, got %d entries", len(res.DailyCosts))
	}
}

func TestFetchMetricsNormalizesNames(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-metrics": map[string]any{
			"metricDataResults": []map[string]any{
				{
					"label":      "CPUUtilization",
					"unit":       "Percent",
					"timestamps": []string{"2026-08-01T10:05:00Z", "2026-08-01T10:00:00Z"},
					"values":     []float64{55.0, 42.0},
				},
				{
					"label":      "NetworkIn",
					"unit":       "Bytes",
					"timestamps": []string{"2026-08-01T10:00:00Z"},
					"values":     []float64{1024},
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.FetchMetrics(context.Background(), "i-123", "EC2", types.TimeRange{}, credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.Metrics) != 2 {
		t.Fatalf("expected 2 series, got %d", len(res.Metrics))
	}
	cpu := res.Metrics[0]
	if cpu.Name != "cpu" || cpu.Unit != "percent" {
		t.Fatalf("unexpected series identity: %s/%s", cpu.Name, cpu.Unit)
	}
	if len(cpu.Samples) != 2 || !cpu.Samples[0].Timestamp.Before(cpu.Samples[1].Timestamp) {
		t.Fatalf("samples not sorted ascending: %+v", cpu.Samples)
	}
	if cpu.Synthetic {
		t.Fatal("real series must not be marked synthetic")
	}
	if res.Metrics[1].Name != "network" || res.Metrics[1].Unit != "bytes" {
		t.Fatalf("unexpected second series: %+v", res.Metrics[1])
	}
}

func TestFetchOptimizationsMapsRecommendations(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-optimizations": map[string]any{
			"rightsizingRecommendations": []map[string]any{
				{
					"resourceId":              "i-abc",
					"instanceType":            "m5.2xlarge",
					"recommendedType":         "m5.xlarge",
					"estimatedMonthlySavings": "84.00",
				},
			},
			"idleResources": []map[string]any{
				{
					"resourceId":              "vol-123",
					"resourceType":            "EBS",
					"estimatedMonthlySavings": "12.00",
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.FetchOptimizations(context.Background(), "acct-1", credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.Recommendations) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(res.Recommendations))
	}
	first := res.Recommendations[0]
	if first.MonthlySavings != 84 || first.Status != types.RecommendationPending {
		t.Fatalf("unexpected rightsizing rec: %+v", first)
	}
	if res.Recommendations[1].Difficulty != types.DifficultyEasy {
		t.Fatalf("idle resource should be easy, got %s", res.Recommendations[1].Difficulty)
	}
}

func TestProvision(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"provision": map[string]any{"instanceId": "i-new", "details": map[string]any{"az": "us-east-1a"}},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.Provision(context.Background(), "acct-1", "EC2", provider.ProvisionConfig{Name: "web-1", Region: "us-east-1", Size: "t3.micro"}, credentials.Bundle{})
	if !res.Success || res.ResourceID != "i-new" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTestConnection(t *testing.T) {
	srv := dispatchStub(t, map[string]any{"test-connection": map[string]any{}})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if err := p.TestConnection(context.Background(), credentials.Bundle{credentials.FieldAccessKeyID: "AKIA", credentials.FieldSecretAccessKey: "s"}); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestFetchOptimizationsNegativeSavingsClamped(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-optimizations": map[string]any{
			"rightsizingRecommendations": []map[string]any{
				{
					"resourceId":              "i-abc",
					"instanceType":            "m5.large",
					"recommendedType":         "m5.xlarge",
					"estimatedMonthlySavings": "-5.00",
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.FetchOptimizations(context.Background(), "acct-1", credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if got := res.Recommendations[0].MonthlySavings; got != 0 {
		t.Fatalf("savings = %v, want 0", got)
	}
}

func TestDiscoverResourcesParsesReservations(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"discover-resources": map[string]any{
			"reservations": []map[string]any{
				{
					"instances": []map[string]any{
						{
							"instanceId":   "i-abc",
							"instanceType": "m5.large",
							"state":        map[string]any{"name": "running"},
							"placement":    map[string]any{"availabilityZone": "us-east-1b"},
							"tags": []map[string]any{
								{"key": "Name", "value": "web-1"},
								{"key": "env", "value": "prod"},
							},
						},
						{
							"instanceId": "i-def",
							"state":      map[string]any{"name": "stopped"},
							"placement":  map[string]any{"availabilityZone": "us-east-1a"},
						},
					},
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.DiscoverResources(context.Background(), "acct-1", credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(res.Resources))
	}
	first := res.Resources[0]
	if first.ProviderID != "i-abc" || first.Name != "web-1" || first.Region != "us-east-1" {
		t.Fatalf("unexpected first resource: %+v", first)
	}
	if first.Status != types.ResourceRunning || first.Tags["env"] != "prod" {
		t.Fatalf("unexpected first resource state: %+v", first)
	}
	// no Name tag falls back to the instance id
	second := res.Resources[1]
	if second.Name != "i-def" || second.Status != types.ResourceStopped {
		t.Fatalf("unexpected second resource: %+v", second)
	}
}

func TestDiscoverResourcesUnreachableBackend(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:1")
	res := p.DiscoverResources(context.Background(), "acct-1", credentials.Bundle{})
	if res.Error == "" {
		t.Fatalf("expected error from unreachable backend")
	}
}
