package gcp

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

func TestFetchMetricsScalesCPURatio(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-metrics": map[string]any{
			"timeSeries": []map[string]any{
				{
					"metric": map[string]any{"type": "compute.googleapis.com/instance/cpu/utilization"},
					"unit":   "10^2.%",
					"points": []map[string]any{
						{
							"interval": map[string]any{"endTime": "2026-08-01T10:05:00Z"},
							"value":    map[string]any{"doubleValue": 0.41},
						},
						{
							"interval": map[string]any{"endTime": "2026-08-01T10:00:00Z"},
							"value":    map[string]any{"doubleValue": 0.35},
						},
					},
				},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.FetchMetrics(context.Background(), "inst-1", "Compute Engine", types.TimeRange{}, credentials.Bundle{})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.Metrics) != 1 {
		t.Fatalf("expected 1 series, got %d", len(res.Metrics))
	}
	cpu := res.Metrics[0]
	if cpu.Name != "cpu" || cpu.Unit != "percent" {
		t.Fatalf("unexpected series identity: %s/%s", cpu.Name, cpu.Unit)
	}
	// Newest-first points come back sorted ascending, ratio scaled to percent.
	if len(cpu.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(cpu.Samples))
	}
	if math.Abs(cpu.Samples[0].Value-35) > 1e-9 || math.Abs(cpu.Samples[1].Value-41) > 1e-9 {
		t.Fatalf("cpu ratio not scaled to percent: %+v", cpu.Samples)
	}
	if !cpu.Samples[0].Timestamp.Before(cpu.Samples[1].Timestamp) {
		t.Fatalf("samples not sorted ascending: %+v", cpu.Samples)
	}
}

func TestFetchCostDataBillingRows(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-cost-data": map[string]any{
			"rows": []map[string]any{
				{"usageDate": "2026-08-01", "cost": 3.2, "currency": "USD"},
				{"usageDate": "2026-08-02", "cost": 2.8, "currency": "USD"},
			},
		},
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	res := p.FetchCostData(context.Background(), "acct-1", types.TimeRange{}, credentials.Bundle{credentials.FieldProjectID: "proj-1"})
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if len(res.DailyCosts) != 2 || math.Abs(res.Total-6.0) > 1e-9 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchOptimizationsRecommenderShape(t *testing.T) {
	srv := dispatchStub(t, map[string]any{
		"fetch-optimizations": map[string]any{
			"recommendations": []map[string]any{
				{
					"name":        "projects/p/locations/l/recommenders/r/recommendations/rec-1",
					"description": "Change machine type from e2-standard-4 to e2-standard-2",
					"primaryImpact": map[string]any{
						"costProjection": map[string]any{
							"cost": map[string]any{"units": -30.0, "nanos": -500000000.0},
						},
					},
					"priority":       "P2",
					"targetResource": "projects/p/zones/z/instances/worker-1",
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
	if len(res.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(res.Recommendations))
	}
	rec := res.Recommendations[0]
	if math.Abs(rec.MonthlySavings-30.5) > 1e-9 {
		t.Fatalf("savings = %v, want 30.5", rec.MonthlySavings)
	}
	if rec.ResourceID != "worker-1" {
		t.Fatalf("target resource not trimmed: %s", rec.ResourceID)
	}
	if rec.Difficulty != types.DifficultyMedium {
		t.Fatalf("P2 should map to medium, got %s", rec.Difficulty)
	}
}

func TestFetchOptimizationsPositiveDeltaClampedToZero(t *testing.T) {
	// A positive cost projection is a cost increase; it must never surface
	// as a negative saving.
	srv := dispatchStub(t, map[string]any{
		"fetch-optimizations": map[string]any{
			"recommendations": []map[string]any{
				{
					"name":        "projects/p/locations/l/recommenders/r/recommendations/rec-2",
					"description": "Move to a larger machine type",
					"primaryImpact": map[string]any{
						"costProjection": map[string]any{
							"cost": map[string]any{"units": 12.0, "nanos": 0.0},
						},
					},
					"priority":       "P2",
					"targetResource": "projects/p/zones/z/instances/worker-2",
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
	if len(res.Recommendations) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(res.Recommendations))
	}
	if got := res.Recommendations[0].MonthlySavings; got != 0 {
		t.Fatalf("savings = %v, want 0", got)
	}
}

func TestFetchOptimizationsStableIDsAcrossRefreshes(t *testing.T) {
	payload := map[string]any{
		"fetch-optimizations": map[string]any{
			"recommendations": []map[string]any{
				{
					"name":        "projects/p/locations/l/recommenders/r/recommendations/rec-1",
					"description": "Downsize",
					"primaryImpact": map[string]any{
						"costProjection": map[string]any{
							"cost": map[string]any{"units": -10.0, "nanos": 0.0},
						},
					},
					"priority":       "P2",
					"targetResource": "projects/p/zones/z/instances/worker-1",
				},
			},
		},
	}
	srv := dispatchStub(t, payload)
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	first := p.FetchOptimizations(context.Background(), "acct-1", credentials.Bundle{})
	second := p.FetchOptimizations(context.Background(), "acct-1", credentials.Bundle{})
	if first.Error != "" || second.Error != "" {
		t.Fatalf("unexpected errors: %q %q", first.Error, second.Error)
	}
	if first.Recommendations[0].ID != second.Recommendations[0].ID {
		t.Fatalf("same upstream record must keep its id across refreshes: %s vs %s",
			first.Recommendations[0].ID, second.Recommendations[0].ID)
	}
	other := p.FetchOptimizations(context.Background(), "acct-2", credentials.Bundle{})
	if other.Recommendations[0].ID == first.Recommendations[0].ID {
		t.Fatalf("ids must differ across accounts")
	}
}
