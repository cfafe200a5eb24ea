// Package monitoring fetches, classifies and aggregates resource metric
// series, degrading to synthetic data when live collection fails.
package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// defaultMetricNames are fetched when the caller does not name any.
var defaultMetricNames = []string{"cpu", "memory", "disk", "network"}

// CredentialSource resolves the owning account and its decrypted credential
// bundle for a resource fetch.
type CredentialSource func(ctx context.Context, accountID string) (*types.Account, credentials.Bundle, error)

// FetchResult carries the series for one resource. Degraded means at least
// one series is synthetic; Error holds the underlying collection failure.
type FetchResult struct {
	Metrics  []types.MetricSeries `json:"metrics"`
	Degraded bool                 `json:"degraded,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Engine is the metrics aggregation engine.
type Engine struct {
	registry *provider.Registry
	store    store.Store
	creds    CredentialSource
	logger   *zap.Logger
}

func NewEngine(reg *provider.Registry, st store.Store, creds CredentialSource, logger *zap.Logger) *Engine {
	return &Engine{registry: reg, store: st, creds: creds, logger: logger}
}

// FetchForResource returns one series per requested metric name. Live
// collection failures never fail the call: affected series are synthesized
// with the Synthetic marker set and the failure surfaces as metadata.
func (e *Engine) FetchForResource(ctx context.Context, resourceID string, names []string, rng types.TimeRange) (FetchResult, error) {
	r, err := e.store.GetResource(ctx, resourceID)
	if err != nil {
		return FetchResult{}, err
	}
	if len(names) == 0 {
		names = defaultMetricNames
	}

	account, bundle, err := e.creds(ctx, r.AccountID)
	if err != nil {
		e.logger.Warn("credentials unreachable, synthesizing metrics",
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return syntheticResult(names, rng, err.Error()), nil
	}
	p, err := e.registry.Get(account.Provider)
	if err != nil {
		// A bad provider tag is a configuration error, not a degraded read.
		return FetchResult{}, err
	}

	fetched := p.FetchMetrics(ctx, providerID(r), r.Type, rng, bundle)
	if fetched.Error != "" {
		e.logger.Warn("live metric fetch failed, synthesizing",
			zap.String("resource_id", resourceID),
			zap.String("provider", string(account.Provider)),
			zap.String("cause", fetched.Error),
		)
		return syntheticResult(names, rng, fetched.Error), nil
	}

	byName := make(map[string]types.MetricSeries, len(fetched.Metrics))
	for _, s := range fetched.Metrics {
		byName[s.Name] = s
	}
	out := FetchResult{Metrics: make([]types.MetricSeries, 0, len(names))}
	for _, name := range names {
		s, ok := byName[name]
		if !ok || len(s.Samples) == 0 {
			// Partial gap: synthesize just the missing series.
			s = synthesizeSeries(name, rng)
			out.Degraded = true
		}
		normalizeSamples(&s)
		s.Status = classify(s)
		out.Metrics = append(out.Metrics, s)
	}
	return out, nil
}

func syntheticResult(names []string, rng types.TimeRange, cause string) FetchResult {
	out := FetchResult{Degraded: true, Error: cause, Metrics: make([]types.MetricSeries, 0, len(names))}
	for _, name := range names {
		s := synthesizeSeries(name, rng)
		s.Status = classify(s)
		out.Metrics = append(out.Metrics, s)
	}
	return out
}

// providerID prefers the provider-native id for dispatch.
func providerID(r *types.Resource) string {
	if r.ProviderID != "" {
		return r.ProviderID
	}
	return r.ID
}

// normalizeSamples enforces the series invariants: chronological order and
// no duplicate timestamps (last write wins).
func normalizeSamples(s *types.MetricSeries) {
	sort.SliceStable(s.Samples, func(i, j int) bool {
		return s.Samples[i].Timestamp.Before(s.Samples[j].Timestamp)
	})
	kept := s.Samples[:0]
	for _, sample := range s.Samples {
		if n := len(kept); n > 0 && kept[n-1].Timestamp.Equal(sample.Timestamp) {
			kept[n-1] = sample
			continue
		}
		kept = append(kept, sample)
	}
	s.Samples = kept
}

// Aggregate fetches the named metric for every resource and emits the
// arithmetic mean per exact timestamp, sorted ascending. A bucket with one
// contributor still emits. The degraded flag is set when any contributing
// series was synthetic.
func (e *Engine) Aggregate(ctx context.Context, resourceIDs []string, metricName string, rng types.TimeRange) ([]types.MetricSample, bool, error) {
	type fetchOut struct {
		res FetchResult
		err error
	}
	outs := make([]fetchOut, len(resourceIDs))
	var wg sync.WaitGroup
	for i, id := range resourceIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			res, err := e.FetchForResource(ctx, id, []string{metricName}, rng)
			outs[i] = fetchOut{res: res, err: err}
		}(i, id)
	}
	wg.Wait()

	type bucket struct {
		at    time.Time
		sum   float64
		count int
	}
	buckets := map[int64]*bucket{}
	degraded := false
	for _, o := range outs {
		if o.err != nil {
			return nil, false, o.err
		}
		degraded = degraded || o.res.Degraded
		for _, s := range o.res.Metrics {
			if s.Name != metricName {
				continue
			}
			for _, sample := range s.Samples {
				key := sample.Timestamp.UnixNano()
				b, ok := buckets[key]
				if !ok {
					b = &bucket{at: sample.Timestamp}
					buckets[key] = b
				}
				b.sum += sample.Value
				b.count++
			}
		}
	}

	out := make([]types.MetricSample, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, types.MetricSample{Timestamp: b.at, Value: b.sum / float64(b.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, degraded, nil
}
