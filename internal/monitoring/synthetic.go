package monitoring

import (
	"math"
	"math/rand"
	"time"

	"github.com/skyporthq/skyport/pkg/types"
)

// syntheticSamples is the shape of a fallback series: enough points to keep
// a chart populated without pretending to be high-resolution data.
const syntheticSamples = 24

type threshold struct {
	warning  float64
	critical float64
}

// thresholds are metric-specific and provider-agnostic; they only apply to
// percent-unit series.
var thresholds = map[string]threshold{
	"cpu":    {warning: 70, critical: 80},
	"memory": {warning: 80, critical: 90},
}

// classify derives the series status from its latest sample.
func classify(s types.MetricSeries) types.MetricStatus {
	th, ok := thresholds[s.Name]
	if !ok || s.Unit != "percent" || len(s.Samples) == 0 {
		return types.MetricNormal
	}
	latest := s.Samples[len(s.Samples)-1].Value
	switch {
	case latest > th.critical:
		return types.MetricCritical
	case latest > th.warning:
		return types.MetricWarning
	default:
		return types.MetricNormal
	}
}

type syntheticProfile struct {
	unit      string
	base      float64
	amplitude float64
}

var syntheticProfiles = map[string]syntheticProfile{
	"cpu":     {unit: "percent", base: 38, amplitude: 18},
	"memory":  {unit: "percent", base: 55, amplitude: 12},
	"disk":    {unit: "bytes", base: 2 << 20, amplitude: 1 << 20},
	"network": {unit: "bytes", base: 4 << 20, amplitude: 2 << 20},
}

// synthesizeSeries builds a plausible full-length series for a metric the
// live path could not provide. The Synthetic marker is mandatory: callers
// and tests rely on it to tell fallback data from real samples.
func synthesizeSeries(name string, rng types.TimeRange) types.MetricSeries {
	profile, ok := syntheticProfiles[name]
	if !ok {
		profile = syntheticProfile{unit: "count", base: 10, amplitude: 5}
	}
	start, end := rng.Start, rng.End
	if !end.After(start) {
		end = time.Now().UTC()
		start = end.Add(-1 * time.Hour)
	}
	step := end.Sub(start) / syntheticSamples

	out := types.MetricSeries{
		Name:      name,
		Unit:      profile.unit,
		Synthetic: true,
		Samples:   make([]types.MetricSample, 0, syntheticSamples),
	}
	for i := 0; i < syntheticSamples; i++ {
		wave := math.Sin(float64(i) / 3.5)
		jitter := (rand.Float64() - 0.5) * profile.amplitude / 4
		value := profile.base + wave*profile.amplitude/2 + jitter
		if value < 0 {
			value = 0
		}
		out.Samples = append(out.Samples, types.MetricSample{
			Timestamp: start.Add(time.Duration(i) * step),
			Value:     value,
		})
	}
	return out
}
