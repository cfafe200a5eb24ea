package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skyporthq/skyport/internal/metrics"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// AggregateRequest asks for one metric averaged across several resources.
type AggregateRequest struct {
	ResourceIDs []string  `json:"resourceIds"`
	Metric      string    `json:"metric"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type aggregateResponse struct {
	Metric   string               `json:"metric"`
	Samples  []types.MetricSample `json:"samples"`
	Degraded bool                 `json:"degraded"`
}

func (s *Server) resourceMetrics(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathID(w, r, "resourceID")
	if !ok {
		return
	}

	hours := 1
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24*30 {
			writeError(w, http.StatusBadRequest, "SP-400", "hours must be a positive integer")
			return
		}
		hours = n
	}
	var names []string
	if v := r.URL.Query().Get("names"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				names = append(names, trimmed)
			}
		}
	}
	now := time.Now().UTC()
	rng := types.TimeRange{Start: now.Add(-time.Duration(hours) * time.Hour), End: now}

	result, err := s.engine.FetchForResource(r.Context(), resourceID, names, rng)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "resource not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "SP-500", err.Error())
		return
	}
	if result.Degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("metrics").Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) aggregateMetrics(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", err.Error())
		return
	}
	if len(req.ResourceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "SP-400", "resourceIds is required")
		return
	}
	if req.Metric == "" {
		writeError(w, http.StatusBadRequest, "SP-400", "metric is required")
		return
	}
	rng := types.TimeRange{Start: req.Start, End: req.End}
	if rng.Start.IsZero() || rng.End.IsZero() {
		now := time.Now().UTC()
		rng = types.TimeRange{Start: now.Add(-time.Hour), End: now}
	} else if !rng.Start.Before(rng.End) {
		writeError(w, http.StatusBadRequest, "SP-400", "start must be before end")
		return
	}

	samples, degraded, err := s.engine.Aggregate(r.Context(), req.ResourceIDs, req.Metric, rng)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "resource not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "SP-500", err.Error())
		return
	}
	if degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("metrics-aggregate").Inc()
	}
	writeJSON(w, http.StatusOK, aggregateResponse{
		Metric:   req.Metric,
		Samples:  samples,
		Degraded: degraded,
	})
}

func (s *Server) catalogProvider(w http.ResponseWriter, r *http.Request) (types.CloudProvider, bool) {
	tag := types.CloudProvider(chi.URLParam(r, "provider"))
	if !tag.Valid() {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return "", false
	}
	return tag, true
}

func (s *Server) catalogResourceTypes(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.catalogProvider(w, r)
	if !ok {
		return
	}
	p, err := s.registry.Get(tag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return
	}
	groups := p.ResourceTypeCatalog(r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, map[string]any{"resourceTypes": groups})
}

func (s *Server) catalogSizes(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.catalogProvider(w, r)
	if !ok {
		return
	}
	resourceType := r.URL.Query().Get("type")
	if resourceType == "" {
		writeError(w, http.StatusBadRequest, "SP-400", "type is required")
		return
	}
	p, err := s.registry.Get(tag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return
	}
	sizes := p.InstanceSizeCatalog(resourceType)
	writeJSON(w, http.StatusOK, map[string]any{"sizes": sizes})
}

func (s *Server) catalogRegions(w http.ResponseWriter, r *http.Request) {
	tag, ok := s.catalogProvider(w, r)
	if !ok {
		return
	}
	p, err := s.registry.Get(tag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"regions": p.RegionCatalog()})
}
