package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/skyporthq/skyport/internal/lifecycle"
	"github.com/skyporthq/skyport/internal/metrics"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// ProvisionRequest asks a provider to create a new resource under an account.
type ProvisionRequest struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Region string            `json:"region,omitempty"`
	Size   string            `json:"size,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Extra  map[string]any    `json:"extra,omitempty"`
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	if _, err := s.reconciler.Get(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "account not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "SP-503", "account store unavailable")
		return
	}
	resources, err := s.store.ListResources(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not list resources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := pathID(w, r, "resourceID")
	if !ok {
		return
	}
	resource, err := s.store.GetResource(r.Context(), resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "resource not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "SP-500", "could not load resource")
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (s *Server) provisionResource(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	var req ProvisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", err.Error())
		return
	}
	if req.Type == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "SP-400", "type and name are required")
		return
	}
	account, p, bundle, ok := s.accountProvider(w, r.Context(), accountID)
	if !ok {
		return
	}

	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "provision").Inc()
	result := p.Provision(r.Context(), accountID, req.Type, provider.ProvisionConfig{
		Name:   req.Name,
		Region: req.Region,
		Size:   req.Size,
		Tags:   req.Tags,
		Extra:  req.Extra,
	}, bundle)
	// Provisioning has no degraded fallback. A failed request is reported
	// as a failure, never papered over with a fake resource.
	if !result.Success {
		writeError(w, http.StatusBadGateway, "SP-502", "provision failed: "+result.Error)
		return
	}

	resource := &types.Resource{
		ID:         types.NewID(),
		AccountID:  accountID,
		ProviderID: result.ResourceID,
		Name:       req.Name,
		Type:       req.Type,
		Region:     req.Region,
		Tags:       req.Tags,
		Metadata:   result.Details,
	}
	if err := s.lifecycle.BeginProvision(r.Context(), resource); err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not record resource")
		return
	}
	writeJSON(w, http.StatusCreated, resource)
}

func (s *Server) resourceAction(action lifecycle.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireRole(w, r, "admin", "ops") {
			return
		}
		resourceID, ok := pathID(w, r, "resourceID")
		if !ok {
			return
		}
		result, err := s.lifecycle.Apply(r.Context(), resourceID, action)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "SP-404", "resource not found")
			case errors.Is(err, lifecycle.ErrInvalidTransition):
				writeError(w, http.StatusConflict, "SP-409", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "SP-500", "could not apply action")
			}
			return
		}
		metrics.LifecycleTransitionsTotal.WithLabelValues(string(action)).Inc()
		if result.Degraded {
			metrics.DegradedFallbacksTotal.WithLabelValues("lifecycle").Inc()
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// parseTimeRange reads start/end query parameters (RFC 3339), defaulting to
// the trailing window of the given span when absent.
func parseTimeRange(r *http.Request, span time.Duration) (types.TimeRange, error) {
	now := time.Now().UTC()
	rng := types.TimeRange{Start: now.Add(-span), End: now}
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return types.TimeRange{}, fmt.Errorf("invalid start: %w", err)
		}
		rng.Start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return types.TimeRange{}, fmt.Errorf("invalid end: %w", err)
		}
		rng.End = t
	}
	if !rng.Start.Before(rng.End) {
		return types.TimeRange{}, errors.New("start must be before end")
	}
	return rng, nil
}
