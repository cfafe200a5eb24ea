package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/lib/httperr"
	"github.com/skyporthq/skyport/internal/logging"
	"github.com/skyporthq/skyport/internal/metrics"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/security"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// ConnectAccountRequest carries the credential bundle exactly once, on the
// connect call. It is never echoed back.
type ConnectAccountRequest struct {
	Name        string              `json:"name"`
	Provider    types.CloudProvider `json:"provider"`
	Credentials credentials.Bundle  `json:"credentials"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

type accountListResponse struct {
	Accounts []*types.Account `json:"accounts"`
	Degraded bool             `json:"degraded"`
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, degraded, err := s.reconciler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "SP-503", "account store unavailable")
		return
	}
	if degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("accounts-list").Inc()
	}
	writeJSON(w, http.StatusOK, accountListResponse{Accounts: accounts, Degraded: degraded})
}

func (s *Server) connectAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	var req ConnectAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "SP-400", "name is required")
		return
	}
	if !req.Provider.Valid() {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return
	}
	if result := credentials.Validate(req.Provider, req.Credentials); !result.Valid {
		httperr.WriteDetails(w, http.StatusUnprocessableEntity, "SP-422", result.Reason, result)
		return
	}

	p, err := s.registry.Get(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", "unsupported provider")
		return
	}

	account := &types.Account{
		ID:        types.NewID(),
		Name:      req.Name,
		Provider:  req.Provider,
		Status:    types.AccountConnected,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.TestConnection(r.Context(), req.Credentials); err != nil {
		account.Status = types.AccountError
		account.ErrorMessage = err.Error()
	} else {
		now := time.Now().UTC()
		account.LastSyncedAt = &now
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(req.Provider), "test-connection").Inc()

	raw, err := json.Marshal(req.Credentials)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not encode credentials")
		return
	}
	enc, err := security.Encrypt(s.encryptionKey, raw, []byte(account.ID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not encrypt credentials")
		return
	}

	degraded, err := s.reconciler.Add(r.Context(), account, enc)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "SP-409", "account name already in use")
			return
		}
		writeError(w, http.StatusInternalServerError, "SP-500", "could not store account")
		return
	}
	if degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("account-connect").Inc()
	}
	s.notify(types.Event{
		Type:      "account.connected",
		AccountID: account.ID,
		Payload:   map[string]any{"provider": account.Provider, "degraded": degraded},
		TS:        time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"account":  account,
		"degraded": degraded,
	})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	account, err := s.reconciler.Get(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "account not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "SP-503", "account store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin") {
		return
	}
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	result := s.reconciler.Remove(r.Context(), accountID)
	if !result.Success {
		writeError(w, http.StatusNotFound, "SP-404", "account not found")
		return
	}
	if result.Degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("account-delete").Inc()
	}
	s.notify(types.Event{
		Type:      "account.deleted",
		AccountID: accountID,
		Payload:   map[string]any{"degraded": result.Degraded},
		TS:        time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) syncAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	result := s.reconciler.Sync(r.Context(), accountID)
	if !result.Success {
		if result.Error == "account not found" {
			writeError(w, http.StatusNotFound, "SP-404", "account not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "SP-503", result.Error)
		return
	}

	// Persist the resources the provider reports for this account. A
	// discovery failure degrades the sync rather than failing it.
	account, p, bundle, ok := s.accountProvider(w, r.Context(), accountID)
	if !ok {
		return
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "discover-resources").Inc()
	disc := p.DiscoverResources(r.Context(), accountID, bundle)
	if disc.Error != "" {
		logging.FromContext(r.Context()).Warn("resource discovery failed",
			zap.String("account_id", accountID), zap.String("error", disc.Error))
		metrics.DegradedFallbacksTotal.WithLabelValues("account-sync").Inc()
		writeJSON(w, http.StatusOK, syncResponse{
			Success:  true,
			Degraded: true,
			Error:    disc.Error,
		})
		return
	}
	created, updated, err := store.MergeDiscovered(r.Context(), s.store, accountID, disc.Resources)
	if err != nil {
		logging.FromContext(r.Context()).Error("persist discovered resources",
			zap.String("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SP-500", "could not persist discovered resources")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Success:            true,
		Degraded:           result.Degraded,
		ResourcesCreated:   created,
		ResourcesRefreshed: updated,
	})
}

type syncResponse struct {
	Success            bool   `json:"success"`
	Degraded           bool   `json:"degraded,omitempty"`
	Error              string `json:"error,omitempty"`
	ResourcesCreated   int    `json:"resourcesCreated"`
	ResourcesRefreshed int    `json:"resourcesRefreshed"`
}

func (s *Server) testAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireRole(w, r, "admin", "ops") {
		return
	}
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	account, p, bundle, ok := s.accountProvider(w, r.Context(), accountID)
	if !ok {
		return
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "test-connection").Inc()
	now := time.Now().UTC()
	if err := p.TestConnection(r.Context(), bundle); err != nil {
		account.Status = types.AccountError
		account.ErrorMessage = err.Error()
		_ = s.reconciler.Update(r.Context(), account)
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	account.Status = types.AccountConnected
	account.ErrorMessage = ""
	account.LastSyncedAt = &now
	_ = s.reconciler.Update(r.Context(), account)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) accountCosts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	rng, err := parseTimeRange(r, 30*24*time.Hour)
	if err != nil {
		writeError(w, http.StatusBadRequest, "SP-400", err.Error())
		return
	}
	account, p, bundle, ok := s.accountProvider(w, r.Context(), accountID)
	if !ok {
		return
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "fetch-cost-data").Inc()
	result := p.FetchCostData(r.Context(), accountID, rng, bundle)
	if result.Error != "" {
		metrics.DegradedFallbacksTotal.WithLabelValues("costs").Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listRecommendations(w http.ResponseWriter, r *http.Request) {
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
	recs, err := s.store.ListRecommendations(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not list recommendations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

func (s *Server) recommendationAction(target types.RecommendationStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requireRole(w, r, "admin", "ops") {
			return
		}
		recID, ok := pathID(w, r, "recID")
		if !ok {
			return
		}
		rec, err := s.store.GetRecommendation(r.Context(), recID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "SP-404", "recommendation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "SP-500", "could not load recommendation")
			return
		}
		if rec.Status != types.RecommendationPending {
			writeError(w, http.StatusConflict, "SP-409", "recommendation already resolved")
			return
		}
		rec.Status = target
		rec.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateRecommendation(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "SP-500", "could not update recommendation")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// accountProvider resolves the account, its provider implementation, and its
// decrypted credential bundle, writing the error response itself on failure.
func (s *Server) accountProvider(w http.ResponseWriter, ctx context.Context, accountID string) (*types.Account, provider.Provider, credentials.Bundle, bool) {
	account, err := s.reconciler.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "SP-404", "account not found")
		} else {
			writeError(w, http.StatusServiceUnavailable, "SP-503", "account store unavailable")
		}
		return nil, nil, nil, false
	}
	p, err := s.registry.Get(account.Provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "provider not registered")
		return nil, nil, nil, false
	}
	bundle, err := s.credentialsFor(ctx, accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SP-500", "could not load credentials")
		return nil, nil, nil, false
	}
	return account, p, bundle, true
}
