package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/internal/credentials"
	"github.com/skyporthq/skyport/internal/metrics"
	"github.com/skyporthq/skyport/internal/provider"
	"github.com/skyporthq/skyport/internal/store"
	"github.com/skyporthq/skyport/pkg/types"
)

// CredentialSource resolves an account and its decrypted credential bundle.
type CredentialSource func(ctx context.Context, accountID string) (*types.Account, credentials.Bundle, error)

// Deps carries everything the built-in jobs touch.
type Deps struct {
	Reconciler *store.Reconciler
	Store      store.Store
	Registry   *provider.Registry
	Creds      CredentialSource
	Logger     *zap.Logger
}

// RegisterBuiltins wires the periodic account sync and recommendation
// refresh. Empty schedules disable the corresponding job.
func RegisterBuiltins(s *Scheduler, syncSchedule, recommendationSchedule string, d Deps) error {
	if syncSchedule != "" {
		if err := s.Register("account-sync", syncSchedule, d.accountSync); err != nil {
			return err
		}
	}
	if recommendationSchedule != "" {
		if err := s.Register("recommendation-refresh", recommendationSchedule, d.recommendationRefresh); err != nil {
			return err
		}
	}
	return nil
}

// accountSync re-tests connectivity for every known account and folds the
// outcome back into both stores.
func (d Deps) accountSync(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SyncJobsTotal.Inc()
		metrics.ReconcileSeconds.Observe(time.Since(start).Seconds())
	}()

	accounts, degraded, err := d.Reconciler.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if degraded {
		metrics.DegradedFallbacksTotal.WithLabelValues("account-sync").Inc()
	}

	for _, a := range accounts {
		d.syncOne(ctx, a)
	}
	return nil
}

func (d Deps) syncOne(ctx context.Context, a *types.Account) {
	account, bundle, err := d.Creds(ctx, a.ID)
	if err != nil {
		d.Logger.Warn("sync skipped, credentials unavailable", zap.String("account_id", a.ID), zap.Error(err))
		return
	}
	p, err := d.Registry.Get(account.Provider)
	if err != nil {
		d.Logger.Warn("sync skipped", zap.String("account_id", a.ID), zap.Error(err))
		return
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "test-connection").Inc()

	now := time.Now().UTC()
	if err := p.TestConnection(ctx, bundle); err != nil {
		account.Status = types.AccountError
		account.ErrorMessage = err.Error()
	} else {
		account.Status = types.AccountConnected
		account.ErrorMessage = ""
		account.LastSyncedAt = &now
	}
	if err := d.Reconciler.Update(ctx, account); err != nil {
		d.Logger.Warn("sync status write failed", zap.String("account_id", a.ID), zap.Error(err))
	}
	if res := d.Reconciler.Sync(ctx, a.ID); !res.Success {
		d.Logger.Warn("reconcile sync failed", zap.String("account_id", a.ID), zap.String("cause", res.Error))
	}
	if account.Status != types.AccountConnected {
		return
	}

	metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "discover-resources").Inc()
	disc := p.DiscoverResources(ctx, a.ID, bundle)
	if disc.Error != "" {
		d.Logger.Warn("resource discovery failed", zap.String("account_id", a.ID), zap.String("cause", disc.Error))
		return
	}
	createdN, updatedN, err := store.MergeDiscovered(ctx, d.Store, a.ID, disc.Resources)
	if err != nil {
		d.Logger.Warn("resource discovery write failed", zap.String("account_id", a.ID), zap.Error(err))
		return
	}
	if createdN > 0 || updatedN > 0 {
		d.Logger.Info("resources discovered",
			zap.String("account_id", a.ID),
			zap.Int("created", createdN),
			zap.Int("updated", updatedN),
		)
	}
}

// recommendationRefresh pulls fresh optimization suggestions per account.
// Terminal recommendations keep their stored state through the upsert.
func (d Deps) recommendationRefresh(ctx context.Context) error {
	accounts, _, err := d.Reconciler.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, a := range accounts {
		account, bundle, err := d.Creds(ctx, a.ID)
		if err != nil {
			continue
		}
		p, err := d.Registry.Get(account.Provider)
		if err != nil {
			continue
		}
		metrics.ProviderRequestsTotal.WithLabelValues(string(account.Provider), "fetch-optimizations").Inc()
		res := p.FetchOptimizations(ctx, account.ID, bundle)
		if res.Error != "" {
			d.Logger.Warn("recommendation fetch failed",
				zap.String("account_id", a.ID),
				zap.String("cause", res.Error),
			)
			continue
		}
		if err := d.Store.UpsertRecommendations(ctx, account.ID, res.Recommendations); err != nil {
			d.Logger.Warn("recommendation upsert failed", zap.String("account_id", a.ID), zap.Error(err))
		}
	}
	return nil
}
