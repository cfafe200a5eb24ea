package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skyporthq/skyport/pkg/types"
)

// MutationResult reports the outcome of a reconciler mutation. Degraded
// means the local cache was mutated but the remote store may diverge.
type MutationResult struct {
	Success  bool   `json:"success"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Reconciler merges the remote-authoritative account store with the
// volatile local cache. Remote records win on conflicting fields; records
// only present locally survive until the remote store learns about them.
type Reconciler struct {
	remote         Store
	cache          *Cache
	logger         *zap.Logger
	removeDeadline time.Duration
}

// NewReconciler wires a remote store and a local cache. removeDeadline
// bounds the remote round-trip attempted before a delete degrades to
// local-only; zero picks a short default.
func NewReconciler(remote Store, cache *Cache, logger *zap.Logger, removeDeadline time.Duration) *Reconciler {
	if removeDeadline <= 0 {
		removeDeadline = 5 * time.Second
	}
	return &Reconciler{remote: remote, cache: cache, logger: logger, removeDeadline: removeDeadline}
}

// List returns the reconciled account set. When the remote store is
// unreachable it falls back entirely to the cache and reports degraded.
func (r *Reconciler) List(ctx context.Context) ([]*types.Account, bool, error) {
	remote, err := r.remote.ListAccounts(ctx)
	if err != nil {
		r.logger.Warn("remote account list failed, serving cache", zap.Error(err))
		cached, cerr := r.cache.ReadAccounts(ctx)
		if cerr != nil {
			return nil, true, cerr
		}
		return cached, true, nil
	}

	cached, err := r.cache.ReadAccounts(ctx)
	if err != nil {
		// A broken cache does not spoil a healthy remote read.
		r.logger.Warn("cache read failed during reconcile", zap.Error(err))
		cached = nil
	}
	merged := merge(remote, cached)
	if err := r.cache.WriteAccounts(ctx, merged); err != nil {
		r.logger.Warn("cache write-back failed", zap.Error(err))
	}
	return merged, false, nil
}

// merge keeps every remote record as-is and appends cached records whose id
// is unknown remotely. The result never contains duplicate ids.
func merge(remote, cached []*types.Account) []*types.Account {
	out := make([]*types.Account, 0, len(remote)+len(cached))
	seen := make(map[string]struct{}, len(remote))
	for _, a := range remote {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	for _, a := range cached {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Get returns one account from the reconciled view.
func (r *Reconciler) Get(ctx context.Context, id string) (*types.Account, error) {
	a, err := r.remote.GetAccount(ctx, id)
	if err == nil {
		return a, nil
	}
	if errors.Is(err, ErrNotFound) {
		// The account may exist only locally.
		return r.cachedAccount(ctx, id)
	}
	r.logger.Warn("remote account get failed, serving cache", zap.String("account_id", id), zap.Error(err))
	return r.cachedAccount(ctx, id)
}

func (r *Reconciler) cachedAccount(ctx context.Context, id string) (*types.Account, error) {
	cached, err := r.cache.ReadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range cached {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// Credentials returns the encrypted credential bundle for an account,
// falling back to locally held ciphertext for accounts the remote store
// does not know yet.
func (r *Reconciler) Credentials(ctx context.Context, id string) (string, error) {
	enc, err := r.remote.GetAccountCredentials(ctx, id)
	if err == nil {
		return enc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		r.logger.Warn("remote credential fetch failed, trying cache", zap.String("account_id", id), zap.Error(err))
	}
	return r.cache.GetCredentials(ctx, id)
}

// Add persists a new account and its encrypted credentials. When the remote
// store is unreachable the account lands in the cache only and degraded is
// reported; the next Sync promotes it.
func (r *Reconciler) Add(ctx context.Context, a *types.Account, credentialsEnc string) (bool, error) {
	err := r.remote.CreateAccount(ctx, a, credentialsEnc)
	if err == nil {
		r.appendToCache(ctx, a)
		return false, nil
	}
	if errors.Is(err, ErrConflict) {
		return false, err
	}
	r.logger.Warn("remote account create failed, caching locally", zap.String("account_id", a.ID), zap.Error(err))
	if cerr := r.cache.PutCredentials(ctx, a.ID, credentialsEnc); cerr != nil {
		return false, cerr
	}
	if cerr := r.appendToCache(ctx, a); cerr != nil {
		return false, cerr
	}
	return true, nil
}

func (r *Reconciler) appendToCache(ctx context.Context, a *types.Account) error {
	cached, err := r.cache.ReadAccounts(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i, c := range cached {
		if c.ID == a.ID {
			cached[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		cached = append(cached, a)
	}
	return r.cache.WriteAccounts(ctx, cached)
}

// Update writes an account's mutable fields (status, error message, last
// sync time) through to both stores. The remote write is authoritative; a
// cache failure is logged, not returned.
func (r *Reconciler) Update(ctx context.Context, a *types.Account) error {
	if err := r.remote.UpdateAccount(ctx, a); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := r.appendToCache(ctx, a); err != nil {
		r.logger.Warn("cache update failed", zap.String("account_id", a.ID), zap.Error(err))
	}
	return nil
}

// Remove deletes an account remote-first. A remote failure still removes
// the cached copy but marks the result degraded so callers know the remote
// store may retain the record.
func (r *Reconciler) Remove(ctx context.Context, id string) MutationResult {
	rctx, cancel := context.WithTimeout(ctx, r.removeDeadline)
	defer cancel()
	err := r.remote.DeleteAccount(rctx, id)

	switch {
	case err == nil:
		r.dropFromCache(ctx, id)
		return MutationResult{Success: true}
	case errors.Is(err, ErrNotFound):
		// Possibly a local-only account.
		if r.dropFromCache(ctx, id) {
			return MutationResult{Success: true}
		}
		return MutationResult{Success: false, Error: "account not found"}
	default:
		r.logger.Warn("remote account delete failed, removing locally", zap.String("account_id", id), zap.Error(err))
		r.dropFromCache(ctx, id)
		return MutationResult{Success: true, Degraded: true, Error: err.Error()}
	}
}

func (r *Reconciler) dropFromCache(ctx context.Context, id string) bool {
	cached, err := r.cache.ReadAccounts(ctx)
	if err != nil {
		r.logger.Warn("cache read failed during remove", zap.Error(err))
		return false
	}
	kept := cached[:0]
	found := false
	for _, a := range cached {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if found {
		if err := r.cache.WriteAccounts(ctx, kept); err != nil {
			r.logger.Warn("cache write failed during remove", zap.Error(err))
		}
	}
	_ = r.cache.DeleteCredentials(ctx, id)
	return found
}

// Sync refreshes one account from the remote store into the cache. A
// local-only account is promoted to the remote store when its credential
// ciphertext is still held locally. Sync is idempotent: with no remote
// change, repeated calls settle on the same merged state.
func (r *Reconciler) Sync(ctx context.Context, id string) MutationResult {
	a, err := r.remote.GetAccount(ctx, id)
	switch {
	case err == nil:
		if cerr := r.appendToCache(ctx, a); cerr != nil {
			return MutationResult{Success: false, Error: cerr.Error()}
		}
		_ = r.cache.DeleteCredentials(ctx, id)
		return MutationResult{Success: true}
	case errors.Is(err, ErrNotFound):
		return r.promote(ctx, id)
	default:
		return MutationResult{Success: false, Degraded: true, Error: err.Error()}
	}
}

// promote pushes a cache-only account into the remote store.
func (r *Reconciler) promote(ctx context.Context, id string) MutationResult {
	local, err := r.cachedAccount(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MutationResult{Success: false, Error: "account not found"}
		}
		return MutationResult{Success: false, Error: err.Error()}
	}
	enc, err := r.cache.GetCredentials(ctx, id)
	if err != nil {
		// Without ciphertext the remote store cannot own the account yet.
		return MutationResult{Success: false, Degraded: true, Error: "credentials unavailable for promotion"}
	}
	if err := r.remote.CreateAccount(ctx, local, enc); err != nil && !errors.Is(err, ErrConflict) {
		return MutationResult{Success: false, Degraded: true, Error: err.Error()}
	}
	_ = r.cache.DeleteCredentials(ctx, id)
	return MutationResult{Success: true}
}
