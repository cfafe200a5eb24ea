package store

import (
	"context"
	"sort"
	"sync"

	"github.com/skyporthq/skyport/pkg/types"
)

// Memory is an in-process Store used by unit tests and as a stand-in remote
// store. SetErr injects a failure so callers can exercise degraded paths.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]types.Account
	creds    map[string]string
	res      map[string]types.Resource
	recs     map[string]types.Recommendation
	err      error
}

func NewMemory() *Memory {
	return &Memory{
		accounts: map[string]types.Account{},
		creds:    map[string]string{},
		res:      map[string]types.Resource{},
		recs:     map[string]types.Recommendation{},
	}
}

// SetErr makes every subsequent operation fail with err until reset with nil.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Close(ctx context.Context) error  { return nil }
func (m *Memory) Health(ctx context.Context) error { m.mu.RLock(); defer m.mu.RUnlock(); return m.err }

func (m *Memory) CreateAccount(ctx context.Context, a *types.Account, credentialsEnc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[a.ID]; ok {
		return ErrConflict
	}
	// Mirrors the unique name constraint on the remote store.
	for _, existing := range m.accounts {
		if existing.Name == a.Name {
			return ErrConflict
		}
	}
	a.CreatedAt = stamp(a.CreatedAt)
	m.accounts[a.ID] = *a
	m.creds[a.ID] = credentialsEnc
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) GetAccountCredentials(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return "", m.err
	}
	enc, ok := m.creds[id]
	if !ok {
		return "", ErrNotFound
	}
	return enc, nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*types.Account, 0, len(m.accounts))
	for id := range m.accounts {
		a := m.accounts[id]
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateAccount(ctx context.Context, a *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	m.accounts[a.ID] = *a
	return nil
}

func (m *Memory) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	delete(m.creds, id)
	for rid, r := range m.res {
		if r.AccountID == id {
			delete(m.res, rid)
		}
	}
	for rid, r := range m.recs {
		if r.AccountID == id {
			delete(m.recs, rid)
		}
	}
	return nil
}

func (m *Memory) CreateResource(ctx context.Context, r *types.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.res[r.ID]; ok {
		return ErrConflict
	}
	r.CreatedAt = stamp(r.CreatedAt)
	r.UpdatedAt = stamp(r.UpdatedAt)
	m.res[r.ID] = *r
	return nil
}

func (m *Memory) GetResource(ctx context.Context, id string) (*types.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.res[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListResources(ctx context.Context, accountID string) ([]*types.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*types.Resource{}
	for id := range m.res {
		r := m.res[id]
		if accountID == "" || r.AccountID == accountID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateResource(ctx context.Context, r *types.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.res[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = stamp(r.UpdatedAt)
	m.res[r.ID] = *r
	return nil
}

func (m *Memory) DeleteResource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.res[id]; !ok {
		return ErrNotFound
	}
	delete(m.res, id)
	return nil
}

func (m *Memory) UpsertRecommendations(ctx context.Context, accountID string, recs []types.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, rec := range recs {
		rec.AccountID = accountID
		if cur, ok := m.recs[rec.ID]; ok && cur.Status != types.RecommendationPending {
			continue
		}
		m.recs[rec.ID] = rec
	}
	return nil
}

func (m *Memory) GetRecommendation(ctx context.Context, id string) (*types.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) ListRecommendations(ctx context.Context, accountID string) ([]*types.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*types.Recommendation{}
	for id := range m.recs {
		r := m.recs[id]
		if accountID == "" || r.AccountID == accountID {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateRecommendation(ctx context.Context, rec *types.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.recs[rec.ID]; !ok {
		return ErrNotFound
	}
	m.recs[rec.ID] = *rec
	return nil
}
