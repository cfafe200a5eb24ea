package store

import (
	"context"
	"errors"
	"time"

	"github.com/skyporthq/skyport/pkg/types"
)

// Store defines the durable, remote-authoritative persistence boundary for
// accounts, resources and recommendations. Credential ciphertext is stored
// next to its account but never inside the account payload.
type Store interface {
	Close(ctx context.Context) error
	Health(ctx context.Context) error

	// Accounts
	CreateAccount(ctx context.Context, a *types.Account, credentialsEnc string) error
	GetAccount(ctx context.Context, id string) (*types.Account, error)
	GetAccountCredentials(ctx context.Context, id string) (string, error)
	ListAccounts(ctx context.Context) ([]*types.Account, error)
	UpdateAccount(ctx context.Context, a *types.Account) error
	// DeleteAccount removes the account and everything it owns.
	DeleteAccount(ctx context.Context, id string) error

	// Resources
	CreateResource(ctx context.Context, r *types.Resource) error
	GetResource(ctx context.Context, id string) (*types.Resource, error)
	ListResources(ctx context.Context, accountID string) ([]*types.Resource, error)
	UpdateResource(ctx context.Context, r *types.Resource) error
	DeleteResource(ctx context.Context, id string) error

	// Recommendations
	UpsertRecommendations(ctx context.Context, accountID string, recs []types.Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*types.Recommendation, error)
	ListRecommendations(ctx context.Context, accountID string) ([]*types.Recommendation, error)
	UpdateRecommendation(ctx context.Context, rec *types.Recommendation) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Helper to stamp time fields for idempotent creates
func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
