package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/skyporthq/skyport/pkg/types"
)

type postgresStore struct {
	db *sql.DB
}

// PoolConfig bounds the database connection pool. Zero values fall back to
// defaults suitable for a single API instance.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = time.Hour
	}
	return c
}

// NewPostgresStore creates a Store backed by PostgreSQL.
func NewPostgresStore(dsn string, pool PoolConfig) (*postgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pool = pool.withDefaults()
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	st := &postgresStore{db: db}
	if err := st.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (p *postgresStore) init(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (id TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	for _, m := range migrations {
		applied, err := p.isApplied(ctx, m.ID)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *postgresStore) Close(ctx context.Context) error {
	return p.db.Close()
}

func (p *postgresStore) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func marshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalPayload(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

func handleSQLError(err error) error {
	if err == nil {
		return nil
	}
	// pgx driver returns plain errors; string matching keeps deps small.
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	if containsAny(msg, "unique constraint", "duplicate key") {
		return ErrConflict
	}
	return err
}

func containsAny(msg string, tokens ...string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

type migration struct {
	ID  string
	SQL string
}

var migrations = []migration{
	{
		ID: "0001_init",
		SQL: `
CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	provider TEXT NOT NULL,
	name TEXT UNIQUE NOT NULL,
	payload JSONB NOT NULL,
	credentials_enc TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL,
	name TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS resources_account_idx ON resources (account_id);
CREATE TABLE IF NOT EXISTS recommendations (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL,
	status TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS recommendations_account_idx ON recommendations (account_id);
`,
	},
}

func (p *postgresStore) isApplied(ctx context.Context, id string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE id=$1`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *postgresStore) applyMigration(ctx context.Context, m migration) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (id, applied_at) VALUES ($1, $2)`, m.ID, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %s: %w", m.ID, err)
	}
	return tx.Commit()
}

func (p *postgresStore) CreateAccount(ctx context.Context, a *types.Account, credentialsEnc string) error {
	a.CreatedAt = stamp(a.CreatedAt)
	payload, err := marshalPayload(a)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, provider, name, payload, credentials_enc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, a.ID, a.Provider, a.Name, payload, credentialsEnc, a.CreatedAt)
	return handleSQLError(err)
}

func (p *postgresStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM accounts WHERE id=$1`, id).Scan(&raw)
	if err != nil {
		return nil, handleSQLError(err)
	}
	var a types.Account
	if err := unmarshalPayload(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *postgresStore) GetAccountCredentials(ctx context.Context, id string) (string, error) {
	var enc string
	err := p.db.QueryRowContext(ctx, `SELECT credentials_enc FROM accounts WHERE id=$1`, id).Scan(&enc)
	if err != nil {
		return "", handleSQLError(err)
	}
	return enc, nil
}

func (p *postgresStore) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT payload FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Account
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a types.Account
		if err := unmarshalPayload(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *postgresStore) UpdateAccount(ctx context.Context, a *types.Account) error {
	payload, err := marshalPayload(a)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET payload=$1, updated_at=$2 WHERE id=$3
	`, payload, time.Now().UTC(), a.ID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM recommendations WHERE account_id=$1`, id)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `DELETE FROM resources WHERE account_id=$1`, id)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	aff, _ := res.RowsAffected()
	if aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) CreateResource(ctx context.Context, r *types.Resource) error {
	r.CreatedAt = stamp(r.CreatedAt)
	r.UpdatedAt = stamp(r.UpdatedAt)
	payload, err := marshalPayload(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO resources (id, account_id, name, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.AccountID, r.Name, payload, r.CreatedAt, r.UpdatedAt)
	return handleSQLError(err)
}

func (p *postgresStore) GetResource(ctx context.Context, id string) (*types.Resource, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM resources WHERE id=$1`, id).Scan(&raw)
	if err != nil {
		return nil, handleSQLError(err)
	}
	var r types.Resource
	if err := unmarshalPayload(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *postgresStore) ListResources(ctx context.Context, accountID string) ([]*types.Resource, error) {
	query := `SELECT payload FROM resources`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id=$1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Resource
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r types.Resource
		if err := unmarshalPayload(raw, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *postgresStore) UpdateResource(ctx context.Context, r *types.Resource) error {
	r.UpdatedAt = time.Now().UTC()
	payload, err := marshalPayload(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE resources SET payload=$1, updated_at=$2 WHERE id=$3
	`, payload, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) DeleteResource(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM resources WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *postgresStore) UpsertRecommendations(ctx context.Context, accountID string, recs []types.Recommendation) error {
	for i := range recs {
		rec := recs[i]
		rec.AccountID = accountID
		payload, err := marshalPayload(&rec)
		if err != nil {
			return err
		}
		// Terminal recommendations keep their stored state.
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO recommendations (id, account_id, status, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at
			WHERE recommendations.status = 'pending'
		`, rec.ID, rec.AccountID, rec.Status, payload, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return handleSQLError(err)
		}
	}
	return nil
}

func (p *postgresStore) GetRecommendation(ctx context.Context, id string) (*types.Recommendation, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM recommendations WHERE id=$1`, id).Scan(&raw)
	if err != nil {
		return nil, handleSQLError(err)
	}
	var r types.Recommendation
	if err := unmarshalPayload(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *postgresStore) ListRecommendations(ctx context.Context, accountID string) ([]*types.Recommendation, error) {
	query := `SELECT payload FROM recommendations`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id=$1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Recommendation
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r types.Recommendation
		if err := unmarshalPayload(raw, &r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *postgresStore) UpdateRecommendation(ctx context.Context, rec *types.Recommendation) error {
	rec.UpdatedAt = time.Now().UTC()
	payload, err := marshalPayload(rec)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE recommendations SET status=$1, payload=$2, updated_at=$3 WHERE id=$4
	`, rec.Status, payload, rec.UpdatedAt, rec.ID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}
	return nil
}
