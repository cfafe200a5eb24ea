package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/skyporthq/skyport/pkg/types"
)

// accountsKey is the fixed namespace under which the full account list is
// cached as one JSON array. Reads and writes are whole-list: the cache is a
// last-writer-wins mirror of the reconciled set, not a per-record store.
const accountsKey = "skyport:accounts"

// credentialsKeyPrefix namespaces per-account credential ciphertext held
// locally while the remote store is unreachable. Values are already
// encrypted; the cache never sees plaintext.
const credentialsKeyPrefix = "skyport:credentials:"

// Cache is the volatile local account cache backed by Redis.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache wraps an existing Redis client. ttl bounds staleness of a cache
// that stopped self-healing; zero keeps entries forever.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// ReadAccounts returns the cached account list. A missing key is an empty
// list, not an error.
func (c *Cache) ReadAccounts(ctx context.Context) ([]*types.Account, error) {
	raw, err := c.rdb.Get(ctx, accountsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return []*types.Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*types.Account
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteAccounts replaces the cached account list.
func (c *Cache) WriteAccounts(ctx context.Context, accounts []*types.Account) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, accountsKey, raw, c.ttl).Err()
}

// PutCredentials stores credential ciphertext for one account.
func (c *Cache) PutCredentials(ctx context.Context, accountID, enc string) error {
	return c.rdb.Set(ctx, credentialsKeyPrefix+accountID, enc, c.ttl).Err()
}

// GetCredentials returns stored ciphertext, ErrNotFound when absent.
func (c *Cache) GetCredentials(ctx context.Context, accountID string) (string, error) {
	enc, err := c.rdb.Get(ctx, credentialsKeyPrefix+accountID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return enc, nil
}

// DeleteCredentials drops stored ciphertext for one account.
func (c *Cache) DeleteCredentials(ctx context.Context, accountID string) error {
	return c.rdb.Del(ctx, credentialsKeyPrefix+accountID).Err()
}
