package store

import (
	"testing"
	"time"
)

func TestPoolConfigDefaults(t *testing.T) {
	got := PoolConfig{}.withDefaults()
	if got.MaxOpenConns != 10 || got.MaxIdleConns != 5 || got.MaxLifetime != time.Hour {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	set := PoolConfig{MaxOpenConns: 20, MaxIdleConns: 8, MaxLifetime: 30 * time.Minute}
	if got := set.withDefaults(); got != set {
		t.Fatalf("explicit settings overridden: %+v", got)
	}
}
