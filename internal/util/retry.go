package util

import (
	crand "crypto/rand"
	"math/big"
	"time"
)

// Retry executes fn until it returns retry=false or the timeout elapses.
// It waits with jittered exponential backoff between attempts and surfaces
// the last error. Backoff doubles from 200ms and is capped at 5s.
func Retry(timeout time.Duration, fn func() (retry bool, err error)) error {
	deadline := time.Now().Add(timeout)
	backoff := 200 * time.Millisecond

	var lastErr error
	for {
		retry, err := fn()
		if !retry {
			return err
		}
		lastErr = err
		if time.Now().After(deadline) {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		time.Sleep(backoff + jitter(backoff/2))
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if n, err := crand.Int(crand.Reader, big.NewInt(int64(max))); err == nil {
		return time.Duration(n.Int64())
	}
	return 0
}
