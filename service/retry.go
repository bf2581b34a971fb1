package service

import (
	"context"
	"time"

	"github.com/ManuACDev/monopoly-wallet/domain"
)

const (
	storeReadRetries  = 3
	storeRetryBackoff = 50 * time.Millisecond
)

// withReadRetry retries fn a bounded number of times with backoff, but
// only for transient store failures. Validation rejections pass through
// untouched: retrying them would repeat the same invalid request. Never
// used around commits; a failed commit has already been rolled back and
// must be reported.
func withReadRetry(ctx context.Context, fn func() error) error {
	backoff := storeRetryBackoff
	var err error
	for attempt := 0; attempt < storeReadRetries; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
