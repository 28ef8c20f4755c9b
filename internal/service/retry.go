package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
)

// RetryOnConflict 只对 ErrConflict 重试，最多 retries 次额外尝试
//
// fn 每次调用前应自行刷新状态（例如重新读取链尾）。
func RetryOnConflict(ctx context.Context, retries int, fn func(attempt int) error) error {
	backoff := 20 * time.Millisecond
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(attempt); err == nil || !apperr.IsRetryable(err) {
			return err
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
