package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a polled condition does not hold in time
var ErrTimeout = errors.New("timed out")

// waitUntil polls cond every interval until it reports true, the timeout
// elapses or ctx is done. Errors from cond are treated as "not yet" since
// the page may be mid-navigation; the last one is reported on timeout.
func waitUntil(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) (bool, error)) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(wctx)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}
