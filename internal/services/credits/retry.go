package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

// RetryPolicy bounds how often a lost compare-and-swap is retried.
// Backoff grows linearly with the attempt number.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 25 * time.Millisecond}
}

// do runs fn until it succeeds, fails with anything other than a
// concurrent modification, or the attempts run out.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := max(p.Attempts, 1)

	for i := 1; ; i++ {
		err := fn()
		if err == nil || !errors.Is(err, ledger.ErrConcurrentModification) {
			return err
		}

		if i >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		err = sleep(ctx, p.Backoff*time.Duration(i))
		if err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
