package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// errNotVisible drives the retry loop in pollVisible.
var errNotVisible = errors.New("artifact not yet visible")

// pollVisible calls check at a fixed interval until it reports the artifact
// visible, a check fails, or the attempt budget runs out.
func pollVisible(ctx context.Context, interval time.Duration, attempts uint64, check func(ctx context.Context) (bool, error)) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), attempts-1),
		ctx,
	)
	op := func() error {
		visible, err := check(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !visible {
			return errNotVisible
		}
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, errNotVisible) {
			return fmt.Errorf("artifact not visible after %d attempts", attempts)
		}
		return err
	}
	return nil
}
