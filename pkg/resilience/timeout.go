// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"time"

	"github.com/helixbio/triage/pkg/errors"
)

// TimeoutConfig controls timeout behavior.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation.
	// Zero disables the boundary.
	Duration time.Duration
}

// WithTimeoutResult executes fn with a timeout boundary, returning both
// result and error. On deadline the caller gets errors.CodeTimeout; fn keeps
// running in the background but its result is discarded, so fn must honor
// the derived ctx to avoid leaking work.
func WithTimeoutResult(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if config.Duration == 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	type result struct {
		value interface{}
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
			WithContext("timeout", config.Duration.String()).
			WithRecoverable(true)
	case res := <-done:
		return res.value, res.err
	}
}
