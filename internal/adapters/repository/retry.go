package repository

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/wordchain/internal/domain/model"
)

// RetryTransient runs op until it succeeds, fails permanently or runs out of
// attempts. isTransient classifies driver errors such as SQLITE_BUSY or a
// serialization failure. An error still transient after the last attempt is
// wrapped as model.ErrConcurrencyConflict.
func RetryTransient[T any](ctx context.Context, o Options, isTransient func(error) bool, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryInitial
	b.MaxInterval = o.RetryMax

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(o.ConflictRetries))
	if err != nil && isTransient(err) {
		return v, fmt.Errorf("%w: %w", model.ErrConcurrencyConflict, err)
	}
	return v, err
}
