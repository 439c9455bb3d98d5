package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/uptrace/bun"
)

// AfterCommit runs once the surrounding transaction has committed.
type AfterCommit func(ctx context.Context)

type DB struct {
	Bun *bun.DB
	// MaxAttempts bounds how often a transaction is replayed after a
	// serialization failure or a lost compare-and-set.
	MaxAttempts int
}

func New(bunDB *bun.DB, maxAttempts int) *DB {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &DB{Bun: bunDB, MaxAttempts: maxAttempts}
}

// Queries runs statements against the pool or an open transaction.
type Queries struct {
	db bun.IDB
}

func (d *DB) Queries() *Queries {
	return &Queries{db: d.Bun}
}

// RunInTx runs fn in a transaction and replays it while it fails with
// ErrRetryable. Hooks registered through after run only after the final
// successful commit. Exhausted retries surface as ErrConflict.
func (d *DB) RunInTx(
	ctx context.Context,
	fn func(ctx context.Context, q *Queries, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	attempt := func() error {
		hooks = hooks[:0]
		err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, &Queries{db: tx}, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil {
			return nil
		}
		err = translateDBErr(err)
		if errors.Is(err, ErrRetryable) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.MaxAttempts-1)), ctx)
	if err := backoff.Retry(attempt, b); err != nil {
		if errors.Is(err, ErrRetryable) {
			return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConflict, d.MaxAttempts, err)
		}
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

func rowsAffected(res interface{ RowsAffected() (int64, error) }) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
