// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

// Transactor implements auth.Transactor. It stores the active pgx.Tx in
// context so repository calls made with that context join the transaction.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a Transactor backed by the given pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTransaction begins a transaction, stores it in context, and calls fn.
// If fn returns nil the transaction is committed, otherwise it is rolled
// back. A ctx that already carries a transaction is reused.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // the fn or commit error takes precedence
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	// A failed commit closes the transaction; no rollback follows.
	finished = true
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

var _ auth.Transactor = (*Transactor)(nil)
