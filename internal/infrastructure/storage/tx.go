package storage

import (
	"context"

	"github.com/uptrace/bun"
)

type txCtxKey struct{}

// withTx returns a context carrying tx so nested repository calls made
// against the same context reuse the transaction instead of the pool.
func withTx(ctx context.Context, tx bun.IDB) context.Context {
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// dbFrom returns the transaction bound to ctx, or fallback if none is bound.
// Every repository method that must participate in a cross-repository
// transaction (the loop/parallel node fan-out, in particular) calls this
// instead of touching its own *bun.DB field directly.
func dbFrom(ctx context.Context, fallback bun.IDB) bun.IDB {
	if tx, ok := ctx.Value(txCtxKey{}).(bun.IDB); ok {
		return tx
	}
	return fallback
}
