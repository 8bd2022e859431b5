package repository

import "context"

// Tx is an opaque transaction handle passed to repositories via `qx`.
// The concrete type is infra-defined (pgx.Tx for Postgres). Repositories must
// gracefully accept nil (non-transactional path).
type Tx interface{}

// NoTX marks the non-transactional call sites explicitly.
var NoTX Tx

// TransactionManager executes a function within a database transaction,
// passing the transaction handle through `qx` so use-case interfaces stay
// free of storage types. A returned error rolls the transaction back.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, qx Tx) error) error
}
