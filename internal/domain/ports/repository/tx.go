package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle threaded through repository methods.
// The concrete type is infra-defined (pgx.Tx for Postgres); repositories MUST
// gracefully accept nil (non-transactional path).
type Tx interface{}

// TransactionManager executes a function inside a database transaction,
// passing the transaction handle via tx. Keeping the handle opaque keeps
// use-case interfaces free of storage types while still letting repository
// implementations run SELECT ... FOR UPDATE when a tx is present.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
