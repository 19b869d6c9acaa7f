package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cloo-solutions/recall/internal/service"
)

// beginner is a pool, or a transaction when runs should nest as savepoints.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner runs service work against repositories bound to one transaction.
type TxRunner struct {
	db beginner
}

func NewTxRunner(db beginner) *TxRunner {
	return &TxRunner{db: db}
}

// WithTx commits when fn returns nil and rolls back otherwise, including
// when fn panics.
func (r *TxRunner) WithTx(ctx context.Context, fn func(service.TxRepositories) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(boundRepos{tx: tx})
	})
}

type boundRepos struct {
	tx pgx.Tx
}

func (b boundRepos) Documents() service.DocumentRepositoryInterface {
	return NewDocumentRepositoryWithTx(b.tx)
}

func (b boundRepos) Chunks() service.ChunkRepositoryInterface {
	return NewChunkRepositoryWithTx(b.tx)
}

func (b boundRepos) Graph() service.GraphRepositoryInterface {
	return NewGraphRepositoryWithTx(b.tx)
}
