package service

import "context"

// TxRepositories are repositories that share one open transaction.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	Chunks() ChunkRepositoryInterface
	Graph() GraphRepositoryInterface
}

// TxRunner commits fn's writes together or not at all.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(TxRepositories) error) error
}
