package indexer

import (
	"context"
	"iter"

	"smartbch-indexer/chain"
	"smartbch-indexer/database"
)

// Store is the record store used by the jobs. database.Store implements it.
type Store interface {
	MaxBlockNumber(ctx context.Context) (uint64, bool, error)
	CreateBlocks(ctx context.Context, start, end uint64) (int64, error)
	UnprocessedBlocks(ctx context.Context, exclude []uint64, limit int) ([]database.Block, error)
	GetOrCreateBlock(ctx context.Context, number uint64) (*database.Block, error)
	SaveBlockTransactions(ctx context.Context, number uint64, txs []database.Transaction) error
	BlockTransactionIDs(ctx context.Context, number uint64) ([]string, error)
	ProcessedBlockRange(ctx context.Context) (lo, hi uint64, ok bool, err error)
	UpdateState(ctx context.Context, name string, index uint64) error

	SaveTransaction(ctx context.Context, tx *database.Transaction) (*database.Transaction, error)
	GetTransaction(ctx context.Context, txid string) (*database.Transaction, error)
	SaveTransfers(ctx context.Context, txid string, transfers []database.TransactionTransfer) ([]database.TransactionTransfer, error)
	TransactionTransfers(ctx context.Context, txid string) ([]database.TransactionTransfer, error)
	GetTransfer(ctx context.Context, id uint64) (*database.TransactionTransfer, error)

	UnsentValidSubscriptions(ctx context.Context, transfer *database.TransactionTransfer) ([]database.Subscription, error)
	CreateNotificationLog(ctx context.Context, log *database.NotificationLog) error
	CreateFailedNotifications(ctx context.Context, failed []database.FailedNotification) error

	GetTokenContract(ctx context.Context, address string) (*database.TokenContract, error)
	SaveTokenContract(ctx context.Context, token *database.TokenContract) error
}

// ChainReader is the chain data source. chain.Reader implements it.
type ChainReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (*chain.BlockData, error)
	Transaction(ctx context.Context, hash string) (*chain.TxData, error)
	AddressActivity(ctx context.Context, address string, from, to, partition uint64) iter.Seq2[chain.ActivityBatch, error]
	TokenMetadata(ctx context.Context, address string) (*chain.TokenMetadata, error)
}

var (
	_ Store       = (*database.Store)(nil)
	_ ChainReader = (*chain.Reader)(nil)
)
