package indexer

import (
	"context"
	"time"

	"smartbch-indexer/claims"
	"smartbch-indexer/config"
	"smartbch-indexer/queue"
)

const fallbackBlocksPerTask = 5

// Indexer runs the ingestion jobs. Jobs share nothing but the store, the
// claim registry and the queue, so any number of indexers may run against
// the same backends.
type Indexer struct {
	store    Store
	chain    ChainReader
	registry claims.Registry
	queue    queue.Enqueuer
	sender   Sender

	params        config.IndexerConfig
	notifications config.NotificationConfig

	now func() time.Time
}

func New(cfg *config.Config, store Store, chain ChainReader, registry claims.Registry, q queue.Enqueuer, sender Sender) *Indexer {
	ix := &Indexer{
		store:         store,
		chain:         chain,
		registry:      registry,
		queue:         q,
		sender:        sender,
		params:        cfg.Indexer,
		notifications: cfg.Notifications,
		now:           time.Now,
	}
	if ix.params.BackfillPartition == 0 {
		ix.params.BackfillPartition = 10
	}
	if ix.notifications.MaxAttempts <= 0 {
		ix.notifications.MaxAttempts = 3
	}
	return ix
}

func (ix *Indexer) enqueue(ctx context.Context, name string, args interface{}, delay time.Duration) error {
	return queue.Submit(ctx, ix.queue, name, args, delay)
}
