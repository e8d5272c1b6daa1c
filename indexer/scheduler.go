package indexer

import (
	"context"
	"time"

	"smartbch-indexer/logger"
)

// RunScheduler preloads new blocks and dispatches parse jobs every new block
// check interval until ctx is cancelled.
func (ix *Indexer) RunScheduler(ctx context.Context) error {
	interval := ix.params.NewBlockCheckInterval()
	if interval <= 0 {
		interval = time.Second
	}
	logger.Info("Starting block scheduler, checking for new blocks every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ix.Tick(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Block scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one preload and dispatch round.
func (ix *Indexer) Tick(ctx context.Context) {
	rng, err := ix.PreloadNewBlocks(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("Preloading new blocks: %s", err)
		}
	} else if !rng.Empty() {
		logger.Debug("New blocks %d to %d", rng.Start, rng.End)
	}

	if _, err := ix.ParseBlocks(ctx, 0); err != nil && ctx.Err() == nil {
		logger.Error("Dispatching blocks: %s", err)
	}
}
