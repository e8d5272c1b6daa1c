package indexer

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"smartbch-indexer/chain"
	"smartbch-indexer/claims"
	"smartbch-indexer/database"
	"smartbch-indexer/logger"
	"smartbch-indexer/metrics"

	"github.com/pkg/errors"
)

// BlockRange is an inclusive range of block numbers. Empty ranges have
// End < Start.
type BlockRange struct {
	Start uint64
	End   uint64
}

var emptyRange = BlockRange{Start: 1, End: 0}

func (r BlockRange) Empty() bool {
	return r.End < r.Start
}

// PreloadNewBlocks creates unprocessed rows for every confirmed chain block
// newer than the highest stored one. Without stored blocks it starts at the
// configured start block, or at the chain tip.
func (ix *Indexer) PreloadNewBlocks(ctx context.Context) (BlockRange, error) {
	head, err := ix.chain.LatestBlockNumber(ctx)
	if err != nil {
		return emptyRange, errors.Wrap(err, "PreloadNewBlocks")
	}
	if head < ix.params.Confirmations {
		return emptyRange, nil
	}
	tip := head - ix.params.Confirmations
	metrics.ChainTip.Set(float64(tip))

	if err := ix.store.UpdateState(ctx, database.LastChainIndexState, tip); err != nil {
		return emptyRange, errors.Wrap(err, "PreloadNewBlocks")
	}

	local, ok, err := ix.store.MaxBlockNumber(ctx)
	if err != nil {
		return emptyRange, errors.Wrap(err, "PreloadNewBlocks")
	}

	var start uint64
	switch {
	case ok:
		start = local + 1
	case ix.params.StartBlock != nil:
		start = *ix.params.StartBlock
	default:
		start = tip
	}
	if start > tip {
		return emptyRange, nil
	}

	created, err := ix.store.CreateBlocks(ctx, start, tip)
	if err != nil {
		return emptyRange, errors.Wrap(err, "PreloadNewBlocks")
	}
	metrics.BlocksPreloadedTotal.Add(float64(created))
	logger.Info("Preloaded blocks from %d to %d", start, tip)

	return BlockRange{Start: start, End: tip}, nil
}

// ParseBlocks enqueues a parse job for the oldest unprocessed blocks that are
// not being parsed right now. It does not claim anything itself.
func (ix *Indexer) ParseBlocks(ctx context.Context, batchSize int) ([]uint64, error) {
	if batchSize <= 0 {
		batchSize = ix.params.BlocksPerTask
	}
	if batchSize <= 0 {
		batchSize = fallbackBlocksPerTask
	}

	members, err := ix.registry.Members(ctx, claims.BlocksBeingParsed)
	if err != nil {
		return nil, errors.Wrap(err, "ParseBlocks")
	}
	exclude := make([]uint64, 0, len(members))
	for _, m := range members {
		if n, err := strconv.ParseUint(m, 10, 64); err == nil {
			exclude = append(exclude, n)
		}
	}

	blocks, err := ix.store.UnprocessedBlocks(ctx, exclude, batchSize)
	if err != nil {
		return nil, errors.Wrap(err, "ParseBlocks")
	}

	queued := make([]uint64, 0, len(blocks))
	for _, b := range blocks {
		args := ParseBlockArgs{BlockNumber: strconv.FormatUint(b.BlockNumber, 10), Notify: true}
		if err := ix.enqueue(ctx, JobParseBlock, args, 0); err != nil {
			return queued, errors.Wrap(err, "ParseBlocks")
		}
		queued = append(queued, b.BlockNumber)
	}
	if len(queued) > 0 {
		logger.Info("Queued blocks for parsing: %v", queued)
	}
	return queued, nil
}

// ParseBlock stores the transactions of a block, marks it processed and
// queues transfer extraction for each of them.
func (ix *Indexer) ParseBlock(ctx context.Context, rawBlockNumber string, notify bool) Result {
	number, err := strconv.ParseUint(strings.TrimSpace(rawBlockNumber), 10, 64)
	if err != nil {
		return result(StatusInvalid, "invalid_block: %s", rawBlockNumber)
	}
	key := strconv.FormatUint(number, 10)

	var txCount, queued int
	err = claims.Do(ctx, ix.registry, claims.BlocksBeingParsed, key, func(ctx context.Context) error {
		if _, err := ix.store.GetOrCreateBlock(ctx, number); err != nil {
			return err
		}

		block, err := ix.chain.Block(ctx, number)
		if err != nil {
			return err
		}

		txs := make([]database.Transaction, 0, len(block.Transactions))
		for i := range block.Transactions {
			txs = append(txs, newTransaction(&block.Transactions[i], database.SourceBlockParser))
		}
		if err := ix.store.SaveBlockTransactions(ctx, number, txs); err != nil {
			return err
		}
		txCount = len(txs)

		txids, err := ix.store.BlockTransactionIDs(ctx, number)
		if err != nil {
			return err
		}
		var enqueueErr error
		for _, txid := range txids {
			if err := ix.enqueue(ctx, JobSaveTransactionTransfers, TransactionArgs{Txid: txid, Notify: notify}, 0); err != nil {
				logger.Error("block %d: %s", number, err)
				enqueueErr = err
				continue
			}
			queued++
		}
		return enqueueErr
	})

	switch {
	case err == nil:
		return result(StatusOK, "parsed block %d: %d transactions", number, txCount)
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return result(StatusContended, "block_is_being_parsed %d", number)
	case errors.Is(err, chain.ErrNotFound):
		return result(StatusNotFound, "block %d not found on chain", number)
	default:
		return failed(err, "parse_block_task(%d) queued %d/%d transactions", number, queued, txCount)
	}
}

func newTransaction(tx *chain.TxData, source string) database.Transaction {
	return database.Transaction{
		Txid:        tx.Hash,
		BlockNumber: tx.BlockNumber,
		FromAddress: tx.From,
		ToAddress:   tx.To,
		Amount:      amountString(tx.Value),
		Source:      source,
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
