package indexer

import (
	"context"
	"strings"

	"smartbch-indexer/chain"
	"smartbch-indexer/claims"
	"smartbch-indexer/config"
	"smartbch-indexer/database"
	"smartbch-indexer/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var errNoProcessedBlocks = errors.New("no processed blocks")

// CrawlAddress scans a bounded window of already processed blocks for
// transactions touching address and queues each one for saving.
func (ix *Indexer) CrawlAddress(ctx context.Context, address string) Result {
	address = strings.TrimSpace(address)
	if !ValidAddress(address) {
		return result(StatusInvalid, "address_invalid: %s", address)
	}
	key := normalizeAddress(address)

	var (
		start, end uint64
		found      int
	)
	err := claims.Do(ctx, ix.registry, claims.AddressesBeingCrawled, key, func(ctx context.Context) error {
		lo, hi, ok, err := ix.store.ProcessedBlockRange(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errNoProcessedBlocks
		}

		// newer blocks are left to the parser
		end = hi
		start = lo
		if ix.params.StartBlock != nil {
			start = *ix.params.StartBlock
		}
		start = backfillStart(start, end, ix.params.BackfillWindow)
		logger.Info("Crawling transactions of %s from %d to %d", key, start, end)

		seen := make(map[string]bool)
		for batch, err := range ix.chain.AddressActivity(ctx, key, start, end, ix.params.BackfillPartition) {
			if err != nil {
				return err
			}
			for _, hash := range batch.TxHashes {
				if seen[hash] {
					continue
				}
				seen[hash] = true
				if err := ix.enqueue(ctx, JobSaveTransaction, TransactionArgs{Txid: hash}, 0); err != nil {
					return err
				}
				found++
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return result(StatusOK, "crawled %s blocks %d-%d: %d transactions", key, start, end, found)
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return result(StatusContended, "address_is_being_crawled: %s", key)
	case errors.Is(err, errNoProcessedBlocks):
		return result(StatusSkipped, "no processed blocks to crawl for %s", key)
	default:
		return failed(err, "save_transactions_by_address(%s) queued %d transactions", key, found)
	}
}

// backfillStart keeps the crawl window at most window blocks wide, counted
// back from end. The window never exceeds config.MaxBackfillWindow.
func backfillStart(start, end, window uint64) uint64 {
	if window == 0 || window > config.MaxBackfillWindow {
		window = config.MaxBackfillWindow
	}
	if start > end {
		return start
	}
	if end-start > window {
		return end - window
	}
	return start
}

// ValidAddress accepts 20 byte hex addresses with or without the 0x prefix.
// Mixed case addresses must carry a valid EIP-55 checksum.
func ValidAddress(address string) bool {
	digits := strings.TrimPrefix(address, "0x")
	if len(digits) != 2*common.AddressLength || !common.IsHexAddress(digits) {
		return false
	}
	if digits == strings.ToLower(digits) || digits == strings.ToUpper(digits) {
		return true
	}
	return common.HexToAddress(digits).Hex() == "0x"+digits
}

func normalizeAddress(address string) string {
	return "0x" + strings.ToLower(strings.TrimPrefix(address, "0x"))
}

// SaveTransaction fetches a single transaction, stores it and queues its
// transfer extraction without notifications.
func (ix *Indexer) SaveTransaction(ctx context.Context, txid string) Result {
	txid = strings.ToLower(strings.TrimSpace(txid))
	if !chain.ValidTxHash(txid) {
		return result(StatusInvalid, "invalid_txid: %s", txid)
	}

	err := claims.Do(ctx, ix.registry, claims.TxsBeingParsed, txid, func(ctx context.Context) error {
		data, err := ix.chain.Transaction(ctx, txid)
		if err != nil {
			return err
		}

		tx := newTransaction(data, database.SourceAddressBackfill)
		if _, err := ix.store.SaveTransaction(ctx, &tx); err != nil {
			return err
		}

		return ix.enqueue(ctx, JobSaveTransactionTransfers, TransactionArgs{Txid: txid}, 0)
	})

	switch {
	case err == nil:
		return result(StatusOK, "parsed transaction: %s", txid)
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return result(StatusContended, "transaction_is_being_parsed: %s", txid)
	case errors.Is(err, chain.ErrNotFound):
		return result(StatusNotFound, "transaction %s not found on chain", txid)
	default:
		return failed(err, "save_transaction_task(%s)", txid)
	}
}
