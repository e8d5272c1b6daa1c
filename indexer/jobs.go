package indexer

import (
	"context"

	"smartbch-indexer/queue"
)

const (
	JobParseBlock               = "parse_block"
	JobSaveTransactionTransfers = "save_transaction_transfers"
	JobSaveTransaction          = "save_transaction"
	JobCrawlAddress             = "crawl_address"
	JobNotifyTransfer           = "notify_transfer"
	JobNotifyTransaction        = "notify_transaction"
)

// Retry policy per job:
//
//	parse_block                 none, the dispatcher re-selects unprocessed blocks
//	save_transaction_transfers  none, re-triggered by the parser or an operator
//	save_transaction            none, re-triggered by the crawler or an operator
//	crawl_address               none, operator resubmission
//	notify_transfer             self re-enqueue after the retry delay, then dead letter
//	notify_transaction          none

type ParseBlockArgs struct {
	BlockNumber string `json:"block_number"`
	Notify      bool   `json:"notify"`
}

type TransactionArgs struct {
	Txid   string `json:"txid"`
	Notify bool   `json:"notify,omitempty"`
}

type AddressArgs struct {
	Address string `json:"address"`
}

type NotifyTransferArgs struct {
	TransferID uint64 `json:"transfer_id"`
	Attempt    int    `json:"attempt"`
}

// Register binds every job of the pipeline to mux.
func (ix *Indexer) Register(mux *queue.Mux) {
	mux.Handle(JobParseBlock, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args ParseBlockArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "invalid_block: %s", job.Args)
		}
		return ix.ParseBlock(ctx, args.BlockNumber, args.Notify)
	})
	mux.Handle(JobSaveTransactionTransfers, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args TransactionArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "invalid_txid: %s", job.Args)
		}
		return ix.SaveTransactionTransfers(ctx, args.Txid, args.Notify)
	})
	mux.Handle(JobSaveTransaction, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args TransactionArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "invalid_txid: %s", job.Args)
		}
		return ix.SaveTransaction(ctx, args.Txid)
	})
	mux.Handle(JobCrawlAddress, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args AddressArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "address_invalid: %s", job.Args)
		}
		return ix.CrawlAddress(ctx, args.Address)
	})
	mux.Handle(JobNotifyTransfer, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args NotifyTransferArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "invalid transfer id: %s", job.Args)
		}
		return ix.NotifyTransfer(ctx, args.TransferID, args.Attempt)
	})
	mux.Handle(JobNotifyTransaction, func(ctx context.Context, job *queue.Job) queue.Outcome {
		var args TransactionArgs
		if err := job.Decode(&args); err != nil {
			return result(StatusInvalid, "invalid_txid: %s", job.Args)
		}
		return ix.NotifyTransaction(ctx, args.Txid)
	})
}
