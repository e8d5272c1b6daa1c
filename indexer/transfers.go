package indexer

import (
	"context"
	"strings"

	"smartbch-indexer/chain"
	"smartbch-indexer/claims"
	"smartbch-indexer/database"
	"smartbch-indexer/indexer/abi"
	"smartbch-indexer/logger"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var (
	errTransactionNotSaved = errors.New("transaction is not saved")
	errNoTransfers         = errors.New("no transfers")
)

// SaveTransactionTransfers derives and stores the transfers of a stored
// transaction. With notify set, a notification job is queued per transfer.
func (ix *Indexer) SaveTransactionTransfers(ctx context.Context, txid string, notify bool) Result {
	txid = strings.ToLower(strings.TrimSpace(txid))
	if !chain.ValidTxHash(txid) {
		return result(StatusInvalid, "invalid_txid: %s", txid)
	}

	var saved []database.TransactionTransfer
	err := claims.Do(ctx, ix.registry, claims.TxTransfersBeingParsed, txid, func(ctx context.Context) error {
		if _, err := ix.store.GetTransaction(ctx, txid); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return errTransactionNotSaved
			}
			return err
		}

		tx, err := ix.chain.Transaction(ctx, txid)
		if err != nil {
			return err
		}

		transfers := DeriveTransfers(tx)
		if len(transfers) == 0 {
			return errNoTransfers
		}

		saved, err = ix.store.SaveTransfers(ctx, txid, transfers)
		if err != nil {
			return err
		}

		if !notify {
			return nil
		}
		for _, t := range saved {
			if err := ix.enqueue(ctx, JobNotifyTransfer, NotifyTransferArgs{TransferID: t.ID, Attempt: 1}, 0); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return result(StatusOK, "parsed transaction transfers: %s (%d transfers)", txid, len(saved))
	case errors.Is(err, claims.ErrAlreadyClaimed):
		return result(StatusContended, "transaction_is_being_parsed: %s", txid)
	case errors.Is(err, errTransactionNotSaved):
		return result(StatusNotFound, "Unable to parse transaction transfer, transaction is not saved: %s", txid)
	case errors.Is(err, errNoTransfers):
		return result(StatusSkipped, "no transfers to save for %s", txid)
	case errors.Is(err, chain.ErrNotFound):
		return result(StatusNotFound, "transaction %s not found on chain", txid)
	default:
		return failed(err, "save_transaction_transfers_task(%s)", txid)
	}
}

// DeriveTransfers returns the native value transfer of a successful
// transaction followed by its ERC-20 and ERC-721 Transfer logs.
func DeriveTransfers(tx *chain.TxData) []database.TransactionTransfer {
	var transfers []database.TransactionTransfer

	if tx.Status == types.ReceiptStatusSuccessful && tx.Value != nil && tx.Value.Sign() > 0 {
		transfers = append(transfers, database.TransactionTransfer{
			Txid:        tx.Hash,
			LogIndex:    database.NativeLogIndex,
			FromAddress: tx.From,
			ToAddress:   tx.To,
			Amount:      tx.Value.String(),
		})
	}

	for _, l := range tx.Logs {
		decoded, err := abi.DecodeTransfer(l.Topics, l.Data)
		if err != nil {
			if !errors.Is(err, abi.ErrNotTransfer) {
				logger.Debug("tx %s log %d: %s", tx.Hash, l.Index, err)
			}
			continue
		}

		token := strings.ToLower(l.Address.Hex())
		transfer := database.TransactionTransfer{
			Txid:          tx.Hash,
			LogIndex:      int64(l.Index),
			TokenContract: &token,
			FromAddress:   strings.ToLower(decoded.From.Hex()),
			ToAddress:     strings.ToLower(decoded.To.Hex()),
			Amount:        decoded.Amount.String(),
		}
		if decoded.TokenID != nil {
			id := decoded.TokenID.String()
			transfer.TokenID = &id
		}
		transfers = append(transfers, transfer)
	}

	return transfers
}
