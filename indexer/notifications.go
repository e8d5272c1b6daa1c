package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smartbch-indexer/chain"
	"smartbch-indexer/database"
	"smartbch-indexer/logger"
	"smartbch-indexer/metrics"
	"smartbch-indexer/notify"

	"github.com/pkg/errors"
)

type failedDelivery struct {
	sub database.Subscription
	err error
}

func (f failedDelivery) String() string {
	return fmt.Sprintf("(subscription %d: %s)", f.sub.ID, f.err)
}

// NotifyTransfer delivers a transfer to every matching subscription that has
// not received it yet. Failed deliveries re-enqueue the job until the
// attempts run out, then each unsent subscription is dead lettered.
func (ix *Indexer) NotifyTransfer(ctx context.Context, transferID uint64, attempt int) Result {
	attempt = max(attempt, 1)

	transfer, err := ix.store.GetTransfer(ctx, transferID)
	if errors.Is(err, database.ErrNotFound) {
		return result(StatusNotFound, "transaction_transfer with id %d does not exist", transferID)
	}
	if err != nil {
		return failed(err, "send_transaction_transfer_notification_task(%d)", transferID)
	}

	subs, err := ix.store.UnsentValidSubscriptions(ctx, transfer)
	if err != nil {
		return failed(err, "send_transaction_transfer_notification_task(%d)", transferID)
	}
	if len(subs) == 0 {
		return result(StatusSkipped, "transaction_transfer with id %d has no related valid subscriptions", transferID)
	}

	var token *database.TokenContract
	if transfer.TokenContract != nil {
		token = ix.tokenContract(ctx, *transfer.TokenContract)
	}
	var blockNumber *uint64
	if tx, err := ix.store.GetTransaction(ctx, transfer.Txid); err == nil {
		blockNumber = tx.BlockNumber
	}

	var (
		logIDs   []uint64
		failures []failedDelivery
	)
	for i := range subs {
		sub := &subs[i]
		payload := transferPayload(transfer, sub, token, blockNumber, ix.now())

		delivery, err := ix.sender.Send(ctx, sub, payload)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			failures = append(failures, failedDelivery{sub: *sub, err: err})
			continue
		}

		log := &database.NotificationLog{
			SubscriptionID: sub.ID,
			TransferID:     transfer.ID,
			Outcome:        database.OutcomeSent,
			StatusCode:     delivery.StatusCode,
			SentAt:         delivery.SentAt,
		}
		if err := ix.store.CreateNotificationLog(ctx, log); err != nil {
			// delivered but unrecorded, the retry sends it again
			metrics.NotificationsTotal.WithLabelValues("unrecorded").Inc()
			failures = append(failures, failedDelivery{sub: *sub, err: err})
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(database.OutcomeSent).Inc()
		logIDs = append(logIDs, log.ID)
	}

	var resp []string
	if len(logIDs) > 0 {
		logger.Info("sent subscription notifications for transfer %d: %v", transferID, logIDs)
		resp = append(resp, fmt.Sprintf("sent %d transaction_transfer notifications, log_ids: %v", len(logIDs), logIDs))
	}
	if len(failures) == 0 {
		return result(StatusOK, "%s", strings.Join(resp, "\n"))
	}

	resp = append(resp, fmt.Sprintf("error sending %d transaction_transfer notifications: %v", len(failures), failures))
	logger.Info("failed to send subscription notifications for transfer %d (attempt %d/%d): %v",
		transferID, attempt, ix.notifications.MaxAttempts, failures)

	if attempt < ix.notifications.MaxAttempts {
		args := NotifyTransferArgs{TransferID: transferID, Attempt: attempt + 1}
		if err := ix.enqueue(ctx, JobNotifyTransfer, args, ix.notifications.RetryDelay()); err != nil {
			logger.Error("transfer %d: cannot schedule retry: %s", transferID, err)
			return ix.deadLetter(ctx, transferID, attempt, failures, resp)
		}
		return result(StatusRetrying, "%s", strings.Join(resp, "\n"))
	}

	return ix.deadLetter(ctx, transferID, attempt, failures, resp)
}

func (ix *Indexer) deadLetter(ctx context.Context, transferID uint64, attempt int, failures []failedDelivery, resp []string) Result {
	rows := make([]database.FailedNotification, 0, len(failures))
	for _, f := range failures {
		msg := f.err.Error()
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		rows = append(rows, database.FailedNotification{
			SubscriptionID: f.sub.ID,
			TransferID:     transferID,
			Attempts:       attempt,
			Error:          msg,
		})
	}
	metrics.NotificationsExhaustedTotal.Add(float64(len(failures)))
	logger.Error("giving up on %d notifications of transfer %d after %d attempts", len(failures), transferID, attempt)

	if err := ix.store.CreateFailedNotifications(ctx, rows); err != nil {
		logger.Error("transfer %d: %s", transferID, err)
		resp = append(resp, "dead letter write failed: "+err.Error())
	}
	return result(StatusExhausted, "%s", strings.Join(resp, "\n"))
}

// tokenContract returns cached token metadata, reading it from the chain on
// a cache miss. Failures only cost the payload its token details.
func (ix *Indexer) tokenContract(ctx context.Context, address string) *database.TokenContract {
	token, err := ix.store.GetTokenContract(ctx, address)
	if err == nil {
		return token
	}
	if !errors.Is(err, database.ErrNotFound) {
		logger.Warn("token contract %s: %s", address, err)
		return &database.TokenContract{Address: address}
	}

	meta, err := ix.chain.TokenMetadata(ctx, address)
	if err != nil {
		logger.Warn("token metadata for %s unavailable: %s", address, err)
		return &database.TokenContract{Address: address}
	}

	token = &database.TokenContract{
		Address:  address,
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	}
	if err := ix.store.SaveTokenContract(ctx, token); err != nil {
		logger.Warn("token contract %s: %s", address, err)
	}
	return token
}

func transferPayload(transfer *database.TransactionTransfer, sub *database.Subscription, token *database.TokenContract, blockNumber *uint64, now time.Time) *notify.Payload {
	payload := &notify.Payload{
		ID:        fmt.Sprintf("%d-%d", transfer.ID, sub.ID),
		EventType: notify.EventTransactionTransfer,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data: notify.TransferData{
			SubscriptionID: sub.ID,
			TransferID:     transfer.ID,
			Txid:           transfer.Txid,
			BlockNumber:    blockNumber,
			LogIndex:       transfer.LogIndex,
			From:           transfer.FromAddress,
			To:             transfer.ToAddress,
			Amount:         transfer.Amount,
			TokenID:        transfer.TokenID,
		},
	}
	if token != nil {
		payload.Data.Token = &notify.TokenData{
			Address:  token.Address,
			Name:     token.Name,
			Symbol:   token.Symbol,
			Decimals: token.Decimals,
		}
	}
	return payload
}

// NotifyTransaction queues a notification job for each stored transfer of a
// transaction.
func (ix *Indexer) NotifyTransaction(ctx context.Context, txid string) Result {
	txid = strings.ToLower(strings.TrimSpace(txid))
	if !chain.ValidTxHash(txid) {
		return result(StatusInvalid, "invalid_txid: %s", txid)
	}

	if _, err := ix.store.GetTransaction(ctx, txid); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return result(StatusNotFound, "transaction with id %s does not exist", txid)
		}
		return failed(err, "send_transaction_notification_task(%s)", txid)
	}

	transfers, err := ix.store.TransactionTransfers(ctx, txid)
	if err != nil {
		return failed(err, "send_transaction_notification_task(%s)", txid)
	}
	for _, t := range transfers {
		if err := ix.enqueue(ctx, JobNotifyTransfer, NotifyTransferArgs{TransferID: t.ID, Attempt: 1}, 0); err != nil {
			return failed(err, "send_transaction_notification_task(%s)", txid)
		}
	}
	return result(StatusOK, "queued %d transaction_transfer notifications for %s", len(transfers), txid)
}
