package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"smartbch-indexer/database"
	"smartbch-indexer/notify"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriptionID uint64

func (m subscriptionID) Matches(x interface{}) bool {
	sub, ok := x.(*database.Subscription)
	return ok && sub.ID == uint64(m)
}

func (m subscriptionID) String() string {
	return fmt.Sprintf("is subscription %d", uint64(m))
}

func delivered() (*notify.Delivery, error) {
	return &notify.Delivery{StatusCode: http.StatusOK, SentAt: time.Unix(1700000001, 0)}, nil
}

func refused() (*notify.Delivery, error) {
	return &notify.Delivery{StatusCode: http.StatusServiceUnavailable}, errors.New("webhook returned status 503")
}

type notifyFixture struct {
	*fixture
	sender   *MockSender
	transfer database.TransactionTransfer
	subs     map[string]*database.Subscription
}

func newNotifyFixture(t *testing.T, tokenContract *string) *notifyFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	sender := NewMockSender(ctrl)
	f := newFixture(t, sender)
	ctx := context.Background()

	block := uint64(5)
	_, err := f.store.SaveTransaction(ctx, &database.Transaction{
		Txid: txHash(1), BlockNumber: &block, FromAddress: alice, ToAddress: bob, Amount: "10",
	})
	require.NoError(t, err)

	logIndex := database.NativeLogIndex
	if tokenContract != nil {
		logIndex = 0
	}
	saved, err := f.store.SaveTransfers(ctx, txHash(1), []database.TransactionTransfer{{
		Txid: txHash(1), LogIndex: logIndex, TokenContract: tokenContract,
		FromAddress: alice, ToAddress: bob, Amount: "10",
	}})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	otherToken := "0x00000000000000000000000000000000000000bb"
	subs := map[string]*database.Subscription{
		"receiver":    {SubscriberID: "r", Address: bob, WebhookURL: "http://r", Active: true},
		"sender":      {SubscriberID: "s", Address: alice, WebhookURL: "http://s", Active: true},
		"other token": {SubscriberID: "o", Address: bob, TokenAddress: &otherToken, WebhookURL: "http://o", Active: true},
		"inactive":    {SubscriberID: "i", Address: bob, WebhookURL: "http://i", Active: false},
		"unrelated":   {SubscriberID: "u", Address: carol, WebhookURL: "http://u", Active: true},
	}
	for _, name := range []string{"receiver", "sender", "other token", "inactive", "unrelated"} {
		require.NoError(t, f.store.CreateSubscription(ctx, subs[name]))
	}

	return &notifyFixture{fixture: f, sender: sender, transfer: saved[0], subs: subs}
}

func (f *notifyFixture) id(name string) subscriptionID {
	return subscriptionID(f.subs[name].ID)
}

func TestNotifyTransferPartialFailureRetries(t *testing.T) {
	f := newNotifyFixture(t, nil)
	ctx := context.Background()

	archive := &database.Subscription{SubscriberID: "a", Address: bob, WebhookURL: "http://a", Active: true}
	require.NoError(t, f.store.CreateSubscription(ctx, archive))
	f.subs["archive"] = archive

	gomock.InOrder(
		f.sender.EXPECT().Send(gomock.Any(), f.id("receiver"), gomock.Any()).Return(delivered()),
		f.sender.EXPECT().Send(gomock.Any(), f.id("sender"), gomock.Any()).Return(refused()),
		f.sender.EXPECT().Send(gomock.Any(), f.id("archive"), gomock.Any()).Return(delivered()),
	)

	res := f.ix.NotifyTransfer(ctx, f.transfer.ID, 1)
	require.Equal(t, StatusRetrying, res.Status(), res.String())
	assert.Contains(t, res.String(), "sent 2 transaction_transfer notifications")
	assert.Contains(t, res.String(), "error sending 1 transaction_transfer notifications")

	logs, err := f.store.NotificationLogs(ctx, f.transfer.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.ElementsMatch(t,
		[]uint64{f.subs["receiver"].ID, f.subs["archive"].ID},
		[]uint64{logs[0].SubscriptionID, logs[1].SubscriptionID})
	assert.Equal(t, http.StatusOK, logs[0].StatusCode)

	retries := f.queue.named(JobNotifyTransfer)
	require.Len(t, retries, 1)
	assert.Equal(t, 3*time.Second, retries[0].delay)
	assert.Equal(t,
		[]NotifyTransferArgs{{TransferID: f.transfer.ID, Attempt: 2}},
		decodeArgs[NotifyTransferArgs](t, retries))

	// The retry only targets the subscription that is still unsent.
	f.sender.EXPECT().Send(gomock.Any(), f.id("sender"), gomock.Any()).Return(delivered())
	f.queue.reset()

	res = f.ix.NotifyTransfer(ctx, f.transfer.ID, 2)
	require.Equal(t, StatusOK, res.Status(), res.String())
	assert.Empty(t, f.queue.named(JobNotifyTransfer))

	logs, err = f.store.NotificationLogs(ctx, f.transfer.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	// Everyone has it now.
	res = f.ix.NotifyTransfer(ctx, f.transfer.ID, 1)
	assert.Equal(t, StatusSkipped, res.Status())
}

func TestNotifyTransferExhausted(t *testing.T) {
	f := newNotifyFixture(t, nil)
	ctx := context.Background()

	f.sender.EXPECT().Send(gomock.Any(), f.id("receiver"), gomock.Any()).Return(delivered())
	f.sender.EXPECT().Send(gomock.Any(), f.id("sender"), gomock.Any()).Return(refused()).Times(3)

	for attempt := 1; attempt <= 2; attempt++ {
		res := f.ix.NotifyTransfer(ctx, f.transfer.ID, attempt)
		require.Equal(t, StatusRetrying, res.Status(), res.String())
	}
	f.queue.reset()

	res := f.ix.NotifyTransfer(ctx, f.transfer.ID, 3)
	require.Equal(t, StatusExhausted, res.Status(), res.String())
	assert.Empty(t, f.queue.named(JobNotifyTransfer), "no retry after the last attempt")

	failed, err := f.store.FailedNotifications(ctx, f.transfer.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, f.subs["sender"].ID, failed[0].SubscriptionID)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Contains(t, failed[0].Error, "503")
}

func TestNotifyTransferRetryEnqueueFails(t *testing.T) {
	f := newNotifyFixture(t, nil)
	ctx := context.Background()

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(refused()).Times(2)
	f.queue.err = errors.New("queue down")

	res := f.ix.NotifyTransfer(ctx, f.transfer.ID, 1)
	assert.Equal(t, StatusExhausted, res.Status())

	failed, err := f.store.FailedNotifications(ctx, f.transfer.ID)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestNotifyTransferPayload(t *testing.T) {
	tokenAddr := token
	f := newNotifyFixture(t, &tokenAddr)
	ctx := context.Background()
	f.chain.tokens[token] = &chainTokenFixture

	var payloads []*notify.Payload
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sub *database.Subscription, p *notify.Payload) (*notify.Delivery, error) {
			payloads = append(payloads, p)
			return delivered()
		}).Times(2)

	res := f.ix.NotifyTransfer(ctx, f.transfer.ID, 1)
	require.Equal(t, StatusOK, res.Status(), res.String())
	require.Len(t, payloads, 2)

	p := payloads[0]
	assert.Equal(t, notify.EventTransactionTransfer, p.EventType)
	assert.Equal(t, fmt.Sprintf("%d-%d", f.transfer.ID, f.subs["receiver"].ID), p.ID)
	assert.Equal(t, txHash(1), p.Data.Txid)
	require.NotNil(t, p.Data.BlockNumber)
	assert.EqualValues(t, 5, *p.Data.BlockNumber)
	require.NotNil(t, p.Data.Token)
	assert.Equal(t, "Smart Token", p.Data.Token.Name)
	assert.Equal(t, "SMT", p.Data.Token.Symbol)
	assert.EqualValues(t, 18, p.Data.Token.Decimals)

	cached, err := f.store.GetTokenContract(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "SMT", cached.Symbol)
	assert.Equal(t, 1, f.chain.metaCalls)
}

func TestNotifyTransferTokenMetadataBestEffort(t *testing.T) {
	tokenAddr := token
	f := newNotifyFixture(t, &tokenAddr)
	ctx := context.Background()

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ *database.Subscription, p *notify.Payload) (*notify.Delivery, error) {
			require.NotNil(t, p.Data.Token)
			assert.Equal(t, token, p.Data.Token.Address)
			assert.Empty(t, p.Data.Token.Symbol)
			return delivered()
		}).Times(2)

	res := f.ix.NotifyTransfer(ctx, f.transfer.ID, 1)
	require.Equal(t, StatusOK, res.Status(), res.String())

	_, err := f.store.GetTokenContract(ctx, token)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestNotifyTransferMissing(t *testing.T) {
	f := newNotifyFixture(t, nil)

	res := f.ix.NotifyTransfer(context.Background(), 999, 1)
	assert.Equal(t, StatusNotFound, res.Status())
	assert.Equal(t, "transaction_transfer with id 999 does not exist", res.String())
}

func TestNotifyTransaction(t *testing.T) {
	f := newNotifyFixture(t, nil)
	ctx := context.Background()

	res := f.ix.NotifyTransaction(ctx, txHash(1))
	require.Equal(t, StatusOK, res.Status(), res.String())
	assert.Equal(t,
		[]NotifyTransferArgs{{TransferID: f.transfer.ID, Attempt: 1}},
		decodeArgs[NotifyTransferArgs](t, f.queue.named(JobNotifyTransfer)))

	res = f.ix.NotifyTransaction(ctx, txHash(2))
	assert.Equal(t, StatusNotFound, res.Status())

	f.queue.reset()
	res = f.ix.NotifyTransaction(ctx, "0x1234")
	assert.Equal(t, StatusInvalid, res.Status())
	assert.Equal(t, "invalid_txid: 0x1234", res.String())
	assert.Empty(t, f.queue.named(JobNotifyTransfer))
}
