package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smartbch-indexer/config"
	"smartbch-indexer/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() *Payload {
	block := uint64(12)
	return &Payload{
		ID:        "transfer-1-sub-2",
		EventType: EventTransactionTransfer,
		Timestamp: time.Unix(1700000000, 0).UTC().Format(time.RFC3339),
		Data: TransferData{
			SubscriptionID: 2,
			TransferID:     1,
			Txid:           "0xabc",
			BlockNumber:    &block,
			LogIndex:       database.NativeLogIndex,
			From:           "0x01",
			To:             "0x02",
			Amount:         "1000",
		},
	}
}

func TestWebhookSenderSignsPayload(t *testing.T) {
	var (
		body   []byte
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		header = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(config.NotificationConfig{WebhookTimeoutMillis: 1000})
	sub := &database.Subscription{WebhookURL: srv.URL, WebhookSecret: "s3cret"}
	sub.ID = 2

	delivery, err := sender.Send(context.Background(), sub, testPayload())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, delivery.StatusCode)

	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, EventTransactionTransfer, header.Get("X-Event-Type"))
	assert.True(t, VerifySignature(body, header.Get("X-Signature-256"), "s3cret"))
	assert.False(t, VerifySignature(body, header.Get("X-Signature-256"), "other"))

	var got Payload
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, *testPayload(), got)
}

func TestWebhookSenderNoSecret(t *testing.T) {
	var signed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed = r.Header.Get("X-Custom-Sig") != ""
	}))
	defer srv.Close()

	sender := NewWebhookSender(config.NotificationConfig{WebhookTimeoutMillis: 1000, SignatureHeader: "X-Custom-Sig"})
	_, err := sender.Send(context.Background(), &database.Subscription{WebhookURL: srv.URL}, testPayload())
	require.NoError(t, err)
	assert.False(t, signed)
}

func TestWebhookSenderFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(300 * time.Millisecond)
			return
		}
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(config.NotificationConfig{WebhookTimeoutMillis: 100})
	ctx := context.Background()

	delivery, err := sender.Send(ctx, &database.Subscription{WebhookURL: srv.URL}, testPayload())
	require.Error(t, err)
	require.NotNil(t, delivery)
	assert.Equal(t, http.StatusBadGateway, delivery.StatusCode)
	assert.Contains(t, delivery.Response, "nope")

	_, err = sender.Send(ctx, &database.Subscription{WebhookURL: srv.URL + "/slow"}, testPayload())
	require.Error(t, err)

	_, err = sender.Send(ctx, &database.Subscription{WebhookURL: "://bad"}, testPayload())
	require.Error(t, err)
}
