package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"smartbch-indexer/config"
	"smartbch-indexer/database"
	"smartbch-indexer/logger"

	"github.com/pkg/errors"
)

const (
	EventTransactionTransfer = "transaction_transfer"

	defaultSignatureHeader = "X-Signature-256"
	maxResponseBody        = 10 * 1024
)

type Payload struct {
	ID        string       `json:"id"`
	EventType string       `json:"event_type"`
	Timestamp string       `json:"timestamp"`
	Data      TransferData `json:"data"`
}

type TransferData struct {
	SubscriptionID uint64     `json:"subscription_id"`
	TransferID     uint64     `json:"transfer_id"`
	Txid           string     `json:"txid"`
	BlockNumber    *uint64    `json:"block_number"`
	LogIndex       int64      `json:"log_index"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Amount         string     `json:"amount"`
	TokenID        *string    `json:"token_id,omitempty"`
	Token          *TokenData `json:"token,omitempty"`
}

type TokenData struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// Delivery describes an HTTP exchange with a subscriber endpoint. It is
// returned together with the error for non 2xx responses.
type Delivery struct {
	StatusCode int
	Duration   time.Duration
	SentAt     time.Time
	Response   string
}

type WebhookSender struct {
	client          *http.Client
	signatureHeader string
}

func NewWebhookSender(cfg config.NotificationConfig) *WebhookSender {
	header := cfg.SignatureHeader
	if header == "" {
		header = defaultSignatureHeader
	}
	return &WebhookSender{
		client: &http.Client{
			Timeout: cfg.WebhookTimeout(),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		signatureHeader: header,
	}
}

func (s *WebhookSender) Send(ctx context.Context, sub *database.Subscription, payload *Payload) (*Delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "subscription %d", sub.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "smartbch-indexer")
	req.Header.Set("X-Webhook-ID", payload.ID)
	req.Header.Set("X-Event-Type", payload.EventType)
	if sub.WebhookSecret != "" {
		req.Header.Set(s.signatureHeader, "sha256="+Sign(body, sub.WebhookSecret))
	}

	delivery := &Delivery{SentAt: time.Now()}
	resp, err := s.client.Do(req)
	delivery.Duration = time.Since(delivery.SentAt)
	if err != nil {
		return delivery, errors.Wrapf(err, "subscription %d", sub.ID)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	delivery.StatusCode = resp.StatusCode
	delivery.Response = string(respBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("webhook %s returned %d: %s", sub.WebhookURL, resp.StatusCode, delivery.Response)
		return delivery, fmt.Errorf("subscription %d: webhook returned status %d", sub.ID, resp.StatusCode)
	}
	return delivery, nil
}

// Sign returns the hex encoded HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value as produced by Send.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}
