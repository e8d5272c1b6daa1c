package indexer

import (
	"context"

	"smartbch-indexer/database"
	"smartbch-indexer/notify"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// Sender delivers a transfer notification to one subscriber.
type Sender interface {
	Send(ctx context.Context, sub *database.Subscription, payload *notify.Payload) (*notify.Delivery, error)
}

var _ Sender = (*notify.WebhookSender)(nil)
