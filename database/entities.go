package database

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	SourceBlockParser     = "block_parser"
	SourceAddressBackfill = "address_backfill"

	// NativeLogIndex marks the transfer of the transaction's own value.
	NativeLogIndex int64 = -1

	OutcomeSent = "sent"
)

// BaseEntity is an abstract entity, all other entities should be derived from it
type BaseEntity struct {
	ID uint64 `gorm:"primaryKey"`
}

type Block struct {
	BaseEntity
	BlockNumber      uint64 `gorm:"uniqueIndex"`
	TransactionCount int
	Processed        bool `gorm:"index"`
	CreatedAt        time.Time
	// Only set when the block is marked processed.
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false"`
}

type Transaction struct {
	BaseEntity
	Txid         string  `gorm:"type:varchar(66);uniqueIndex"`
	BlockNumber  *uint64 `gorm:"index"`
	FromAddress  string  `gorm:"type:varchar(42);index"`
	ToAddress    string  `gorm:"type:varchar(42);index"`
	Amount       string  `gorm:"type:varchar(78)"` // wei
	Acknowledged bool
	Source       string `gorm:"type:varchar(32)"`
	CreatedAt    time.Time
}

type TransactionTransfer struct {
	BaseEntity
	Txid          string  `gorm:"type:varchar(66);uniqueIndex:idx_transfer_log"`
	LogIndex      int64   `gorm:"uniqueIndex:idx_transfer_log"`
	TokenContract *string `gorm:"type:varchar(42);index"` // nil for native value
	FromAddress   string  `gorm:"type:varchar(42);index"`
	ToAddress     string  `gorm:"type:varchar(42);index"`
	Amount        string  `gorm:"type:varchar(78)"`
	TokenID       *string `gorm:"type:varchar(78)"` // ERC-721 only
	CreatedAt     time.Time
}

func (t *TransactionTransfer) IsNative() bool {
	return t.TokenContract == nil
}

type Subscription struct {
	BaseEntity
	SubscriberID  string  `gorm:"type:varchar(64);index"`
	Address       string  `gorm:"type:varchar(42);index"`
	TokenAddress  *string `gorm:"type:varchar(42)"` // nil watches every token
	WebhookURL    string  `gorm:"type:varchar(512)"`
	WebhookSecret string  `gorm:"type:varchar(128)"`
	Active        bool    `gorm:"index"`
	CreatedAt     time.Time
}

func (s *Subscription) BeforeSave(*gorm.DB) error {
	s.Address = strings.ToLower(s.Address)
	if s.TokenAddress != nil {
		lower := strings.ToLower(*s.TokenAddress)
		s.TokenAddress = &lower
	}
	return nil
}

type NotificationLog struct {
	BaseEntity
	SubscriptionID uint64 `gorm:"uniqueIndex:idx_notification_delivery"`
	TransferID     uint64 `gorm:"uniqueIndex:idx_notification_delivery"`
	Outcome        string `gorm:"type:varchar(32)"`
	StatusCode     int
	SentAt         time.Time
}

// FailedNotification is written when a subscription is still unsent after
// the last delivery attempt for a transfer.
type FailedNotification struct {
	BaseEntity
	SubscriptionID uint64 `gorm:"uniqueIndex:idx_failed_delivery"`
	TransferID     uint64 `gorm:"uniqueIndex:idx_failed_delivery"`
	Attempts       int
	Error          string `gorm:"type:varchar(1024)"`
	CreatedAt      time.Time
}

type TokenContract struct {
	BaseEntity
	Address   string `gorm:"type:varchar(42);uniqueIndex"`
	Name      string `gorm:"type:varchar(255)"`
	Symbol    string `gorm:"type:varchar(64)"`
	Decimals  uint8
	UpdatedAt time.Time
}
