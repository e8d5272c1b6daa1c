package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = gorm.ErrRecordNotFound

// Store is the gorm backed record store used by the indexer jobs.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// MaxBlockNumber returns the highest stored block number. ok is false when
// no block is stored yet.
func (s *Store) MaxBlockNumber(ctx context.Context) (n uint64, ok bool, err error) {
	var res struct {
		MaxBlock *uint64
	}
	err = s.db.WithContext(ctx).Model(&Block{}).Select("MAX(block_number) AS max_block").Scan(&res).Error
	if err != nil {
		return 0, false, errors.Wrap(err, "MaxBlockNumber")
	}
	if res.MaxBlock == nil {
		return 0, false, nil
	}
	return *res.MaxBlock, true, nil
}

// CreateBlocks inserts unprocessed rows for [start, end] in ascending order.
// Existing block numbers are ignored. Returns the number of rows inserted.
func (s *Store) CreateBlocks(ctx context.Context, start, end uint64) (int64, error) {
	var created int64
	for chunkStart := start; chunkStart <= end; {
		chunkEnd := min(end, chunkStart+uint64(DBTransactionBatchesSize)-1)

		blocks := make([]Block, 0, chunkEnd-chunkStart+1)
		for n := chunkStart; n <= chunkEnd; n++ {
			blocks = append(blocks, Block{BlockNumber: n})
		}

		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&blocks)
		if res.Error != nil {
			return created, errors.Wrap(res.Error, "CreateBlocks")
		}
		created += res.RowsAffected

		if chunkEnd == end {
			break
		}
		chunkStart = chunkEnd + 1
	}
	return created, nil
}

// UnprocessedBlocks returns up to limit unprocessed blocks not in exclude,
// oldest first.
func (s *Store) UnprocessedBlocks(ctx context.Context, exclude []uint64, limit int) ([]Block, error) {
	q := s.db.WithContext(ctx).Where("processed = ?", false)
	if len(exclude) > 0 {
		q = q.Where("block_number NOT IN ?", exclude)
	}

	var blocks []Block
	err := q.Order("block_number ASC").Limit(limit).Find(&blocks).Error
	if err != nil {
		return nil, errors.Wrap(err, "UnprocessedBlocks")
	}
	return blocks, nil
}

func (s *Store) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	var block Block
	err := s.db.WithContext(ctx).Where("block_number = ?", number).First(&block).Error
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (s *Store) GetOrCreateBlock(ctx context.Context, number uint64) (*Block, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&Block{BlockNumber: number}).Error
	if err != nil {
		return nil, errors.Wrap(err, "GetOrCreateBlock")
	}
	return s.GetBlock(ctx, number)
}

// SaveBlockTransactions stores the transactions of a block and marks it
// processed in one database transaction. Known txids only get their block
// number updated.
func (s *Store) SaveBlockTransactions(ctx context.Context, number uint64, txs []Transaction) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(txs) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "txid"}},
				DoUpdates: clause.AssignmentColumns([]string{"block_number"}),
			}).Create(&txs).Error
			if err != nil {
				return errors.Wrap(err, "SaveBlockTransactions: transactions")
			}
		}

		now := time.Now()
		res := tx.Model(&Block{}).Where("block_number = ? AND processed = ?", number, false).Updates(map[string]interface{}{
			"processed":         true,
			"transaction_count": len(txs),
			"updated_at":        &now,
		})
		if res.Error != nil {
			return errors.Wrap(res.Error, "SaveBlockTransactions: block")
		}
		if res.RowsAffected > 0 {
			return nil
		}

		// already processed, updated_at keeps the first transition
		var block Block
		if err := tx.Where("block_number = ?", number).First(&block).Error; err != nil {
			return errors.Wrapf(err, "SaveBlockTransactions: block %d", number)
		}
		if block.TransactionCount == len(txs) {
			return nil
		}
		err := tx.Model(&block).UpdateColumn("transaction_count", len(txs)).Error
		return errors.Wrap(err, "SaveBlockTransactions: block")
	})
}

func (s *Store) BlockTransactionIDs(ctx context.Context, number uint64) ([]string, error) {
	var txids []string
	err := s.db.WithContext(ctx).Model(&Transaction{}).
		Where("block_number = ?", number).
		Order("id ASC").
		Pluck("txid", &txids).Error
	if err != nil {
		return nil, errors.Wrap(err, "BlockTransactionIDs")
	}
	return txids, nil
}

// SaveTransaction inserts tx unless its txid is already known and returns
// the stored row.
func (s *Store) SaveTransaction(ctx context.Context, tx *Transaction) (*Transaction, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(tx).Error
	if err != nil {
		return nil, errors.Wrap(err, "SaveTransaction")
	}
	return s.GetTransaction(ctx, tx.Txid)
}

func (s *Store) GetTransaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	err := s.db.WithContext(ctx).Where("txid = ?", txid).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// SaveTransfers inserts transfers, ignoring (txid, log index) pairs already
// stored, and returns every transfer of the transaction.
func (s *Store) SaveTransfers(ctx context.Context, txid string, transfers []TransactionTransfer) ([]TransactionTransfer, error) {
	if len(transfers) > 0 {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&transfers).Error
		if err != nil {
			return nil, errors.Wrap(err, "SaveTransfers")
		}
	}
	return s.TransactionTransfers(ctx, txid)
}

func (s *Store) TransactionTransfers(ctx context.Context, txid string) ([]TransactionTransfer, error) {
	var transfers []TransactionTransfer
	err := s.db.WithContext(ctx).Where("txid = ?", txid).Order("log_index ASC").Find(&transfers).Error
	if err != nil {
		return nil, errors.Wrap(err, "TransactionTransfers")
	}
	return transfers, nil
}

func (s *Store) GetTransfer(ctx context.Context, id uint64) (*TransactionTransfer, error) {
	var transfer TransactionTransfer
	err := s.db.WithContext(ctx).First(&transfer, id).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// UnsentValidSubscriptions returns the active subscriptions watching one of
// the transfer's addresses, for its token or for any token, that have no
// delivery log for the transfer yet.
func (s *Store) UnsentValidSubscriptions(ctx context.Context, transfer *TransactionTransfer) ([]Subscription, error) {
	db := s.db.WithContext(ctx)

	delivered := db.Model(&NotificationLog{}).
		Select("1").
		Where("notification_logs.subscription_id = subscriptions.id AND notification_logs.transfer_id = ?", transfer.ID)

	q := db.Where("active = ?", true).
		Where("address IN ?", []string{transfer.FromAddress, transfer.ToAddress}).
		Where("NOT EXISTS (?)", delivered)
	if transfer.TokenContract != nil {
		q = q.Where("(token_address IS NULL OR token_address = ?)", *transfer.TokenContract)
	} else {
		q = q.Where("token_address IS NULL")
	}

	var subs []Subscription
	if err := q.Order("id ASC").Find(&subs).Error; err != nil {
		return nil, errors.Wrap(err, "UnsentValidSubscriptions")
	}
	return subs, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *Subscription) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(sub).Error, "CreateSubscription")
}

// CreateNotificationLog records a delivery. A concurrent duplicate for the
// same (subscription, transfer) is ignored.
func (s *Store) CreateNotificationLog(ctx context.Context, log *NotificationLog) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(log).Error
	if err != nil {
		return errors.Wrap(err, "CreateNotificationLog")
	}
	return nil
}

func (s *Store) NotificationLogs(ctx context.Context, transferID uint64) ([]NotificationLog, error) {
	var logs []NotificationLog
	err := s.db.WithContext(ctx).Where("transfer_id = ?", transferID).Order("id ASC").Find(&logs).Error
	if err != nil {
		return nil, errors.Wrap(err, "NotificationLogs")
	}
	return logs, nil
}

func (s *Store) CreateFailedNotifications(ctx context.Context, failed []FailedNotification) error {
	if len(failed) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "transfer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"attempts", "error"}),
	}).Create(&failed).Error
	if err != nil {
		return errors.Wrap(err, "CreateFailedNotifications")
	}
	return nil
}

func (s *Store) FailedNotifications(ctx context.Context, transferID uint64) ([]FailedNotification, error) {
	var failed []FailedNotification
	err := s.db.WithContext(ctx).Where("transfer_id = ?", transferID).Order("id ASC").Find(&failed).Error
	if err != nil {
		return nil, errors.Wrap(err, "FailedNotifications")
	}
	return failed, nil
}

// ProcessedBlockRange returns the lowest and highest processed block
// numbers. ok is false when no block has been processed.
func (s *Store) ProcessedBlockRange(ctx context.Context) (lo, hi uint64, ok bool, err error) {
	var res struct {
		MinBlock *uint64
		MaxBlock *uint64
	}
	err = s.db.WithContext(ctx).Model(&Block{}).
		Where("processed = ?", true).
		Select("MIN(block_number) AS min_block, MAX(block_number) AS max_block").
		Scan(&res).Error
	if err != nil {
		return 0, 0, false, errors.Wrap(err, "ProcessedBlockRange")
	}
	if res.MinBlock == nil || res.MaxBlock == nil {
		return 0, 0, false, nil
	}
	return *res.MinBlock, *res.MaxBlock, true, nil
}

func (s *Store) GetTokenContract(ctx context.Context, address string) (*TokenContract, error) {
	var token TokenContract
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) SaveTokenContract(ctx context.Context, token *TokenContract) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "symbol", "decimals", "updated_at"}),
	}).Create(token).Error
	if err != nil {
		return errors.Wrap(err, "SaveTokenContract")
	}
	return nil
}
