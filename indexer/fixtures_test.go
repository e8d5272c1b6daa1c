package indexer

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"sync"
	"testing"
	"time"

	"smartbch-indexer/chain"
	"smartbch-indexer/claims"
	"smartbch-indexer/config"
	"smartbch-indexer/database"
	"smartbch-indexer/indexer/abi"
	"smartbch-indexer/queue"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
	carol = "0x00000000000000000000000000000000000ca401"
	token = "0x00000000000000000000000000000000000000aa"
)

func txHash(n int) string {
	return common.BigToHash(big.NewInt(int64(n))).Hex()
}

// fakeChain serves blocks and transactions from memory.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	blocks   map[uint64]*chain.BlockData
	txs      map[string]*chain.TxData
	activity map[uint64][]string
	tokens   map[string]*chain.TokenMetadata

	blockErr  error
	blockHook func(number uint64)
	scanned   [][2]uint64
	metaCalls int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		blocks:   make(map[uint64]*chain.BlockData),
		txs:      make(map[string]*chain.TxData),
		activity: make(map[uint64][]string),
		tokens:   make(map[string]*chain.TokenMetadata),
	}
}

// addTx appends tx to block number and makes it fetchable by hash.
func (c *fakeChain) addTx(number uint64, tx chain.TxData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := number
	tx.BlockNumber = &n
	if tx.Value == nil {
		tx.Value = new(big.Int)
	}
	if tx.Status == 0 {
		tx.Status = 1
	}

	block, ok := c.blocks[number]
	if !ok {
		block = &chain.BlockData{Number: number, Timestamp: 1700000000 + number}
		c.blocks[number] = block
	}
	block.Transactions = append(block.Transactions, tx)
	c.txs[tx.Hash] = &tx
	c.head = max(c.head, number)
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *fakeChain) Block(_ context.Context, number uint64) (*chain.BlockData, error) {
	c.mu.Lock()
	hook, blockErr := c.blockHook, c.blockErr
	c.mu.Unlock()

	if hook != nil {
		hook(number)
	}
	if blockErr != nil {
		return nil, blockErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[number]; ok {
		return b, nil
	}
	if number <= c.head {
		return &chain.BlockData{Number: number}, nil
	}
	return nil, errors.Wrapf(chain.ErrNotFound, "block %d", number)
}

func (c *fakeChain) Transaction(_ context.Context, hash string) (*chain.TxData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.txs[hash]; ok {
		return tx, nil
	}
	return nil, errors.Wrapf(chain.ErrNotFound, "tx %s", hash)
}

func (c *fakeChain) AddressActivity(_ context.Context, _ string, from, to, partition uint64) iter.Seq2[chain.ActivityBatch, error] {
	c.mu.Lock()
	c.scanned = append(c.scanned, [2]uint64{from, to})
	c.mu.Unlock()

	return func(yield func(chain.ActivityBatch, error) bool) {
		for start := from; start <= to; start += partition {
			end := min(start+partition-1, to)
			batch := chain.ActivityBatch{FromBlock: start, ToBlock: end}
			c.mu.Lock()
			for n := start; n <= end; n++ {
				batch.TxHashes = append(batch.TxHashes, c.activity[n]...)
			}
			c.mu.Unlock()
			if !yield(batch, nil) || end == to {
				return
			}
		}
	}
}

func (c *fakeChain) TokenMetadata(_ context.Context, address string) (*chain.TokenMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metaCalls++
	if meta, ok := c.tokens[address]; ok {
		return meta, nil
	}
	return nil, fmt.Errorf("execution reverted")
}

func erc20Log(contract, from, to string, amount int64, index uint) chain.Log {
	return chain.Log{
		Address: common.HexToAddress(contract),
		Topics: []common.Hash{
			abi.TransferEventID,
			abi.AddressTopic(common.HexToAddress(from)),
			abi.AddressTopic(common.HexToAddress(to)),
		},
		Data:  common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		Index: index,
	}
}

func erc721Log(contract, from, to string, tokenID int64, index uint) chain.Log {
	return chain.Log{
		Address: common.HexToAddress(contract),
		Topics: []common.Hash{
			abi.TransferEventID,
			abi.AddressTopic(common.HexToAddress(from)),
			abi.AddressTopic(common.HexToAddress(to)),
			common.BigToHash(big.NewInt(tokenID)),
		},
		Index: index,
	}
}

type enqueued struct {
	job   *queue.Job
	delay time.Duration
}

// recordingQueue keeps enqueued jobs for inspection.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, enqueued{job: job, delay: delay})
	return nil
}

func (q *recordingQueue) named(name string) []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []enqueued
	for _, e := range q.jobs {
		if e.job.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
}

func decodeArgs[T any](t *testing.T, jobs []enqueued) []T {
	t.Helper()
	out := make([]T, 0, len(jobs))
	for _, e := range jobs {
		var args T
		require.NoError(t, e.job.Decode(&args))
		out = append(out, args)
	}
	return out
}

type fixture struct {
	ix       *Indexer
	store    *database.Store
	chain    *fakeChain
	queue    *recordingQueue
	registry *claims.MemoryRegistry
	cfg      *config.Config
}

func newFixture(t *testing.T, sender Sender) *fixture {
	t.Helper()

	db, err := database.ConnectTestDB(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Indexer: config.IndexerConfig{
			BlocksPerTask:     5,
			BackfillWindow:    250,
			BackfillPartition: 10,
		},
		Notifications: config.NotificationConfig{
			MaxAttempts:      3,
			RetryDelayMillis: 3000,
		},
	}

	f := &fixture{
		store:    database.NewStore(db),
		chain:    newFakeChain(),
		queue:    &recordingQueue{},
		registry: claims.NewMemoryRegistry(),
		cfg:      cfg,
	}
	f.ix = New(cfg, f.store, f.chain, f.registry, f.queue, sender)
	f.ix.now = func() time.Time { return time.Unix(1700000000, 0) }
	return f
}

var chainTokenFixture = chain.TokenMetadata{Name: "Smart Token", Symbol: "SMT", Decimals: 18}
