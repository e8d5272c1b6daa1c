package chain

import (
	"context"
	"iter"
	"math/big"
	"strings"

	"smartbch-indexer/boff"
	"smartbch-indexer/config"
	"smartbch-indexer/indexer/abi"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// TxData is a transaction as seen by the pipeline. Receipt derived fields
// (Status, Logs) are only filled by Reader.Transaction.
type TxData struct {
	Hash        string
	BlockNumber *uint64
	From        string
	To          string
	Value       *big.Int
	Status      uint64
	Logs        []Log
}

type BlockData struct {
	Number       uint64
	Timestamp    uint64
	Transactions []TxData
}

// ActivityBatch holds the transactions touching an address inside one
// partition of a crawl window.
type ActivityBatch struct {
	FromBlock uint64
	ToBlock   uint64
	TxHashes  []string
}

type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

type Reader struct {
	client  *Client
	limiter *rate.Limiter
	source  string
}

func NewReader(client *Client, cfg config.ChainConfig) *Reader {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	source := cfg.ActivitySource
	if source == "" {
		source = config.ActivitySourceLogs
	}

	return &Reader{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		source:  source,
	}
}

// attempt wraps op with the rate limiter and the per-request timeout.
// ErrNotFound is marked permanent.
func attempt[T any](ctx context.Context, r *Reader, op func(context.Context) (T, error)) func() (T, error) {
	return func() (T, error) {
		var zero T
		if err := r.limiter.Wait(ctx); err != nil {
			return zero, boff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()

		res, err := op(reqCtx)
		if errors.Is(err, ErrNotFound) {
			return zero, boff.Permanent(err)
		}
		return res, err
	}
}

// request retries transient failures of op until config.BackoffMaxElapsedTime.
func request[T any](ctx context.Context, r *Reader, name string, op func(context.Context) (T, error)) (T, error) {
	return boff.RetryWithMaxElapsed(ctx, attempt(ctx, r, op), name)
}

func (r *Reader) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return request(ctx, r, "LatestBlockNumber", r.client.BlockNumber)
}

func (r *Reader) Block(ctx context.Context, number uint64) (*BlockData, error) {
	block, err := request(ctx, r, "BlockByNumber", func(ctx context.Context) (*Block, error) {
		return r.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Block(%d)", number)
	}

	txs := block.Transactions()
	data := &BlockData{
		Number:       block.Number().Uint64(),
		Timestamp:    block.Time(),
		Transactions: make([]TxData, 0, len(txs)),
	}
	for _, tx := range txs {
		txData, err := newTxData(tx)
		if err != nil {
			return nil, errors.Wrapf(err, "Block(%d)", number)
		}
		bn := data.Number
		txData.BlockNumber = &bn
		data.Transactions = append(data.Transactions, *txData)
	}

	return data, nil
}

// Transaction fetches a transaction with its receipt. Pending transactions
// are returned without a block number or logs.
func (r *Reader) Transaction(ctx context.Context, hash string) (*TxData, error) {
	if !ValidTxHash(hash) {
		return nil, errors.Errorf("invalid transaction hash %q", hash)
	}
	txHash := common.HexToHash(hash)

	type txResult struct {
		tx      *Transaction
		pending bool
	}
	res, err := request(ctx, r, "TransactionByHash", func(ctx context.Context) (txResult, error) {
		tx, pending, err := r.client.TransactionByHash(ctx, txHash)
		return txResult{tx: tx, pending: pending}, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Transaction(%s)", hash)
	}

	txData, err := newTxData(res.tx)
	if err != nil {
		return nil, errors.Wrapf(err, "Transaction(%s)", hash)
	}
	if res.pending {
		return txData, nil
	}

	receipt, err := request(ctx, r, "TransactionReceipt", func(ctx context.Context) (*Receipt, error) {
		return r.client.TransactionReceipt(ctx, txHash)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "Transaction(%s) receipt", hash)
	}

	if bn := receipt.BlockNumber(); bn != nil {
		n := bn.Uint64()
		txData.BlockNumber = &n
	}
	txData.Status = receipt.Status()
	txData.Logs = receipt.Logs()

	return txData, nil
}

// AddressActivity lazily scans [from, to] in partitions of partition blocks,
// yielding one batch per partition. A failed partition is yielded with its
// error and the caller decides whether to keep pulling.
func (r *Reader) AddressActivity(ctx context.Context, address string, from, to, partition uint64) iter.Seq2[ActivityBatch, error] {
	if partition == 0 {
		partition = 1
	}
	addr := common.HexToAddress(address)

	return func(yield func(ActivityBatch, error) bool) {
		for start := from; start <= to; start += partition {
			end := min(start+partition-1, to)

			batch := ActivityBatch{FromBlock: start, ToBlock: end}
			hashes, err := r.activity(ctx, addr, start, end)
			batch.TxHashes = hashes

			if !yield(batch, err) {
				return
			}
			if end == to {
				return
			}
		}
	}
}

func (r *Reader) activity(ctx context.Context, addr common.Address, from, to uint64) ([]string, error) {
	switch r.source {
	case config.ActivitySourceSbch:
		return r.sbchActivity(ctx, addr, from, to)
	default:
		return r.logActivity(ctx, addr, from, to)
	}
}

// logActivity finds Transfer logs where the address is the sender or the
// recipient.
func (r *Reader) logActivity(ctx context.Context, addr common.Address, from, to uint64) ([]string, error) {
	topic := abi.AddressTopic(addr)
	queries := []ethereum.FilterQuery{
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{{abi.TransferEventID}, {topic}},
		},
		{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Topics:    [][]common.Hash{{abi.TransferEventID}, nil, {topic}},
		},
	}

	var hashes []string
	seen := make(map[common.Hash]bool)
	for _, q := range queries {
		logs, err := request(ctx, r, "FilterLogs", func(ctx context.Context) ([]Log, error) {
			return r.client.FilterLogs(ctx, q)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "logActivity(%d, %d)", from, to)
		}
		for _, l := range logs {
			if seen[l.TxHash] {
				continue
			}
			seen[l.TxHash] = true
			hashes = append(hashes, hexLower(l.TxHash.Hex()))
		}
	}

	return hashes, nil
}

type sbchTx struct {
	Hash common.Hash `json:"hash"`
}

// sbchActivity uses the smartBCH sbch_queryTxByAddr endpoint, which also
// reports plain value transfers.
func (r *Reader) sbchActivity(ctx context.Context, addr common.Address, from, to uint64) ([]string, error) {
	txs, err := request(ctx, r, "sbch_queryTxByAddr", func(ctx context.Context) ([]sbchTx, error) {
		var txs []sbchTx
		err := r.client.CallContext(ctx, &txs, "sbch_queryTxByAddr", addr, hexutil.Uint64(from), hexutil.Uint64(to), hexutil.Uint64(0))
		return txs, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sbchActivity(%d, %d)", from, to)
	}

	hashes := make([]string, 0, len(txs))
	seen := make(map[common.Hash]bool, len(txs))
	for _, tx := range txs {
		if seen[tx.Hash] {
			continue
		}
		seen[tx.Hash] = true
		hashes = append(hashes, hexLower(tx.Hash.Hex()))
	}
	return hashes, nil
}

const metadataTries = 3

// TokenMetadata reads name, symbol and decimals of a token contract. ERC-721
// contracts have no decimals, which is reported as zero. Calls give up after
// a few tries since a reverting contract never recovers.
func (r *Reader) TokenMetadata(ctx context.Context, address string) (*TokenMetadata, error) {
	contract := common.HexToAddress(address)

	call := func(method string) ([]byte, error) {
		data, err := abi.PackCall(method)
		if err != nil {
			return nil, err
		}
		return boff.RetryWithMaxTries(ctx, attempt(ctx, r, func(ctx context.Context) ([]byte, error) {
			return r.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		}), "CallContract."+method, metadataTries)
	}

	meta := new(TokenMetadata)

	out, err := call(abi.MethodName)
	if err != nil {
		return nil, errors.Wrapf(err, "TokenMetadata(%s) name", address)
	}
	if meta.Name, err = abi.UnpackString(abi.MethodName, out); err != nil {
		return nil, errors.Wrapf(err, "TokenMetadata(%s) name", address)
	}

	out, err = call(abi.MethodSymbol)
	if err != nil {
		return nil, errors.Wrapf(err, "TokenMetadata(%s) symbol", address)
	}
	if meta.Symbol, err = abi.UnpackString(abi.MethodSymbol, out); err != nil {
		return nil, errors.Wrapf(err, "TokenMetadata(%s) symbol", address)
	}

	if out, err = call(abi.MethodDecimals); err == nil {
		if d, err := abi.UnpackDecimals(out); err == nil {
			meta.Decimals = d
		}
	}

	return meta, nil
}

func newTxData(tx *Transaction) (*TxData, error) {
	from, err := tx.FromAddress()
	if err != nil {
		return nil, errors.Wrap(err, "sender")
	}

	data := &TxData{
		Hash:  hexLower(tx.Hash().Hex()),
		From:  hexLower(from.Hex()),
		Value: tx.Value(),
	}
	if to := tx.To(); to != nil {
		data.To = hexLower(to.Hex())
	}
	return data, nil
}

func hexLower(s string) string {
	return strings.ToLower(s)
}

// ValidTxHash reports whether s is a 0x prefixed 32 byte hex string.
func ValidTxHash(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	b, err := hexutil.Decode("0x" + s[2:])
	return err == nil && len(b) == common.HashLength
}
