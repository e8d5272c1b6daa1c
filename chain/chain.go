package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"smartbch-indexer/logger"

	avxClient "github.com/ava-labs/coreth/ethclient"
	"github.com/ava-labs/coreth/interfaces"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethClient "github.com/ethereum/go-ethereum/ethclient"

	avxTypes "github.com/ava-labs/coreth/core/types"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainID represents the external chain ID which identifies a particular
// blockchain network.
type ChainID int

const (
	ChainIDSmartBCH        ChainID = 10000
	ChainIDSmartBCHTestnet ChainID = 10001
)

func ChainIDFromBigInt(chainID *big.Int) ChainID {
	return ChainID(chainID.Int64())
}

func (id ChainID) IsSmartBCH() bool {
	return id == ChainIDSmartBCH || id == ChainIDSmartBCHTestnet
}

// ChainType is an internal type used to differentiate between different
// types of EVM-compatible chains.
type ChainType int

const (
	ChainTypeAvax ChainType = iota + 1 // Add 1 to skip 0 - avoids the zero value defaulting to Avax
	ChainTypeEth
)

var (
	ErrNotFound     = errors.New("not found")
	errInvalidChain = errors.New("invalid chain")
)

func ParseChainType(s string) (ChainType, error) {
	switch strings.ToLower(s) {
	case "", "eth":
		return ChainTypeEth, nil
	case "avax":
		return ChainTypeAvax, nil
	default:
		return 0, fmt.Errorf("unknown chain type %q", s)
	}
}

func (t ChainType) String() string {
	switch t {
	case ChainTypeAvax:
		return "avax"
	case ChainTypeEth:
		return "eth"
	default:
		return fmt.Sprintf("ChainType(%d)", int(t))
	}
}

type Client struct {
	chain ChainType
	eth   *ethClient.Client
	avx   avxClient.Client
}

type Block struct {
	chain ChainType
	eth   *ethTypes.Block
	avx   *avxTypes.Block
}

type Receipt struct {
	chain ChainType
	eth   *ethTypes.Receipt
	avx   *avxTypes.Receipt
}

type Transaction struct {
	chain ChainType
	eth   *ethTypes.Transaction
	avx   *avxTypes.Transaction
}

// Log is a chain-independent copy of a receipt or filter log.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint
}

func DialRPCNode(nodeURL *url.URL, chainType ChainType) (*Client, error) {
	c := &Client{chain: chainType}
	var err error

	switch c.chain {
	case ChainTypeAvax:
		c.avx, err = avxClient.Dial(nodeURL.String())
	case ChainTypeEth:
		c.eth, err = ethClient.Dial(nodeURL.String())
	default:
		return nil, errInvalidChain
	}

	return c, err
}

func (c *Client) Type() ChainType {
	return c.chain
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	switch c.chain {
	case ChainTypeAvax:
		return c.avx.ChainID(ctx)
	case ChainTypeEth:
		return c.eth.ChainID(ctx)
	default:
		return nil, errInvalidChain
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	switch c.chain {
	case ChainTypeAvax:
		return c.avx.BlockNumber(ctx)
	case ChainTypeEth:
		return c.eth.BlockNumber(ctx)
	default:
		return 0, errInvalidChain
	}
}

func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*Block, error) {
	block := &Block{chain: c.chain}
	var err error
	switch c.chain {
	case ChainTypeAvax:
		block.avx, err = c.avx.BlockByNumber(ctx, number)
	case ChainTypeEth:
		block.eth, err = c.eth.BlockByNumber(ctx, number)
	default:
		return nil, errInvalidChain
	}

	return block, notFound(err)
}

// TransactionByHash returns the transaction and whether it is still pending.
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*Transaction, bool, error) {
	tx := &Transaction{chain: c.chain}
	var (
		pending bool
		err     error
	)
	switch c.chain {
	case ChainTypeAvax:
		tx.avx, pending, err = c.avx.TransactionByHash(ctx, txHash)
	case ChainTypeEth:
		tx.eth, pending, err = c.eth.TransactionByHash(ctx, txHash)
	default:
		return nil, false, errInvalidChain
	}

	return tx, pending, notFound(err)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	receipt := &Receipt{chain: c.chain}
	var err error
	switch c.chain {
	case ChainTypeAvax:
		receipt.avx, err = c.avx.TransactionReceipt(ctx, txHash)
	case ChainTypeEth:
		receipt.eth, err = c.eth.TransactionReceipt(ctx, txHash)
	default:
		return nil, errInvalidChain
	}

	return receipt, notFound(err)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]Log, error) {
	switch c.chain {
	case ChainTypeAvax:
		avxLogs, err := c.avx.FilterLogs(ctx, interfaces.FilterQuery(q))
		if err != nil {
			return nil, err
		}
		logs := make([]Log, len(avxLogs))
		for i := range avxLogs {
			logs[i] = fromAvxLog(&avxLogs[i])
		}
		return logs, nil
	case ChainTypeEth:
		ethLogs, err := c.eth.FilterLogs(ctx, q)
		if err != nil {
			return nil, err
		}
		logs := make([]Log, len(ethLogs))
		for i := range ethLogs {
			logs[i] = fromEthLog(&ethLogs[i])
		}
		return logs, nil
	default:
		return nil, errInvalidChain
	}
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	switch c.chain {
	case ChainTypeAvax:
		return c.avx.CallContract(ctx, interfaces.CallMsg{From: msg.From, To: msg.To, Gas: msg.Gas, Value: msg.Value, Data: msg.Data}, blockNumber)
	case ChainTypeEth:
		return c.eth.CallContract(ctx, msg, blockNumber)
	default:
		return nil, errInvalidChain
	}
}

// CallContext issues a raw JSON-RPC request. Only plain EVM nodes expose the
// underlying rpc client, so node specific namespaces are unavailable on avax.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	switch c.chain {
	case ChainTypeEth:
		return c.eth.Client().CallContext(ctx, result, method, args...)
	default:
		return fmt.Errorf("%s is not supported on chain type %s", method, c.chain)
	}
}

func (c *Client) Close() {
	switch c.chain {
	case ChainTypeAvax:
		c.avx.Close()
	case ChainTypeEth:
		c.eth.Close()
	}
}

func notFound(err error) error {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, interfaces.NotFound) {
		return ErrNotFound
	}
	return err
}

func fromEthLog(l *ethTypes.Log) Log {
	return Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		Index:       l.Index,
	}
}

func fromAvxLog(l *avxTypes.Log) Log {
	return Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		Index:       l.Index,
	}
}

func (b *Block) Number() *big.Int {
	switch b.chain {
	case ChainTypeAvax:
		return b.avx.Number()
	case ChainTypeEth:
		return b.eth.Number()
	default:
		return nil
	}
}

func (b *Block) Time() uint64 {
	switch b.chain {
	case ChainTypeAvax:
		return b.avx.Time()
	case ChainTypeEth:
		return b.eth.Time()
	default:
		return 0
	}
}

func (b *Block) Transactions() []*Transaction {
	switch b.chain {
	case ChainTypeAvax:
		txsAvx := b.avx.Transactions()
		txs := make([]*Transaction, len(txsAvx))
		for i, e := range txsAvx {
			txs[i] = &Transaction{chain: b.chain, avx: e}
		}
		return txs
	case ChainTypeEth:
		txsEth := b.eth.Transactions()
		txs := make([]*Transaction, len(txsEth))
		for i, e := range txsEth {
			txs[i] = &Transaction{chain: b.chain, eth: e}
		}
		return txs
	default:
		return nil
	}
}

func (r *Receipt) Status() uint64 {
	switch r.chain {
	case ChainTypeAvax:
		return r.avx.Status
	case ChainTypeEth:
		return r.eth.Status
	default:
		return 0
	}
}

func (r *Receipt) BlockNumber() *big.Int {
	switch r.chain {
	case ChainTypeAvax:
		return r.avx.BlockNumber
	case ChainTypeEth:
		return r.eth.BlockNumber
	default:
		return nil
	}
}

func (r *Receipt) Logs() []Log {
	switch r.chain {
	case ChainTypeAvax:
		logs := make([]Log, len(r.avx.Logs))
		for i, e := range r.avx.Logs {
			logs[i] = fromAvxLog(e)
		}
		return logs
	case ChainTypeEth:
		logs := make([]Log, len(r.eth.Logs))
		for i, e := range r.eth.Logs {
			logs[i] = fromEthLog(e)
		}
		return logs
	default:
		return nil
	}
}

func (t *Transaction) Hash() common.Hash {
	switch t.chain {
	case ChainTypeAvax:
		return t.avx.Hash()
	case ChainTypeEth:
		return t.eth.Hash()
	default:
		return common.Hash{}
	}
}

func (t *Transaction) To() *common.Address {
	switch t.chain {
	case ChainTypeAvax:
		return t.avx.To()
	case ChainTypeEth:
		return t.eth.To()
	default:
		return nil
	}
}

func (t *Transaction) Value() *big.Int {
	switch t.chain {
	case ChainTypeAvax:
		return t.avx.Value()
	case ChainTypeEth:
		return t.eth.Value()
	default:
		return nil
	}
}

func (t *Transaction) FromAddress() (common.Address, error) {
	switch t.chain {
	case ChainTypeAvax:
		return avxTypes.Sender(avxTypes.LatestSignerForChainID(t.avx.ChainId()), t.avx)
	case ChainTypeEth:
		return ethTypes.Sender(ethTypes.LatestSignerForChainID(t.eth.ChainId()), t.eth)
	default:
		logger.Error("FromAddress called on unsupported chain type: %d", t.chain)
		return common.Address{}, errInvalidChain
	}
}
