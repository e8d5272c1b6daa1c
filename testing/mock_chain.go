package testing

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"

	"smartbch-indexer/indexer/abi"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/gorilla/mux"
)

const (
	MockChainID    = 10001
	blockTimeStart = 1700000000
)

// MockTx describes a transaction to include in a mock block.
type MockTx struct {
	From   *ecdsa.PrivateKey // defaults to the chain's funded account
	To     common.Address
	Value  *big.Int
	Failed bool
	Logs   []MockLog
}

type MockLog struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

type TokenInfo struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// MockChain is an in-process JSON-RPC node serving the subset of the eth
// namespace used by the indexer, plus sbch_queryTxByAddr.
type MockChain struct {
	mu       sync.Mutex
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	nonces   map[common.Address]uint64
	head     uint64
	blocks   map[uint64]*types.Block
	receipts map[common.Hash]*types.Receipt
	txBlock  map[common.Hash]*types.Block
	tokens   map[common.Address]TokenInfo
	failures map[string]int
	calls    map[string]int

	server *httptest.Server
}

func NewMockChain() *MockChain {
	key, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	if err != nil {
		panic(err)
	}

	m := &MockChain{
		chainID:  big.NewInt(MockChainID),
		key:      key,
		nonces:   make(map[common.Address]uint64),
		blocks:   make(map[uint64]*types.Block),
		receipts: make(map[common.Hash]*types.Receipt),
		txBlock:  make(map[common.Hash]*types.Block),
		tokens:   make(map[common.Address]TokenInfo),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", m.handle).Methods(http.MethodPost)
	m.server = httptest.NewServer(r)

	return m
}

func (m *MockChain) URL() string {
	return m.server.URL
}

func (m *MockChain) Close() {
	m.server.Close()
}

// Account returns the address of the default sender.
func (m *MockChain) Account() common.Address {
	return crypto.PubkeyToAddress(m.key.PublicKey)
}

// SetHead moves the reported chain tip. Blocks above the highest added one
// are served empty.
func (m *MockChain) SetHead(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = n
}

func (m *MockChain) AddToken(address common.Address, info TokenInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[address] = info
}

// FailRequests makes the next n calls of method return a JSON-RPC error.
func (m *MockChain) FailRequests(method string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = n
}

func (m *MockChain) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// AddBlock builds block number with txs, signing each transaction, and
// returns the transaction hashes in block order.
func (m *MockChain) AddBlock(number uint64, txs ...MockTx) []common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	signer := types.LatestSignerForChainID(m.chainID)
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       blockTimeStart + number,
		GasLimit:   30_000_000,
		Difficulty: big.NewInt(1),
		Extra:      []byte{},
	}

	signed := make([]*types.Transaction, 0, len(txs))
	receipts := make([]*types.Receipt, 0, len(txs))
	hashes := make([]common.Hash, 0, len(txs))
	var logIndex uint

	for i, mtx := range txs {
		key := mtx.From
		if key == nil {
			key = m.key
		}
		from := crypto.PubkeyToAddress(key.PublicKey)
		value := mtx.Value
		if value == nil {
			value = new(big.Int)
		}

		to := mtx.To
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    m.nonces[from],
			GasPrice: big.NewInt(1),
			Gas:      21000,
			To:       &to,
			Value:    value,
		}), signer, key)
		if err != nil {
			panic(err)
		}
		m.nonces[from]++

		receipt := &types.Receipt{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: uint64(21000 * (i + 1)),
			GasUsed:           21000,
			TxHash:            tx.Hash(),
			BlockNumber:       header.Number,
			TransactionIndex:  uint(i),
			Logs:              []*types.Log{},
		}
		if mtx.Failed {
			receipt.Status = types.ReceiptStatusFailed
		}
		for _, l := range mtx.Logs {
			receipt.Logs = append(receipt.Logs, &types.Log{
				Address:     l.Address,
				Topics:      l.Topics,
				Data:        l.Data,
				BlockNumber: number,
				TxHash:      tx.Hash(),
				TxIndex:     uint(i),
				Index:       logIndex,
			})
			logIndex++
		}
		receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

		signed = append(signed, tx)
		receipts = append(receipts, receipt)
		hashes = append(hashes, tx.Hash())
	}

	block := types.NewBlock(header, signed, nil, receipts, trie.NewStackTrie(nil))
	m.blocks[number] = block
	for _, r := range receipts {
		r.BlockHash = block.Hash()
		for _, l := range r.Logs {
			l.BlockHash = block.Hash()
		}
		m.receipts[r.TxHash] = r
		m.txBlock[r.TxHash] = block
	}
	m.head = max(m.head, number)

	return hashes
}

// TransferLog is an ERC-20 Transfer event emitted by token.
func TransferLog(token, from, to common.Address, amount *big.Int) MockLog {
	return MockLog{
		Address: token,
		Topics:  []common.Hash{abi.TransferEventID, abi.AddressTopic(from), abi.AddressTopic(to)},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}
}

// NFTTransferLog is an ERC-721 Transfer event emitted by token.
func NFTTransferLog(token, from, to common.Address, tokenID *big.Int) MockLog {
	return MockLog{
		Address: token,
		Topics:  []common.Hash{abi.TransferEventID, abi.AddressTopic(from), abi.AddressTopic(to), common.BigToHash(tokenID)},
	}
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (m *MockChain) handle(writer http.ResponseWriter, request *http.Request) {
	body, err := io.ReadAll(request.Body)
	if err != nil {
		http.Error(writer, "Invalid request body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(writer, "Invalid json", http.StatusBadRequest)
		return
	}

	resp := rpcResponse{Version: "2.0", ID: req.ID}
	result, err := m.dispatch(req.Method, req.Params)
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}

	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(resp); err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}

func (m *MockChain) dispatch(method string, params []json.RawMessage) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
	if m.failures[method] > 0 {
		m.failures[method]--
		return nil, fmt.Errorf("injected failure for %s", method)
	}

	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(m.chainID), nil
	case "eth_blockNumber":
		return hexutil.Uint64(m.head), nil
	case "eth_getBlockByNumber":
		var tag string
		if err := unmarshalParam(params, 0, &tag); err != nil {
			return nil, err
		}
		number := m.head
		if tag != "latest" {
			n, err := hexutil.DecodeUint64(tag)
			if err != nil {
				return nil, err
			}
			number = n
		}
		return m.blockJSON(number)
	case "eth_getTransactionByHash":
		var hash common.Hash
		if err := unmarshalParam(params, 0, &hash); err != nil {
			return nil, err
		}
		return m.txJSON(hash)
	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := unmarshalParam(params, 0, &hash); err != nil {
			return nil, err
		}
		receipt, ok := m.receipts[hash]
		if !ok {
			return nil, nil
		}
		return receipt, nil
	case "eth_getLogs":
		var filter logFilter
		if err := unmarshalParam(params, 0, &filter); err != nil {
			return nil, err
		}
		return m.filterLogs(filter), nil
	case "eth_call":
		var call callArgs
		if err := unmarshalParam(params, 0, &call); err != nil {
			return nil, err
		}
		return m.call(call)
	case "sbch_queryTxByAddr":
		return m.queryTxByAddr(params)
	default:
		return nil, fmt.Errorf("method %s not supported", method)
	}
}

func unmarshalParam(params []json.RawMessage, i int, v interface{}) error {
	if len(params) <= i {
		return fmt.Errorf("missing param %d", i)
	}
	return json.Unmarshal(params[i], v)
}

// block returns the stored block or an empty one up to the head.
func (m *MockChain) block(number uint64) (*types.Block, bool) {
	if b, ok := m.blocks[number]; ok {
		return b, true
	}
	if number > m.head {
		return nil, false
	}
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Time:       blockTimeStart + number,
		GasLimit:   30_000_000,
		Difficulty: big.NewInt(1),
		Extra:      []byte{},
	}
	return types.NewBlock(header, nil, nil, nil, trie.NewStackTrie(nil)), true
}

func (m *MockChain) blockJSON(number uint64) (interface{}, error) {
	block, ok := m.block(number)
	if !ok {
		return nil, nil
	}

	fields, err := toMap(block.Header())
	if err != nil {
		return nil, err
	}
	txs := make([]interface{}, 0, len(block.Transactions()))
	for i, tx := range block.Transactions() {
		txFields, err := m.rpcTx(tx, block, uint64(i))
		if err != nil {
			return nil, err
		}
		txs = append(txs, txFields)
	}
	fields["hash"] = block.Hash()
	fields["transactions"] = txs
	fields["uncles"] = []common.Hash{}
	fields["size"] = hexutil.Uint64(block.Size())

	return fields, nil
}

func (m *MockChain) txJSON(hash common.Hash) (interface{}, error) {
	block, ok := m.txBlock[hash]
	if !ok {
		return nil, nil
	}
	for i, tx := range block.Transactions() {
		if tx.Hash() == hash {
			return m.rpcTx(tx, block, uint64(i))
		}
	}
	return nil, nil
}

func (m *MockChain) rpcTx(tx *types.Transaction, block *types.Block, index uint64) (map[string]interface{}, error) {
	fields, err := toMap(tx)
	if err != nil {
		return nil, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		return nil, err
	}
	fields["from"] = from
	fields["blockHash"] = block.Hash()
	fields["blockNumber"] = (*hexutil.Big)(block.Number())
	fields["transactionIndex"] = hexutil.Uint64(index)
	return fields, nil
}

type logFilter struct {
	FromBlock *hexutil.Big    `json:"fromBlock"`
	ToBlock   *hexutil.Big    `json:"toBlock"`
	Address   json.RawMessage `json:"address"`
	Topics    [][]common.Hash `json:"topics"`
}

func (m *MockChain) filterLogs(f logFilter) []*types.Log {
	from, to := uint64(0), m.head
	if f.FromBlock != nil {
		from = f.FromBlock.ToInt().Uint64()
	}
	if f.ToBlock != nil {
		to = f.ToBlock.ToInt().Uint64()
	}

	logs := []*types.Log{}
	for n := from; n <= to; n++ {
		block, ok := m.blocks[n]
		if !ok {
			continue
		}
		for _, tx := range block.Transactions() {
			for _, l := range m.receipts[tx.Hash()].Logs {
				if matchTopics(l.Topics, f.Topics) {
					logs = append(logs, l)
				}
			}
		}
	}
	return logs
}

func matchTopics(topics []common.Hash, filter [][]common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (m *MockChain) call(c callArgs) (interface{}, error) {
	if c.To == nil {
		return nil, fmt.Errorf("missing call target")
	}
	token, ok := m.tokens[*c.To]
	if !ok {
		return nil, fmt.Errorf("execution reverted")
	}

	input := c.Input
	if len(input) == 0 {
		input = c.Data
	}
	if len(input) < 4 {
		return nil, fmt.Errorf("execution reverted")
	}

	for name, method := range abi.TokenAbi.Methods {
		if !bytes.Equal(method.ID, input[:4]) {
			continue
		}
		var out []byte
		var err error
		switch name {
		case abi.MethodName:
			out, err = method.Outputs.Pack(token.Name)
		case abi.MethodSymbol:
			out, err = method.Outputs.Pack(token.Symbol)
		case abi.MethodDecimals:
			out, err = method.Outputs.Pack(token.Decimals)
		default:
			return nil, fmt.Errorf("execution reverted")
		}
		if err != nil {
			return nil, err
		}
		return hexutil.Bytes(out), nil
	}
	return nil, fmt.Errorf("execution reverted")
}

// queryTxByAddr returns transactions sent from or to the address, or moving
// tokens from or to it, in [from, to].
func (m *MockChain) queryTxByAddr(params []json.RawMessage) (interface{}, error) {
	var (
		addr     common.Address
		from, to hexutil.Uint64
	)
	if err := unmarshalParam(params, 0, &addr); err != nil {
		return nil, err
	}
	if err := unmarshalParam(params, 1, &from); err != nil {
		return nil, err
	}
	if err := unmarshalParam(params, 2, &to); err != nil {
		return nil, err
	}

	topic := abi.AddressTopic(addr)
	result := []interface{}{}
	for n := uint64(from); n <= uint64(to); n++ {
		block, ok := m.blocks[n]
		if !ok {
			continue
		}
		for i, tx := range block.Transactions() {
			sender, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
			if err != nil {
				return nil, err
			}
			match := sender == addr || (tx.To() != nil && *tx.To() == addr)
			for _, l := range m.receipts[tx.Hash()].Logs {
				if len(l.Topics) >= 3 && (l.Topics[1] == topic || l.Topics[2] == topic) {
					match = true
				}
			}
			if !match {
				continue
			}
			fields, err := m.rpcTx(tx, block, uint64(i))
			if err != nil {
				return nil, err
			}
			result = append(result, fields)
		}
	}
	return result, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
