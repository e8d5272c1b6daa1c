package benchmarks

import (
	"context"
	"math/big"
	"net/url"
	"testing"

	"smartbch-indexer/chain"
	"smartbch-indexer/config"
	"smartbch-indexer/indexer"
	"smartbch-indexer/indexer/abi"
	indexertest "smartbch-indexer/testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	token    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sender   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	receiver = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func transferLog(index uint, amount int64) chain.Log {
	return chain.Log{
		Address: token,
		Topics:  []common.Hash{abi.TransferEventID, abi.AddressTopic(sender), abi.AddressTopic(receiver)},
		Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		Index:   index,
	}
}

func BenchmarkDeriveTransfers(b *testing.B) {
	tx := &chain.TxData{
		Hash:   common.HexToHash("0x01").Hex(),
		From:   sender.Hex(),
		To:     token.Hex(),
		Value:  big.NewInt(1),
		Status: 1,
	}
	for i := range 50 {
		tx.Logs = append(tx.Logs, transferLog(uint(i), int64(i+1)))
	}

	b.ReportAllocs()
	for b.Loop() {
		if n := len(indexer.DeriveTransfers(tx)); n != 51 {
			b.Fatalf("expected 51 transfers, got %d", n)
		}
	}
}

func BenchmarkBlockRequests(b *testing.B) {
	mock := indexertest.NewMockChain()
	defer mock.Close()

	txs := make([]indexertest.MockTx, 0, 20)
	for i := range 20 {
		txs = append(txs, indexertest.MockTx{To: token, Logs: []indexertest.MockLog{
			indexertest.TransferLog(token, mock.Account(), receiver, big.NewInt(int64(i+1))),
		}})
	}
	mock.AddBlock(10, txs...)
	mock.SetHead(10)

	nodeURL, err := url.Parse(mock.URL())
	if err != nil {
		b.Fatal(err)
	}
	client, err := chain.DialRPCNode(nodeURL, chain.ChainTypeEth)
	if err != nil {
		b.Fatal(err)
	}
	defer client.Close()
	reader := chain.NewReader(client, config.ChainConfig{})

	ctx := context.Background()
	for b.Loop() {
		block, err := reader.Block(ctx, 10)
		if err != nil {
			b.Fatal(err)
		}
		if len(block.Transactions) != 20 {
			b.Fatalf("expected 20 transactions, got %d", len(block.Transactions))
		}
	}
}
