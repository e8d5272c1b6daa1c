package abi

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const (
	TransferEventName string = "Transfer"

	MethodName     string = "name"
	MethodSymbol   string = "symbol"
	MethodDecimals string = "decimals"
)

// Minimal ERC-20 interface. ERC-721 shares the Transfer signature but indexes
// the third argument, which DecodeTransfer handles from the topic count.
const tokenAbiJSON = `[
	{"anonymous":false,"type":"event","name":"Transfer","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}]},
	{"constant":true,"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"constant":true,"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"constant":true,"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"}
]`

var (
	TokenAbi        abi.ABI
	TransferEventID common.Hash
)

func init() {
	var err error
	TokenAbi, err = abi.JSON(strings.NewReader(tokenAbiJSON))
	if err != nil {
		panic(fmt.Sprintf("token abi: %v", err))
	}
	TransferEventID = TokenAbi.Events[TransferEventName].ID
}

type TokenStandard int

const (
	ERC20 TokenStandard = iota + 1
	ERC721
)

// Transfer is a decoded Transfer event. Exactly one of Amount and TokenID is
// set by the decoder, ERC-721 transfers report an Amount of one.
type Transfer struct {
	Standard TokenStandard
	From     common.Address
	To       common.Address
	Amount   *big.Int
	TokenID  *big.Int
}

var ErrNotTransfer = errors.New("log is not a token transfer")

// DecodeTransfer decodes an ERC-20 (3 topics) or ERC-721 (4 topics) Transfer
// log. Any other log yields ErrNotTransfer.
func DecodeTransfer(topics []common.Hash, data []byte) (*Transfer, error) {
	if len(topics) == 0 || topics[0] != TransferEventID {
		return nil, ErrNotTransfer
	}

	switch len(topics) {
	case 3:
		values, err := TokenAbi.Unpack(TransferEventName, data)
		if err != nil {
			return nil, errors.Wrap(err, "DecodeTransfer")
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return nil, errors.Errorf("DecodeTransfer: unexpected value type %T", values[0])
		}
		return &Transfer{
			Standard: ERC20,
			From:     common.BytesToAddress(topics[1].Bytes()),
			To:       common.BytesToAddress(topics[2].Bytes()),
			Amount:   amount,
		}, nil
	case 4:
		return &Transfer{
			Standard: ERC721,
			From:     common.BytesToAddress(topics[1].Bytes()),
			To:       common.BytesToAddress(topics[2].Bytes()),
			Amount:   big.NewInt(1),
			TokenID:  topics[3].Big(),
		}, nil
	default:
		return nil, ErrNotTransfer
	}
}

// AddressTopic left-pads an address to a 32 byte topic.
func AddressTopic(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}

func PackCall(method string) ([]byte, error) {
	return TokenAbi.Pack(method)
}

func UnpackString(method string, output []byte) (string, error) {
	values, err := TokenAbi.Unpack(method, output)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", errors.Errorf("%s: expected one output, got %d", method, len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", errors.Errorf("%s: unexpected output type %T", method, values[0])
	}
	return s, nil
}

func UnpackDecimals(output []byte) (uint8, error) {
	values, err := TokenAbi.Unpack(MethodDecimals, output)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, errors.Errorf("decimals: expected one output, got %d", len(values))
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals: unexpected output type %T", values[0])
	}
	return d, nil
}
