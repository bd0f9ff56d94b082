package ethereum

import (
	"context"
	"math/big"
	"strings"

	"ChainGuard-Agent/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// ERC20ABI is the parsed subset of the ERC-20 interface used by the agent.
var ERC20ABI = mustParseABI(erc20ABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

type erc20 struct {
	backend web3.Backend
	address common.Address
}

func (t erc20) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, invalid("encode %s: %v", method, err)
	}
	out, err := t.backend.CallContract(ctx, gethcore.CallMsg{To: &t.address, Data: data}, nil)
	if err != nil {
		return nil, classify(err, "call "+method)
	}
	if len(out) == 0 {
		return nil, invalid("%s is not an ERC-20 token", t.address.Hex())
	}
	values, err := ERC20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, invalid("%s returned malformed %s data", t.address.Hex(), method)
	}
	return values, nil
}

func (t erc20) decimals(ctx context.Context) (uint8, error) {
	values, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, invalid("unexpected decimals type %T", values[0])
	}
	return decimals, nil
}

func (t erc20) symbol(ctx context.Context) (string, error) {
	values, err := t.call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	symbol, _ := values[0].(string)
	return symbol, nil
}

func (t erc20) balanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := t.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, invalid("unexpected balance type %T", values[0])
	}
	return balance, nil
}
