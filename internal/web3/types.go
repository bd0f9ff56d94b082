package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the RPC surface the chain operations need. Both *ethclient.Client
// and the go-ethereum simulated client satisfy it.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Closer is implemented by backends that hold network resources.
type Closer interface {
	Close()
}

// Committer is implemented by simulated backends that only mine on demand.
type Committer interface {
	Commit() common.Hash
}

// TransferNativeParams moves native currency from the bound wallet.
type TransferNativeParams struct {
	ToAddress string `json:"toAddress"`
	Amount    string `json:"amount"`
}

// TransferTokenParams moves ERC-20 tokens from the bound wallet.
type TransferTokenParams struct {
	TokenAddress string `json:"tokenAddress"`
	ToAddress    string `json:"toAddress"`
	Amount       string `json:"amount"`
}

// BurnTokenParams sends ERC-20 tokens to the burn address.
type BurnTokenParams struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

// NativeBalanceParams queries a native balance; an empty WalletAddress means
// the bound wallet.
type NativeBalanceParams struct {
	WalletAddress string `json:"walletAddress,omitempty"`
}

// TokenBalanceParams queries an ERC-20 balance; an empty WalletAddress means
// the bound wallet.
type TokenBalanceParams struct {
	TokenAddress  string `json:"tokenAddress"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// DeployContractParams deploys a contract from its ABI and creation bytecode.
type DeployContractParams struct {
	ABI      []map[string]any `json:"abi"`
	Bytecode string           `json:"bytecode"`
	Args     []any            `json:"args,omitempty"`
}

// Operations is the blockchain collaborator. Every method acts as whichever
// identity the credential store currently holds.
type Operations interface {
	TransferNative(ctx context.Context, params TransferNativeParams) (string, error)
	TransferToken(ctx context.Context, params TransferTokenParams) (string, error)
	BurnToken(ctx context.Context, params BurnTokenParams) (string, error)
	NativeBalance(ctx context.Context, params NativeBalanceParams) (string, error)
	TokenBalance(ctx context.Context, params TokenBalanceParams) (string, error)
	DeployContract(ctx context.Context, params DeployContractParams) (string, error)
}
