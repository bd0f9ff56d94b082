package ethereum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/wallet"
	"ChainGuard-Agent/internal/web3"
	"ChainGuard-Agent/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BurnAddress receives burned tokens.
var BurnAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// CredentialSource yields whatever identity and connection are currently bound.
type CredentialSource interface {
	CurrentIdentity() (*wallet.Identity, error)
	Connection() (*wallet.Connection, error)
}

// Operations implements web3.Operations for EVM chains.
type Operations struct {
	source         CredentialSource
	nativeSymbol   string
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

// Option customises Operations.
type Option func(*Operations)

// WithNativeSymbol overrides the ticker used for native balances.
func WithNativeSymbol(symbol string) Option {
	return func(o *Operations) {
		if strings.TrimSpace(symbol) != "" {
			o.nativeSymbol = symbol
		}
	}
}

// WithReceiptTimeout bounds how long a submitted transaction is awaited.
func WithReceiptTimeout(timeout time.Duration) Option {
	return func(o *Operations) {
		if timeout > 0 {
			o.receiptTimeout = timeout
		}
	}
}

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Operations) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// NewOperations builds EVM operations reading credentials from source.
func NewOperations(source CredentialSource, opts ...Option) *Operations {
	o := &Operations{
		source:         source,
		nativeSymbol:   web3.DefaultSymbol,
		receiptTimeout: 2 * time.Minute,
		pollInterval:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

var _ web3.Operations = (*Operations)(nil)

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, invalid("%s %q is not a valid address", field, value)
	}
	return common.HexToAddress(value), nil
}

func validAmount(amount string) error {
	if err := checkPositive(amount); err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "invalid amount")
	}
	return nil
}

func (o *Operations) bound() (*wallet.Identity, web3.Backend, error) {
	identity, err := o.source.CurrentIdentity()
	if err != nil {
		return nil, nil, err
	}
	conn, err := o.source.Connection()
	if err != nil {
		return nil, nil, err
	}
	return identity, conn.Backend, nil
}

// TransferNative sends native currency after checking the balance covers the
// amount plus the maximum gas cost.
func (o *Operations) TransferNative(ctx context.Context, params web3.TransferNativeParams) (string, error) {
	to, err := parseAddress("toAddress", params.ToAddress)
	if err != nil {
		return "", err
	}
	if err := validAmount(params.Amount); err != nil {
		return "", err
	}
	value, err := ParseUnits(params.Amount, NativeDecimals)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeValidation, err, "invalid amount")
	}

	identity, backend, err := o.bound()
	if err != nil {
		return "", err
	}
	plan, err := o.plan(ctx, backend, identity.Address(), &to, value, nil)
	if err != nil {
		return "", err
	}
	if err := o.ensureFunds(ctx, backend, identity.Address(), plan.maxCost()); err != nil {
		return "", err
	}
	return o.submit(ctx, backend, identity, plan, "transfer_native")
}

// ensureFunds checks the native balance of from covers required before
// anything is signed.
func (o *Operations) ensureFunds(ctx context.Context, backend web3.Backend, from common.Address, required *big.Int) error {
	balance, err := backend.BalanceAt(ctx, from, nil)
	if err != nil {
		return classify(err, "query balance")
	}
	if balance.Cmp(required) < 0 {
		return xerrors.Newf(xerrors.CodeInsufficientFunds, "balance %s %s does not cover %s %s including gas",
			FormatUnits(balance, NativeDecimals), o.nativeSymbol, FormatUnits(required, NativeDecimals), o.nativeSymbol)
	}
	return nil
}

// TransferToken sends ERC-20 tokens after checking the token balance.
func (o *Operations) TransferToken(ctx context.Context, params web3.TransferTokenParams) (string, error) {
	token, err := parseAddress("tokenAddress", params.TokenAddress)
	if err != nil {
		return "", err
	}
	to, err := parseAddress("toAddress", params.ToAddress)
	if err != nil {
		return "", err
	}
	return o.sendToken(ctx, token, to, params.Amount, "transfer_token")
}

// BurnToken transfers tokens to BurnAddress.
func (o *Operations) BurnToken(ctx context.Context, params web3.BurnTokenParams) (string, error) {
	token, err := parseAddress("tokenAddress", params.TokenAddress)
	if err != nil {
		return "", err
	}
	return o.sendToken(ctx, token, BurnAddress, params.Amount, "burn_token")
}

func (o *Operations) sendToken(ctx context.Context, token, to common.Address, amount, action string) (string, error) {
	if err := validAmount(amount); err != nil {
		return "", err
	}
	identity, backend, err := o.bound()
	if err != nil {
		return "", err
	}

	contract := erc20{backend: backend, address: token}
	decimals, err := contract.decimals(ctx)
	if err != nil {
		return "", err
	}
	value, err := ParseUnits(amount, decimals)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeValidation, err, "invalid amount")
	}
	balance, err := contract.balanceOf(ctx, identity.Address())
	if err != nil {
		return "", err
	}
	if balance.Cmp(value) < 0 {
		return "", xerrors.Newf(xerrors.CodeInsufficientFunds, "token balance %s is below %s",
			FormatUnits(balance, decimals), FormatUnits(value, decimals))
	}

	data, err := ERC20ABI.Pack("transfer", to, value)
	if err != nil {
		return "", invalid("encode transfer: %v", err)
	}
	plan, err := o.plan(ctx, backend, identity.Address(), &token, new(big.Int), data)
	if err != nil {
		return "", err
	}
	if err := o.ensureFunds(ctx, backend, identity.Address(), plan.maxCost()); err != nil {
		return "", err
	}
	return o.submit(ctx, backend, identity, plan, action)
}

// NativeBalance returns "<n> S" for walletAddress or the bound wallet.
func (o *Operations) NativeBalance(ctx context.Context, params web3.NativeBalanceParams) (string, error) {
	var owner common.Address
	explicit := strings.TrimSpace(params.WalletAddress) != ""
	if explicit {
		addr, err := parseAddress("walletAddress", params.WalletAddress)
		if err != nil {
			return "", err
		}
		owner = addr
	}
	identity, backend, err := o.bound()
	if err != nil {
		return "", err
	}
	if !explicit {
		owner = identity.Address()
	}
	balance, err := backend.BalanceAt(ctx, owner, nil)
	if err != nil {
		return "", classify(err, "query balance")
	}
	return FormatUnits(balance, NativeDecimals) + " " + o.nativeSymbol, nil
}

// TokenBalance returns "<n> <symbol>" for walletAddress or the bound wallet.
func (o *Operations) TokenBalance(ctx context.Context, params web3.TokenBalanceParams) (string, error) {
	token, err := parseAddress("tokenAddress", params.TokenAddress)
	if err != nil {
		return "", err
	}
	var owner common.Address
	explicit := strings.TrimSpace(params.WalletAddress) != ""
	if explicit {
		if owner, err = parseAddress("walletAddress", params.WalletAddress); err != nil {
			return "", err
		}
	}
	identity, backend, err := o.bound()
	if err != nil {
		return "", err
	}
	if !explicit {
		owner = identity.Address()
	}

	contract := erc20{backend: backend, address: token}
	decimals, err := contract.decimals(ctx)
	if err != nil {
		return "", err
	}
	balance, err := contract.balanceOf(ctx, owner)
	if err != nil {
		return "", err
	}
	symbol, err := contract.symbol(ctx)
	if err != nil {
		return "", err
	}
	return FormatUnits(balance, decimals) + " " + symbol, nil
}

// DeployContract deploys bytecode with constructor args and returns the new
// contract address once the creation receipt succeeds.
func (o *Operations) DeployContract(ctx context.Context, params web3.DeployContractParams) (string, error) {
	bytecode, err := decodeBytecode(params.Bytecode)
	if err != nil {
		return "", err
	}
	definition, err := json.Marshal(params.ABI)
	if err != nil {
		return "", invalid("encode abi: %v", err)
	}
	if params.ABI == nil {
		definition = []byte("[]")
	}
	parsed, err := abi.JSON(strings.NewReader(string(definition)))
	if err != nil {
		return "", invalid("parse abi: %v", err)
	}
	args, err := coerceArgs(parsed.Constructor.Inputs, params.Args)
	if err != nil {
		return "", err
	}
	encoded, err := parsed.Pack("", args...)
	if err != nil {
		return "", invalid("encode constructor args: %v", err)
	}

	identity, backend, err := o.bound()
	if err != nil {
		return "", err
	}
	input := append(append([]byte{}, bytecode...), encoded...)
	plan, err := o.plan(ctx, backend, identity.Address(), nil, new(big.Int), input)
	if err != nil {
		return "", err
	}
	if err := o.ensureFunds(ctx, backend, identity.Address(), plan.maxCost()); err != nil {
		return "", err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return "", classify(err, "query chain id")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(identity.PrivateKey(), chainID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidCredential, err, "build transactor")
	}
	auth.Context = ctx
	auth.GasLimit = plan.gas
	auth.GasTipCap = plan.gasTipCap
	auth.GasFeeCap = plan.gasFeeCap

	address, tx, _, err := bind.DeployContract(auth, parsed, bytecode, backend, args...)
	if err != nil {
		return "", classify(err, "deploy contract")
	}
	logger.Audit().Info("transaction submitted",
		"action", "deploy_contract", "from", identity.Address().Hex(), "tx_hash", tx.Hash().Hex())

	if err := o.confirm(ctx, backend, tx.Hash()); err != nil {
		return "", err
	}
	return address.Hex(), nil
}

type txPlan struct {
	from      common.Address
	to        *common.Address
	value     *big.Int
	data      []byte
	gas       uint64
	gasTipCap *big.Int
	gasFeeCap *big.Int
}

func (p txPlan) maxCost() *big.Int {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(p.gas), p.gasFeeCap)
	return cost.Add(cost, p.value)
}

func (o *Operations) plan(ctx context.Context, backend web3.Backend, from common.Address, to *common.Address, value *big.Int, data []byte) (txPlan, error) {
	gas, err := backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: to, Value: value, Data: data})
	if err != nil {
		return txPlan{}, classify(err, "estimate gas")
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return txPlan{}, classify(err, "suggest gas tip")
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return txPlan{}, classify(err, "fetch latest header")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return txPlan{from: from, to: to, value: value, data: data, gas: gas, gasTipCap: tip, gasFeeCap: feeCap}, nil
}

func (o *Operations) submit(ctx context.Context, backend web3.Backend, identity *wallet.Identity, plan txPlan, action string) (string, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return "", classify(err, "query chain id")
	}
	nonce, err := backend.PendingNonceAt(ctx, plan.from)
	if err != nil {
		return "", classify(err, "query nonce")
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: plan.gasTipCap,
		GasFeeCap: plan.gasFeeCap,
		Gas:       plan.gas,
		To:        plan.to,
		Value:     plan.value,
		Data:      plan.data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), identity.PrivateKey())
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidCredential, err, "sign transaction")
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return "", classify(err, "send transaction")
	}
	logger.Audit().Info("transaction submitted",
		"action", action, "from", plan.from.Hex(), "to", plan.to.Hex(), "tx_hash", signed.Hash().Hex())

	if err := o.confirm(ctx, backend, signed.Hash()); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (o *Operations) confirm(ctx context.Context, backend web3.Backend, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, o.receiptTimeout)
	defer cancel()

	receipt, err := waitForReceipt(waitCtx, backend, hash, o.pollInterval)
	if err != nil {
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return xerrors.New(xerrors.CodeTransactionFailed, "transaction reverted",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
	return nil
}

func decodeBytecode(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	if trimmed == "" {
		return nil, invalid("bytecode is required")
	}
	code, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, invalid("bytecode is not valid hex: %v", err)
	}
	return code, nil
}
