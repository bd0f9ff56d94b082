package tools

import (
	"context"
	"encoding/json"
	"sort"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/internal/web3"
)

// Tool names exposed to the model.
const (
	TransferNative   = "transfer_native"
	TransferToken    = "transfer_token"
	BurnToken        = "burn_token"
	GetNativeBalance = "get_native_balance"
	GetTokenBalance  = "get_token_balance"
	DeployContract   = "deploy_contract"
)

// Mutating reports whether the named tool submits a transaction.
func Mutating(name string) bool {
	switch name {
	case TransferNative, TransferToken, BurnToken, DeployContract:
		return true
	default:
		return false
	}
}

// Tool pairs a model-facing definition with its handler.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
}

// Operations are the six bound blockchain operations of one agent.
type Operations struct {
	TransferNative Operation[web3.TransferNativeParams]
	TransferToken  Operation[web3.TransferTokenParams]
	BurnToken      Operation[web3.BurnTokenParams]
	NativeBalance  Operation[web3.NativeBalanceParams]
	TokenBalance   Operation[web3.TokenBalanceParams]
	DeployContract Operation[web3.DeployContractParams]
}

// BindOperations wraps every method of ops with the credential rebind.
func BindOperations(ops web3.Operations, binder Binder, key KeySource) Operations {
	return Operations{
		TransferNative: Bound(TransferNative, binder, key, ops.TransferNative),
		TransferToken:  Bound(TransferToken, binder, key, ops.TransferToken),
		BurnToken:      Bound(BurnToken, binder, key, ops.BurnToken),
		NativeBalance:  Bound(GetNativeBalance, binder, key, ops.NativeBalance),
		TokenBalance:   Bound(GetTokenBalance, binder, key, ops.TokenBalance),
		DeployContract: Bound(DeployContract, binder, key, ops.DeployContract),
	}
}

// Set is an agent's tool table.
type Set struct {
	tools map[string]Tool
}

// NewSet builds the six blockchain tools over bound operations.
func NewSet(ops Operations) *Set {
	list := []Tool{
		{
			Definition: definition(TransferNative, "Transfer S (the native token) to another wallet", `{
  "type": "object",
  "properties": {
    "toAddress": {"type": "string", "description": "The wallet address to transfer S to"},
    "amount": {"type": "string", "description": "The amount of S to transfer"}
  },
  "required": ["toAddress", "amount"]
}`),
			Handler: decoded(ops.TransferNative),
		},
		{
			Definition: definition(TransferToken, "Transfer ERC20 tokens to another wallet", `{
  "type": "object",
  "properties": {
    "tokenAddress": {"type": "string", "description": "The ERC20 token contract address"},
    "toAddress": {"type": "string", "description": "The wallet address to transfer tokens to"},
    "amount": {"type": "string", "description": "The amount of tokens to transfer"}
  },
  "required": ["tokenAddress", "toAddress", "amount"]
}`),
			Handler: decoded(ops.TransferToken),
		},
		{
			Definition: definition(BurnToken, "Burn ERC20 tokens (send to the burn address)", `{
  "type": "object",
  "properties": {
    "tokenAddress": {"type": "string", "description": "The ERC20 token contract address"},
    "amount": {"type": "string", "description": "The amount of tokens to burn"}
  },
  "required": ["tokenAddress", "amount"]
}`),
			Handler: decoded(ops.BurnToken),
		},
		{
			Definition: definition(GetNativeBalance, "Get the S balance of a wallet", `{
  "type": "object",
  "properties": {
    "walletAddress": {"type": ["string", "null"], "description": "The wallet address to check (optional, defaults to the agent wallet)"}
  }
}`),
			Handler: decoded(ops.NativeBalance),
		},
		{
			Definition: definition(GetTokenBalance, "Get the ERC20 token balance of a wallet", `{
  "type": "object",
  "properties": {
    "tokenAddress": {"type": "string", "description": "The ERC20 token contract address"},
    "walletAddress": {"type": ["string", "null"], "description": "The wallet address to check (optional, defaults to the agent wallet)"}
  },
  "required": ["tokenAddress"]
}`),
			Handler: decoded(ops.TokenBalance),
		},
		{
			Definition: definition(DeployContract, "Deploy a smart contract", `{
  "type": "object",
  "properties": {
    "abi": {"type": "array", "items": {"type": "object"}, "description": "The contract ABI as an array of objects"},
    "bytecode": {"type": "string", "description": "The contract creation bytecode"},
    "args": {"type": ["array", "null"], "items": {"type": ["string", "number", "boolean"]}, "description": "Constructor arguments (optional)"}
  },
  "required": ["abi", "bytecode"]
}`),
			Handler: decoded(ops.DeployContract),
		},
	}

	set := &Set{tools: make(map[string]Tool, len(list))}
	for _, tool := range list {
		set.tools[tool.Definition.Name] = tool
	}
	return set
}

func definition(name, description, schema string) llm.ToolDefinition {
	return llm.ToolDefinition{Name: name, Description: description, Parameters: json.RawMessage(schema)}
}

// Definitions lists the tool declarations sorted by name.
func (s *Set) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(s.tools))
	for _, tool := range s.tools {
		defs = append(defs, tool.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool.
func (s *Set) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := s.tools[name]
	if !ok {
		return "", xerrors.Newf(xerrors.CodeNotFound, "unknown tool %q", name)
	}
	return tool.Handler(ctx, args)
}
