// Package web3 houses the blockchain-facing contracts shared by the wallet
// credential store, the EVM operations in web3/ethereum and the tool layer:
// the RPC Backend interface, operation parameter types and named network
// definitions.
package web3
