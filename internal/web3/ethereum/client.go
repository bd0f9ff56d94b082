package ethereum

import (
	"context"
	"errors"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// SimulatedChainID is the chain id used by go-ethereum's simulated backend.
const SimulatedChainID = 1337

// SimulatedBackend adapts a go-ethereum simulated chain to web3.Backend and
// exposes Commit so transactions can be mined on demand.
type SimulatedBackend struct {
	simulated.Client
	sim *simulated.Backend
}

// NewSimulatedBackend starts an in-memory chain funded according to alloc.
func NewSimulatedBackend(alloc types.GenesisAlloc) *SimulatedBackend {
	sim := simulated.NewBackend(alloc)
	return &SimulatedBackend{Client: sim.Client(), sim: sim}
}

// Commit seals a block containing the pending transactions.
func (s *SimulatedBackend) Commit() common.Hash {
	return s.sim.Commit()
}

// Close stops the simulated node.
func (s *SimulatedBackend) Close() {
	_ = s.sim.Close()
}

var _ web3.Backend = (*SimulatedBackend)(nil)

// waitForReceipt polls until the transaction is mined. Backends that only mine
// on demand are committed between polls.
func waitForReceipt(ctx context.Context, backend web3.Backend, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	committer, simulatedChain := backend.(web3.Committer)
	if simulatedChain {
		committer.Commit()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, classify(err, "fetch receipt")
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "waiting for receipt",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		case <-ticker.C:
			if simulatedChain {
				committer.Commit()
			}
		}
	}
}
