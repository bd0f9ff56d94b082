package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitionsResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := []byte(`chains:
  sonic:
    rpc_url: https://rpc.soniclabs.com
    description: Sonic mainnet
  blaze:
    type: evm
    rpc_url: https://rpc.blaze.soniclabs.com
    symbol: tS
  solana:
    type: svm
    rpc_url: https://api.mainnet-beta.solana.com
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	sonic, err := defs.Resolve("sonic")
	if err != nil {
		t.Fatalf("resolve sonic: %v", err)
	}
	if sonic.Symbol != DefaultSymbol {
		t.Fatalf("expected default symbol, got %q", sonic.Symbol)
	}
	blaze, err := defs.Resolve("blaze")
	if err != nil || blaze.Symbol != "tS" {
		t.Fatalf("unexpected blaze definition: %+v, %v", blaze, err)
	}
	if _, err := defs.Resolve("solana"); err == nil {
		t.Fatalf("expected non-evm network to be rejected")
	}
	if _, err := defs.Resolve("missing"); err == nil {
		t.Fatalf("expected unknown network to be rejected")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs.Names()) != 0 {
		t.Fatalf("expected no definitions")
	}
}
