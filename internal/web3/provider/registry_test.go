package provider

import (
	"os"
	"path/filepath"
	"testing"

	"ChainGuard-Agent/internal/config"
	xerrors "ChainGuard-Agent/internal/errors"
)

func writeChains(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  sonic:
    type: evm
    rpc_url: https://rpc.soniclabs.com
    description: Sonic mainnet
  blaze:
    rpc_url: https://rpc.blaze.soniclabs.com
    symbol: tS
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	return path
}

func TestResolvePrefersExplicitURL(t *testing.T) {
	network, err := Resolve(config.Web3Config{RPCURL: " http://127.0.0.1:8545 ", Network: "sonic", ChainsFile: writeChains(t)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if network.RPCURL != "http://127.0.0.1:8545" || network.Name != "sonic" {
		t.Fatalf("unexpected network: %+v", network)
	}
}

func TestResolveNamedNetwork(t *testing.T) {
	network, err := Resolve(config.Web3Config{Network: "blaze", ChainsFile: writeChains(t)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if network.RPCURL != "https://rpc.blaze.soniclabs.com" || network.Symbol != "tS" {
		t.Fatalf("unexpected network: %+v", network)
	}
}

func TestResolveErrors(t *testing.T) {
	if _, err := Resolve(config.Web3Config{}); xerrors.CodeOf(err) != xerrors.CodeMissingEndpoint {
		t.Fatalf("expected MISSING_ENDPOINT, got %v", err)
	}
	if _, err := Resolve(config.Web3Config{Network: "mainnet", ChainsFile: writeChains(t)}); xerrors.CodeOf(err) != xerrors.CodeMissingEndpoint {
		t.Fatalf("expected MISSING_ENDPOINT for unknown network, got %v", err)
	}

	registry, err := NewRegistry(writeChains(t))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if names := registry.Networks(); len(names) != 2 || names[0] != "blaze" {
		t.Fatalf("unexpected networks: %v", names)
	}
}
