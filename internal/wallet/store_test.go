package wallet

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/web3"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

type countingDialer struct {
	mu       sync.Mutex
	calls    map[string]int
	backends map[string]web3.Backend
}

func newCountingDialer(t *testing.T, endpoints ...string) *countingDialer {
	t.Helper()
	d := &countingDialer{calls: map[string]int{}, backends: map[string]web3.Backend{}}
	for _, endpoint := range endpoints {
		sim := simulated.NewBackend(types.GenesisAlloc{})
		t.Cleanup(func() { _ = sim.Close() })
		d.backends[endpoint] = sim.Client()
	}
	return d
}

func (d *countingDialer) dial(_ context.Context, endpoint string) (web3.Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[endpoint]++
	return d.backends[endpoint], nil
}

func newKeyHex(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestNormalizeKey(t *testing.T) {
	raw := strings.Repeat("ab", 32)
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", raw, true},
		{"prefixed", "0x" + raw, true},
		{"upper prefix", "0X" + strings.ToUpper(raw), true},
		{"66 without prefix", "ff" + raw, false},
		{"short", raw[:62], false},
		{"non hex", strings.Repeat("zz", 32), false},
	}
	for _, tc := range cases {
		got, err := NormalizeKey(tc.in)
		if tc.ok {
			if err != nil || got != raw {
				t.Fatalf("%s: got %q, %v", tc.name, got, err)
			}
			continue
		}
		if !xerrors.IsCode(err, xerrors.CodeInvalidCredential) {
			t.Fatalf("%s: expected INVALID_CREDENTIAL, got %v", tc.name, err)
		}
	}
}

func TestBindIsIdempotent(t *testing.T) {
	dialer := newCountingDialer(t, "sim://a")
	store := NewStore(WithDialer(dialer.dial))
	key, address := newKeyHex(t)
	ctx := context.Background()

	if err := store.Bind(ctx, key, "sim://a"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	identity, _ := store.CurrentIdentity()
	conn, _ := store.Connection()

	if err := store.Bind(ctx, "0x"+key, "sim://a"); err != nil {
		t.Fatalf("rebind same key: %v", err)
	}
	again, _ := store.CurrentIdentity()
	connAgain, _ := store.Connection()
	if identity != again {
		t.Fatalf("identity pointer changed on idempotent bind")
	}
	if conn != connAgain {
		t.Fatalf("connection pointer changed on idempotent bind")
	}
	if dialer.calls["sim://a"] != 1 {
		t.Fatalf("expected a single dial, got %d", dialer.calls["sim://a"])
	}
	got, err := store.CurrentAddress()
	if err != nil || got != address {
		t.Fatalf("unexpected address %s (%v), want %s", got, err, address)
	}
}

func TestBindSwitchesKeyAndEndpoint(t *testing.T) {
	dialer := newCountingDialer(t, "sim://a", "sim://b")
	store := NewStore(WithDialer(dialer.dial))
	ctx := context.Background()
	keyA, addrA := newKeyHex(t)
	keyB, addrB := newKeyHex(t)

	if err := store.Bind(ctx, keyA, "sim://a"); err != nil {
		t.Fatalf("bind a: %v", err)
	}
	conn, _ := store.Connection()
	if err := store.Bind(ctx, keyB, "sim://a"); err != nil {
		t.Fatalf("bind b: %v", err)
	}
	if got, _ := store.CurrentAddress(); got != addrB {
		t.Fatalf("expected %s, got %s", addrB, got)
	}
	if same, _ := store.Connection(); same != conn {
		t.Fatalf("connection should be reused when the endpoint is unchanged")
	}

	if err := store.Bind(ctx, keyA, "sim://b"); err != nil {
		t.Fatalf("bind endpoint b: %v", err)
	}
	if got, _ := store.CurrentAddress(); got != addrA {
		t.Fatalf("expected %s, got %s", addrA, got)
	}
	if next, _ := store.Connection(); next == conn || next.Endpoint != "sim://b" {
		t.Fatalf("expected a new connection for sim://b")
	}
}

func TestBindValidation(t *testing.T) {
	store := NewStore(WithDialer(newCountingDialer(t).dial))
	key, _ := newKeyHex(t)

	if err := store.Bind(context.Background(), "nope", "sim://a"); !xerrors.IsCode(err, xerrors.CodeInvalidCredential) {
		t.Fatalf("expected INVALID_CREDENTIAL, got %v", err)
	}
	if err := store.Bind(context.Background(), key, "  "); !xerrors.IsCode(err, xerrors.CodeMissingEndpoint) {
		t.Fatalf("expected MISSING_ENDPOINT, got %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	store := NewStore()
	key, _ := newKeyHex(t)

	if _, err := store.CurrentIdentity(); !xerrors.IsCode(err, xerrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
	if _, err := store.CurrentAddress(); !xerrors.IsCode(err, xerrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
	if err := store.Rebind(key); !xerrors.IsCode(err, xerrors.CodeNotInitialized) {
		t.Fatalf("expected NOT_INITIALIZED, got %v", err)
	}
}

func TestExclusiveSerializesCallers(t *testing.T) {
	dialer := newCountingDialer(t, "sim://a")
	store := NewStore(WithDialer(dialer.dial))
	keyA, addrA := newKeyHex(t)
	keyB, addrB := newKeyHex(t)
	if err := store.Bind(context.Background(), keyA, "sim://a"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		for _, pair := range [][2]string{{keyA, addrA}, {keyB, addrB}} {
			wg.Add(1)
			go func(key, want string) {
				defer wg.Done()
				errs <- store.Exclusive(context.Background(), key, func(context.Context) error {
					got, err := store.CurrentAddress()
					if err != nil {
						return err
					}
					if got != want {
						return xerrors.Newf(xerrors.CodeConflict, "observed %s, want %s", got, want)
					}
					return nil
				})
			}(pair[0], pair[1])
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("exclusive section leaked another caller's key: %v", err)
		}
	}
}
