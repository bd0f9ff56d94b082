package ethereum

import (
	"context"
	"errors"
	"math/big"
	"net"
	"syscall"
	"testing"

	xerrors "ChainGuard-Agent/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1.5", 18, "1500000000000000000"},
		{"0.000001", 6, "1"},
		{"42", 0, "42"},
		{".5", 1, "5"},
		{"2.500000", 2, "250"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "abc", "1.2.3", ".", "1e5", "1.1234567"} {
		if _, err := ParseUnits(bad, 6); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		value    *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(5), 3, "0.005"},
		{big.NewInt(2_500_000), 6, "2.5"},
		{big.NewInt(1_000_000), 6, "1"},
		{big.NewInt(0), 18, "0"},
		{big.NewInt(7), 0, "7"},
		{nil, 18, "0"},
	}
	for _, tc := range cases {
		if got := FormatUnits(tc.value, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%v, %d) = %q, want %q", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want xerrors.Code
	}{
		{context.DeadlineExceeded, xerrors.CodeTimeout},
		{errors.New("insufficient funds for gas * price + value"), xerrors.CodeInsufficientFunds},
		{errors.New("execution reverted: paused"), xerrors.CodeValidation},
		{errors.New("gas required exceeds allowance (30000000)"), xerrors.CodeValidation},
		{errors.New("nonce too low: next nonce 4, tx nonce 3"), xerrors.CodeValidation},
		{errors.New("intrinsic gas too low"), xerrors.CodeValidation},
		{errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), xerrors.CodeNetwork},
		{&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, xerrors.CodeNetwork},
		{rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, xerrors.CodeNetwork},
		{errors.New("header not found"), xerrors.CodeUnknown},
		{xerrors.New(xerrors.CodeValidation, "kept"), xerrors.CodeValidation},
	}
	for _, tc := range cases {
		if got := xerrors.CodeOf(classify(tc.err, "op")); got != tc.want {
			t.Fatalf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if xerrors.RetryableError(classify(errors.New("nonce too low"), "send transaction")) {
		t.Fatal("node rejections must not be retryable")
	}
}

func TestCoerceArgs(t *testing.T) {
	uint256, _ := abi.NewType("uint256", "", nil)
	uint8Type, _ := abi.NewType("uint8", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	inputs := abi.Arguments{{Type: uint256}, {Type: uint8Type}, {Type: addressType}}

	owner := "0x000000000000000000000000000000000000dEaD"
	args, err := coerceArgs(inputs, []any{"1000000000000000000000", float64(18), owner})
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if args[0].(*big.Int).String() != "1000000000000000000000" {
		t.Fatalf("unexpected uint256 %v", args[0])
	}
	if args[1].(uint8) != 18 {
		t.Fatalf("unexpected uint8 %v", args[1])
	}
	if args[2].(common.Address) != common.HexToAddress(owner) {
		t.Fatalf("unexpected address %v", args[2])
	}
	if _, err := inputs.Pack(args...); err != nil {
		t.Fatalf("pack coerced args: %v", err)
	}

	if _, err := coerceArgs(inputs, []any{"1"}); !xerrors.IsCode(err, xerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION for arity mismatch, got %v", err)
	}
}

func TestCoerceArgsRespectsBitWidth(t *testing.T) {
	newType := func(name string) abi.Type {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			t.Fatalf("abi type %s: %v", name, err)
		}
		return typ
	}

	for _, tc := range []struct {
		typ string
		arg any
	}{
		{"uint8", float64(300)},
		{"uint8", float64(-1)},
		{"int8", float64(128)},
		{"int8", float64(-129)},
		{"uint24", "16777216"},
		{"int40", "-549755813889"},
	} {
		inputs := abi.Arguments{{Type: newType(tc.typ)}}
		if _, err := coerceArgs(inputs, []any{tc.arg}); !xerrors.IsCode(err, xerrors.CodeValidation) {
			t.Fatalf("%s=%v: expected VALIDATION, got %v", tc.typ, tc.arg, err)
		}
	}

	inputs := abi.Arguments{{Type: newType("uint24")}, {Type: newType("int40")}, {Type: newType("int8")}}
	args, err := coerceArgs(inputs, []any{float64(5), "-549755813888", float64(-128)})
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	if args[0].(*big.Int).Int64() != 5 || args[1].(*big.Int).Int64() != -549755813888 || args[2].(int8) != -128 {
		t.Fatalf("unexpected args %v", args)
	}
	if _, err := inputs.Pack(args...); err != nil {
		t.Fatalf("pack coerced args: %v", err)
	}
}
