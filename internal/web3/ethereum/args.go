package ethereum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// coerceArgs converts JSON-decoded constructor arguments into the Go types
// the abi packer expects.
func coerceArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(args) != len(inputs) {
		return nil, invalid("constructor expects %d args, got %d", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, input := range inputs {
		value, err := coerce(input.Type, args[i])
		if err != nil {
			return nil, invalid("constructor arg %d (%s): %v", i, input.Type.String(), err)
		}
		out[i] = value
	}
	return out, nil
}

func coerce(typ abi.Type, raw any) (any, error) {
	switch typ.T {
	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(raw)
		if err != nil {
			return nil, err
		}
		if err := checkRange(typ, n); err != nil {
			return nil, err
		}
		// uint24, int40 and friends pack from *big.Int.
		target := typ.GetType()
		switch target.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return reflect.ValueOf(n.Uint64()).Convert(target).Interface(), nil
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.ValueOf(n.Int64()).Convert(target).Interface(), nil
		default:
			return n, nil
		}
	case abi.AddressTy:
		s, ok := raw.(string)
		if !ok || !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%v is not an address", raw)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("%v is not a bool", raw)
		}
		return b, nil
	case abi.StringTy:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%v is not a string", raw)
		}
		return s, nil
	case abi.BytesTy, abi.FixedBytesTy:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%v is not hex bytes", raw)
		}
		data, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, err
		}
		if typ.T == abi.BytesTy {
			return data, nil
		}
		if len(data) != typ.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", typ.Size, len(data))
		}
		fixed := reflect.New(typ.GetType()).Elem()
		reflect.Copy(fixed, reflect.ValueOf(data))
		return fixed.Interface(), nil
	default:
		return raw, nil
	}
}

// checkRange rejects values that do not fit the declared bit width.
func checkRange(typ abi.Type, n *big.Int) error {
	if typ.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > typ.Size {
			return fmt.Errorf("%s out of range", n)
		}
		return nil
	}
	magnitude := n
	if n.Sign() < 0 {
		magnitude = new(big.Int).Sub(new(big.Int).Neg(n), big.NewInt(1))
	}
	if magnitude.BitLen() > typ.Size-1 {
		return fmt.Errorf("%s out of range", n)
	}
	return nil
}

func toBigInt(raw any) (*big.Int, error) {
	switch v := raw.(type) {
	case *big.Int:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("%v is not an integer", v)
		}
		return big.NewInt(int64(v)), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case json.Number:
		return parseBigInt(v.String())
	case string:
		return parseBigInt(v)
	default:
		return nil, fmt.Errorf("%v is not an integer", raw)
	}
}

func parseBigInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	return n, nil
}
