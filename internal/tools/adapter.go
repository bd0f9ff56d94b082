package tools

import (
	"context"
	"encoding/json"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/observability/metrics"
)

// Binder switches the credential store to a key for the duration of fn.
// *wallet.Store implements it.
type Binder interface {
	Exclusive(ctx context.Context, rawKey string, fn func(ctx context.Context) error) error
}

// KeySource returns the owning agent's credential at call time.
type KeySource func() string

// Operation is a blockchain operation that reads whatever identity the
// credential store currently holds.
type Operation[P any] func(ctx context.Context, params P) (string, error)

// Bound rebinds the store to key() and runs op inside the store's exclusive
// section, so callers sharing a store never observe each other's identity.
func Bound[P any](name string, binder Binder, key KeySource, op Operation[P]) Operation[P] {
	return func(ctx context.Context, params P) (string, error) {
		started := time.Now()
		var result string
		err := binder.Exclusive(ctx, key(), func(ctx context.Context) error {
			var opErr error
			result, opErr = op(ctx, params)
			return opErr
		})
		code := "OK"
		if err != nil {
			code = string(xerrors.CodeOf(err))
		}
		metrics.ObserveToolCall(name, code, time.Since(started))
		if err != nil {
			return "", err
		}
		return result, nil
	}
}

// Handler is the JSON-facing form of a tool used by the orchestrator.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// decoded turns a typed operation into a Handler. Malformed arguments fail
// with VALIDATION before the store is touched.
func decoded[P any](op Operation[P]) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var params P
		if len(args) > 0 && string(args) != "null" {
			if err := json.Unmarshal(args, &params); err != nil {
				return "", xerrors.Wrap(xerrors.CodeValidation, err, "invalid tool arguments")
			}
		}
		return op(ctx, params)
	}
}
