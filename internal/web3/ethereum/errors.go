package ethereum

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	xerrors "ChainGuard-Agent/internal/errors"

	"github.com/ethereum/go-ethereum/rpc"
)

// rejections are node answers that resending the same request cannot fix.
var rejections = []string{
	"gas required exceeds",
	"intrinsic gas too low",
	"nonce too low",
	"nonce too high",
	"transaction underpriced",
	"replacement transaction underpriced",
	"already known",
	"max fee per gas less than block base fee",
	"exceeds block gas limit",
	"tip higher than max fee",
	"invalid sender",
	"no contract code",
}

// transportHints mark failures of the connection itself rather than of the request.
var transportHints = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"too many requests",
	"rate limit",
}

// classify maps raw go-ethereum and transport errors onto the agent's error
// codes. Errors that already carry a code pass through untouched.
// Only transport failures are NETWORK. A revert seen while estimating or
// calling is VALIDATION because nothing was sent; anything unrecognised is
// UNKNOWN.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}

	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	case strings.Contains(lower, "insufficient funds"):
		return xerrors.Wrap(xerrors.CodeInsufficientFunds, err, message)
	case strings.Contains(lower, "revert"):
		return xerrors.Wrap(xerrors.CodeValidation, err, message+": call would revert")
	case containsAny(lower, rejections):
		return xerrors.Wrap(xerrors.CodeValidation, err, message+": rejected by node")
	case isTransport(err, lower):
		return xerrors.Wrap(xerrors.CodeNetwork, err, message)
	default:
		return xerrors.Wrap(xerrors.CodeUnknown, err, message)
	}
}

func isTransport(err error, lower string) bool {
	var (
		netErr  net.Error
		httpErr rpc.HTTPError
	)
	switch {
	case errors.As(err, &netErr), errors.As(err, &httpErr):
		return true
	case errors.Is(err, rpc.ErrClientQuit), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	default:
		return containsAny(lower, transportHints)
	}
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeValidation, format, args...)
}
