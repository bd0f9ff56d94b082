package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	xerrors "ChainGuard-Agent/internal/errors"
)

// TransportError 把 HTTP 调用失败归类为 TIMEOUT 或 MODEL_FAILURE。
func TransportError(provider Provider, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("%s request timed out", provider))
	}
	return xerrors.Wrap(xerrors.CodeModelFailure, err, fmt.Sprintf("%s request failed", provider))
}

// StatusError 描述服务商返回的非 2xx 响应。
func StatusError(provider Provider, status int, body string) error {
	retryable := status == 429 || status >= 500
	return xerrors.New(xerrors.CodeModelFailure,
		fmt.Sprintf("%s returned status %d: %s", provider, status, body),
		xerrors.WithRetryable(retryable),
		xerrors.WithMetadata("status", fmt.Sprint(status)))
}
