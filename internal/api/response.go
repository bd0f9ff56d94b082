package api

import (
	"encoding/json"
	"net/http"
	"time"

	"ChainGuard-Agent/internal/auth"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/internal/task"
	"ChainGuard-Agent/pkg/logger"
)

type errorResponse struct {
	Code      xerrors.Code      `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeValidation:        http.StatusBadRequest,
	xerrors.CodeInvalidCredential: http.StatusBadRequest,
	xerrors.CodeFirewallBlocked:   http.StatusForbidden,
	auth.CodeUnauthorized:         http.StatusUnauthorized,
	auth.CodeForbidden:            http.StatusForbidden,
	xerrors.CodeNotFound:          http.StatusNotFound,
	task.CodeTaskNotFound:         http.StatusNotFound,
	xerrors.CodeConflict:          http.StatusConflict,
	task.CodeTaskConflict:         http.StatusConflict,
	xerrors.CodeInsufficientFunds: http.StatusUnprocessableEntity,
	xerrors.CodeTransactionFailed: http.StatusUnprocessableEntity,
	xerrors.CodeTimeout:           http.StatusGatewayTimeout,
	xerrors.CodeNetwork:           http.StatusBadGateway,
	xerrors.CodeModelFailure:      http.StatusBadGateway,
	xerrors.CodeNotInitialized:    http.StatusServiceUnavailable,
	xerrors.CodeConfiguration:     http.StatusServiceUnavailable,
	xerrors.CodeMissingEndpoint:   http.StatusServiceUnavailable,
}

// statusOf 把统一错误码映射为 HTTP 状态码。
func statusOf(code xerrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	body := errorResponse{Code: code, Retryable: xerrors.RetryableError(err)}
	if coded, ok := xerrors.From(err); ok {
		body.Message = coded.Message()
		body.Metadata = coded.Metadata()
	} else {
		body.Message = "internal error"
	}
	status := statusOf(code)
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败", "code", code, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求数与耗时。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(started))
	})
}
