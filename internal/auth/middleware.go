package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	loggerpkg "ChainGuard-Agent/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 是访问该路由所需的权限。
	RequiredPermissions []string
	// AuditEvent 指定记录审计日志时使用的事件名称，默认取请求路径。
	AuditEvent string
	// OnError 写出认证失败的响应，默认使用 http.Error。
	OnError func(http.ResponseWriter, error)
}

// Middleware 返回处理认证与授权的 HTTP 中间件。未配置令牌时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	onError := cfg.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, err error) {
			status := http.StatusUnauthorized
			if xerrors.CodeOf(err) == CodeForbidden {
				status = http.StatusForbidden
			}
			http.Error(w, http.StatusText(status), status)
		}
	}
	return func(next http.Handler) http.Handler {
		if !s.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := loggerpkg.Audit()
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"error", err.Error(),
				)
				onError(w, xerrors.Wrap(CodeUnauthorized, err, ""))
				return
			}
			if err := subject.Authorize(cfg.RequiredPermissions...); err != nil {
				audit.Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"user", subject.Name,
					"error", errors.Unwrap(err).Error(),
				)
				onError(w, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			level := slog.LevelInfo
			if aw.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			audit.Log(r.Context(), level, "api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Name,
			)
		})
	}
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
