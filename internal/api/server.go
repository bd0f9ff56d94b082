package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChainGuard-Agent/internal/agent"
	"ChainGuard-Agent/internal/auth"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/internal/task"
	"ChainGuard-Agent/internal/web3"
	"ChainGuard-Agent/pkg/logger"
)

// Agent 是 API 所需的 Agent 能力，*agent.Agent 实现了它。
type Agent interface {
	Execute(ctx context.Context, text string, opts ...agent.ExecuteOption) (string, error)
	DefaultSession() string
	Address(ctx context.Context) (string, error)
	NativeBalance(ctx context.Context, params web3.NativeBalanceParams) (string, error)
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr  string
	agent Agent
	tasks *task.Service
	auth  *auth.Service
}

// ServerOption 定制 Server。
type ServerOption func(*Server)

// WithAuth 为 /api/v1 路由启用令牌认证。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// NewServer 构造 API 服务实例。tasks 为 nil 时任务接口返回 503。
func NewServer(addr string, ag Agent, tasks *task.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, agent: ag, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) guard(event string, handler http.HandlerFunc, permissions ...string) http.Handler {
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: permissions,
		AuditEvent:          event,
		OnError:             writeError,
	})(handler)
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/execute", s.guard("execute", s.handleExecute, auth.PermissionExecute))
	mux.Handle("POST /api/v1/tasks", s.guard("task_submit", s.handleCreateTask, auth.PermissionTasksWrite))
	mux.Handle("GET /api/v1/tasks", s.guard("task_list", s.handleListTasks, auth.PermissionTasksRead))
	mux.Handle("GET /api/v1/tasks/{id}", s.guard("task_detail", s.handleTaskDetail, auth.PermissionTasksRead))
	mux.Handle("GET /api/v1/wallet", s.guard("wallet", s.handleWallet, auth.PermissionWallet))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return instrument(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("api").Info("HTTP 服务已启动", "addr", s.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type executeRequest struct {
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id,omitempty"`
}

type executeResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeNotInitialized, "Agent 未初始化"))
		return
	}
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = s.agent.DefaultSession()
	}

	reply, err := s.agent.Execute(r.Context(), req.Instruction, agent.WithSession(sessionID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{Reply: reply, SessionID: sessionID})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeNotInitialized, "任务服务未启用"))
		return
	}
	var req task.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeNotInitialized, "任务服务未启用"))
		return
	}
	query := r.URL.Query()
	opts := []task.ListOption{}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeValidation, "limit 必须是整数"))
			return
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeValidation, "offset 必须是整数"))
			return
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				writeError(w, xerrors.Newf(xerrors.CodeValidation, "未知的任务状态 %q", part))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if session := query.Get("session_id"); session != "" {
		opts = append(opts, task.WithSessionFilter(session))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "stats": stats})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeNotInitialized, "任务服务未启用"))
		return
	}
	found, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeNotInitialized, "Agent 未初始化"))
		return
	}
	address, err := s.agent.Address(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.agent.NativeBalance(r.Context(), web3.NativeBalanceParams{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": address, "balance": balance})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
