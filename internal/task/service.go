package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/internal/session"
	"ChainGuard-Agent/pkg/logger"

	"github.com/google/uuid"
)

// DefaultMaxRetries 是任务默认的最大尝试次数。
const DefaultMaxRetries = 3

// SubmitRequest 描述一次异步指令提交。
type SubmitRequest struct {
	// ID 可选，用于幂等提交；同一 ID 重复提交返回已有任务。
	ID          string `json:"id,omitempty"`
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id,omitempty"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "指令不能为空")
	}
	if len(strings.TrimSpace(req.SessionID)) > session.MaxIDLength {
		return nil, xerrors.Newf(xerrors.CodeValidation, "会话 ID 超过 %d 字节", session.MaxIDLength)
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成任务 ID 失败")
		}
		taskID = id.String()
	}

	task := &Task{
		ID:          taskID,
		Instruction: req.Instruction,
		SessionID:   strings.TrimSpace(req.SessionID),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			return s.store.Get(ctx, taskID)
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	metrics.ObserveTask(string(StatusPending))
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("session_id", task.SessionID),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeConfiguration, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待任务完成超时")
		case <-ticker.C:
		}
	}
}
