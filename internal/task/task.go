package task

import (
	stdErrors "errors"

	xerrors "ChainGuard-Agent/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task 是排队执行的一条自然语言指令。
type Task struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
	SessionID   string `json:"session_id,omitempty"`
	Status      Status `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxRetries  int    `json:"max_retries"`
	LastError   string `json:"last_error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	Reply       string `json:"reply,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Done 判断任务是否已进入终态。
func (t *Task) Done() bool {
	if t == nil {
		return false
	}
	if t.Status == StatusSucceeded {
		return true
	}
	return t.Status == StatusFailed && t.Attempts >= t.MaxRetries
}

const (
	CodeTaskNotFound  xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict  xerrors.Code = "TASK_CONFLICT"
	CodeTaskCompleted xerrors.Code = "TASK_COMPLETED"
	CodeTaskExhausted xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskPublish   xerrors.Code = "TASK_PUBLISH_FAILED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "")
	// ErrTaskCompleted 表示任务已经成功完成。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "")
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Class:    xerrors.ClassValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Class:    xerrors.ClassValidation,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskCompleted, xerrors.Attributes{
		Message:  "task already completed",
		Class:    xerrors.ClassValidation,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Class:    xerrors.ClassInternal,
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Class:     xerrors.ClassInternal,
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// skippable 判断领取失败是否只需忽略该消息。
func skippable(err error) bool {
	return stdErrors.Is(err, ErrTaskNotFound) ||
		stdErrors.Is(err, ErrTaskCompleted) ||
		stdErrors.Is(err, ErrTaskExhausted) ||
		stdErrors.Is(err, ErrTaskConflict)
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
