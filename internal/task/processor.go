package task

import (
	"context"
	"log/slog"

	"ChainGuard-Agent/internal/agent"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/observability/alerting"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/pkg/logger"
)

// Executor 执行一条指令并返回回复。
type Executor interface {
	Run(ctx context.Context, instruction, sessionID string) (string, error)
}

// ExecutorFunc 让普通函数满足 Executor。
type ExecutorFunc func(ctx context.Context, instruction, sessionID string) (string, error)

// Run 实现 Executor。
func (f ExecutorFunc) Run(ctx context.Context, instruction, sessionID string) (string, error) {
	return f(ctx, instruction, sessionID)
}

// AgentExecutor 把 Agent.Execute 适配为 Executor，空会话使用 Agent 的默认会话。
func AgentExecutor(a *agent.Agent) Executor {
	return ExecutorFunc(func(ctx context.Context, instruction, sessionID string) (string, error) {
		return a.Execute(ctx, instruction, agent.WithSession(sessionID))
	})
}

// Processor 负责从队列消费任务并交给 Agent 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeConfiguration, "任务处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if skippable(err) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}
	metrics.ObserveTask(string(StatusRunning))

	reply, execErr := p.executor.Run(ctx, task.Instruction, task.SessionID)
	if execErr != nil {
		return p.handleFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, reply); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveTask(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("session_id", task.SessionID),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// handleFailure 记录失败。只有可重试的错误码（网络、超时、大模型故障等）在
// 次数未耗尽时重新入队；防火墙拦截、校验失败、交易失败都是终态。
func (p *Processor) handleFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || task.Attempts >= task.MaxRetries

	if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveTask(string(StatusFailed))
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, task, execErr, stage)

	if !terminal {
		if err := p.producer.Publish(ctx, task.ID); err != nil {
			return xerrors.Wrap(CodeTaskPublish, err, "任务重新入队失败")
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, cause error, stage string) {
	// 防火墙拦截已由防火墙自身告警。
	if p.alerter == nil || !xerrors.ShouldAlert(cause) || xerrors.ClassOf(cause) == xerrors.ClassFirewall {
		return
	}
	event := alerting.EventFromError("task", cause)
	event.SessionID = task.SessionID
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["task_id"] = task.ID
	event.Metadata["stage"] = stage
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("task_id", task.ID))
	}
}
