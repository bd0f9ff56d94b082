package firewall

import (
	"context"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/internal/observability/alerting"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/pkg/logger"
)

// 拦截原因，写入 FIREWALL_BLOCKED 错误的 reason 元数据。
const (
	ReasonPattern = "pattern"
	ReasonLLM     = "llm"
)

func blocked(reason, message string) error {
	return xerrors.New(xerrors.CodeFirewallBlocked, message, xerrors.WithMetadata(xerrors.MetadataReason, reason))
}

// Reason 返回 FIREWALL_BLOCKED 错误的拦截原因，其它错误返回空串。
func Reason(err error) string {
	if !xerrors.IsCode(err, xerrors.CodeFirewallBlocked) {
		return ""
	}
	return xerrors.MetadataOf(err, xerrors.MetadataReason)
}

// Firewall 组合模式匹配与大模型改写两个阶段。
type Firewall struct {
	matcher   *Matcher
	sanitizer *Sanitizer
	alerts    alerting.Dispatcher
}

// Option 定义 Firewall 的可选配置。
type Option func(*Firewall)

// WithMatcher 替换默认的模式匹配器。
func WithMatcher(matcher *Matcher) Option {
	return func(f *Firewall) {
		if matcher != nil {
			f.matcher = matcher
		}
	}
}

// WithTemplate 替换改写模板。
func WithTemplate(template string) Option {
	return func(f *Firewall) {
		f.sanitizer = NewSanitizer(f.sanitizer.client, template)
	}
}

// WithAlerts 配置拦截事件的告警分发器。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(f *Firewall) {
		f.alerts = dispatcher
	}
}

// New 创建防火墙，client 用于第二阶段改写。
func New(client llm.Client, opts ...Option) *Firewall {
	f := &Firewall{
		matcher:   NewMatcher(DefaultPatterns...),
		sanitizer: NewSanitizer(client, ""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Apply 依次执行两个阶段，返回可交给编排器的指令。
// 命中模式时不会调用大模型。
func (f *Firewall) Apply(ctx context.Context, text string) (string, error) {
	if pattern, hit := f.matcher.Match(text); hit {
		err := blocked(ReasonPattern, "Prompt blocked by AI firewall due to a potential private key request.")
		f.report(ctx, err, "pattern", pattern)
		return "", err
	}

	sanitized, err := f.sanitizer.Sanitize(ctx, text)
	if err != nil {
		if Reason(err) == ReasonLLM {
			f.report(ctx, err, "", "")
		}
		return "", err
	}
	metrics.ObserveFirewall(true, "")
	return sanitized, nil
}

func (f *Firewall) report(ctx context.Context, err error, key, value string) {
	reason := Reason(err)
	metrics.ObserveFirewall(false, reason)

	attrs := []any{"reason", reason}
	if key != "" {
		attrs = append(attrs, key, value)
	}
	logger.Audit().Warn("instruction blocked", attrs...)

	if f.alerts == nil {
		return
	}
	event := alerting.EventFromError("firewall", err)
	if key != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		event.Metadata[key] = value
	}
	if notifyErr := f.alerts.Notify(ctx, event); notifyErr != nil {
		logger.Named("firewall").Warn("告警发送失败", "error", notifyErr)
	}
}
