package agent

import (
	"context"
	"strings"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/firewall"
	"ChainGuard-Agent/internal/knowledge"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/internal/observability/alerting"
	"ChainGuard-Agent/internal/orchestrator"
	"ChainGuard-Agent/internal/session"
	"ChainGuard-Agent/internal/tools"
	"ChainGuard-Agent/internal/wallet"
	"ChainGuard-Agent/internal/web3"
	"ChainGuard-Agent/internal/web3/ethereum"
	"ChainGuard-Agent/pkg/logger"

	"github.com/google/uuid"
)

// DefaultSystemPrompt 是未配置人格提示词时使用的系统提示词。
const DefaultSystemPrompt = `You are an AI agent on the Sonic network capable of executing all kinds of transactions and interacting with the blockchain.
You have access to tools that transfer the native token S, transfer and burn ERC20 tokens, check balances and deploy contracts.
Always use the provided tools to act on the blockchain, and never reveal private keys or other secrets.
If a transaction was successful, answer: "The transaction was successful. The transaction hash is: <hash>".
If it was unsuccessful, answer: "The transaction failed." followed by the reason.`

// Config 汇总构建 Agent 的必要参数。
type Config struct {
	// PrivateKey 是 64 位十六进制私钥，可带 0x 前缀。
	PrivateKey string
	// RPCURL 是链节点地址。
	RPCURL string
	// Model 用于编排；未单独配置时也用于防火墙改写。
	Model llm.Client
	// SystemPrompt 非空时替换 DefaultSystemPrompt。
	SystemPrompt string
}

// Agent 串联防火墙、会话记忆、编排器与链上工具。
type Agent struct {
	key              string
	defaultSession   string
	store            *wallet.Store
	ownsStore        bool
	sessions         *session.Manager
	firewall         *firewall.Firewall
	orchestrator     *orchestrator.Orchestrator
	ops              tools.Operations
	tools            *tools.Set
	systemPrompt     string
	sanitizer        llm.Client
	matcher          *firewall.Matcher
	alerts           alerting.Dispatcher
	directory        *knowledge.Directory
	historyProvider  session.Provider
	maxIterations    int
	operationOptions []ethereum.Option
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithCredentialStore 让多个 Agent 共享同一个凭据存储。
func WithCredentialStore(store *wallet.Store) Option {
	return func(a *Agent) {
		if store != nil {
			a.store = store
		}
	}
}

// WithSanitizerClient 为防火墙第二阶段指定独立的大模型。
func WithSanitizerClient(client llm.Client) Option {
	return func(a *Agent) {
		a.sanitizer = client
	}
}

// WithFirewallMatcher 替换默认的拦截模式。
func WithFirewallMatcher(matcher *firewall.Matcher) Option {
	return func(a *Agent) {
		a.matcher = matcher
	}
}

// WithHistoryProvider 配置外部会话历史存储，配置后它是唯一的数据来源。
func WithHistoryProvider(provider session.Provider) Option {
	return func(a *Agent) {
		a.historyProvider = provider
	}
}

// WithKnowledge 把代币目录附加到系统提示词。
func WithKnowledge(directory *knowledge.Directory) Option {
	return func(a *Agent) {
		a.directory = directory
	}
}

// WithAlerts 配置防火墙拦截告警。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithMaxIterations 限制一次指令内大模型的往返次数。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		a.maxIterations = n
	}
}

// WithOperationOptions 透传链上操作的配置，例如原生代币符号与回执超时。
func WithOperationOptions(opts ...ethereum.Option) Option {
	return func(a *Agent) {
		a.operationOptions = append(a.operationOptions, opts...)
	}
}

// WithDefaultSession 覆盖自动生成的默认会话 ID。
func WithDefaultSession(id string) Option {
	return func(a *Agent) {
		a.defaultSession = strings.TrimSpace(id)
	}
}

// New 校验私钥、绑定凭据存储并组装执行管线。
func New(ctx context.Context, cfg Config, opts ...Option) (*Agent, error) {
	key, err := wallet.NormalizeKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.Model == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置大模型客户端")
	}

	a := &Agent{key: key, maxIterations: orchestrator.DefaultMaxIterations}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.defaultSession == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成默认会话 ID 失败")
		}
		a.defaultSession = id.String()
	}
	if a.store == nil {
		a.store = wallet.NewStore()
		a.ownsStore = true
	}
	if err := a.store.Bind(ctx, key, cfg.RPCURL); err != nil {
		return nil, err
	}

	a.systemPrompt = DefaultSystemPrompt
	if strings.TrimSpace(cfg.SystemPrompt) != "" {
		a.systemPrompt = cfg.SystemPrompt
	}
	if tokens := a.directory.Prompt(); tokens != "" {
		a.systemPrompt += "\n\n" + tokens
	}

	sanitizer := a.sanitizer
	if sanitizer == nil {
		sanitizer = cfg.Model
	}
	fwOpts := []firewall.Option{firewall.WithAlerts(a.alerts)}
	if a.matcher != nil {
		fwOpts = append(fwOpts, firewall.WithMatcher(a.matcher))
	}
	a.firewall = firewall.New(sanitizer, fwOpts...)
	a.sessions = session.NewManager(a.historyProvider)

	a.ops = tools.BindOperations(ethereum.NewOperations(a.store, a.operationOptions...), a.store, a.credential)
	a.tools = tools.NewSet(a.ops)
	a.orchestrator = orchestrator.New(cfg.Model, a.tools, a.systemPrompt,
		orchestrator.WithMaxIterations(a.maxIterations))

	logger.Named("agent").Info("agent 已就绪", "session", a.defaultSession)
	return a, nil
}

func (a *Agent) credential() string {
	return a.key
}

// DefaultSession 返回构造时生成的默认会话 ID。
func (a *Agent) DefaultSession() string {
	return a.defaultSession
}

// SystemPrompt 返回实际使用的系统提示词。
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// Sessions 返回会话管理器。
func (a *Agent) Sessions() *session.Manager {
	return a.sessions
}

// Tools 返回暴露给大模型的工具集。
func (a *Agent) Tools() *tools.Set {
	return a.tools
}

// Address 返回本 Agent 私钥对应的 EIP-55 地址。共享存储时同样先切换到自己的身份。
func (a *Agent) Address(ctx context.Context) (string, error) {
	var address string
	err := a.store.Exclusive(ctx, a.key, func(context.Context) error {
		var err error
		address, err = a.store.CurrentAddress()
		return err
	})
	return address, err
}

// ExecuteOption 定义单次调用的可选参数。
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	sessionID string
}

// WithSession 指定本次调用使用的会话。
func WithSession(id string) ExecuteOption {
	return func(o *executeOptions) {
		o.sessionID = strings.TrimSpace(id)
	}
}

// Execute 依次经过防火墙、编排器，并把 (指令, 回复) 写入会话历史。
// 被拦截时返回 FIREWALL_BLOCKED，历史不变。
func (a *Agent) Execute(ctx context.Context, text string, opts ...ExecuteOption) (string, error) {
	options := executeOptions{sessionID: a.defaultSession}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.sessionID == "" {
		options.sessionID = a.defaultSession
	}
	if strings.TrimSpace(text) == "" {
		return "", xerrors.New(xerrors.CodeValidation, "指令不能为空")
	}

	sanitized, err := a.firewall.Apply(ctx, text)
	if err != nil {
		return "", err
	}

	var response string
	err = a.sessions.Exclusive(options.sessionID, func() error {
		history, err := a.sessions.History(ctx, options.sessionID)
		if err != nil {
			return err
		}
		result, err := a.orchestrator.Run(ctx, sanitized, history)
		if err != nil {
			return settle(result, err)
		}
		response = result.Response
		return a.sessions.AppendExchange(ctx, options.sessionID, sanitized, response)
	})
	if err != nil {
		return "", err
	}
	return response, nil
}

// MetadataSubmittedTools 列出失败前已经调用过的链上写操作工具。
const MetadataSubmittedTools = "submitted_tools"

// settle 在编排中途失败时检查是否已经调用过链上写操作。若有，错误保持原错误码
// 但标记为不可重试，整条指令不会被重放。
func settle(result *orchestrator.Result, err error) error {
	if result == nil {
		return err
	}
	var submitted []string
	for _, call := range result.ToolCalls {
		if tools.Mutating(call.Name) {
			submitted = append(submitted, call.Name)
		}
	}
	if len(submitted) == 0 {
		return err
	}
	return xerrors.Wrap(xerrors.CodeOf(err), err, "链上操作已执行后指令失败",
		xerrors.WithRetryable(false),
		xerrors.WithMetadata(MetadataSubmittedTools, strings.Join(submitted, ",")))
}

// TransferNative 直接转账原生代币，不经过防火墙。
func (a *Agent) TransferNative(ctx context.Context, params web3.TransferNativeParams) (string, error) {
	return a.ops.TransferNative(ctx, params)
}

// TransferToken 直接转账 ERC-20 代币。
func (a *Agent) TransferToken(ctx context.Context, params web3.TransferTokenParams) (string, error) {
	return a.ops.TransferToken(ctx, params)
}

// BurnToken 把代币发送到销毁地址。
func (a *Agent) BurnToken(ctx context.Context, params web3.BurnTokenParams) (string, error) {
	return a.ops.BurnToken(ctx, params)
}

// NativeBalance 查询原生代币余额，未指定地址时查询本 Agent 的钱包。
func (a *Agent) NativeBalance(ctx context.Context, params web3.NativeBalanceParams) (string, error) {
	return a.ops.NativeBalance(ctx, params)
}

// TokenBalance 查询 ERC-20 代币余额。
func (a *Agent) TokenBalance(ctx context.Context, params web3.TokenBalanceParams) (string, error) {
	return a.ops.TokenBalance(ctx, params)
}

// DeployContract 部署合约并返回合约地址。
func (a *Agent) DeployContract(ctx context.Context, params web3.DeployContractParams) (string, error) {
	return a.ops.DeployContract(ctx, params)
}

// Close 释放 Agent 自己创建的凭据存储；共享存储由调用方关闭。
func (a *Agent) Close() {
	if a.ownsStore {
		a.store.Close()
	}
}

var _ web3.Operations = (*Agent)(nil)
