package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ChainGuard-Agent/internal/agent"
	"ChainGuard-Agent/internal/config"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/firewall"
	"ChainGuard-Agent/internal/knowledge"
	"ChainGuard-Agent/internal/llm"
	llmprovider "ChainGuard-Agent/internal/llm/provider"
	"ChainGuard-Agent/internal/observability/alerting"
	"ChainGuard-Agent/internal/session"
	"ChainGuard-Agent/internal/storage/sqldb"
	"ChainGuard-Agent/internal/task"
	"ChainGuard-Agent/internal/web3/ethereum"
	chains "ChainGuard-Agent/internal/web3/provider"
	"ChainGuard-Agent/pkg/logger"
)

// runtime holds the wired components and the cleanups that release them.
type runtime struct {
	cfg     *config.Config
	agent   *agent.Agent
	alerts  alerting.Dispatcher
	network chains.Network
	closers []func() error
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func newModel(cfg *config.Config, model string) (llm.Client, error) {
	return llmprovider.New(llmprovider.Config{
		Model:     model,
		OpenAI:    llmprovider.Credentials{APIKey: cfg.LLM.OpenAI.APIKey, BaseURL: cfg.LLM.OpenAI.BaseURL},
		Anthropic: llmprovider.Credentials{APIKey: cfg.LLM.Anthropic.APIKey, BaseURL: cfg.LLM.Anthropic.BaseURL},
		Timeout:   cfg.LLM.Timeout,
	})
}

func newAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Firewall.AlertWebhook != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Firewall.AlertWebhook,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func newHistoryProvider(ctx context.Context, cfg config.SessionConfig) (session.Provider, func() error, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		p, err := session.NewRedisProvider(ctx, session.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case config.DriverMySQL, config.DriverSQLite:
		p, err := session.NewSQLProvider(ctx, sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return session.NewMemoryProvider(), func() error { return nil }, nil
	}
}

// configError tags uncoded startup failures as CONFIGURATION.
func configError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeConfiguration, err, message)
}

// buildRuntime wires the agent and its supporting services from cfg.
func buildRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()
	log := logger.Named("bootstrap")

	rt.network, err = chains.Resolve(cfg.Web3)
	if err != nil {
		return nil, err
	}

	model, err := newModel(cfg, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	rt.alerts = newAlerts(cfg)

	matcher, err := firewall.LoadMatcher(cfg.Firewall.PatternsFile)
	if err != nil {
		return nil, configError(err, "load firewall patterns")
	}

	history, closeHistory, err := newHistoryProvider(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeHistory)

	opOpts := []ethereum.Option{ethereum.WithNativeSymbol(rt.network.Symbol)}
	if cfg.Agent.ReceiptTimeout > 0 {
		opOpts = append(opOpts, ethereum.WithReceiptTimeout(cfg.Agent.ReceiptTimeout))
	}
	opts := []agent.Option{
		agent.WithFirewallMatcher(matcher),
		agent.WithHistoryProvider(history),
		agent.WithAlerts(rt.alerts),
		agent.WithOperationOptions(opOpts...),
	}
	if cfg.Agent.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(cfg.Agent.MaxIterations))
	}
	if cfg.LLM.SanitizerModel != "" {
		sanitizer, err := newModel(cfg, cfg.LLM.SanitizerModel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithSanitizerClient(sanitizer))
	}
	if cfg.Agent.TokensFile != "" {
		directory, err := knowledge.LoadDirectory(cfg.Agent.TokensFile)
		if err != nil {
			return nil, configError(err, "load token directory")
		}
		opts = append(opts, agent.WithKnowledge(directory))
	}

	rt.agent, err = agent.New(ctx, agent.Config{
		PrivateKey:   cfg.Agent.PrivateKey,
		RPCURL:       rt.network.RPCURL,
		Model:        model,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, opts...)
	if err != nil {
		return nil, err
	}
	rt.onClose(func() error { rt.agent.Close(); return nil })

	log.Info("agent ready",
		"network", rt.network.Name,
		"model", cfg.LLM.Model,
		"session_driver", cfg.Session.Driver,
		"default_session", rt.agent.DefaultSession())
	return rt, nil
}

// taskRuntime is the asynchronous instruction pipeline.
type taskRuntime struct {
	service   *task.Service
	processor *task.Processor
}

func buildTasks(ctx context.Context, rt *runtime) (*taskRuntime, error) {
	cfg := rt.cfg.Tasks

	var store task.Store
	switch cfg.Store.Driver {
	case config.DriverMySQL, config.DriverSQLite:
		s, err := task.NewSQLStore(ctx, sqldb.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		store = task.NewMemoryStore()
	}

	var queue task.Queue
	switch cfg.Queue.Driver {
	case config.DriverRedis:
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Name,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		queue = q
	case config.DriverRabbitMQ:
		name := cfg.Queue.RabbitMQ.Queue
		if name == "" {
			name = cfg.Queue.Name
		}
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    name,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		queue = q
	default:
		queue = task.NewMemoryQueue(cfg.Queue.Size)
	}

	service := task.NewService(store, queue, cfg.MaxRetries)
	rt.onClose(service.Close)

	processor := task.NewProcessor(task.AgentExecutor(rt.agent), store, queue, queue,
		task.WithWorkerCount(cfg.Workers),
		task.WithProcessorLogger(logger.Named("task")),
		task.WithAlertDispatcher(rt.alerts),
	)
	return &taskRuntime{service: service, processor: processor}, nil
}
