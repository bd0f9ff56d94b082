package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath 指定配置文件路径的环境变量。
	EnvConfigPath = "CHAINGUARD_CONFIG"
	// DefaultPath 是未指定路径时读取的配置文件。
	DefaultPath = "configs/chainguard.yaml"
	// KeyringService 是系统钥匙串中保存密钥时使用的服务名。
	KeyringService = "chainguard"

	EnvPrivateKey      = "CHAINGUARD_PRIVATE_KEY"
	EnvRPCURL          = "CHAINGUARD_RPC_URL"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"

	keyringPrivateKey   = "private_key"
	keyringOpenAIKey    = "openai_api_key"
	keyringAnthropicKey = "anthropic_api_key"
)

// 支持的驱动名称。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverRabbitMQ = "rabbitmq"
)

// Config 描述了 ChainGuard 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Web3     Web3Config     `yaml:"web3"`
	LLM      LLMConfig      `yaml:"llm"`
	Firewall FirewallConfig `yaml:"firewall"`
	Session  SessionConfig  `yaml:"session"`
	Tasks    TaskConfig     `yaml:"tasks"`
	Logging  logger.Config  `yaml:"logging"`
}

// ServerConfig 控制 API 服务与指标服务的监听地址。APITokens 为空时 API 不做认证。
type ServerConfig struct {
	Address        string           `yaml:"address"`
	MetricsAddress string           `yaml:"metrics_address"`
	APITokens      []APITokenConfig `yaml:"api_tokens"`
}

// APITokenConfig 是一条 Bearer 令牌及其权限。
type APITokenConfig struct {
	Name        string   `yaml:"name"`
	Token       string   `yaml:"token"`
	Permissions []string `yaml:"permissions"`
}

// AgentConfig 描述代理自身的身份与提示词。
type AgentConfig struct {
	PrivateKey       string        `yaml:"private_key"`
	SystemPrompt     string        `yaml:"system_prompt"`
	SystemPromptFile string        `yaml:"system_prompt_file"`
	TokensFile       string        `yaml:"tokens_file"`
	MaxIterations    int           `yaml:"max_iterations"`
	ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
}

// Web3Config 包含访问区块链节点所需的信息。rpc_url 优先于 network。
type Web3Config struct {
	RPCURL     string `yaml:"rpc_url"`
	Network    string `yaml:"network"`
	ChainsFile string `yaml:"chains_file"`
}

// ProviderConfig 是单个大模型服务商的访问信息。
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Model          string         `yaml:"model"`
	SanitizerModel string         `yaml:"sanitizer_model"`
	Timeout        time.Duration  `yaml:"timeout"`
	OpenAI         ProviderConfig `yaml:"openai"`
	Anthropic      ProviderConfig `yaml:"anthropic"`
}

// FirewallConfig 描述输入防火墙的规则文件与告警出口。
type FirewallConfig struct {
	PatternsFile string `yaml:"patterns_file"`
	AlertWebhook string `yaml:"alert_webhook"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// SessionConfig 选择会话历史的存储后端。
type SessionConfig struct {
	Driver string      `yaml:"driver"`
	DSN    string      `yaml:"dsn"`
	Redis  RedisConfig `yaml:"redis"`
}

// RabbitMQConfig 是 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Queue    string `yaml:"queue"`
	Prefetch int    `yaml:"prefetch"`
}

// QueueConfig 选择异步指令队列。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Name     string         `yaml:"name"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// StoreConfig 选择任务状态存储。
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// TaskConfig 描述异步任务处理。
type TaskConfig struct {
	Enabled    bool        `yaml:"enabled"`
	Workers    int         `yaml:"workers"`
	MaxRetries int         `yaml:"max_retries"`
	Queue      QueueConfig `yaml:"queue"`
	Store      StoreConfig `yaml:"store"`
}

// Path 返回应读取的配置文件路径以及它是否由调用方显式指定。
func Path(explicit string) (string, bool) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, true
	}
	return DefaultPath, false
}

// Load 读取 YAML 配置，叠加 .env、环境变量与系统钥匙串中的密钥，然后校验。
// 默认路径下的文件不存在时视为空配置，完全依赖环境变量。
func Load(explicit string) (*Config, error) {
	path, required := Path(explicit)
	baseDir := filepath.Dir(path)
	loadEnvFiles(baseDir)

	cfg := &Config{}
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("解析配置文件 %s 失败", path))
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
		baseDir = "."
	default:
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("读取配置文件 %s 失败", path))
	}

	cfg.applyEnv()
	cfg.resolveSecrets()
	cfg.applyDefaults(baseDir)
	if err := cfg.loadSystemPrompt(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles 依次加载 .env 文件，已存在的环境变量不会被覆盖。
func loadEnvFiles(baseDir string) {
	candidates := []string{".env", ".env.local"}
	if baseDir != "" && baseDir != "." {
		candidates = append(candidates, filepath.Join(baseDir, ".env"))
	}
	for _, f := range candidates {
		_ = godotenv.Load(f)
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKey)); v != "" {
		c.Agent.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		c.Web3.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey)); v != "" {
		c.LLM.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAnthropicAPIKey)); v != "" {
		c.LLM.Anthropic.APIKey = v
	}
}

// resolveSecrets 在文件与环境变量均未提供时读取系统钥匙串。
func (c *Config) resolveSecrets() {
	fill := func(target *string, key string) {
		if strings.TrimSpace(*target) != "" {
			return
		}
		if v, err := keyring.Get(KeyringService, key); err == nil {
			*target = strings.TrimSpace(v)
		}
	}
	fill(&c.Agent.PrivateKey, keyringPrivateKey)
	fill(&c.LLM.OpenAI.APIKey, keyringOpenAIKey)
	fill(&c.LLM.Anthropic.APIKey, keyringAnthropicKey)
}

// StoreSecret 把密钥写入系统钥匙串，name 取 private_key、openai_api_key 或 anthropic_api_key。
func StoreSecret(name, value string) error {
	switch name {
	case keyringPrivateKey, keyringOpenAIKey, keyringAnthropicKey:
	default:
		return xerrors.Newf(xerrors.CodeValidation, "unknown secret %q", name)
	}
	if strings.TrimSpace(value) == "" {
		return xerrors.New(xerrors.CodeValidation, "secret value is empty")
	}
	if err := keyring.Set(KeyringService, name, strings.TrimSpace(value)); err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "写入系统钥匙串失败")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，相对路径按配置文件所在目录解析。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = llm.DefaultModel
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.Session.Driver == "" {
		c.Session.Driver = DriverMemory
	}
	c.Session.Driver = normalizeDriver(c.Session.Driver)
	if c.Tasks.Queue.Driver == "" {
		c.Tasks.Queue.Driver = DriverMemory
	}
	c.Tasks.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Tasks.Queue.Driver))
	if c.Tasks.Queue.Size <= 0 {
		c.Tasks.Queue.Size = 128
	}
	if c.Tasks.Store.Driver == "" {
		c.Tasks.Store.Driver = DriverMemory
	}
	c.Tasks.Store.Driver = normalizeDriver(c.Tasks.Store.Driver)
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 4
	}
	if c.Tasks.MaxRetries == 0 {
		c.Tasks.MaxRetries = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join("logs", "audit.log")
	}

	for _, p := range []*string{
		&c.Web3.ChainsFile,
		&c.Agent.TokensFile,
		&c.Agent.SystemPromptFile,
		&c.Firewall.PatternsFile,
		&c.Logging.Audit.Path,
	} {
		*p = resolvePath(baseDir, *p)
	}
}

func normalizeDriver(driver string) string {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "sqlite3" {
		return DriverSQLite
	}
	return driver
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

// loadSystemPrompt 读取 system_prompt_file；内联的 system_prompt 优先。
func (c *Config) loadSystemPrompt() error {
	if strings.TrimSpace(c.Agent.SystemPrompt) != "" || c.Agent.SystemPromptFile == "" {
		return nil
	}
	content, err := os.ReadFile(c.Agent.SystemPromptFile)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "读取 system prompt 文件失败")
	}
	c.Agent.SystemPrompt = strings.TrimSpace(string(content))
	return nil
}

// Validate 检查配置组合是否可用，失败时返回 CONFIGURATION 错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.PrivateKey) == "" {
		return configError("agent.private_key is required (set %s or store it in the %s keyring)", EnvPrivateKey, KeyringService)
	}
	if strings.TrimSpace(c.Web3.RPCURL) == "" && strings.TrimSpace(c.Web3.Network) == "" {
		return configError("web3.rpc_url or web3.network is required (or set %s)", EnvRPCURL)
	}
	if strings.TrimSpace(c.Web3.RPCURL) == "" && c.Web3.ChainsFile == "" {
		return configError("web3.network %q requires web3.chains_file", c.Web3.Network)
	}
	for i, tok := range c.Server.APITokens {
		if strings.TrimSpace(tok.Token) == "" {
			return configError("server.api_tokens[%d] (%s) has an empty token", i, tok.Name)
		}
	}
	if c.Agent.MaxIterations < 0 {
		return configError("agent.max_iterations must not be negative")
	}

	if err := c.validateModel(c.LLM.Model); err != nil {
		return err
	}
	if c.LLM.SanitizerModel != "" {
		if err := c.validateModel(c.LLM.SanitizerModel); err != nil {
			return err
		}
	}

	switch c.Session.Driver {
	case DriverMemory:
	case DriverRedis:
		if strings.TrimSpace(c.Session.Redis.Address) == "" {
			return configError("session.redis.address is required for the redis driver")
		}
	case DriverMySQL, DriverSQLite:
		if strings.TrimSpace(c.Session.DSN) == "" {
			return configError("session.dsn is required for the %s driver", c.Session.Driver)
		}
	default:
		return configError("unsupported session driver %q", c.Session.Driver)
	}

	if !c.Tasks.Enabled {
		return nil
	}
	switch c.Tasks.Queue.Driver {
	case DriverMemory:
	case DriverRedis:
		if strings.TrimSpace(c.Tasks.Queue.Redis.Address) == "" {
			return configError("tasks.queue.redis.address is required for the redis queue")
		}
	case DriverRabbitMQ:
		if strings.TrimSpace(c.Tasks.Queue.RabbitMQ.URL) == "" {
			return configError("tasks.queue.rabbitmq.url is required for the rabbitmq queue")
		}
	default:
		return configError("unsupported queue driver %q", c.Tasks.Queue.Driver)
	}
	switch c.Tasks.Store.Driver {
	case DriverMemory:
		if c.Tasks.Queue.Driver != DriverMemory {
			return configError("tasks.store.driver memory cannot back the shared %s queue", c.Tasks.Queue.Driver)
		}
	case DriverMySQL, DriverSQLite:
		if strings.TrimSpace(c.Tasks.Store.DSN) == "" {
			return configError("tasks.store.dsn is required for the %s driver", c.Tasks.Store.Driver)
		}
	default:
		return configError("unsupported task store driver %q", c.Tasks.Store.Driver)
	}
	if c.Tasks.MaxRetries < 0 {
		return configError("tasks.max_retries must not be negative")
	}
	return nil
}

func (c *Config) validateModel(model string) error {
	provider, err := llm.ProviderFor(model)
	if err != nil {
		return err
	}
	switch provider {
	case llm.ProviderOpenAI:
		if strings.TrimSpace(c.LLM.OpenAI.APIKey) == "" {
			return configError("model %s requires an OpenAI API key (%s)", model, EnvOpenAIAPIKey)
		}
	case llm.ProviderAnthropic:
		if strings.TrimSpace(c.LLM.Anthropic.APIKey) == "" {
			return configError("model %s requires an Anthropic API key (%s)", model, EnvAnthropicAPIKey)
		}
	}
	return nil
}

func configError(format string, args ...any) error {
	return xerrors.Newf(xerrors.CodeConfiguration, format, args...)
}
