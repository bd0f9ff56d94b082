package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"

	"github.com/zalando/go-keyring"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func isolateEnv(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	for _, name := range []string{EnvConfigPath, EnvPrivateKey, EnvRPCURL, EnvOpenAIAPIKey, EnvAnthropicAPIKey} {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "chainguard.yaml", `
agent:
  private_key: `+testKey+`
  tokens_file: tokens.yaml
web3:
  rpc_url: http://127.0.0.1:8545
llm:
  openai:
    api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %s", cfg.LLM.Model)
	}
	if cfg.Session.Driver != DriverMemory || cfg.Tasks.Queue.Driver != DriverMemory {
		t.Fatalf("unexpected drivers: %s / %s", cfg.Session.Driver, cfg.Tasks.Queue.Driver)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected log settings: %+v", cfg.Logging)
	}
	if cfg.Agent.TokensFile != filepath.Join(dir, "tokens.yaml") {
		t.Fatalf("relative paths should resolve against the config dir, got %s", cfg.Agent.TokensFile)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.LLM.Timeout)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvRPCURL, "http://override:8545")
	t.Setenv(EnvOpenAIAPIKey, "sk-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "chainguard.yaml", `
agent:
  private_key: `+testKey+`
web3:
  rpc_url: http://file:8545
llm:
  openai:
    api_key: sk-file
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Web3.RPCURL != "http://override:8545" {
		t.Fatalf("env should win over file, got %s", cfg.Web3.RPCURL)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-env" {
		t.Fatalf("env should win over file, got %s", cfg.LLM.OpenAI.APIKey)
	}
}

func TestExpandsVariablesFromDotEnv(t *testing.T) {
	isolateEnv(t)
	t.Setenv("CHAINGUARD_TEST_NODE", "")
	os.Unsetenv("CHAINGUARD_TEST_NODE")

	dir := t.TempDir()
	writeFile(t, dir, ".env", "CHAINGUARD_TEST_NODE=http://dotenv:8545\n")
	path := writeFile(t, dir, "chainguard.yaml", `
agent:
  private_key: `+testKey+`
web3:
  rpc_url: ${CHAINGUARD_TEST_NODE}
llm:
  openai:
    api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Web3.RPCURL != "http://dotenv:8545" {
		t.Fatalf("expected value from .env, got %q", cfg.Web3.RPCURL)
	}
}

func TestKeyringFallback(t *testing.T) {
	isolateEnv(t)
	if err := StoreSecret("anthropic_api_key", "sk-ant-keyring"); err != nil {
		t.Fatalf("StoreSecret: %v", err)
	}
	if err := StoreSecret("private_key", testKey); err != nil {
		t.Fatalf("StoreSecret: %v", err)
	}
	dir := t.TempDir()
	path := writeFile(t, dir, "chainguard.yaml", `
web3:
  rpc_url: http://127.0.0.1:8545
llm:
  model: claude-3-5-haiku-latest
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-ant-keyring" {
		t.Fatalf("expected keyring value, got %q", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Agent.PrivateKey != testKey {
		t.Fatalf("expected keyring private key")
	}
}

func TestStoreSecretRejectsUnknownName(t *testing.T) {
	keyring.MockInit()
	if err := StoreSecret("password", "x"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestMissingExplicitFile(t *testing.T) {
	isolateEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected CONFIGURATION, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Agent: AgentConfig{PrivateKey: testKey},
			Web3:  Web3Config{RPCURL: "http://127.0.0.1:8545"},
			LLM:   LLMConfig{OpenAI: ProviderConfig{APIKey: "sk-test"}},
		}
		cfg.applyDefaults("")
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing key", func(c *Config) { c.Agent.PrivateKey = "" }},
		{"missing endpoint", func(c *Config) { c.Web3.RPCURL = "" }},
		{"network without chains file", func(c *Config) { c.Web3.RPCURL = ""; c.Web3.Network = "sonic" }},
		{"unknown model", func(c *Config) { c.LLM.Model = "gpt-2" }},
		{"missing provider key", func(c *Config) { c.LLM.Model = "claude-3-5-sonnet-latest" }},
		{"empty api token", func(c *Config) { c.Server.APITokens = []APITokenConfig{{Name: "ops", Token: " "}} }},
		{"unknown session driver", func(c *Config) { c.Session.Driver = "etcd" }},
		{"redis session without address", func(c *Config) { c.Session.Driver = DriverRedis }},
		{"sqlite session without dsn", func(c *Config) { c.Session.Driver = DriverSQLite }},
		{"rabbitmq without url", func(c *Config) { c.Tasks.Enabled = true; c.Tasks.Queue.Driver = DriverRabbitMQ }},
		{"shared queue with memory store", func(c *Config) {
			c.Tasks.Enabled = true
			c.Tasks.Queue.Driver = DriverRedis
			c.Tasks.Queue.Redis.Address = "127.0.0.1:6379"
		}},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("baseline config should be valid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); xerrors.CodeOf(err) != xerrors.CodeConfiguration {
				t.Fatalf("expected CONFIGURATION, got %v", err)
			}
		})
	}
}
