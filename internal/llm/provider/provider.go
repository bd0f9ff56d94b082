package provider

import (
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
	"ChainGuard-Agent/internal/llm/anthropic"
	"ChainGuard-Agent/internal/llm/openai"
)

// Credentials 是某个服务商的访问信息。
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Config 描述模型选择及各服务商的访问信息，只有所选服务商的 Key 是必需的。
type Config struct {
	Model     string
	OpenAI    Credentials
	Anthropic Credentials
	Timeout   time.Duration
}

// New 按模型表选择服务商并创建客户端。
func New(cfg Config) (llm.Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = llm.DefaultModel
	}
	selected, err := llm.ProviderFor(model)
	if err != nil {
		return nil, err
	}

	switch selected {
	case llm.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   model,
			Timeout: cfg.Timeout,
		})
	case llm.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, xerrors.Newf(xerrors.CodeConfiguration, "未知的大模型 provider: %s", selected)
	}
}
