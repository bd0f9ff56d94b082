package llm

import (
	"sort"
	"strings"

	xerrors "ChainGuard-Agent/internal/errors"
)

// Provider 是大模型服务商的标识。
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// DefaultModel 在未配置模型时使用。
const DefaultModel = "gpt-4o-mini"

var models = map[string]Provider{
	"gpt-4o":                   ProviderOpenAI,
	"gpt-4o-mini":              ProviderOpenAI,
	"claude-3-5-sonnet-latest": ProviderAnthropic,
	"claude-3-5-haiku-latest":  ProviderAnthropic,
}

// ProviderFor 返回模型所属的服务商，未知模型返回 CONFIGURATION 错误。
func ProviderFor(model string) (Provider, error) {
	provider, ok := models[strings.TrimSpace(model)]
	if !ok {
		return "", xerrors.Newf(xerrors.CodeConfiguration, "unsupported model %q (supported: %s)",
			model, strings.Join(Models(), ", "))
	}
	return provider, nil
}

// Models 返回支持的模型列表。
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
