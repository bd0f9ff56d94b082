package firewall

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPatterns 是内置的私钥窃取特征。匹配不区分大小写，按子串判断。
var DefaultPatterns = []string{
	"private key",
	"pr1v4t3 k3y",
	"secret key",
	"wallet backup",
	"seed phrase",
	"mnemonic",
	"give me your key",
	"send me your key",
	"what is your key",
	"reveal your key",
	"output your key",
	"display your key",
	"provide the key",
	"environment variable",
	"PRIVATE_KEY",
	"wut_1z_ur_pr1v4t3_k3y",
}

// Matcher 执行第一阶段的确定性匹配。
type Matcher struct {
	patterns []string
	lowered  []string
}

// NewMatcher 创建匹配器，空白模式会被忽略，重复模式只保留一次。
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	seen := make(map[string]struct{}, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		lowered := strings.ToLower(trimmed)
		if _, ok := seen[lowered]; ok {
			continue
		}
		seen[lowered] = struct{}{}
		m.patterns = append(m.patterns, trimmed)
		m.lowered = append(m.lowered, lowered)
	}
	return m
}

// Match 返回第一个命中的模式。
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil {
		return "", false
	}
	lowered := strings.ToLower(text)
	for i, pattern := range m.lowered {
		if strings.Contains(lowered, pattern) {
			return m.patterns[i], true
		}
	}
	return "", false
}

// Patterns 返回当前生效的模式列表。
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

type patternFile struct {
	Patterns []string `yaml:"patterns"`
	// Replace 为 true 时不再合并内置模式。
	Replace bool `yaml:"replace"`
}

// LoadMatcher 在内置模式的基础上合并 YAML 文件中的扩展模式。
func LoadMatcher(path string) (*Matcher, error) {
	if strings.TrimSpace(path) == "" {
		return NewMatcher(DefaultPatterns...), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取防火墙规则失败: %w", err)
	}
	var file patternFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析防火墙规则失败: %w", err)
	}
	if file.Replace {
		return NewMatcher(file.Patterns...), nil
	}
	return NewMatcher(append(append([]string(nil), DefaultPatterns...), file.Patterns...)...), nil
}
