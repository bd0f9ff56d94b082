package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Token 描述一个已知代币，供大模型把名称或代号解析成合约地址。
type Token struct {
	Name    string `json:"name" yaml:"name"`
	Ticker  string `json:"ticker" yaml:"ticker"`
	Address string `json:"address" yaml:"address"`
}

// Directory 是只读的代币目录。
type Directory struct {
	tokens []Token
}

// NewDirectory 创建代币目录，忽略缺少地址的条目。
func NewDirectory(tokens []Token) *Directory {
	kept := make([]Token, 0, len(tokens))
	for _, token := range tokens {
		token.Name = strings.TrimSpace(token.Name)
		token.Ticker = strings.TrimSpace(token.Ticker)
		token.Address = strings.TrimSpace(token.Address)
		if token.Address == "" {
			continue
		}
		kept = append(kept, token)
	}
	return &Directory{tokens: kept}
}

// LoadDirectory 从 JSON 或 YAML 文件加载代币目录，按扩展名选择解析器。
func LoadDirectory(path string) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("代币目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析代币目录路径失败: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取代币目录失败: %w", err)
	}

	var entries []Token
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &entries)
	default:
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("解析代币目录失败: %w", err)
	}
	return NewDirectory(entries), nil
}

// Tokens 返回目录副本。
func (d *Directory) Tokens() []Token {
	if d == nil {
		return nil
	}
	return append([]Token(nil), d.tokens...)
}

// Lookup 按代号或名称（不区分大小写）查找代币。
func (d *Directory) Lookup(query string) (Token, bool) {
	if d == nil {
		return Token{}, false
	}
	query = strings.TrimSpace(query)
	for _, token := range d.tokens {
		if strings.EqualFold(token.Ticker, query) || strings.EqualFold(token.Name, query) {
			return token, true
		}
	}
	return Token{}, false
}

// Prompt 把目录渲染成可附加到系统提示词的文本，空目录返回空串。
func (d *Directory) Prompt() string {
	if d == nil || len(d.tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known tokens (name, ticker, contract address):\n")
	for _, token := range d.tokens {
		fmt.Fprintf(&b, "- %s (%s): %s\n", token.Name, token.Ticker, token.Address)
	}
	return strings.TrimRight(b.String(), "\n")
}
