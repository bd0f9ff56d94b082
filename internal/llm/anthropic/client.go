package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModelName = "claude-3-5-haiku-latest"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Anthropic Messages API。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 Anthropic API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock covers text, tool_use and tool_result blocks.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete 调用 Anthropic 完成一次对话补全。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "序列化 Anthropic 请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "构建 Anthropic 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(llm.ProviderAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, llm.StatusError(llm.ProviderAnthropic, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "解析 Anthropic 响应失败")
	}
	if decoded.Error != nil {
		return nil, xerrors.New(xerrors.CodeModelFailure, decoded.Error.Message)
	}

	out := &llm.Response{}
	var text []string
	for _, block := range decoded.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = strings.TrimSpace(strings.Join(text, "\n"))
	switch decoded.StopReason {
	case "end_turn":
		out.FinishReason = "stop"
	case "tool_use":
		out.FinishReason = "tool_calls"
	case "max_tokens":
		out.FinishReason = "length"
	default:
		out.FinishReason = decoded.StopReason
	}
	return out, nil
}

func (c *Client) buildRequest(req llm.Request) messagesRequest {
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   req.MaxTokens,
		System:      strings.TrimSpace(req.System),
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}

	var converted []message
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleTool:
			converted = append(converted, message{Role: "user", Content: []contentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}}})
		case llm.RoleAssistant:
			var blocks []contentBlock
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
			// The Messages API rejects assistant turns without content.
			if len(blocks) == 0 {
				continue
			}
			converted = append(converted, message{Role: "assistant", Content: blocks})
		default:
			converted = append(converted, message{Role: "user", Content: []contentBlock{{Type: "text", Text: msg.Content}}})
		}
	}
	body.Messages = mergeConsecutive(converted)

	for _, def := range req.Tools {
		schema := def.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		body.Tools = append(body.Tools, tool{Name: def.Name, Description: def.Description, InputSchema: schema})
	}
	return body
}

// mergeConsecutive folds same-role neighbours together; the Messages API
// requires strictly alternating roles.
func mergeConsecutive(msgs []message) []message {
	if len(msgs) == 0 {
		return msgs
	}
	result := []message{msgs[0]}
	for _, msg := range msgs[1:] {
		last := &result[len(result)-1]
		if msg.Role == last.Role {
			last.Content = append(last.Content, msg.Content...)
			continue
		}
		result = append(result, msg)
	}
	return result
}
