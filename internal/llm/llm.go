package llm

import (
	"context"
	"encoding/json"
)

// Role 标识对话中消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall 是大模型请求调用的一个工具。
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDefinition 以 JSON Schema 描述一个可调用的工具。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request 描述一次补全调用。
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature *float64
	MaxTokens   int
}

// Response 是大模型返回的文本与工具调用。
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 让普通函数满足 Client 接口。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Complete 实现 Client。
func (f ClientFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Temperature 返回温度参数的指针。
func Temperature(value float64) *float64 {
	return &value
}
