package session

import (
	"context"
	"sync"
)

// MemoryProvider 把历史保存在进程内存中，进程退出即丢失。
type MemoryProvider struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewMemoryProvider 创建内存存储。
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{sessions: make(map[string][]Message)}
}

// Messages 返回历史副本。
func (p *MemoryProvider) Messages(_ context.Context, sessionID string) ([]Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	history := p.sessions[sessionID]
	out := make([]Message, len(history))
	copy(out, history)
	return out, nil
}

// Append 追加消息。
func (p *MemoryProvider) Append(_ context.Context, sessionID string, messages ...Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionID] = append(p.sessions[sessionID], messages...)
	return nil
}

// Clear 删除会话。
func (p *MemoryProvider) Clear(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
	return nil
}
