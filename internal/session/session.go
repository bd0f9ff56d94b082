package session

import (
	"context"
	"strings"
	"sync"

	xerrors "ChainGuard-Agent/internal/errors"
)

// Role 标识历史消息的来源。
type Role string

const (
	RoleHuman Role = "human"
	RoleAgent Role = "agent"
)

// Message 是会话历史中的一条记录。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider 是会话历史的存储后端。配置外部 Provider 后它是唯一的数据来源。
type Provider interface {
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	Append(ctx context.Context, sessionID string, messages ...Message) error
	Clear(ctx context.Context, sessionID string) error
}

// Manager 在 Provider 之上提供按会话串行化的访问。
type Manager struct {
	provider Provider
	locks    keyedMutex
}

// NewManager 创建会话管理器，provider 为 nil 时使用进程内存。
func NewManager(provider Provider) *Manager {
	if provider == nil {
		provider = NewMemoryProvider()
	}
	return &Manager{provider: provider}
}

// Provider 返回底层存储。
func (m *Manager) Provider() Provider {
	return m.provider
}

// History 返回会话的有序历史，未知会话返回空切片。
func (m *Manager) History(ctx context.Context, sessionID string) ([]Message, error) {
	if err := validateID(sessionID); err != nil {
		return nil, err
	}
	return m.provider.Messages(ctx, sessionID)
}

// Append 追加一条消息。
func (m *Manager) Append(ctx context.Context, sessionID string, role Role, content string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	return m.provider.Append(ctx, sessionID, Message{Role: role, Content: content})
}

// AppendExchange 追加一问一答。
func (m *Manager) AppendExchange(ctx context.Context, sessionID, input, response string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	return m.provider.Append(ctx, sessionID,
		Message{Role: RoleHuman, Content: input},
		Message{Role: RoleAgent, Content: response},
	)
}

// Clear 删除会话历史。
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	if err := validateID(sessionID); err != nil {
		return err
	}
	return m.provider.Clear(ctx, sessionID)
}

// Exclusive 持有会话锁执行 fn，不同会话之间互不阻塞。
func (m *Manager) Exclusive(sessionID string, fn func() error) error {
	unlock := m.locks.lock(sessionID)
	defer unlock()
	return fn()
}

// MaxIDLength 与 SQL 存储中 session_id 列的宽度一致。
const MaxIDLength = 128

func validateID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return xerrors.New(xerrors.CodeValidation, "session id is required")
	}
	if len(sessionID) > MaxIDLength {
		return xerrors.Newf(xerrors.CodeValidation, "session id exceeds %d bytes", MaxIDLength)
	}
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &refMutex{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
