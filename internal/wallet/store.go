package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"sync"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/web3"
	"ChainGuard-Agent/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Dialer 根据 RPC 地址创建链访问后端。
type Dialer func(ctx context.Context, endpoint string) (web3.Backend, error)

// DialEthereum 是默认的 Dialer，通过 ethclient 连接节点。
func DialEthereum(ctx context.Context, endpoint string) (web3.Backend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Identity 是当前生效的签名身份。
type Identity struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	normalized string
}

// PrivateKey 返回签名私钥。
func (i *Identity) PrivateKey() *ecdsa.PrivateKey { return i.key }

// Address 返回身份对应的地址。
func (i *Identity) Address() common.Address { return i.address }

// Connection 表示与某个 RPC 地址的连接。
type Connection struct {
	Endpoint string
	Backend  web3.Backend
}

// Store 维护“当前私钥 -> 签名身份 + 网络连接”的绑定。
// 同一进程内的多个 Agent 可以共享一个 Store。
type Store struct {
	mu       sync.Mutex
	section  sync.Mutex
	dial     Dialer
	conn     *Connection
	identity *Identity
}

// Option 定义 Store 的可选配置。
type Option func(*Store)

// WithDialer 替换默认的 Dialer，测试中用于注入模拟链。
func WithDialer(dial Dialer) Option {
	return func(s *Store) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// NewStore 创建一个尚未绑定任何私钥的 Store。
func NewStore(opts ...Option) *Store {
	s := &Store{dial: DialEthereum}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NormalizeKey 校验私钥格式并去掉 0x 前缀。
func NormalizeKey(rawKey string) (string, error) {
	key := strings.TrimSpace(rawKey)
	switch len(key) {
	case 64:
	case 66:
		if !strings.HasPrefix(key, "0x") && !strings.HasPrefix(key, "0X") {
			return "", xerrors.New(xerrors.CodeInvalidCredential, "66 位私钥必须以 0x 开头")
		}
		key = key[2:]
	default:
		return "", xerrors.New(xerrors.CodeInvalidCredential, "私钥必须是 64 位十六进制字符")
	}
	if _, err := hex.DecodeString(key); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidCredential, err, "私钥包含非十六进制字符")
	}
	return strings.ToLower(key), nil
}

// Bind 绑定私钥与 RPC 地址。地址变化时才重建连接，私钥变化时才替换身份。
// Bind 与 Exclusive 互斥，不会在其他调用方的临界区内切换身份。
func (s *Store) Bind(ctx context.Context, rawKey, endpoint string) error {
	normalized, err := NormalizeKey(rawKey)
	if err != nil {
		return err
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return xerrors.New(xerrors.CodeMissingEndpoint, "")
	}

	s.section.Lock()
	defer s.section.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.Endpoint != endpoint {
		backend, err := s.dial(ctx, endpoint)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeNetwork, err, "连接 RPC 节点失败")
		}
		if previous := s.conn; previous != nil {
			if closer, ok := previous.Backend.(web3.Closer); ok && previous.Backend != backend {
				closer.Close()
			}
		}
		s.conn = &Connection{Endpoint: endpoint, Backend: backend}
		logger.Named("wallet").Info("RPC 连接已建立", "endpoint", endpoint)
	}
	return s.setIdentityLocked(normalized)
}

// Rebind 只替换签名身份，要求此前已经 Bind 过。
func (s *Store) Rebind(rawKey string) error {
	normalized, err := NormalizeKey(rawKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return xerrors.New(xerrors.CodeNotInitialized, "尚未绑定 RPC 连接")
	}
	return s.setIdentityLocked(normalized)
}

func (s *Store) setIdentityLocked(normalized string) error {
	if s.identity != nil && s.identity.normalized == normalized {
		return nil
	}
	key, err := crypto.HexToECDSA(normalized)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidCredential, err, "无法解析私钥")
	}
	s.identity = &Identity{
		key:        key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		normalized: normalized,
	}
	logger.Audit().Info("credential switched", "address", s.identity.address.Hex())
	return nil
}

// CurrentIdentity 返回当前签名身份。
func (s *Store) CurrentIdentity() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	return s.identity, nil
}

// CurrentAddress 返回当前身份的 EIP-55 地址。
func (s *Store) CurrentAddress() (string, error) {
	identity, err := s.CurrentIdentity()
	if err != nil {
		return "", err
	}
	return identity.Address().Hex(), nil
}

// Connection 返回当前网络连接。
func (s *Store) Connection() (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, xerrors.New(xerrors.CodeNotInitialized, "")
	}
	return s.conn, nil
}

// Exclusive 在 Store 的独占区内先切换到 rawKey 对应的身份再执行 fn，
// 共享 Store 的多个调用方因此不会读到彼此的私钥。
func (s *Store) Exclusive(ctx context.Context, rawKey string, fn func(ctx context.Context) error) error {
	s.section.Lock()
	defer s.section.Unlock()

	if err := ctx.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "调用在进入临界区前已取消")
	}
	if err := s.Rebind(rawKey); err != nil {
		return err
	}
	return fn(ctx)
}

// Close 释放底层连接。
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	if closer, ok := s.conn.Backend.(web3.Closer); ok {
		closer.Close()
	}
	s.conn = nil
}
