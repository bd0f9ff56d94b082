package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisProvider 以 list 保存每个会话的历史。
type RedisProvider struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisProvider 连接 Redis 并校验连通性。
func NewRedisProvider(ctx context.Context, cfg RedisConfig) (*RedisProvider, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "chainguard:session:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisProvider{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (p *RedisProvider) key(sessionID string) string {
	return p.prefix + sessionID
}

// Messages 读取完整历史。
func (p *RedisProvider) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	values, err := p.client.LRange(ctx, p.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 会话失败")
	}
	out := make([]Message, 0, len(values))
	for _, value := range values {
		var msg Message
		if err := json.Unmarshal([]byte(value), &msg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("会话 %s 中存在无法解析的消息", sessionID))
		}
		out = append(out, msg)
	}
	return out, nil
}

// Append 通过 RPUSH 追加，配置 TTL 时顺带续期。
func (p *RedisProvider) Append(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话消息失败")
		}
		values = append(values, encoded)
	}
	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, p.key(sessionID), values...)
	if p.ttl > 0 {
		pipe.Expire(ctx, p.key(sessionID), p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 会话失败")
	}
	return nil
}

// Clear 删除会话。
func (p *RedisProvider) Clear(ctx context.Context, sessionID string) error {
	if err := p.client.Del(ctx, p.key(sessionID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis 会话失败")
	}
	return nil
}

// Close 关闭连接。
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
