package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

type entry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service 使用静态 Bearer 令牌认证 API 请求，内存中只保留令牌摘要。
type Service struct {
	entries []entry
}

// NewService 根据令牌配置创建认证服务。tokens 为空时认证关闭。
func NewService(tokens []Token) (*Service, error) {
	s := &Service{}
	seen := make(map[[sha256.Size]byte]string, len(tokens))
	for i, tok := range tokens {
		name := strings.TrimSpace(tok.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		value := strings.TrimSpace(tok.Value)
		if value == "" {
			return nil, fmt.Errorf("API 令牌 %s 的值为空", name)
		}
		digest := sha256.Sum256([]byte(value))
		if other, ok := seen[digest]; ok {
			return nil, fmt.Errorf("API 令牌 %s 与 %s 重复", name, other)
		}
		seen[digest] = name
		perms := tok.Permissions
		if len(perms) == 0 {
			perms = []string{PermissionAll}
		}
		subject := &Subject{Name: name, Permissions: append([]string(nil), perms...)}
		subject.normalise()
		s.entries = append(s.entries, entry{digest: digest, subject: subject})
	}
	return s, nil
}

// Enabled 报告是否配置了任何令牌。
func (s *Service) Enabled() bool {
	return s != nil && len(s.entries) > 0
}

// AuthenticateRequest 解析 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))

	var matched *Subject
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			matched = e.subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}
