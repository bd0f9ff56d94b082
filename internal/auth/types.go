package auth

import (
	"errors"
	"strings"

	xerrors "ChainGuard-Agent/internal/errors"
)

// 认证子系统使用的错误码，对应 HTTP 401 与 403。
const (
	CodeUnauthorized xerrors.Code = "UNAUTHORIZED"
	CodeForbidden    xerrors.Code = "FORBIDDEN"
)

// 认证失败的原因。
var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")
)

// API 权限。PermissionAll 授予全部权限。
const (
	PermissionExecute    = "execute"
	PermissionTasksRead  = "tasks:read"
	PermissionTasksWrite = "tasks:write"
	PermissionWallet     = "wallet:read"
	PermissionAll        = "*"
)

func init() {
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{
		Message:  "authentication required",
		Class:    xerrors.ClassValidation,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeForbidden, xerrors.Attributes{
		Message:  "permission denied",
		Class:    xerrors.ClassValidation,
		Severity: xerrors.SeverityWarning,
	})
}

// Token 是一条静态 API 令牌配置。
type Token struct {
	Name        string
	Value       string
	Permissions []string
}

// Subject 是通过认证的调用方，经由 context 传递给处理函数。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断调用方是否拥有指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	if _, ok := s.permissionsSet[PermissionAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求调用方拥有全部给定权限。
func (s *Subject) Authorize(permissions ...string) error {
	for _, perm := range permissions {
		if !s.HasPermission(perm) {
			return xerrors.Wrap(CodeForbidden, ErrPermissionDenied, "missing permission "+perm,
				xerrors.WithMetadata("permission", perm))
		}
	}
	return nil
}
