// Package auth 为 HTTP API 提供静态 Bearer 令牌认证与按路由的权限校验，
// 并把每次访问写入审计日志。
package auth
