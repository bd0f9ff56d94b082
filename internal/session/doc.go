// Package session 管理按会话 ID 隔离的对话历史。
//
// 默认的 MemoryProvider 只在进程生命周期内有效；RedisProvider 与
// SQLProvider（MySQL/SQLite）是可选的持久化实现。
package session
