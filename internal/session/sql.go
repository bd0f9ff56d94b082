package session

import (
	"context"
	"database/sql"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/storage/sqldb"
)

// SQLProvider 把历史保存到 MySQL 或 SQLite。
type SQLProvider struct {
	db *sql.DB
}

func sessionMigrations(driver string) []sqldb.Migration {
	idColumn := "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	if driver == sqldb.DriverSQLite {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return []sqldb.Migration{{
		Version: "0001_session_messages",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS session_messages (
        ` + idColumn + `,
        session_id VARCHAR(128) NOT NULL,
        role VARCHAR(16) NOT NULL,
        content TEXT NOT NULL,
        created_at BIGINT NOT NULL
)`,
			`CREATE INDEX idx_session_messages_session ON session_messages (session_id, id)`,
		},
	}}
}

// NewSQLProvider 打开数据库并执行迁移。
func NewSQLProvider(ctx context.Context, cfg sqldb.Config) (*SQLProvider, error) {
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开会话数据库失败")
	}
	if err := sqldb.Migrate(ctx, db, sessionMigrations(sqldb.DriverName(cfg.Driver))); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "会话表迁移失败")
	}
	return &SQLProvider{db: db}, nil
}

// Messages 按写入顺序返回历史。
func (p *SQLProvider) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT role, content FROM session_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话历史失败")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&role, &msg.Content); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话历史失败")
		}
		msg.Role = Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历会话历史失败")
	}
	return out, nil
}

// Append 在一个事务内写入全部消息。
func (p *SQLProvider) Append(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启会话事务失败")
	}
	now := time.Now().Unix()
	for _, msg := range messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, string(msg.Role), msg.Content, now); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话历史失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交会话事务失败")
	}
	return nil
}

// Clear 删除会话。
func (p *SQLProvider) Clear(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话历史失败")
	}
	return nil
}

// Close 关闭连接池。
func (p *SQLProvider) Close() error {
	return p.db.Close()
}
