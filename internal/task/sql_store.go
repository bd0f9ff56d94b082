package task

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/storage/sqldb"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// SQLStore 使用 MySQL 或 SQLite 记录任务状态。
type SQLStore struct {
	db *sql.DB
}

var taskMigrations = []sqldb.Migration{{
	Version: "0001_task_states",
	Statements: []string{
		`CREATE TABLE IF NOT EXISTS task_states (
        id VARCHAR(64) NOT NULL PRIMARY KEY,
        instruction TEXT NOT NULL,
        session_id VARCHAR(128) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        reply TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL
)`,
		`CREATE INDEX idx_task_status ON task_states (status)`,
		`CREATE INDEX idx_task_updated ON task_states (updated_at)`,
	},
}}

// NewSQLStore 打开数据库并执行迁移。
func NewSQLStore(ctx context.Context, cfg sqldb.Config) (*SQLStore, error) {
	db, err := sqldb.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开任务数据库失败")
	}
	if err := sqldb.Migrate(ctx, db, taskMigrations); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "任务表迁移失败")
	}
	return &SQLStore{db: db}, nil
}

func duplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if stdErrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "任务 ID 不能为空")
	}
	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO task_states
        (id, instruction, session_id, status, attempts, max_retries, last_error, error_code, reply, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`,
		task.ID, task.Instruction, task.SessionID, string(task.Status),
		task.Attempts, task.MaxRetries, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if duplicateKey(err) {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

const selectColumns = `SELECT id, instruction, session_id, status, attempts, max_retries,
        last_error, error_code, reply, created_at, updated_at FROM task_states`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		task      Task
		status    string
		lastError sql.NullString
		reply     sql.NullString
	)
	if err := row.Scan(&task.ID, &task.Instruction, &task.SessionID, &status, &task.Attempts,
		&task.MaxRetries, &lastError, &task.ErrorCode, &reply, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.LastError = lastError.String
	task.Reply = reply.String
	return &task, nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 以条件更新抢占任务，多个消费者并发领取时只有一个成功。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE task_states
        SET status = ?, attempts = attempts + 1, last_error = '', error_code = '', updated_at = ?
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`,
		string(StatusRunning), time.Now().Unix(), id, string(StatusPending), string(StatusFailed))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新行数失败")
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 1 {
		return task, nil
	}
	switch {
	case task.Status == StatusSucceeded:
		return nil, ErrTaskCompleted
	case task.Status == StatusRunning:
		return nil, ErrTaskConflict
	default:
		return nil, ErrTaskExhausted
	}
}

// MarkSucceeded 记录回复。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, reply string) error {
	return s.update(ctx, `UPDATE task_states
        SET status = ?, reply = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`,
		string(StatusSucceeded), reply, time.Now().Unix(), id)
}

// MarkFailed 标记任务失败，终态失败把尝试次数置满。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE task_states SET status = ?, last_error = ?, error_code = ?, updated_at = ?`
	if terminal {
		stmt += `, attempts = CASE WHEN attempts < max_retries THEN max_retries ELSE attempts END`
	}
	stmt += ` WHERE id = ?`
	return s.update(ctx, stmt, string(StatusFailed), lastError, string(code), time.Now().Unix(), id)
}

func (s *SQLStore) update(ctx context.Context, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新行数失败")
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func whereClause(opts ListOptions) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(opts.Statuses) > 0 {
		marks := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			marks = append(marks, "?")
			args = append(args, string(status))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if opts.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List 返回符合过滤条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()
	where, args := whereClause(opts)
	order := " ORDER BY updated_at DESC, created_at DESC, id ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, selectColumns+where+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 按状态聚合任务数量。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()
	where, args := whereClause(opts)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM task_states`+where+` GROUP BY status`, args...)
	if err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计任务失败")
	}
	defer rows.Close()

	stats := TaskStats{}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析统计结果失败")
		}
		stats.add(Status(status), count)
	}
	if err := rows.Err(); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历统计结果失败")
	}
	return stats, nil
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
