// Package postgres stores the task audit history in PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
)

const uniqueViolationCode = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS task_history (
    task_id        CHAR(32) PRIMARY KEY,
    tool_name      VARCHAR(128) NOT NULL,
    owner_id       VARCHAR(128) NOT NULL DEFAULT '',
    status         VARCHAR(16) NOT NULL,
    status_message TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    ttl_ms         BIGINT NOT NULL,
    created_at     BIGINT NOT NULL,
    finished_at    BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_task_history_owner ON task_history (owner_id, finished_at DESC)`,
}

const insertHistorySQL = `INSERT INTO task_history (` + storage.HistoryColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const selectHistorySQL = `SELECT ` + storage.HistoryColumns + ` FROM task_history`

// Config 描述 PostgreSQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// HistoryRepository 使用 PostgreSQL 保存任务审计记录。
type HistoryRepository struct {
	db *sql.DB
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// Open 建立连接池、校验连通性并确保表结构存在。
func Open(ctx context.Context, cfg Config) (*HistoryRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "PostgreSQL DSN 不能为空")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 PostgreSQL 失败")
	}
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 10))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 PostgreSQL")
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化任务历史表失败")
		}
	}
	return &HistoryRepository{db: db}, nil
}

// Save 写入一条记录，唯一约束冲突说明记录已存在，按成功处理。
func (r *HistoryRepository) Save(ctx context.Context, record storage.HistoryRecord) error {
	if record.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	_, err := r.db.ExecContext(ctx, insertHistorySQL, storage.HistoryArgs(record)...)
	if err == nil || isUniqueViolation(err) {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败",
		xerrors.WithMetadata("task_id", record.TaskID))
}

// ListLatest 按结束时间倒序返回记录，ownerID 非空时仅返回该 owner 的记录。
func (r *HistoryRepository) ListLatest(ctx context.Context, ownerID string, limit int) ([]storage.HistoryRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = r.db.QueryContext(ctx, selectHistorySQL+` ORDER BY finished_at DESC, task_id DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, selectHistorySQL+` WHERE owner_id = $1 ORDER BY finished_at DESC, task_id DESC LIMIT $2`, ownerID, limit)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	return storage.ScanHistoryRows(rows)
}

// Close 关闭连接池。
func (r *HistoryRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stdErrors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func orDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
