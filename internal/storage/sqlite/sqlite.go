// Package sqlite stores the task audit history in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
)

// DefaultFileName 是未指定路径时在数据目录下使用的数据库文件名。
const DefaultFileName = "task_history.db"

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS task_history (
    task_id        TEXT PRIMARY KEY,
    tool_name      TEXT NOT NULL,
    owner_id       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    status_message TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    ttl_ms         INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    finished_at    INTEGER NOT NULL
)`

const createHistoryIndex = `CREATE INDEX IF NOT EXISTS idx_task_history_owner ON task_history (owner_id, finished_at)`

// INSERT OR IGNORE 让重复写入同一任务成为无操作。
const insertHistorySQL = `INSERT OR IGNORE INTO task_history (` + storage.HistoryColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectHistorySQL = `SELECT ` + storage.HistoryColumns + ` FROM task_history`

// HistoryRepository 使用 SQLite 保存任务审计记录。
type HistoryRepository struct {
	db *sql.DB
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// Open 打开 dbPath 指向的数据库并建表。
func Open(ctx context.Context, dbPath string) (*HistoryRepository, error) {
	if dbPath == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "SQLite 路径不能为空")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开 SQLite 失败")
	}
	// 单连接避免 SQLITE_BUSY，审计写入量很小。
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		createHistoryTable,
		createHistoryIndex,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("初始化 SQLite 失败: %s", firstLine(stmt)))
		}
	}
	return &HistoryRepository{db: db}, nil
}

// Save 写入一条记录，已存在的任务保持不变。
func (r *HistoryRepository) Save(ctx context.Context, record storage.HistoryRecord) error {
	if record.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if _, err := r.db.ExecContext(ctx, insertHistorySQL, storage.HistoryArgs(record)...); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败",
			xerrors.WithMetadata("task_id", record.TaskID))
	}
	return nil
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
		rows, err = r.db.QueryContext(ctx, selectHistorySQL+` ORDER BY finished_at DESC, task_id DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, selectHistorySQL+` WHERE owner_id = ? ORDER BY finished_at DESC, task_id DESC LIMIT ?`, ownerID, limit)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	return storage.ScanHistoryRows(rows)
}

// Close 关闭数据库连接。
func (r *HistoryRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}
