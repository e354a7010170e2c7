package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
)

// MySQL 主键冲突错误码。
const errDuplicateEntry = 1062

const insertHistorySQL = `INSERT INTO task_history (` + storage.HistoryColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectHistorySQL = `SELECT ` + storage.HistoryColumns + ` FROM task_history`

// SQLHistoryRepository 使用 MySQL 保存任务审计记录。
type SQLHistoryRepository struct {
	db *sql.DB
}

var _ storage.HistoryRepository = (*SQLHistoryRepository)(nil)

// NewSQLHistoryRepository 创建连接池并执行内置迁移。
func NewSQLHistoryRepository(ctx context.Context, cfg Config) (*SQLHistoryRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return &SQLHistoryRepository{db: db}, nil
}

// Save 写入一条记录，主键冲突说明记录已存在，按成功处理。
func (s *SQLHistoryRepository) Save(ctx context.Context, record storage.HistoryRecord) error {
	if record.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	_, err := s.db.ExecContext(ctx, insertHistorySQL, storage.HistoryArgs(record)...)
	if err == nil {
		return nil
	}
	var mysqlErr *mysqldriver.MySQLError
	if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务历史失败",
		xerrors.WithMetadata("task_id", record.TaskID))
}

// ListLatest 查询最近的记录，ownerID 非空时仅返回该 owner 的记录。
func (s *SQLHistoryRepository) ListLatest(ctx context.Context, ownerID string, limit int) ([]storage.HistoryRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ownerID == "" {
		rows, err = s.db.QueryContext(ctx, selectHistorySQL+`
    ORDER BY finished_at DESC, task_id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectHistorySQL+`
    WHERE owner_id = ? ORDER BY finished_at DESC, task_id DESC LIMIT ?`, ownerID, limit)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务历史失败")
	}
	return storage.ScanHistoryRows(rows)
}

// Close 关闭底层数据库连接。
func (s *SQLHistoryRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
