package storage

import (
	"database/sql"

	xerrors "DocMCP/internal/errors"
)

// HistoryColumns 是 SQL 仓库共用的查询列顺序，与 ScanHistoryRows 保持一致。
const HistoryColumns = `task_id, tool_name, owner_id, status, status_message, error_message, ttl_ms, created_at, finished_at`

// HistoryArgs 按 HistoryColumns 的顺序展开记录字段，用于 INSERT 语句。
func HistoryArgs(r HistoryRecord) []any {
	return []any{r.TaskID, r.ToolName, r.OwnerID, r.Status, r.StatusMessage, r.ErrorMessage, r.TTLMs, r.CreatedAt, r.FinishedAt}
}

// ScanHistoryRows 读取全部行并关闭 rows。
func ScanHistoryRows(rows *sql.Rows) ([]HistoryRecord, error) {
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.TaskID, &r.ToolName, &r.OwnerID, &r.Status, &r.StatusMessage,
			&r.ErrorMessage, &r.TTLMs, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务历史失败")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务历史失败")
	}
	return records, nil
}
