package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	xerrors "DocMCP/internal/errors"
)

// HistoryRecord 是终态任务的审计记录，时间均为毫秒时间戳。
type HistoryRecord struct {
	TaskID        string `json:"taskId"`
	ToolName      string `json:"toolName"`
	OwnerID       string `json:"ownerId,omitempty"`
	Status        string `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	TTLMs         int64  `json:"ttl"`
	CreatedAt     int64  `json:"createdAt"`
	FinishedAt    int64  `json:"finishedAt"`
}

// HistoryRepository 抽象任务审计记录的持久化接口。同一任务重复写入视为成功。
type HistoryRepository interface {
	Save(ctx context.Context, record HistoryRecord) error
	ListLatest(ctx context.Context, ownerID string, limit int) ([]HistoryRecord, error)
	Close() error
}

// DefaultHistoryLimit 是 ListLatest 未指定数量时的默认条数。
const DefaultHistoryLimit = 20

const memoryHistoryLimit = 1024

// MemoryHistoryRepository 将记录追加写入本地 JSON lines 文件，并在内存中保留最近的记录。
// 去重只覆盖内存中保留的记录。
type MemoryHistoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []HistoryRecord
	seen     map[string]struct{}
}

// NewMemoryHistoryRepository 创建基于文件的历史仓库。
func NewMemoryHistoryRepository(dataDir string) (*MemoryHistoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &MemoryHistoryRepository{
		dataFile: filepath.Join(dataDir, "task_history.log"),
		seen:     make(map[string]struct{}),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录终态任务。
func (m *MemoryHistoryRepository) Save(_ context.Context, record HistoryRecord) error {
	if record.TaskID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[record.TaskID]; ok {
		return nil
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化历史记录失败")
	}
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开历史日志失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入历史日志失败")
	}

	m.remember(record)
	return nil
}

// ListLatest 返回最近的记录，按写入时间倒序排列。
func (m *MemoryHistoryRepository) ListLatest(_ context.Context, ownerID string, limit int) ([]HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]HistoryRecord, 0, len(m.records))
	for _, record := range m.records {
		if ownerID != "" && record.OwnerID != ownerID {
			continue
		}
		results = append(results, record)
		if limit > 0 && len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *MemoryHistoryRepository) Close() error {
	return nil
}

func (m *MemoryHistoryRepository) remember(record HistoryRecord) {
	m.seen[record.TaskID] = struct{}{}
	m.records = append([]HistoryRecord{record}, m.records...)
	if len(m.records) > memoryHistoryLimit {
		for _, dropped := range m.records[memoryHistoryLimit:] {
			delete(m.seen, dropped.TaskID)
		}
		m.records = m.records[:memoryHistoryLimit]
	}
}

func (m *MemoryHistoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取历史日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record HistoryRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil || record.TaskID == "" {
			continue
		}
		if _, ok := m.seen[record.TaskID]; ok {
			continue
		}
		m.remember(record)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析历史日志失败")
	}
	return nil
}
