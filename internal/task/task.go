package task

import (
	"encoding/json"
	"strings"
	"time"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal 判断状态是否为终态。终态一旦写入便不再改变。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	return status == StatusWorking || status.IsTerminal()
}

// ParseStatus 忽略大小写解析状态字符串。
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	return status, IsValidStatus(status)
}

// Task 描述一个被异步跟踪的工具调用。
type Task struct {
	ID             string          `json:"taskId"`
	ToolName       string          `json:"toolName"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
	Status         Status          `json:"status"`
	StatusMessage  string          `json:"statusMessage,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	TTLMs          int64           `json:"ttl"`
	PollIntervalMs int64           `json:"pollInterval,omitempty"`
	OwnerID        string          `json:"ownerId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`

	// seq 在同一毫秒内创建的任务之间提供稳定的先后顺序。
	seq uint64
}

// TTL 返回任务的存活时长。
func (t *Task) TTL() time.Duration {
	return time.Duration(t.TTLMs) * time.Millisecond
}

// Expired 判断任务在 now 时刻是否已可被清理：必须处于终态且自终态起已超过 TTL。
func (t *Task) Expired(now time.Time) bool {
	if !t.Status.IsTerminal() || t.FinishedAt == nil {
		return false
	}
	return now.Sub(*t.FinishedAt) > t.TTL()
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	clone := *task
	clone.Arguments = cloneRaw(task.Arguments)
	clone.Result = cloneRaw(task.Result)
	if task.FinishedAt != nil {
		finished := *task.FinishedAt
		clone.FinishedAt = &finished
	}
	return &clone
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
