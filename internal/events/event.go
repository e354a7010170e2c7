package events

import (
	"time"

	"github.com/oklog/ulid/v2"

	"DocMCP/internal/task"
)

// Event 是对外发布的任务状态变化。
// ID 为 ULID，按生成时间有序，可用作下游去重键。
type Event struct {
	ID            string          `json:"eventId"`
	Kind          task.ChangeKind `json:"kind"`
	TaskID        string          `json:"taskId,omitempty"`
	ToolName      string          `json:"toolName"`
	OwnerID       string          `json:"ownerId,omitempty"`
	Status        task.Status     `json:"status,omitempty"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	Scope         string          `json:"scope,omitempty"`
	TTLMs         int64           `json:"ttl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitzero"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// FromChange 将 Store 的变化转换为事件。
func FromChange(c task.Change) Event {
	e := Event{ID: ulid.Make().String(), Kind: c.Kind, Scope: c.Scope, OccurredAt: c.At}
	if c.Task == nil {
		return e
	}
	e.TaskID = c.Task.ID
	e.ToolName = c.Task.ToolName
	e.OwnerID = c.Task.OwnerID
	e.Status = c.Task.Status
	e.StatusMessage = c.Task.StatusMessage
	e.ErrorMessage = c.Task.ErrorMessage
	e.TTLMs = c.Task.TTLMs
	e.CreatedAt = c.Task.CreatedAt
	if c.Task.FinishedAt != nil {
		finished := *c.Task.FinishedAt
		e.FinishedAt = &finished
	}
	return e
}

// Terminal 判断事件是否表示任务首次进入终态。
func (e Event) Terminal() bool {
	return (e.Kind == task.ChangeFinished || e.Kind == task.ChangeCancelled) && e.Status.IsTerminal()
}
