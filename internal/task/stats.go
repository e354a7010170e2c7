package task

import "time"

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Total           int       `json:"total"`
	Working         int       `json:"working"`
	Completed       int       `json:"completed"`
	Failed          int       `json:"failed"`
	Cancelled       int       `json:"cancelled"`
	MaxConcurrent   int       `json:"maxConcurrent"`
	OldestCreatedAt time.Time `json:"oldestCreatedAt,omitzero"`
	NewestCreatedAt time.Time `json:"newestCreatedAt,omitzero"`
}

func (s *TaskStats) add(task *Task) {
	s.Total++
	switch task.Status {
	case StatusWorking:
		s.Working++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
	if s.OldestCreatedAt.IsZero() || task.CreatedAt.Before(s.OldestCreatedAt) {
		s.OldestCreatedAt = task.CreatedAt
	}
	if task.CreatedAt.After(s.NewestCreatedAt) {
		s.NewestCreatedAt = task.CreatedAt
	}
}
