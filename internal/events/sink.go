package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"DocMCP/internal/storage"
	"DocMCP/internal/task"
	"DocMCP/pkg/logger"
)

// Sink 负责将事件投递到某个渠道。
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// Fanout 将事件广播给多个 Sink。
type Fanout struct {
	sinks []Sink
}

// NewFanout 创建 Fanout，忽略 nil。
func NewFanout(sinks ...Sink) *Fanout {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &Fanout{sinks: set}
}

// Name 实现 Sink 接口。
func (f *Fanout) Name() string { return "fanout" }

// Names 返回已注册的渠道名称。
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Publish 将事件广播至所有渠道，单个渠道失败不影响其他渠道。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭实现了 io.Closer 的渠道。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// LogSink 将终态事件写入审计日志，其余事件写入调试日志。
type LogSink struct{}

// Name 返回渠道名称。
func (LogSink) Name() string { return "log" }

// Publish 写日志。
func (LogSink) Publish(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("task_id", event.TaskID),
		slog.String("tool", event.ToolName),
		slog.String("owner_id", event.OwnerID),
		slog.String("status", string(event.Status)),
	}
	switch {
	case event.Terminal():
		if event.ErrorMessage != "" {
			attrs = append(attrs, slog.String("error", event.ErrorMessage))
		}
		logger.Audit().Info("任务状态变更", attrs...)
	case event.Kind == task.ChangeRejected:
		attrs = append(attrs, slog.String("scope", event.Scope))
		logger.Audit().Warn("任务准入被拒绝", attrs...)
	default:
		logger.Named("events").Debug("任务事件", attrs...)
	}
	return nil
}

// HistorySink 将终态事件写入任务历史仓库。
type HistorySink struct {
	Repo storage.HistoryRepository
}

// Name 返回渠道名称。
func (s *HistorySink) Name() string { return "history" }

// Publish 仅记录终态事件。
func (s *HistorySink) Publish(ctx context.Context, event Event) error {
	if s == nil || s.Repo == nil || !event.Terminal() {
		return nil
	}
	record := storage.HistoryRecord{
		TaskID:        event.TaskID,
		ToolName:      event.ToolName,
		OwnerID:       event.OwnerID,
		Status:        string(event.Status),
		StatusMessage: event.StatusMessage,
		ErrorMessage:  event.ErrorMessage,
		TTLMs:         event.TTLMs,
		CreatedAt:     event.CreatedAt.UnixMilli(),
		FinishedAt:    event.OccurredAt.UnixMilli(),
	}
	if event.FinishedAt != nil {
		record.FinishedAt = event.FinishedAt.UnixMilli()
	}
	return s.Repo.Save(ctx, record)
}

// RecorderSink 在内存中保存收到的事件。
type RecorderSink struct {
	mu     sync.Mutex
	events []Event
}

// Name 返回渠道名称。
func (r *RecorderSink) Name() string { return "recorder" }

// Publish 记录事件。
func (r *RecorderSink) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events 返回已记录事件的副本。
func (r *RecorderSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
