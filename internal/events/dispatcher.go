package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"DocMCP/internal/task"
	"DocMCP/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Dispatcher 通过带缓冲的 channel 异步投递事件，使 Store 的观察者回调永不阻塞。
// 缓冲区满时丢弃事件并记录日志。
type Dispatcher struct {
	sink   Sink
	queue  chan Event
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewDispatcher 创建 Dispatcher，buffer 非正时使用 256。
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan Event, buffer),
		logger: logger.Named("events"),
	}
}

// ObserveTask 实现 task.Observer。
func (d *Dispatcher) ObserveTask(c task.Change) {
	d.Enqueue(FromChange(c))
}

// Enqueue 尝试把事件放入缓冲区，返回是否成功。
func (d *Dispatcher) Enqueue(event Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("事件缓冲区已满，丢弃事件",
			slog.String("task_id", event.TaskID),
			slog.String("kind", string(event.Kind)))
		return false
	}
}

// Dropped 返回被丢弃的事件数量。
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run 持续投递事件，直到 Close 被调用或 ctx 结束。ctx 结束时会尽量投递缓冲区内剩余的事件。
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case event, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.publish(context.WithoutCancel(ctx), event)
		case <-ctx.Done():
			d.Close()
			for event := range d.queue {
				d.publish(context.WithoutCancel(ctx), event)
			}
			return nil
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, event Event) {
	if d.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := d.sink.Publish(ctx, event); err != nil {
		d.logger.Error("投递任务事件失败",
			slog.Any("error", err),
			slog.String("task_id", event.TaskID),
			slog.String("kind", string(event.Kind)))
	}
}

// Close 停止接收新事件。可重复调用。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}
