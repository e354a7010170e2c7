package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/tool"
	"DocMCP/pkg/logger"
)

// asyncTools 是允许以异步任务方式执行的工具白名单。
var asyncTools = []string{tool.ToolConvertDocument, tool.ToolConvertToPDF}

// AsyncTools 返回异步工具白名单的副本。
func AsyncTools() []string {
	return append([]string(nil), asyncTools...)
}

// Resolver 在派发时根据工具名查找实现。
type Resolver interface {
	Resolve(name string) (tool.Handler, bool)
}

// DispatchRequest 描述一次异步工具调用。
type DispatchRequest struct {
	ToolName  string
	Arguments json.RawMessage
	TTLMs     int64
	OwnerID   string
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// Executor 负责把白名单内的工具调用登记为任务，并在独立的 goroutine 中执行。
// 执行结束后只向 Store 回写一次终态。
type Executor struct {
	store    *Store
	resolver Resolver
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewExecutor 构造 Executor，store 与 resolver 均不能为空。
func NewExecutor(store *Store, resolver Resolver, opts ...ExecutorOption) (*Executor, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务执行器需要 Store")
	}
	if resolver == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务执行器需要工具解析器")
	}
	e := &Executor{
		store:    store,
		resolver: resolver,
		running:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("task.executor")
	}
	return e, nil
}

// SupportsAsync 判断工具是否允许异步执行，忽略大小写。
func (e *Executor) SupportsAsync(toolName string) bool {
	return SupportsAsync(toolName)
}

// SupportsAsync 判断工具是否在异步白名单内，忽略大小写。
func SupportsAsync(toolName string) bool {
	name := strings.TrimSpace(toolName)
	for _, candidate := range asyncTools {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}

// Store 返回执行器使用的 Store。
func (e *Executor) Store() *Store {
	return e.store
}

// Dispatch 创建任务并立即返回，实际工作在后台执行。
// 工作 context 与调用方的取消信号解耦，只受 Cancel 与 Shutdown 控制。
func (e *Executor) Dispatch(ctx context.Context, req DispatchRequest) (*Task, error) {
	if !e.SupportsAsync(req.ToolName) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("工具 %s 不支持异步执行", req.ToolName))
	}
	handler, ok := e.resolver.Resolve(req.ToolName)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未知工具 %s", req.ToolName))
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, xerrors.New(xerrors.CodeInvalidState, "任务执行器已关闭")
	}

	task, err := e.store.Create(req.ToolName, req.Arguments, CreateOptions{
		TTLMs:   req.TTLMs,
		OwnerID: req.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		e.store.UpdateStatus(task.ID, StatusUpdate{Status: StatusFailed, ErrorMessage: "executor is shutting down"})
		return nil, xerrors.New(xerrors.CodeInvalidState, "任务执行器已关闭")
	}
	e.running[task.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	// Create 通知观察者之后、登记 cancel 之前，任务可能已被取消。
	if current, ok := e.store.Get(task.ID, ""); !ok || current.Status.IsTerminal() {
		e.release(task.ID)
		e.wg.Done()
		if ok {
			task = current
		}
		return task, nil
	}

	logger.Audit().Info("任务已受理",
		slog.String("task_id", task.ID),
		slog.String("tool", task.ToolName),
		slog.String("owner_id", task.OwnerID),
		slog.Int64("ttl_ms", task.TTLMs),
	)

	go e.run(workCtx, task.ID, task.ToolName, handler, cloneRaw(req.Arguments))
	return task, nil
}

func (e *Executor) run(ctx context.Context, id, toolName string, handler tool.Handler, args json.RawMessage) {
	defer e.wg.Done()
	defer e.release(id)

	update := e.execute(ctx, id, handler, args)
	if !e.store.UpdateStatus(id, update) {
		e.logger.Debug("任务已处于终态，丢弃执行结果",
			slog.String("task_id", id),
			slog.String("status", string(update.Status)))
		return
	}
	if update.Status == StatusFailed {
		logger.Audit().Warn("任务执行失败",
			slog.String("task_id", id),
			slog.String("tool", toolName),
			slog.String("error", update.ErrorMessage))
		return
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", id),
		slog.String("tool", toolName))
}

// execute 调用处理函数并把结果或错误转换为终态写入，panic 也在此处被捕获。
func (e *Executor) execute(ctx context.Context, id string, handler tool.Handler, args json.RawMessage) (update StatusUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("任务执行 panic", slog.String("task_id", id), slog.Any("panic", rec))
			update = StatusUpdate{
				Status:       StatusFailed,
				ErrorMessage: fmt.Sprintf("internal error: %v", rec),
			}
		}
	}()

	ctx = tool.WithProgress(ctx, func(message string) {
		e.store.UpdateStatus(id, StatusUpdate{Status: StatusWorking, StatusMessage: message})
	})
	result, err := handler(ctx, args)
	if err != nil {
		return StatusUpdate{Status: StatusFailed, ErrorMessage: err.Error()}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return StatusUpdate{Status: StatusFailed, ErrorMessage: fmt.Sprintf("encode result: %v", err)}
	}
	return StatusUpdate{Status: StatusCompleted, StatusMessage: "completed", Result: encoded}
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	delete(e.running, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel 请求取消任务。Store 中的状态立即变为 cancelled，后台工作通过 context
// 收到取消信号，但不保证立即停止；其后写入的结果会被 Store 忽略。
func (e *Executor) Cancel(id, ownerID string) bool {
	if !e.store.Cancel(id, ownerID) {
		return false
	}
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	logger.Audit().Info("任务已取消", slog.String("task_id", id), slog.String("owner_id", ownerID))
	return true
}

// Running 返回仍在执行的后台工作数量。
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown 拒绝新的派发，取消全部 working 任务并等待后台工作退出。
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	cancels := make([]context.CancelFunc, 0, len(e.running))
	for _, cancel := range e.running {
		cancels = append(cancels, cancel)
	}
	e.mu.Unlock()

	cancelled := e.store.CancelAll("server shutting down")
	for _, cancel := range cancels {
		cancel()
	}
	if cancelled > 0 {
		e.logger.Info("停机时取消任务", slog.Int("count", cancelled))
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待后台任务退出超时")
	}
}
