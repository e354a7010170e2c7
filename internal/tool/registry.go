package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "DocMCP/internal/errors"
)

// Handler 执行一个工具调用：接收 JSON 参数，返回可序列化为 JSON 的结果。
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

type entry struct {
	name    string
	handler Handler
}

// Registry 是在启动阶段静态构建的工具名到处理函数的映射。
// Freeze 之后不再接受注册，查找忽略大小写。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]entry
	frozen   bool
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]entry)}
}

// Register 注册工具处理函数。
func (r *Registry) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	if handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 的处理函数不能为空", name))
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return xerrors.New(xerrors.CodeInvalidState, "工具注册表已冻结")
	}
	if _, exists := r.handlers[key]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("工具 %s 已注册", name))
	}
	r.handlers[key] = entry{name: name, handler: handler}
	return nil
}

// Freeze 结束注册阶段。
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Resolve 按名称查找处理函数。
func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Names 返回已注册的工具名（按字母排序）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for _, e := range r.handlers {
		names = append(names, e.name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Call 同步执行工具，处理函数中的 panic 会被转换为 EXECUTOR_FAILURE。
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (result any, err error) {
	handler, ok := r.Resolve(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("未知工具 %s", name))
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = xerrors.New(xerrors.CodeExecutorFailure, fmt.Sprintf("工具 %s 执行异常: %v", name, rec))
		}
	}()
	return handler(ctx, args)
}
