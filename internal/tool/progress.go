package tool

import "context"

type progressKey struct{}

// ProgressFunc 接收工具执行过程中的进度描述。
type ProgressFunc func(message string)

// WithProgress 在 ctx 中附加进度回调。
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress 在存在进度回调时上报进度，同步调用时为空操作。
func ReportProgress(ctx context.Context, message string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(message)
	}
}
