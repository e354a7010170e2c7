package task

import "time"

// ChangeKind 标识一次任务状态变化的类型。
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeProgress  ChangeKind = "progress"
	ChangeFinished  ChangeKind = "finished"
	ChangeCancelled ChangeKind = "cancelled"
	ChangeExpired   ChangeKind = "expired"
	ChangeRejected  ChangeKind = "rejected"
)

// 准入被拒绝时的作用域。
const (
	ScopeGlobal = "global"
	ScopeOwner  = "owner"
)

// Change 描述一次已经提交到 Store 的变化。Task 为变化后的快照副本。
// ChangeRejected 时 Task 仅包含请求的工具名与 owner，Scope 标识拒绝的作用域。
type Change struct {
	Kind  ChangeKind
	Task  *Task
	Scope string
	At    time.Time
}

// Observer 接收任务变化通知。Store 在释放内部锁之后同步调用 Observer，
// 实现方不应长时间阻塞。
type Observer interface {
	ObserveTask(Change)
}

// ObserverFunc 将普通函数适配为 Observer。
type ObserverFunc func(Change)

// ObserveTask 实现 Observer 接口。
func (f ObserverFunc) ObserveTask(c Change) {
	f(c)
}
