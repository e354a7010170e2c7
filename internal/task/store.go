package task

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"DocMCP/internal/config"
	xerrors "DocMCP/internal/errors"
)

// CreateOptions 是创建任务时的可选参数。TTLMs <= 0 时使用默认 TTL。
type CreateOptions struct {
	TTLMs   int64
	OwnerID string
}

// StatusUpdate 描述一次状态写入。
type StatusUpdate struct {
	Status        Status
	StatusMessage string
	Result        json.RawMessage
	ErrorMessage  string
}

// StoreOption 定义 Store 的可选配置。
type StoreOption func(*Store)

// WithClock 替换 Store 使用的时钟，便于测试 TTL。
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver 注册任务变化观察者。
func WithObserver(observer Observer) StoreOption {
	return func(s *Store) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// Store 是任务状态的唯一权威来源，也是唯一允许修改任务的组件。
// 所有方法都可以被并发调用，返回的任务均为副本。
type Store struct {
	cfg config.TaskConfig
	now func() time.Time

	mu            sync.RWMutex
	tasks         map[string]*Task
	active        int
	activeByOwner map[string]int
	seq           uint64

	observers []Observer
}

// NewStore 基于已经校验过的任务配置创建 Store。
func NewStore(cfg config.TaskConfig, opts ...StoreOption) *Store {
	s := &Store{
		cfg:           cfg,
		now:           time.Now,
		tasks:         make(map[string]*Task),
		activeByOwner: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Config 返回 Store 使用的任务配置。
func (s *Store) Config() config.TaskConfig {
	return s.cfg
}

// Create 在准入检查通过后登记一个处于 working 状态的新任务。
// 超过上限的 TTL 会被静默截断为 MaxTTLMs。
func (s *Store) Create(toolName string, arguments json.RawMessage, opts CreateOptions) (*Task, error) {
	toolName = strings.TrimSpace(toolName)
	if toolName == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
	}
	ttl := opts.TTLMs
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTLMs
	}
	if ttl > s.cfg.MaxTTLMs {
		ttl = s.cfg.MaxTTLMs
	}
	owner := strings.TrimSpace(opts.OwnerID)

	s.mu.Lock()
	if scope, limited := s.admissionLocked(owner); limited {
		now := s.now()
		s.mu.Unlock()
		s.notify(Change{
			Kind:  ChangeRejected,
			Task:  &Task{ToolName: toolName, OwnerID: owner},
			Scope: scope,
			At:    now,
		})
		return nil, xerrors.New(xerrors.CodeResourceExhausted,
			fmt.Sprintf("并发任务数已达上限 %d", s.cfg.MaxConcurrentTasks),
			xerrors.WithMetadata("scope", scope))
	}

	now := s.now()
	id := NewID()
	for s.tasks[id] != nil {
		id = NewID()
	}
	s.seq++
	task := &Task{
		ID:             id,
		ToolName:       toolName,
		Arguments:      cloneRaw(arguments),
		Status:         StatusWorking,
		TTLMs:          ttl,
		PollIntervalMs: s.cfg.DefaultPollIntervalMs,
		OwnerID:        owner,
		CreatedAt:      now,
		UpdatedAt:      now,
		seq:            s.seq,
	}
	s.tasks[id] = task
	s.active++
	if owner != "" {
		s.activeByOwner[owner]++
	}
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCreated, Task: cloneTask(snapshot), At: now})
	return snapshot, nil
}

// admissionLocked 判断是否已达并发上限。指定 owner 时只统计该 owner 的
// working 任务，否则统计全部 working 任务。调用方必须持有写锁。
func (s *Store) admissionLocked(owner string) (string, bool) {
	if owner != "" {
		return ScopeOwner, s.activeByOwner[owner] >= s.cfg.MaxConcurrentTasks
	}
	return ScopeGlobal, s.active >= s.cfg.MaxConcurrentTasks
}

// Get 返回任务副本。ownerID 非空且与任务归属不一致时视为不存在。
func (s *Store) Get(id, ownerID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok || !ownedBy(task, ownerID) {
		return nil, false
	}
	return cloneTask(task), true
}

// List 按创建时间倒序返回任务，ownerID 非空时仅返回该 owner 的任务。
func (s *Store) List(ownerID string, opts ...ListOption) []*Task {
	options := buildListOptions(opts)

	s.mu.RLock()
	results := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !ownedBy(task, ownerID) || !options.matches(task) {
			continue
		}
		results = append(results, cloneTask(task))
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if options.Order == SortByCreatedAsc {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.seq > b.seq
	})

	if options.Offset > 0 {
		if options.Offset >= len(results) {
			return []*Task{}
		}
		results = results[options.Offset:]
	}
	if options.Limit > 0 && len(results) > options.Limit {
		results = results[:options.Limit]
	}
	return results
}

// UpdateStatus 写入任务状态。这是任务进入 completed 或 failed 的唯一途径。
// 未知任务与已处于终态的任务返回 false，即首个终态写入生效。
// 对 working 任务写入 working 仅更新进度描述。
func (s *Store) UpdateStatus(id string, update StatusUpdate) bool {
	switch update.Status {
	case StatusWorking, StatusCompleted, StatusFailed:
	default:
		return false
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok || task.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	task.UpdatedAt = now
	kind := ChangeProgress
	if update.Status == StatusWorking {
		task.StatusMessage = update.StatusMessage
	} else {
		kind = ChangeFinished
		task.Status = update.Status
		task.StatusMessage = update.StatusMessage
		if update.Status == StatusCompleted {
			task.Result = cloneRaw(update.Result)
			task.ErrorMessage = ""
		} else {
			task.Result = nil
			task.ErrorMessage = update.ErrorMessage
		}
		s.finishLocked(task, now)
	}
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.notify(Change{Kind: kind, Task: snapshot, At: now})
	return true
}

// Cancel 将 working 任务转为 cancelled。任务不存在、归属不符或已处于终态时返回 false。
func (s *Store) Cancel(id, ownerID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok || !ownedBy(task, ownerID) || task.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	task.Status = StatusCancelled
	task.StatusMessage = "cancelled by request"
	task.UpdatedAt = now
	s.finishLocked(task, now)
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCancelled, Task: snapshot, At: now})
	return true
}

// CancelAll 取消全部 working 任务并返回数量，用于停机。
func (s *Store) CancelAll(message string) int {
	s.mu.Lock()
	now := s.now()
	var changed []*Task
	for _, task := range s.tasks {
		if task.Status.IsTerminal() {
			continue
		}
		task.Status = StatusCancelled
		task.StatusMessage = message
		task.UpdatedAt = now
		s.finishLocked(task, now)
		changed = append(changed, cloneTask(task))
	}
	s.mu.Unlock()

	for _, task := range changed {
		s.notify(Change{Kind: ChangeCancelled, Task: task, At: now})
	}
	return len(changed)
}

// CleanupExpired 删除已处于终态且超过 TTL 的任务，返回删除数量。
// working 任务无论存在多久都不会被删除。
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	now := s.now()
	var removed []*Task
	for id, task := range s.tasks {
		if !task.Expired(now) {
			continue
		}
		delete(s.tasks, id)
		removed = append(removed, task)
	}
	s.mu.Unlock()

	for _, task := range removed {
		s.notify(Change{Kind: ChangeExpired, Task: task, At: now})
	}
	return len(removed)
}

// ActiveCount 返回 working 任务数量。
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// TotalCount 返回登记的任务总数。
func (s *Store) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Stats 汇总任务状态，ownerID 非空时仅统计该 owner。
func (s *Store) Stats(ownerID string) TaskStats {
	stats := TaskStats{MaxConcurrent: s.cfg.MaxConcurrentTasks}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if ownedBy(task, ownerID) {
			stats.add(task)
		}
	}
	return stats
}

// Clear 无条件清空全部任务，用于停机或测试。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*Task)
	s.activeByOwner = make(map[string]int)
	s.active = 0
}

// finishLocked 维护 working 计数。调用方必须持有写锁，且任务刚刚进入终态。
func (s *Store) finishLocked(task *Task, now time.Time) {
	finished := now
	task.FinishedAt = &finished
	s.active--
	if task.OwnerID == "" {
		return
	}
	if s.activeByOwner[task.OwnerID] <= 1 {
		delete(s.activeByOwner, task.OwnerID)
		return
	}
	s.activeByOwner[task.OwnerID]--
}

func (s *Store) notify(change Change) {
	for _, observer := range s.observers {
		observer.ObserveTask(change)
	}
}

func ownedBy(task *Task, ownerID string) bool {
	return ownerID == "" || task.OwnerID == ownerID
}
