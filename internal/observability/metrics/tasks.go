package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"DocMCP/internal/task"
)

var (
	taskTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmcp_tasks_transitions_total",
			Help: "Task state transitions by resulting status.",
		},
		[]string{"status"},
	)

	taskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docmcp_tasks_rejected_total",
			Help: "Task creations rejected by admission control, by scope.",
		},
		[]string{"scope"},
	)

	tasksExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docmcp_tasks_expired_total",
		Help: "Terminal tasks removed by the cleanup sweep.",
	})

	tasksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docmcp_tasks_active",
		Help: "Tasks currently in the working state.",
	})

	tasksTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docmcp_tasks_total",
		Help: "Tasks currently held in the registry.",
	})
)

func init() {
	Registry.MustRegister(taskTransitions, taskRejections, tasksExpired, tasksActive, tasksTotal)
}

// TaskCounts is the read side of the task store used to refresh gauges.
type TaskCounts interface {
	ActiveCount() int
	TotalCount() int
}

// TaskObserver turns store changes into Prometheus samples.
// Refreshes are serialized so that gauges always end on the most recent read
// even though the store notifies observers outside its lock.
type TaskObserver struct {
	mu     sync.Mutex
	counts TaskCounts
}

// NewTaskObserver returns an observer that refreshes gauges from counts after
// every change. counts may be nil, in which case gauges are left untouched.
func NewTaskObserver(counts TaskCounts) *TaskObserver {
	return &TaskObserver{counts: counts}
}

// Attach sets the source used to refresh gauges. It is meant to be called
// once during wiring, before the store sees traffic.
func (o *TaskObserver) Attach(counts TaskCounts) {
	o.mu.Lock()
	o.counts = counts
	o.mu.Unlock()
	o.Refresh()
}

// ObserveTask implements task.Observer.
func (o *TaskObserver) ObserveTask(c task.Change) {
	switch c.Kind {
	case task.ChangeCreated:
		taskTransitions.WithLabelValues(string(task.StatusWorking)).Inc()
	case task.ChangeFinished, task.ChangeCancelled:
		if c.Task != nil {
			taskTransitions.WithLabelValues(string(c.Task.Status)).Inc()
		}
	case task.ChangeRejected:
		taskRejections.WithLabelValues(c.Scope).Inc()
	case task.ChangeExpired:
		tasksExpired.Inc()
	}
	o.Refresh()
}

// Refresh copies the current counts into the gauges.
func (o *TaskObserver) Refresh() {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		return
	}
	tasksActive.Set(float64(o.counts.ActiveCount()))
	tasksTotal.Set(float64(o.counts.TotalCount()))
}
