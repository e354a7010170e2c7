package task

import (
	"context"
	"log/slog"
	"time"

	"DocMCP/pkg/logger"
)

// Sweeper 按固定周期清理过期任务。
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper 创建清理器，interval 非正时使用 Store 配置中的清理周期。
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = store.Config().CleanupInterval()
	}
	return &Sweeper{store: store, interval: interval, logger: logger.Named("task.sweeper")}
}

// Run 阻塞执行周期清理，直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce 执行一次清理并返回删除数量。
func (s *Sweeper) SweepOnce() int {
	removed := s.store.CleanupExpired()
	if removed > 0 {
		logger.Audit().Info("清理过期任务",
			slog.Int("removed", removed),
			slog.Int("remaining", s.store.TotalCount()))
	}
	return removed
}
