package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"DocMCP/internal/api"
	"DocMCP/internal/config"
	"DocMCP/internal/convert"
	"DocMCP/internal/events"
	"DocMCP/internal/observability/metrics"
	"DocMCP/internal/storage/history"
	"DocMCP/internal/task"
	"DocMCP/internal/tool"
	"DocMCP/pkg/logger"
)

// shutdownTimeout 限制停机时等待后台任务退出的时间。
const shutdownTimeout = 10 * time.Second

// main 是 DocMCP 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("docmcpd 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	configPath := os.Getenv("DOCMCP_CONFIG")
	if configPath == "" {
		candidate := filepath.Join("configs", "docmcp.yaml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Tasks, err = cfg.Tasks.ApplyArgs(args); err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("docmcpd")

	historyRepo, err := history.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer historyRepo.Close()

	sinks, err := events.BuildSinks(ctx, cfg.Events, historyRepo)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			lg.Warn("关闭事件渠道失败", slog.Any("error", err))
		}
	}()
	dispatcher := events.NewDispatcher(sinks, cfg.Events.BufferSize)

	registry := tool.NewRegistry()
	if err := registerTools(registry, cfg.Converter, lg); err != nil {
		return err
	}
	registry.Freeze()

	var (
		store    *task.Store
		executor *task.Executor
		sweeper  *task.Sweeper
	)
	if cfg.Tasks.Enabled {
		observer := metrics.NewTaskObserver(nil)
		store = task.NewStore(cfg.Tasks, task.WithObserver(dispatcher), task.WithObserver(observer))
		observer.Attach(store)
		executor, err = task.NewExecutor(store, registry)
		if err != nil {
			return err
		}
		sweeper = task.NewSweeper(store, 0)
	} else {
		lg.Info("任务子系统已禁用，所有工具同步执行")
	}

	server := api.NewServer(api.Options{
		Addr:        cfg.Server.Address,
		Registry:    registry,
		Executor:    executor,
		History:     historyRepo,
		CORSOrigins: cfg.Server.CORSOrigins,
		OwnerHeader: cfg.Server.OwnerHeader,
	})

	lg.Info("docmcpd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("metrics_address", cfg.Server.MetricsAddress),
		slog.Any("tools", registry.Names()),
		slog.Any("sinks", sinks.Names()),
		slog.Bool("tasks_enabled", cfg.Tasks.Enabled),
		slog.Int("max_concurrent_tasks", cfg.Tasks.MaxConcurrentTasks),
	)

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	group, groupCtx := errgroup.WithContext(serveCtx)

	group.Go(func() error { return server.Start(groupCtx) })
	if cfg.Server.MetricsAddress != "" {
		group.Go(func() error { return metrics.StartServer(groupCtx, cfg.Server.MetricsAddress) })
	}
	if sweeper != nil {
		group.Go(func() error { return sweeper.Run(groupCtx) })
	}

	// 事件投递在执行器停机之后才结束，确保停机产生的取消事件也能送达。
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(dispatchCtx) }()

	serveErr := group.Wait()

	if executor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := executor.Shutdown(shutdownCtx); err != nil {
			lg.Warn("任务执行器未能在超时前退出", slog.Any("error", err))
		}
		cancel()
		store.Clear()
	}
	stopDispatch()
	<-dispatchDone
	if dropped := dispatcher.Dropped(); dropped > 0 {
		lg.Warn("部分任务事件被丢弃", slog.Int64("dropped", dropped))
	}
	lg.Info("docmcpd 已停止")

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// registerTools 注册文档工具。未配置转换命令时只提供 document_info。
func registerTools(registry *tool.Registry, cfg config.ConverterConfig, lg *slog.Logger) error {
	if cfg.Command == "" {
		lg.Warn("未配置 converter.command，转换工具不可用")
		return tool.RegisterDocumentInfo(registry)
	}
	converter, err := convert.NewCommandConverter(
		convert.ResolveCommandPath(cfg.WorkingDir, cfg.Command),
		cfg.Args,
		cfg.WorkingDir,
	)
	if err != nil {
		return err
	}
	return tool.RegisterDocumentTools(registry, converter)
}
