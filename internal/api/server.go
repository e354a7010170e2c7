package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"DocMCP/internal/auth"
	"DocMCP/internal/storage"
	"DocMCP/internal/task"
	"DocMCP/internal/tool"
)

// Options 描述构造 API 服务所需的依赖。
type Options struct {
	Addr        string
	Registry    *tool.Registry
	Executor    *task.Executor
	History     storage.HistoryRepository
	CORSOrigins []string
	OwnerHeader string
}

// Server 负责暴露 REST 接口。Executor 为空表示任务子系统已禁用，
// 此时所有工具都走同步路径，任务相关路由返回 503。
type Server struct {
	addr     string
	registry *tool.Registry
	executor *task.Executor
	store    *task.Store
	history  storage.HistoryRepository
	handler  http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	s := &Server{
		addr:     opts.Addr,
		registry: opts.Registry,
		executor: opts.Executor,
		history:  opts.History,
	}
	if opts.Executor != nil {
		s.store = opts.Executor.Store()
	}
	s.handler = s.routes(opts)
	return s
}

// Handler 返回完整的路由处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	ownerHeader := opts.OwnerHeader
	if ownerHeader == "" {
		ownerHeader = auth.DefaultOwnerHeader
	}
	r.Use(requestLogger(ownerHeader))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", ownerHeader, middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(auth.OwnerMiddleware(ownerHeader))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tools/{name}", s.handleCallTool)
		r.Get("/tools", s.handleListTools)
		r.Get("/history", s.handleHistory)

		r.Route("/tasks", func(r chi.Router) {
			r.Use(s.requireTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/stats", s.handleTaskStats)
			r.Get("/{id}", s.handleTaskDetail)
			r.Post("/{id}/cancel", s.handleCancelTask)
		})
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
