package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"DocMCP/internal/auth"
	"DocMCP/internal/observability/metrics"
	"DocMCP/pkg/logger"
)

// requestLogger 记录每个请求的审计日志与 HTTP 指标。它位于 owner 中间件之外，
// 因此直接读取 owner 请求头，被拒绝的请求同样会记录 owner。
func requestLogger(ownerHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)
			route := routePattern(r)
			metrics.ObserveHTTPRequest(route, r.Method, status, duration)

			logger.Audit().Info("api_request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"owner_id", requestOwner(r, ownerHeader),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// requestOwner 返回请求携带的 owner，超长部分被截断。
func requestOwner(r *http.Request, header string) string {
	if owner := auth.OwnerFromContext(r.Context()); owner != "" {
		return owner
	}
	owner := strings.TrimSpace(r.Header.Get(header))
	if len(owner) > auth.MaxOwnerLength {
		owner = owner[:auth.MaxOwnerLength]
	}
	return owner
}

// routePattern 返回匹配到的路由模板，避免以原始路径作为指标标签。
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) requireTasks(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.executor == nil || s.store == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{
				Code:    "UNAVAILABLE",
				Message: "任务子系统未启用",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
