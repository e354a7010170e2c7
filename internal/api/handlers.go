package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"DocMCP/internal/auth"
	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
	"DocMCP/internal/task"
	"DocMCP/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createTaskRequest struct {
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
	TTLMs     int64           `json:"ttl"`
}

type toolInfo struct {
	Name  string `json:"name"`
	Async bool   `json:"async"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":       "ok",
		"tasksEnabled": s.executor != nil,
	}
	if s.store != nil {
		body["activeTasks"] = s.store.ActiveCount()
		body["totalTasks"] = s.store.TotalCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.registry != nil {
		names = s.registry.Names()
	}
	tools := make([]toolInfo, 0, len(names))
	for _, name := range names {
		tools = append(tools, toolInfo{Name: name, Async: s.executor != nil && task.SupportsAsync(name)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// handleCallTool 执行工具调用。支持异步的工具在任务子系统开启时返回 202 与任务快照，
// 其余工具同步执行并直接返回结果。
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	args, err := readArguments(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.executor != nil && s.executor.SupportsAsync(name) {
		ttl, err := parseInt64Query(r, "ttl")
		if err != nil {
			writeError(w, err)
			return
		}
		snapshot, err := s.executor.Dispatch(r.Context(), task.DispatchRequest{
			ToolName:  name,
			Arguments: args,
			TTLMs:     ttl,
			OwnerID:   auth.OwnerFromContext(r.Context()),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snapshot)
		return
	}

	if s.registry == nil {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "未注册任何工具"))
		return
	}
	result, err := s.registry.Call(r.Context(), name, args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	snapshot, err := s.executor.Dispatch(r.Context(), task.DispatchRequest{
		ToolName:  strings.TrimSpace(req.ToolName),
		Arguments: req.Arguments,
		TTLMs:     req.TTLMs,
		OwnerID:   auth.OwnerFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var opts []task.ListOption

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status, ok := task.ParseStatus(part)
			if !ok {
				writeError(w, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的任务状态 %q", part))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := parseIntQuery(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}
	opts = append(opts, task.WithLimit(limit), task.WithOffset(offset))

	tasks := s.store.List(auth.OwnerFromContext(r.Context()), opts...)
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats(auth.OwnerFromContext(r.Context())))
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	snapshot, ok := s.store.Get(id, auth.OwnerFromContext(r.Context()))
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "任务不存在"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleCancelTask 取消 working 任务。未知任务返回 404，已处于终态返回 409。
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	owner := auth.OwnerFromContext(r.Context())

	current, ok := s.store.Get(id, owner)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "任务不存在"))
		return
	}
	if current.Status.IsTerminal() || !s.executor.Cancel(id, owner) {
		writeError(w, xerrors.Newf(xerrors.CodeInvalidState, "任务已处于终态 %s", s.statusOf(id, owner, current.Status)))
		return
	}
	body := map[string]any{"cancelled": true}
	if snapshot, ok := s.store.Get(id, owner); ok {
		body["task"] = snapshot
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) statusOf(id, owner string, fallback task.Status) task.Status {
	if snapshot, ok := s.store.Get(id, owner); ok {
		return snapshot.Status
	}
	return fallback
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "UNAVAILABLE", Message: "未配置任务历史"})
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	if limit == 0 {
		limit = storage.DefaultHistoryLimit
	}
	records, err := s.history.ListLatest(r.Context(), auth.OwnerFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func readArguments(r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	if len(body) > maxBodyBytes {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求体过大")
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "参数不是合法的 JSON")
	}
	return json.RawMessage(trimmed), nil
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "参数 %s 必须是非负整数", key)
	}
	return value, nil
}

func parseInt64Query(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "参数 %s 必须是整数", key)
	}
	return value, nil
}

// statusFor 将统一错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidState:
		return http.StatusConflict
	case xerrors.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if coded, ok := xerrors.From(err); ok && coded.Message() != "" {
		message = coded.Message()
		if cause := coded.Unwrap(); cause != nil {
			message += ": " + cause.Error()
		}
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败", "code", string(code), "error", err)
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Warn("写入响应失败", "error", err)
	}
}
