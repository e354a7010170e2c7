package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DocMCP/internal/auth"
	"DocMCP/internal/config"
	"DocMCP/internal/storage"
	"DocMCP/internal/task"
	"DocMCP/internal/tool"
	"DocMCP/pkg/logger"
)

type testEnv struct {
	server  *Server
	store   *task.Store
	release chan struct{}
}

func newTestEnv(t *testing.T, maxConcurrent int, withTasks bool) *testEnv {
	t.Helper()
	release := make(chan struct{})

	reg := tool.NewRegistry()
	require.NoError(t, reg.Register("echo", func(_ context.Context, args json.RawMessage) (any, error) {
		return map[string]any{"echo": json.RawMessage(args)}, nil
	}))
	require.NoError(t, reg.Register(tool.ToolConvertDocument, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-release:
			return map[string]string{"outputPath": "/tmp/out.pdf"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	reg.Freeze()

	history, err := storage.NewMemoryHistoryRepository(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{release: release}
	opts := Options{Addr: ":0", Registry: reg, History: history}
	if withTasks {
		cfg := config.DefaultTaskConfig()
		cfg.MaxConcurrentTasks = maxConcurrent
		env.store = task.NewStore(cfg)
		exec, err := task.NewExecutor(env.store, reg)
		require.NoError(t, err)
		opts.Executor = exec
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = exec.Shutdown(ctx)
		})
	}
	env.server = NewServer(opts)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set(auth.DefaultOwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, 5, true)
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["tasksEnabled"])
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, 5, true)
	rec := env.do(t, http.MethodGet, "/api/v1/tools", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Tools []toolInfo `json:"tools"`
	}](t, rec)
	assert.Equal(t, []toolInfo{{Name: tool.ToolConvertDocument, Async: true}, {Name: "echo", Async: false}}, body.Tools)
}

func TestCallToolSynchronous(t *testing.T) {
	env := newTestEnv(t, 5, true)
	rec := env.do(t, http.MethodPost, "/api/v1/tools/echo", "", `{"a":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":{"echo":{"a":1}}}`, rec.Body.String())
}

func TestCallToolErrors(t *testing.T) {
	env := newTestEnv(t, 5, true)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/missing", "", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tools/echo", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tools/convert_document?ttl=abc", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallToolAsyncLifecycle(t *testing.T) {
	env := newTestEnv(t, 5, true)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/CONVERT_DOCUMENT?ttl=2000", "alice", `{"inputPath":"a.docx"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snapshot := decode[task.Task](t, rec)
	assert.Len(t, snapshot.ID, 32)
	assert.Equal(t, task.StatusWorking, snapshot.Status)
	assert.Equal(t, int64(2000), snapshot.TTLMs)
	assert.Equal(t, int64(5000), snapshot.PollIntervalMs)
	assert.Equal(t, "alice", snapshot.OwnerID)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+snapshot.ID, "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	close(env.release)
	require.Eventually(t, func() bool {
		rec := env.do(t, http.MethodGet, "/api/v1/tasks/"+snapshot.ID, "alice", "")
		if rec.Code != http.StatusOK {
			return false
		}
		return decode[task.Task](t, rec).Status == task.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+snapshot.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outputPath":"/tmp/out.pdf"}`, string(decode[task.Task](t, rec).Result))
}

func TestCreateTaskEndpoint(t *testing.T) {
	env := newTestEnv(t, 5, true)

	rec := env.do(t, http.MethodPost, "/api/v1/tasks", "", `{"toolName":"convert_document","arguments":{"inputPath":"a.docx"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(300000), decode[task.Task](t, rec).TTLMs)

	rec = env.do(t, http.MethodPost, "/api/v1/tasks", "", `{"toolName":"echo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tasks", "", `[`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmissionLimitReturns429(t *testing.T) {
	env := newTestEnv(t, 1, true)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/convert_document", "", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tools/convert_document", "", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RESOURCE_EXHAUSTED", decode[errorBody](t, rec).Code)
	assert.Equal(t, 1, env.store.TotalCount())
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t, 5, true)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/convert_document", "alice", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[task.Task](t, rec).ID

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["cancelled"])

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/cancel", "alice", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE", decode[errorBody](t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/tasks/unknown/cancel", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	got, ok := env.store.Get(id, "")
	require.True(t, ok)
	assert.Equal(t, task.StatusCancelled, got.Status)
}

func TestListTasksAndStats(t *testing.T) {
	env := newTestEnv(t, 5, true)
	for _, owner := range []string{"alice", "alice", "bob"} {
		rec := env.do(t, http.MethodPost, "/api/v1/tools/convert_document", owner, `{}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/tasks?status=working&limit=10", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Tasks []task.Task `json:"tasks"`
	}](t, rec)
	assert.Len(t, list.Tasks, 2)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks?status=completed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tasks":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/tasks?status=bogus", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[task.TaskStats](t, rec)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Working)
	assert.Equal(t, 5, stats.MaxConcurrent)
}

func TestTasksDisabled(t *testing.T) {
	env := newTestEnv(t, 5, false)

	rec := env.do(t, http.MethodGet, "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(env.release)
	rec = env.do(t, http.MethodPost, "/api/v1/tools/convert_document", "", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":{"outputPath":"/tmp/out.pdf"}}`, rec.Body.String())
}

func TestHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t, 5, true)
	require.NoError(t, env.server.history.Save(context.Background(), storage.HistoryRecord{
		TaskID: "t1", ToolName: "convert_document", OwnerID: "alice", Status: "completed", CreatedAt: 1, FinishedAt: 2,
	}))
	require.NoError(t, env.server.history.Save(context.Background(), storage.HistoryRecord{
		TaskID: "t2", ToolName: "convert_document", OwnerID: "bob", Status: "failed", CreatedAt: 3, FinishedAt: 4,
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/history?limit=5", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Records []storage.HistoryRecord `json:"records"`
	}](t, rec)
	require.Len(t, body.Records, 1)
	assert.Equal(t, "t1", body.Records[0].TaskID)

	rec = env.do(t, http.MethodGet, "/api/v1/history?limit=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestAuditRecordsOwner(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, logger.Init(logger.Config{
		Audit: logger.AuditConfig{Enabled: true, Path: auditPath},
	}))
	t.Cleanup(func() { _ = logger.Init(logger.Config{}) })

	env := newTestEnv(t, 5, true)
	rec := env.do(t, http.MethodGet, "/api/v1/tasks", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks", strings.Repeat("b", 200), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")

	var entries []map[string]any
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["msg"] == "api_request" {
			entries = append(entries, entry)
		}
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0]["owner_id"])
	assert.Equal(t, float64(http.StatusOK), entries[0]["status"])
	assert.Equal(t, strings.Repeat("b", 128), entries[1]["owner_id"])
	assert.Equal(t, float64(http.StatusBadRequest), entries[1]["status"])
}
