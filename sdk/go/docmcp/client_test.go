package docmcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCallToolAsyncAndSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		switch r.URL.Path {
		case "/api/v1/tools/convert_document":
			if got := r.URL.Query().Get("ttl"); got != "2000" {
				t.Fatalf("expected ttl 2000, got %q", got)
			}
			if got := r.Header.Get(DefaultOwnerHeader); got != "alice" {
				t.Fatalf("expected owner header alice, got %q", got)
			}
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: StatusWorking, PollIntervalMs: 5000})
		case "/api/v1/tools/document_info":
			_, _ = w.Write([]byte(`{"result":{"format":"pdf"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client()).WithOwner("alice")

	res, err := client.CallTool(context.Background(), "convert_document", map[string]string{"inputPath": "a.docx"}, 2*time.Second)
	if err != nil {
		t.Fatalf("call async tool: %v", err)
	}
	if res.Task == nil || res.Task.ID != "task-1" {
		t.Fatalf("expected accepted task, got %+v", res)
	}
	if res.Task.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", res.Task.PollInterval())
	}

	res, err = client.CallTool(context.Background(), "document_info", nil, 0)
	if err != nil {
		t.Fatalf("call sync tool: %v", err)
	}
	if res.Task != nil || string(res.Result) != `{"format":"pdf"}` {
		t.Fatalf("unexpected sync result: %+v", res)
	}
}

func TestGetTaskError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(APIError{Code: "NOT_FOUND", Message: "任务不存在"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.GetTask(context.Background(), "task-404")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !IsNotFound(err) {
		t.Fatal("expected IsNotFound to match")
	}
}

func TestListTasksEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "working,failed" || q.Get("limit") != "2" || q.Get("offset") != "1" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"tasks":[{"taskId":"a","status":"working"},{"taskId":"b","status":"failed"}]}`))
	}))
	defer srv.Close()

	tasks, err := NewClient(srv.URL, srv.Client()).ListTasks(context.Background(), ListOptions{
		Statuses: []string{StatusWorking, StatusFailed},
		Limit:    2,
		Offset:   1,
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "a" || tasks[1].ID != "b" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestCancelTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/tasks/task-1/cancel":
			_, _ = w.Write([]byte(`{"cancelled":true,"task":{"taskId":"task-1","status":"cancelled"}}`))
		case "/api/v1/tasks/task-2/cancel":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"INVALID_STATE","message":"任务已处于终态 completed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	task, err := client.CancelTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("cancel task: %v", err)
	}
	if task == nil || task.Status != StatusCancelled {
		t.Fatalf("unexpected task: %+v", task)
	}

	_, err = client.CancelTask(context.Background(), "task-2")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestWaitForTaskPollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := StatusWorking
		if calls.Add(1) >= 3 {
			status = StatusCompleted
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: status, PollIntervalMs: 10})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := NewClient(srv.URL, srv.Client()).WaitForTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("wait for task: %v", err)
	}
	if task.Status != StatusCompleted {
		t.Fatalf("unexpected status: %s", task.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 polls, got %d", got)
	}
}

func TestWaitForTaskHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Task{ID: "task-1", Status: StatusWorking, PollIntervalMs: 10})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, srv.Client()).WaitForTask(ctx, "task-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
