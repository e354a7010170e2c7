package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"DocMCP/sdk/go/docmcp"
)

func main() {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/tools/convert_to_pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(docmcp.Task{
			ID:             "6f1c0d3a9b2e4f5a8c7d6e5f4a3b2c1d",
			ToolName:       "convert_to_pdf",
			Status:         docmcp.StatusWorking,
			PollIntervalMs: 50,
			CreatedAt:      time.Now().UTC(),
		})
	})
	mux.HandleFunc("/api/v1/tasks/6f1c0d3a9b2e4f5a8c7d6e5f4a3b2c1d", func(w http.ResponseWriter, r *http.Request) {
		task := docmcp.Task{ID: "6f1c0d3a9b2e4f5a8c7d6e5f4a3b2c1d", Status: docmcp.StatusWorking, PollIntervalMs: 50}
		if polls.Add(1) > 2 {
			task.Status = docmcp.StatusCompleted
			task.Result = json.RawMessage(`{"outputPath":"report.pdf","outputFormat":"pdf"}`)
		}
		_ = json.NewEncoder(w).Encode(task)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := docmcp.NewClient(srv.URL, srv.Client()).WithOwner("demo")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.CallTool(ctx, "convert_to_pdf", map[string]string{"inputPath": "report.docx"}, time.Minute)
	if err != nil {
		panic(err)
	}
	fmt.Printf("accepted task %s\n", res.Task.ID)

	task, err := client.WaitForTask(ctx, res.Task.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task finished with status %s: %s\n", task.Status, task.Result)
}
