package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "docmcp.log")

	require.NoError(t, Init(Config{Level: "debug", OutputPaths: []string{path}}))
	t.Cleanup(func() { _ = Sync() })

	Named("task").Debug("task accepted", slog.String("task_id", "abc"))
	require.NoError(t, Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"task accepted"`)
	assert.Contains(t, string(content), `"component":"task"`)
	assert.Contains(t, string(content), `"task_id":"abc"`)
}

func TestAuditLoggerUsesSeparateFile(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.log")
	auditPath := filepath.Join(dir, "audit.log")

	require.NoError(t, Init(Config{
		Format:      "text",
		OutputPaths: []string{mainPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}))
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("task finished", slog.String("status", "completed"))
	L().Info("plain line")
	require.NoError(t, Sync())

	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "task finished")
	assert.NotContains(t, string(audit), "plain line")

	main, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(main), "msg=\"plain line\""))
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
