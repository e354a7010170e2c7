package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: uniqueViolationCode})))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("connection reset")))
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}

// 需要 DOCMCP_TEST_POSTGRES_DSN 指向可写的数据库。
func TestHistoryRepositoryIntegration(t *testing.T) {
	dsn := os.Getenv("DOCMCP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCMCP_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := Open(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	defer repo.Close()

	owner := fmt.Sprintf("it-%d", time.Now().UnixNano())
	id := fmt.Sprintf("%032x", time.Now().UnixNano())
	rec := storage.HistoryRecord{
		TaskID: id, ToolName: "convert_to_pdf", OwnerID: owner, Status: "completed",
		TTLMs: 1000, CreatedAt: 1, FinishedAt: 2,
	}
	require.NoError(t, repo.Save(ctx, rec))
	require.NoError(t, repo.Save(ctx, rec))

	records, err := repo.ListLatest(ctx, owner, 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].TaskID)
}
