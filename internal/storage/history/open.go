// Package history selects the task audit history backend from configuration.
package history

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"DocMCP/internal/config"
	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
	"DocMCP/internal/storage/mysql"
	"DocMCP/internal/storage/postgres"
	"DocMCP/internal/storage/sqlite"
)

// 支持的存储驱动。
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open 按配置创建历史仓库。sqlite 驱动未配置 DSN 时在数据目录下建库。
func Open(ctx context.Context, cfg config.HistoryConfig) (storage.HistoryRepository, error) {
	lifetime := time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return storage.NewMemoryHistoryRepository(cfg.DataDir)
	case DriverMySQL:
		return mysql.NewSQLHistoryRepository(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
	case DriverPostgres:
		return postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
	case DriverSQLite:
		path := strings.TrimSpace(cfg.DSN)
		if path == "" {
			dir := cfg.DataDir
			if dir == "" {
				dir = "."
			}
			path = filepath.Join(dir, sqlite.DefaultFileName)
		}
		return sqlite.Open(ctx, path)
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, "不支持的历史存储驱动: "+cfg.Driver)
	}
}
