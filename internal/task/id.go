package task

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID 生成 32 位十六进制的任务 ID（128 位随机值）。
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
