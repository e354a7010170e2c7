package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	xerrors "DocMCP/internal/errors"
)

// 任务子系统可识别的命令行参数，参数值使用冒号分隔，例如 --tasks-max-ttl:600000。
const (
	FlagNoTasks            = "--no-tasks"
	FlagTasksMaxConcurrent = "--tasks-max-concurrent:"
	FlagTasksDefaultTTL    = "--tasks-default-ttl:"
	FlagTasksMaxTTL        = "--tasks-max-ttl:"
)

// TaskConfig 描述异步任务子系统的准入、TTL 与清理参数。
type TaskConfig struct {
	Enabled               bool  `mapstructure:"enabled" json:"enabled"`
	MaxConcurrentTasks    int   `mapstructure:"max_concurrent" json:"max_concurrent" validate:"gte=1,lte=100"`
	DefaultTTLMs          int64 `mapstructure:"default_ttl_ms" json:"default_ttl_ms" validate:"gte=1000"`
	MaxTTLMs              int64 `mapstructure:"max_ttl_ms" json:"max_ttl_ms" validate:"gtefield=DefaultTTLMs"`
	DefaultPollIntervalMs int64 `mapstructure:"default_poll_interval_ms" json:"default_poll_interval_ms" validate:"gte=0"`
	CleanupIntervalMs     int64 `mapstructure:"cleanup_interval_ms" json:"cleanup_interval_ms" validate:"gte=1000"`
}

// DefaultTaskConfig 返回任务子系统的默认配置。
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Enabled:               true,
		MaxConcurrentTasks:    5,
		DefaultTTLMs:          300000,
		MaxTTLMs:              3600000,
		DefaultPollIntervalMs: 5000,
		CleanupIntervalMs:     60000,
	}
}

// LoadFromArgs 在默认配置之上解析命令行参数并完成校验。
func LoadFromArgs(args []string) (TaskConfig, error) {
	return DefaultTaskConfig().ApplyArgs(args)
}

// ApplyArgs 将命令行参数覆盖到当前配置上并完成校验。
// 未识别的参数属于其他子系统，直接忽略。
func (c TaskConfig) ApplyArgs(args []string) (TaskConfig, error) {
	for _, raw := range args {
		arg := strings.TrimSpace(raw)
		lower := strings.ToLower(arg)
		switch {
		case lower == FlagNoTasks:
			c.Enabled = false
		case strings.HasPrefix(lower, FlagTasksMaxConcurrent):
			value, err := parseFlagInt(arg, FlagTasksMaxConcurrent)
			if err != nil {
				return c, err
			}
			c.MaxConcurrentTasks = int(value)
		case strings.HasPrefix(lower, FlagTasksDefaultTTL):
			value, err := parseFlagInt(arg, FlagTasksDefaultTTL)
			if err != nil {
				return c, err
			}
			c.DefaultTTLMs = value
		case strings.HasPrefix(lower, FlagTasksMaxTTL):
			value, err := parseFlagInt(arg, FlagTasksMaxTTL)
			if err != nil {
				return c, err
			}
			c.MaxTTLMs = value
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func parseFlagInt(arg, prefix string) (int64, error) {
	raw := strings.TrimSpace(arg[len(prefix):])
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeConfiguration, err,
			fmt.Sprintf("参数 %s 的取值 %q 不是合法整数", strings.TrimSuffix(prefix, ":"), raw))
	}
	return value, nil
}

// Validate 在启动阶段校验任务配置，违反约束时返回 CONFIGURATION_ERROR，不做任何修正。
func (c TaskConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return configurationError("tasks", err)
	}
	return nil
}

// DefaultTTL 返回默认 TTL。
func (c TaskConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMs) * time.Millisecond
}

// MaxTTL 返回允许的最大 TTL。
func (c TaskConfig) MaxTTL() time.Duration {
	return time.Duration(c.MaxTTLMs) * time.Millisecond
}

// CleanupInterval 返回过期任务清理周期。
func (c TaskConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// PollInterval 返回建议客户端使用的轮询间隔。
func (c TaskConfig) PollInterval() time.Duration {
	return time.Duration(c.DefaultPollIntervalMs) * time.Millisecond
}
