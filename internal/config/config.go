package config

import (
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	xerrors "DocMCP/internal/errors"
	"DocMCP/pkg/logger"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 DOCMCP_SERVER_ADDRESS。
const EnvPrefix = "DOCMCP"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config 描述了 DocMCP 守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Tasks     TaskConfig      `mapstructure:"tasks"`
	Logging   logger.Config   `mapstructure:"logging"`
	Events    EventsConfig    `mapstructure:"events"`
	History   HistoryConfig   `mapstructure:"history"`
	Converter ConverterConfig `mapstructure:"converter"`
}

// ServerConfig 控制 API 与指标服务的监听地址。
type ServerConfig struct {
	Address        string   `mapstructure:"address" validate:"required"`
	MetricsAddress string   `mapstructure:"metrics_address"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	OwnerHeader    string   `mapstructure:"owner_header"`
}

// EventsConfig 描述任务状态事件的投递渠道。
type EventsConfig struct {
	Sinks      []string       `mapstructure:"sinks" validate:"dive,oneof=log redis rabbitmq history"`
	BufferSize int            `mapstructure:"buffer_size" validate:"gte=0"`
	Redis      RedisConfig    `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件渠道的连接参数。
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	Channel   string `mapstructure:"channel"`
	ListKey   string `mapstructure:"list_key"`
	ListLimit int64  `mapstructure:"list_limit" validate:"gte=0"`
}

// RabbitMQConfig 描述 RabbitMQ 事件渠道的连接参数。
type RabbitMQConfig struct {
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
	Durable bool   `mapstructure:"durable"`
}

// HistoryConfig 描述终态任务审计记录的存储方式。
type HistoryConfig struct {
	Driver                 string `mapstructure:"driver" validate:"oneof=memory mysql sqlite postgres"`
	DSN                    string `mapstructure:"dsn" validate:"required_if=Driver mysql,required_if=Driver postgres"`
	DataDir                string `mapstructure:"data_dir"`
	MaxOpenConns           int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds" validate:"gte=0"`
}

// ConverterConfig 描述外部文档转换进程。
type ConverterConfig struct {
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	WorkingDir string   `mapstructure:"working_dir"`
}

// HasSink 判断是否启用了指定的事件渠道。
func (e EventsConfig) HasSink(name string) bool {
	for _, sink := range e.Sinks {
		if strings.EqualFold(strings.TrimSpace(sink), name) {
			return true
		}
	}
	return false
}

// Load 解析指定路径的 JSON 或 YAML 配置文件，并允许环境变量覆盖。
// path 为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
	}
	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置。
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("默认配置非法: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	tasks := DefaultTaskConfig()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.owner_header", "X-Owner-ID")

	v.SetDefault("tasks.enabled", tasks.Enabled)
	v.SetDefault("tasks.max_concurrent", tasks.MaxConcurrentTasks)
	v.SetDefault("tasks.default_ttl_ms", tasks.DefaultTTLMs)
	v.SetDefault("tasks.max_ttl_ms", tasks.MaxTTLMs)
	v.SetDefault("tasks.default_poll_interval_ms", tasks.DefaultPollIntervalMs)
	v.SetDefault("tasks.cleanup_interval_ms", tasks.CleanupIntervalMs)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")

	v.SetDefault("events.sinks", []string{"log"})
	v.SetDefault("events.buffer_size", 256)
	v.SetDefault("events.redis.address", "")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.channel", "docmcp:tasks:events")
	v.SetDefault("events.redis.list_key", "docmcp:tasks:history")
	v.SetDefault("events.redis.list_limit", 1000)
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("events.rabbitmq.queue", "docmcp.tasks.events")
	v.SetDefault("events.rabbitmq.durable", true)

	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.data_dir", "data")
	v.SetDefault("history.max_open_conns", 0)
	v.SetDefault("history.max_idle_conns", 0)
	v.SetDefault("history.conn_max_lifetime_seconds", 0)

	v.SetDefault("converter.command", "")
	v.SetDefault("converter.args", []string{})
	v.SetDefault("converter.working_dir", "")
}

// resolvePaths 将相对路径解析为相对配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	c.History.DataDir = resolveAgainst(baseDir, c.History.DataDir)
	c.Logging.Audit.Path = resolveAgainst(baseDir, c.Logging.Audit.Path)
	if c.Converter.WorkingDir == "" {
		c.Converter.WorkingDir = baseDir
	} else {
		c.Converter.WorkingDir = resolveAgainst(baseDir, c.Converter.WorkingDir)
	}
}

func resolveAgainst(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 校验全部配置，失败时返回 CONFIGURATION_ERROR。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return configurationError("config", err)
	}
	if c.Events.HasSink("redis") && strings.TrimSpace(c.Events.Redis.Address) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "启用 redis 事件渠道时必须配置 events.redis.address")
	}
	if c.Events.HasSink("rabbitmq") && strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "启用 rabbitmq 事件渠道时必须配置 events.rabbitmq.url")
	}
	return nil
}

// configurationError 将 validator 的字段错误整理为一条可读的配置错误。
func configurationError(scope string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !stdErrors.As(err, &fieldErrs) {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, scope+" 配置校验失败")
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, describeFieldError(fe))
	}
	return xerrors.New(xerrors.CodeConfiguration,
		fmt.Sprintf("%s 配置校验失败: %s", scope, strings.Join(parts, "; ")))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s 必须 >= %s (当前 %v)", fe.Namespace(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s 必须 <= %s (当前 %v)", fe.Namespace(), fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("%s 必须 >= %s (当前 %v)", fe.Namespace(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s 必须是 [%s] 之一 (当前 %v)", fe.Namespace(), fe.Param(), fe.Value())
	case "required", "required_if":
		return fmt.Sprintf("%s 不能为空", fe.Namespace())
	default:
		return fmt.Sprintf("%s 校验 %s 失败", fe.Namespace(), fe.Tag())
	}
}
