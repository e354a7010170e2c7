package events

import (
	"context"
	"strings"

	"DocMCP/internal/config"
	xerrors "DocMCP/internal/errors"
	"DocMCP/internal/storage"
)

// BuildSinks 按配置创建事件渠道。启用 history 渠道时 history 不能为空。
// 任一渠道创建失败时关闭已创建的渠道并返回错误。
func BuildSinks(ctx context.Context, cfg config.EventsConfig, history storage.HistoryRepository) (*Fanout, error) {
	var sinks []Sink
	fail := func(err error) (*Fanout, error) {
		_ = NewFanout(sinks...).Close()
		return nil, err
	}
	for _, name := range cfg.Sinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "log":
			sinks = append(sinks, LogSink{})
		case "redis":
			sink, err := NewRedisSink(ctx, cfg.Redis)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, sink)
		case "rabbitmq":
			sink, err := NewRabbitMQSink(cfg.RabbitMQ)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, sink)
		case "history":
			if history == nil {
				return fail(xerrors.New(xerrors.CodeConfiguration, "启用 history 渠道时必须提供历史仓库"))
			}
			sinks = append(sinks, &HistorySink{Repo: history})
		default:
			return fail(xerrors.New(xerrors.CodeConfiguration, "未知事件渠道: "+name))
		}
	}
	return NewFanout(sinks...), nil
}
