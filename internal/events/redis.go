package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"DocMCP/internal/config"
	xerrors "DocMCP/internal/errors"
)

// RedisSink 通过 PUBLISH 广播事件，并把事件写入一个限长 list 供排障查询。
type RedisSink struct {
	client    *redis.Client
	channel   string
	listKey   string
	listLimit int64
}

// NewRedisSink 创建 Redis 渠道并检查连通性。
func NewRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Redis address 不能为空")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "docmcp:tasks:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisSink{
		client:    client,
		channel:   channel,
		listKey:   cfg.ListKey,
		listLimit: cfg.ListLimit,
	}, nil
}

// Name 返回渠道名称。
func (s *RedisSink) Name() string { return "redis" }

// Publish 在一个 pipeline 中完成广播与写入 list。
func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, payload)
		if s.listKey != "" {
			pipe.LPush(ctx, s.listKey, payload)
			if s.listLimit > 0 {
				pipe.LTrim(ctx, s.listKey, 0, s.listLimit-1)
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
