package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"DocMCP/sdk/go/docmcp"
)

const defaultTimeout = 30 * time.Second

func newClient(c *cli.Context) (*docmcp.Client, error) {
	server := strings.TrimSpace(c.String("server"))
	parsed, err := url.Parse(server)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("无效的服务地址 %q", server)
	}
	return docmcp.NewClient(server, nil).WithOwner(c.String("owner")), nil
}

func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	timeout := c.Duration("timeout")
	if timeout <= 0 {
		return context.WithCancel(c.Context)
	}
	return context.WithTimeout(c.Context, timeout)
}

func requireArg(c *cli.Context, name string) (string, error) {
	value := strings.TrimSpace(c.Args().First())
	if value == "" {
		return "", cli.Exit(fmt.Sprintf("缺少参数 <%s>", name), 2)
	}
	return value, nil
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "调用工具，转换类工具返回任务快照",
		ArgsUsage: "<tool>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "args", Aliases: []string{"a"}, Usage: "JSON 格式的工具参数", Value: "{}"},
			&cli.DurationFlag{Name: "ttl", Usage: "任务保留时长"},
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "等待异步任务结束"},
		},
		Action: func(c *cli.Context) error {
			name, err := requireArg(c, "tool")
			if err != nil {
				return err
			}
			raw := json.RawMessage(c.String("args"))
			if !json.Valid(raw) {
				return cli.Exit("--args 不是合法的 JSON", 2)
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			res, err := client.CallTool(ctx, name, raw, c.Duration("ttl"))
			if err != nil {
				return err
			}
			if res.Task == nil {
				return render(c, map[string]any{"result": res.Result})
			}
			if !c.Bool("wait") {
				return render(c, res.Task)
			}
			task, err := client.WaitForTask(ctx, res.Task.ID)
			if err != nil {
				return err
			}
			return render(c, task)
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "查看任务状态",
		ArgsUsage: "<task-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "task-id")
			if err != nil {
				return err
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			task, err := client.GetTask(ctx, id)
			if err != nil {
				return err
			}
			return render(c, task)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "列出任务，按创建时间倒序",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "status", Usage: "按状态过滤，可重复"},
			&cli.IntFlag{Name: "limit", Usage: "最多返回的数量"},
			&cli.IntFlag{Name: "offset", Usage: "跳过的数量"},
		},
		Action: func(c *cli.Context) error {
			client, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			tasks, err := client.ListTasks(ctx, docmcp.ListOptions{
				Statuses: c.StringSlice("status"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return err
			}
			if tasks == nil {
				tasks = []docmcp.Task{}
			}
			return render(c, tasks)
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "取消 working 状态的任务",
		ArgsUsage: "<task-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "task-id")
			if err != nil {
				return err
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			task, err := client.CancelTask(ctx, id)
			if err != nil {
				return err
			}
			return render(c, map[string]any{"cancelled": true, "task": task})
		},
	}
}

func waitCommand() *cli.Command {
	return &cli.Command{
		Name:      "wait",
		Usage:     "轮询任务直到进入终态",
		ArgsUsage: "<task-id>",
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, "task-id")
			if err != nil {
				return err
			}
			client, err := newClient(c)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			task, err := client.WaitForTask(ctx, id)
			if err != nil {
				return err
			}
			return render(c, task)
		},
	}
}
