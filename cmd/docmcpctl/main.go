package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// main 是 docmcpctl 命令行客户端的入口。
func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "docmcpctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docmcpctl",
		Usage: "与 DocMCP 守护进程交互的命令行客户端",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "DocMCP API 地址",
				Value:   "http://localhost:8080",
				EnvVars: []string{"DOCMCP_SERVER"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "请求携带的 owner 标签",
				EnvVars: []string{"DOCMCP_OWNER"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "输出格式 json|yaml",
				Value:   formatJSON,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "单次命令的超时时间",
				Value: defaultTimeout,
			},
		},
		Before: func(c *cli.Context) error {
			_, err := parseFormat(c.String("output"))
			return err
		},
		Commands: []*cli.Command{
			callCommand(),
			getCommand(),
			listCommand(),
			cancelCommand(),
			waitCommand(),
		},
	}
}
