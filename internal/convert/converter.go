package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "DocMCP/internal/errors"
)

// Request 描述一次文档格式转换。
type Request struct {
	InputPath    string         `json:"inputPath"`
	OutputPath   string         `json:"outputPath"`
	OutputFormat string         `json:"outputFormat"`
	Options      map[string]any `json:"options,omitempty"`
}

// Result 是转换进程返回的结构化输出。
type Result struct {
	OutputPath   string `json:"outputPath"`
	OutputFormat string `json:"outputFormat"`
	Pages        int    `json:"pages,omitempty"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
}

// Converter 定义了文档转换的统一接口。
type Converter interface {
	Convert(ctx context.Context, req Request) (*Result, error)
}

// CommandConverter 通过调用外部进程完成转换：请求以 JSON 写入 stdin，
// 结果以 JSON 从 stdout 读取。ctx 取消时进程会被终止。
type CommandConverter struct {
	command    string
	args       []string
	workingDir string
}

// NewCommandConverter 创建基于外部进程的转换器。
func NewCommandConverter(command string, args []string, workingDir string) (*CommandConverter, error) {
	if strings.TrimSpace(command) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未指定文档转换命令")
	}
	return &CommandConverter{
		command:    command,
		args:       append([]string(nil), args...),
		workingDir: workingDir,
	}, nil
}

// Convert 调用外部进程，并解析输出。
func (c *CommandConverter) Convert(ctx context.Context, req Request) (*Result, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化转换请求失败")
	}

	command := exec.CommandContext(ctx, c.command, c.args...)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "文档转换被中止")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err,
			fmt.Sprintf("执行转换命令失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "解析转换输出失败")
	}
	if result.OutputPath == "" {
		result.OutputPath = req.OutputPath
	}
	if result.OutputFormat == "" {
		result.OutputFormat = req.OutputFormat
	}
	return &result, nil
}

// ResolveCommandPath 根据工作目录推导转换命令路径。不含路径分隔符的命令按 PATH 查找。
func ResolveCommandPath(baseDir, command string) string {
	if command == "" {
		return ""
	}
	if filepath.IsAbs(command) || !strings.ContainsRune(command, filepath.Separator) {
		return command
	}
	if baseDir == "" {
		return command
	}
	return filepath.Join(baseDir, command)
}
