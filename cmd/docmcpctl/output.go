package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func parseFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", formatJSON:
		return formatJSON, nil
	case formatYAML, "yml":
		return formatYAML, nil
	default:
		return "", cli.Exit(fmt.Sprintf("不支持的输出格式 %q", raw), 2)
	}
}

func render(c *cli.Context, value any) error {
	format, err := parseFormat(c.String("output"))
	if err != nil {
		return err
	}
	return writeValue(c.App.Writer, format, value)
}

// writeValue 输出 value。YAML 输出前先经过一次 JSON 编码，
// 使 json.RawMessage 与 JSON 字段名在两种格式下保持一致。
func writeValue(w io.Writer, format string, value any) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
