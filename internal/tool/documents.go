package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"DocMCP/internal/convert"
	xerrors "DocMCP/internal/errors"
)

// 内置的文档工具名称。
const (
	ToolConvertDocument = "convert_document"
	ToolConvertToPDF    = "convert_to_pdf"
	ToolDocumentInfo    = "document_info"
)

// ConversionArgs 是转换类工具的参数。
type ConversionArgs struct {
	InputPath    string         `json:"inputPath"`
	OutputPath   string         `json:"outputPath,omitempty"`
	OutputFormat string         `json:"outputFormat,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

// DocumentInfo 是 document_info 工具的返回值。
type DocumentInfo struct {
	Path       string `json:"path"`
	Format     string `json:"format"`
	SizeBytes  int64  `json:"sizeBytes"`
	ModifiedAt string `json:"modifiedAt"`
}

// RegisterDocumentTools 注册转换工具与文档信息工具。
func RegisterDocumentTools(reg *Registry, converter convert.Converter) error {
	if reg == nil || converter == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "注册文档工具需要注册表与转换器")
	}
	if err := reg.Register(ToolConvertDocument, conversionHandler(converter, "")); err != nil {
		return err
	}
	if err := reg.Register(ToolConvertToPDF, conversionHandler(converter, "pdf")); err != nil {
		return err
	}
	return RegisterDocumentInfo(reg)
}

// RegisterDocumentInfo 仅注册不依赖转换器的 document_info 工具。
func RegisterDocumentInfo(reg *Registry) error {
	if reg == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "注册文档工具需要注册表")
	}
	return reg.Register(ToolDocumentInfo, documentInfo)
}

func conversionHandler(converter convert.Converter, forcedFormat string) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		req, err := parseConversionArgs(raw, forcedFormat)
		if err != nil {
			return nil, err
		}
		ReportProgress(ctx, fmt.Sprintf("converting %s to %s", filepath.Base(req.InputPath), req.OutputFormat))
		return converter.Convert(ctx, req)
	}
}

func parseConversionArgs(raw json.RawMessage, forcedFormat string) (convert.Request, error) {
	var args ConversionArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return convert.Request{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "转换参数不是合法 JSON")
		}
	}
	args.InputPath = strings.TrimSpace(args.InputPath)
	if args.InputPath == "" {
		return convert.Request{}, xerrors.New(xerrors.CodeInvalidArgument, "inputPath 不能为空")
	}

	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args.OutputFormat), "."))
	if forcedFormat != "" {
		format = forcedFormat
	}
	if format == "" {
		format = strings.ToLower(strings.TrimPrefix(filepath.Ext(args.OutputPath), "."))
	}
	if format == "" {
		return convert.Request{}, xerrors.New(xerrors.CodeInvalidArgument, "必须指定 outputFormat 或带扩展名的 outputPath")
	}

	output := strings.TrimSpace(args.OutputPath)
	if output == "" {
		output = strings.TrimSuffix(args.InputPath, filepath.Ext(args.InputPath)) + "." + format
	}
	if output == args.InputPath {
		return convert.Request{}, xerrors.New(xerrors.CodeInvalidArgument, "outputPath 不能与 inputPath 相同")
	}
	return convert.Request{
		InputPath:    args.InputPath,
		OutputPath:   output,
		OutputFormat: format,
		Options:      args.Options,
	}, nil
}

func documentInfo(_ context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数不是合法 JSON")
	}
	if strings.TrimSpace(args.Path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "path 不能为空")
	}
	info, err := os.Stat(args.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "文档不存在")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取文档信息失败")
	}
	if info.IsDir() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "path 指向目录")
	}
	return DocumentInfo{
		Path:       args.Path,
		Format:     strings.ToLower(strings.TrimPrefix(filepath.Ext(args.Path), ".")),
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
	}, nil
}
