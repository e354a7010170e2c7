package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "DocMCP/internal/errors"
)

func echo(_ context.Context, args json.RawMessage) (any, error) {
	return string(args), nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Convert_Document", echo))
	require.NoError(t, reg.Register("document_info", echo))

	_, ok := reg.Resolve("convert_document")
	assert.True(t, ok)
	_, ok = reg.Resolve("CONVERT_DOCUMENT")
	assert.True(t, ok)
	_, ok = reg.Resolve("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"Convert_Document", "document_info"}, reg.Names())
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(" ", echo)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	err = reg.Register("tool", nil)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	require.NoError(t, reg.Register("tool", echo))
	err = reg.Register("TOOL", echo)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	reg.Freeze()
	err = reg.Register("late", echo)
	assert.Equal(t, xerrors.CodeInvalidState, xerrors.CodeOf(err))
}

func TestRegistryCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("echo", echo))
	require.NoError(t, reg.Register("explode", func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	}))

	out, err := reg.Call(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	_, err = reg.Call(context.Background(), "missing", nil)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))

	_, err = reg.Call(context.Background(), "explode", nil)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeExecutorFailure, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestReportProgressWithoutCallbackIsNoop(t *testing.T) {
	ReportProgress(context.Background(), "ignored")

	var got []string
	ctx := WithProgress(context.Background(), func(msg string) { got = append(got, msg) })
	ReportProgress(ctx, "half way")
	assert.Equal(t, []string{"half way"}, got)
}
