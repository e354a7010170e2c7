package auth

import (
	"context"
	"strings"
)

// ownerKey 是上下文中存储调用方 owner 标签的键类型。
type ownerKey struct{}

// WithOwner 将调用方的 owner 标签写入上下文。空标签不写入。
func WithOwner(ctx context.Context, ownerID string) context.Context {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext 从上下文中提取 owner 标签，未设置时返回空字符串。
func OwnerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if owner, ok := ctx.Value(ownerKey{}).(string); ok {
		return owner
	}
	return ""
}
