package auth

import (
	"net/http"
	"strings"
)

// DefaultOwnerHeader 是携带 owner 标签的默认请求头。
const DefaultOwnerHeader = "X-Owner-ID"

// MaxOwnerLength 限制 owner 标签长度，超出时请求被拒绝。
const MaxOwnerLength = 128

// OwnerMiddleware 从请求头读取 owner 标签并写入请求上下文。
// owner 只是隔离标签而非身份凭证，缺失时按全局作用域处理。
func OwnerMiddleware(header string) func(http.Handler) http.Handler {
	if strings.TrimSpace(header) == "" {
		header = DefaultOwnerHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(header))
			if len(owner) > MaxOwnerLength {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if owner == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}
