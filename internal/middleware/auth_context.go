// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userSlotContextKey はリゾルバが認証後にユーザーIDを書き戻す領域のキー。
	userSlotContextKey = contextKey("user_slot")
	// tokenContextKey はBearerトークンを格納するためのキー。
	tokenContextKey = contextKey("bearer_token")
)

// userSlot は内側のハンドラーで確定したユーザーIDを外側のミドルウェアへ渡す。
type userSlot struct {
	mu sync.Mutex
	id string
}

// NewAuthContextMiddleware はAuthorizationヘッダーのBearerトークンをコンテキストに注入するミドルウェアを返す。
// トークンの検証は行わず、トークンがなくてもリクエストを拒否しない。
// 検証は保護された操作のリゾルバで行う。
func NewAuthContextMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := bearerToken(r.Header.Get("Authorization")); token != "" {
				ctx = context.WithValue(ctx, tokenContextKey, token)
			}
			if _, ok := ctx.Value(userSlotContextKey).(*userSlot); !ok {
				ctx = context.WithValue(ctx, userSlotContextKey, &userSlot{})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// TokenFromContext はコンテキストからBearerトークンを取得する。ない場合は空文字列を返す。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// SetUserID は認証済みユーザーIDをリクエストの書き戻し領域に記録する。
// ロギングミドルウェアはこの値をリクエストログに含める。
func SetUserID(ctx context.Context, userID string) {
	if slot, ok := ctx.Value(userSlotContextKey).(*userSlot); ok {
		slot.mu.Lock()
		slot.id = userID
		slot.mu.Unlock()
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	if slot, ok := ctx.Value(userSlotContextKey).(*userSlot); ok {
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if slot.id != "" {
			return slot.id, nil
		}
	}
	return "", fmt.Errorf("user ID not found in context")
}

func withUserSlot(ctx context.Context) context.Context {
	if _, ok := ctx.Value(userSlotContextKey).(*userSlot); ok {
		return ctx
	}
	return context.WithValue(ctx, userSlotContextKey, &userSlot{})
}
