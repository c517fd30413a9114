package handler

import (
	"context"
	"log/slog"

	"github.com/hitoshi/pictogram/internal/model"
)

// resolverError はAPIErrorをGraphQLエラーのextensionsとして公開する。
type resolverError struct {
	apiErr *model.APIError
}

func (e *resolverError) Error() string {
	return e.apiErr.Message
}

// Extensions はGraphQLレスポンスのerrors[].extensionsに出力される。
func (e *resolverError) Extensions() map[string]interface{} {
	return map[string]interface{}{
		"code":     e.apiErr.Code,
		"category": e.apiErr.Category,
		"action":   e.apiErr.Action,
	}
}

// toResolverError はサービス層のエラーをGraphQLエラーに変換する。
// APIError以外はストア・キャッシュ層の障害としてUPSTREAM_ERRORにまとめ、詳細はログのみに記録する。
func toResolverError(ctx context.Context, op string, err error) *resolverError {
	if apiErr, ok := model.AsAPIError(err); ok {
		return &resolverError{apiErr: apiErr}
	}

	slog.ErrorContext(ctx, "GraphQL操作が失敗しました",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return &resolverError{apiErr: model.NewUpstreamError()}
}
