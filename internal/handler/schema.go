package handler

import (
	"context"
	_ "embed"
	"log/slog"

	graphql "github.com/graph-gophers/graphql-go"
)

//go:embed schema.graphql
var schemaSDL string

// maxQueryDepth はクエリのネスト上限。
const maxQueryDepth = 12

// NewSchema はリゾルバを結び付けたGraphQLスキーマを生成する。
// スキーマとリゾルバの不整合は起動時にpanicとなる。
func NewSchema(resolver *Resolver) *graphql.Schema {
	return graphql.MustParseSchema(schemaSDL, resolver,
		graphql.MaxDepth(maxQueryDepth),
		graphql.Logger(panicLogger{}),
	)
}

// panicLogger はリゾルバ内のpanicをslogに記録する。
type panicLogger struct{}

func (panicLogger) LogPanic(ctx context.Context, value interface{}) {
	slog.ErrorContext(ctx, "GraphQLリゾルバでpanicが発生しました", slog.Any("panic", value))
}
