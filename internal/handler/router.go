package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/middleware"
	"github.com/hitoshi/pictogram/internal/repository"
)

// maxRequestBodyBytes はGraphQLリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer

	// ヘルスチェック
	HealthChecker repository.HealthChecker

	// GraphQL
	AuthService     AuthServiceInterface
	IdentityService IdentityServiceInterface
	GraphService    GraphServiceInterface
	PostService     PostServiceInterface
}

// NewRouter はGraphQL、ヘルスチェック、メトリクスのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → AuthContext → BodyLimit
//
// トークンの検証は保護された操作のリゾルバで行い、ミドルウェアでは拒否しない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewAuthContextMiddleware())
	r.Use(middleware.NewBodyLimitMiddleware(maxRequestBodyBytes))

	resolver := NewResolver(deps.AuthService, deps.IdentityService, deps.GraphService, deps.PostService, deps.Metrics)
	r.Method(http.MethodPost, "/graphql", &relay.Handler{Schema: NewSchema(resolver)})

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}
