package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/pictogram/internal/auth"
	"github.com/hitoshi/pictogram/internal/cache"
	"github.com/hitoshi/pictogram/internal/config"
	"github.com/hitoshi/pictogram/internal/database"
	"github.com/hitoshi/pictogram/internal/feed"
	"github.com/hitoshi/pictogram/internal/graph"
	"github.com/hitoshi/pictogram/internal/handler"
	"github.com/hitoshi/pictogram/internal/identity"
	"github.com/hitoshi/pictogram/internal/logger"
	"github.com/hitoshi/pictogram/internal/metrics"
	"github.com/hitoshi/pictogram/internal/post"
	"github.com/hitoshi/pictogram/internal/repository"
	"github.com/hitoshi/pictogram/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでログを再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store", string(cfg.StoreBackend)),
		slog.Bool("redis_cache", cfg.CacheURL != ""),
		slog.Bool("neo4j_follow_graph", cfg.FollowGraphURL != ""),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// stores はバックエンドごとに構築したリポジトリと接続を保持する。
type stores struct {
	users   repository.UserRepository
	follows repository.FollowRepository
	posts   repository.PostRepository
	cache   cache.Store

	health  healthCheckers
	closers []func(ctx context.Context) error
}

// close は開いた接続を逆順に閉じる。
func (s *stores) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			slog.Warn("failed to close connection", slog.String("error", err.Error()))
		}
	}
}

// openStores はConfigに従ってストア、フォローグラフ、フィードキャッシュを開く。
// 途中で失敗した場合は開いた接続をすべて閉じてからエラーを返す。
func openStores(ctx context.Context, cfg *config.Config) (_ *stores, err error) {
	s := &stores{}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	switch cfg.StoreBackend {
	case database.BackendPostgres:
		db, err := openPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
		s.health = append(s.health, db)

		s.users = repository.NewPostgresUserRepo(db)
		s.follows = repository.NewPostgresFollowRepo(db)
		s.posts = repository.NewPostgresPostRepo(db)
		slog.Info("database connection established", slog.String("store", "postgres"))

	case database.BackendMongo:
		client, mdb, err := database.OpenMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo: %w", err)
		}
		s.closers = append(s.closers, client.Disconnect)
		s.health = append(s.health, database.MongoPinger{Client: client})

		s.users = repository.NewMongoUserRepo(mdb)
		s.follows = repository.NewMongoFollowRepo(mdb)
		s.posts = repository.NewMongoPostRepo(mdb, cfg.AggregationTimeout)
		slog.Info("database connection established",
			slog.String("store", "mongo"),
			slog.String("database", cfg.MongoDatabase),
		)

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreBackend)
	}

	if cfg.FollowGraphURL != "" {
		driver, err := database.OpenNeo4j(ctx, cfg.FollowGraphURL, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, driver.Close)
		s.health = append(s.health, neo4jPinger{driver: driver})
		s.follows = repository.NewNeo4jFollowRepo(driver)
		slog.Info("follow graph connection established", slog.String("store", "neo4j"))
	}

	if cfg.CacheURL != "" {
		client, err := cache.OpenRedis(cfg.CacheURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
		store := cache.NewRedisStore(client, cfg.CacheKeyPrefix)
		s.health = append(s.health, store)
		s.cache = store
		slog.Info("feed cache connection established", slog.String("store", "redis"))
	} else {
		s.cache = cache.NewMemoryStore()
		slog.Info("using in-process feed cache")
	}

	return s, nil
}

func openPostgres(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newRouter は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
func newRouter(cfg *config.Config, s *stores, reg *prometheus.Registry) http.Handler {
	collector := metrics.NewCollector(reg)

	identityService := identity.NewService(s.users, cfg.BcryptCost)
	authService := auth.NewService(identityService, identityService, auth.ServiceConfig{
		Secret: []byte(cfg.TokenSecret),
		Issuer: cfg.TokenIssuer,
	})
	graphService := graph.NewService(s.users, s.follows, s.posts, identityService, cfg.AggregationTimeout)
	postService := post.NewService(
		s.posts, s.users,
		feed.NewListingCache(s.cache, collector),
		security.NewContentSanitizer(),
		collector,
		cfg.AggregationTimeout,
	)

	return handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Metrics:           collector,
		Gatherer:          reg,
		HealthChecker:     s.health,
		AuthService:       authService,
		IdentityService:   identityService,
		GraphService:      graphService,
		PostService:       postService,
	})
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	s, err := openStores(openCtx, cfg)
	cancelOpen()
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	router := newRouter(cfg, s, newRegistry())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AggregationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はストアのスキーマを準備する。
// PostgreSQLは未適用のマイグレーションを順番に適用し、MongoDBはインデックスを作成する。
// フォローグラフにNeo4jを使う場合は一意制約も作成する。
func runMigrate(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("store", string(cfg.StoreBackend)),
	)

	switch cfg.StoreBackend {
	case database.BackendPostgres:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case database.BackendMongo:
		if err := migrateMongo(ctx, cfg); err != nil {
			return err
		}
	}

	if cfg.FollowGraphURL != "" {
		driver, err := database.OpenNeo4j(ctx, cfg.FollowGraphURL, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return err
		}
		defer driver.Close(context.Background())
		if err := database.EnsureNeo4jConstraints(ctx, driver); err != nil {
			return fmt.Errorf("neo4j migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

func migrateMongo(ctx context.Context, cfg *config.Config) error {
	client, mdb, err := database.OpenMongo(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("failed to open mongo: %w", err)
	}
	defer client.Disconnect(context.Background())

	if err := database.EnsureMongoIndexes(ctx, mdb); err != nil {
		return fmt.Errorf("mongo migration failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// healthCheckers はすべての依存先への疎通をまとめて確認する。
type healthCheckers []repository.HealthChecker

func (h healthCheckers) PingContext(ctx context.Context) error {
	for _, c := range h {
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// neo4jPinger はNeo4jドライバをHealthCheckerとして扱う。
type neo4jPinger struct {
	driver neo4j.DriverWithContext
}

func (p neo4jPinger) PingContext(ctx context.Context) error {
	return p.driver.VerifyConnectivity(ctx)
}

var (
	_ repository.HealthChecker = healthCheckers(nil)
	_ repository.HealthChecker = neo4jPinger{}
)
