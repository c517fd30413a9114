package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/pictogram/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	DatabaseURL   string
	StoreBackend  database.Backend
	MongoDatabase string

	// Token
	TokenSecret string
	TokenIssuer string

	// Feed cache (CACHE_URL未設定時はプロセス内キャッシュ)
	CacheURL       string
	CacheKeyPrefix string

	// Follow graph (FOLLOW_GRAPH_URL未設定時はDATABASE_URLのストアを使う)
	FollowGraphURL string
	Neo4jUser      string
	Neo4jPassword  string

	// Aggregation
	AggregationTimeout time.Duration

	// Password hashing
	BcryptCost int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込むが、既存の環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	backend, err := database.DetectBackend(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.StoreBackend = backend

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "pictogram")
	cfg.TokenIssuer = getEnvString("TOKEN_ISSUER", "pictogram")
	cfg.CacheURL = getEnvString("CACHE_URL", "")
	cfg.CacheKeyPrefix = getEnvString("CACHE_KEY_PREFIX", "pictogram:")
	cfg.FollowGraphURL = getEnvString("FOLLOW_GRAPH_URL", "")
	cfg.Neo4jUser = getEnvString("NEO4J_USER", "neo4j")
	cfg.Neo4jPassword = getEnvString("NEO4J_PASSWORD", "")
	cfg.AggregationTimeout = getEnvDuration("AGGREGATION_TIMEOUT", 30*time.Second)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
