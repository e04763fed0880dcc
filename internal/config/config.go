package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config 应用配置
type Config struct {
	Env               string
	Port              string
	LogLevel          string
	LogFormat         string
	DatabaseURL       string
	VectorDatabaseURL string
	AdminSecret       string // 管理接口 JWT 签名密钥，为空时不开放管理接口

	TMDB      TMDBConfig
	Embedding EmbeddingConfig
	Vector    VectorConfig
	Ingest    IngestConfig
	Recommend RecommendConfig
	Filter    FilterConfig
	Reconcile ReconcileConfig
}

// TMDBConfig 元数据提供方（TMDB）配置
type TMDBConfig struct {
	BaseURL        string
	Token          string
	APIKey         string
	Language       string
	Regions        []string // 分级地区优先顺序
	RateLimit      int
	RateWindow     time.Duration
	MaxConnections int
	Timeout        time.Duration
}

// EmbeddingConfig 向量生成配置
type EmbeddingConfig struct {
	Provider     string // ollama | openai
	OllamaHost   string
	OllamaModel  string
	OpenAIKey    string
	OpenAIModel  string
	OpenAIURL    string
	Dimension    int
	Timeout      time.Duration
	Concurrency  int
	BreakerTrips int           // 连续失败多少次后熔断
	BreakerOpen  time.Duration // 熔断后多久进入半开状态
}

// VectorConfig 向量索引配置
type VectorConfig struct {
	Collection     string
	BatchSize      int
	HNSWM          int
	EFConstruction int
}

// IngestConfig 入库任务配置
type IngestConfig struct {
	StartPage     int
	EndPage       int
	CommitMode    string // run | item
	WithCompanies bool   // 向量文本是否包含出品公司
}

// RecommendConfig 推荐配置
type RecommendConfig struct {
	DefaultLimit   int
	MaxLimit       int
	OverfetchLimit int
	Threshold      float64
	CacheSize      int
	CacheTTL       time.Duration
	Timeout        time.Duration
}

// ReconcileConfig 定时对账配置，Interval 为 0 时不启动
type ReconcileConfig struct {
	Interval time.Duration
	Apply    bool
}

// FilterConfig 内容过滤词表
type FilterConfig struct {
	ExcludedLanguages []string
	ExcludedCountries []string
	RiskyGenres       []string
	SafeGenres        []string
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Load 加载配置
func Load() *Config {
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "filmrec")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL))

	env := getEnv("APP_ENV", "development")
	logFormat := "console"
	if env == "production" {
		logFormat = "json"
	}

	return &Config{
		Env:               env,
		Port:              getEnv("PORT", "8000"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", logFormat),
		DatabaseURL:       dbURL,
		VectorDatabaseURL: getEnv("VECTOR_DATABASE_URL", dbURL),
		AdminSecret:       getEnv("ADMIN_SECRET", ""),
		TMDB: TMDBConfig{
			BaseURL:        strings.TrimRight(getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"), "/"),
			Token:          getEnv("TMDB_TOKEN", ""),
			APIKey:         getEnv("TMDB_API_KEY", ""),
			Language:       getEnv("TMDB_LANGUAGE", "es"),
			Regions:        getEnvList("TMDB_REGIONS", []string{"US"}),
			RateLimit:      getEnvInt("TMDB_RATE_LIMIT", 45),
			RateWindow:     getEnvDuration("TMDB_RATE_WINDOW", time.Second),
			MaxConnections: getEnvInt("TMDB_MAX_CONNECTIONS", 20),
			Timeout:        getEnvDuration("TMDB_TIMEOUT", 15*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider:     getEnv("EMBEDDING_PROVIDER", "ollama"),
			OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),
			OllamaModel:  getEnv("OLLAMA_MODEL", "nomic-embed-text"),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:  getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			OpenAIURL:    getEnv("OPENAI_BASE_URL", ""),
			Dimension:    getEnvInt("EMBEDDING_DIMENSION", 768),
			Timeout:      getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			Concurrency:  getEnvInt("EMBEDDING_CONCURRENCY", 4),
			BreakerTrips: getEnvInt("EMBEDDING_BREAKER_TRIPS", 5),
			BreakerOpen:  getEnvDuration("EMBEDDING_BREAKER_OPEN", time.Minute),
		},
		Vector: VectorConfig{
			Collection:     getEnv("VECTOR_COLLECTION", "movie_vectors"),
			BatchSize:      getEnvInt("VECTOR_BATCH_SIZE", 100),
			HNSWM:          getEnvInt("VECTOR_HNSW_M", 16),
			EFConstruction: getEnvInt("VECTOR_HNSW_EF_CONSTRUCTION", 200),
		},
		Ingest: IngestConfig{
			StartPage:     getEnvInt("INGEST_START_PAGE", 1),
			EndPage:       getEnvInt("INGEST_END_PAGE", 1),
			CommitMode:    getEnv("INGEST_COMMIT_MODE", "run"),
			WithCompanies: getEnv("INGEST_WITH_COMPANIES", "true") == "true",
		},
		Recommend: RecommendConfig{
			DefaultLimit:   getEnvInt("RECOMMEND_DEFAULT_LIMIT", 10),
			MaxLimit:       getEnvInt("RECOMMEND_MAX_LIMIT", 50),
			OverfetchLimit: getEnvInt("RECOMMEND_OVERFETCH", 15),
			Threshold:      getEnvFloat("RECOMMEND_THRESHOLD", 0.49),
			CacheSize:      getEnvInt("RECOMMEND_CACHE_SIZE", 1000),
			CacheTTL:       getEnvDuration("RECOMMEND_CACHE_TTL", time.Hour),
			Timeout:        getEnvDuration("RECOMMEND_TIMEOUT", 10*time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval: getEnvDuration("RECONCILE_INTERVAL", 0),
			Apply:    getEnv("RECONCILE_APPLY", "false") == "true",
		},
		Filter: FilterConfig{
			ExcludedLanguages: getEnvList("EXCLUDED_LANGUAGES", []string{"zh", "ja", "ko", "th", "vi"}),
			ExcludedCountries: getEnvList("EXCLUDED_COUNTRIES", []string{"JP", "CN", "KR", "TW", "HK"}),
			RiskyGenres: getEnvList("RISKY_GENRES", []string{
				"Crimen", "Drama", "Historia", "Terror", "Misterio",
				"Romance", "Suspense", "Bélica", "Western", "Comedia",
			}),
			SafeGenres: getEnvList("SAFE_GENRES", []string{
				"Acción", "Aventura", "Animación", "Documental", "Familia",
				"Fantasía", "Música", "Ciencia ficción", "Película de TV",
			}),
		},
	}
}

// Validate 校验配置的合法性
func (c *Config) Validate() error {
	if !identPattern.MatchString(c.Vector.Collection) {
		return fmt.Errorf("VECTOR_COLLECTION 非法: %q", c.Vector.Collection)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION 必须为正数: %d", c.Embedding.Dimension)
	}
	if c.Vector.BatchSize <= 0 {
		return fmt.Errorf("VECTOR_BATCH_SIZE 必须为正数: %d", c.Vector.BatchSize)
	}
	if c.TMDB.RateLimit <= 0 || c.TMDB.MaxConnections <= 0 {
		return fmt.Errorf("TMDB 限流参数必须为正数")
	}
	if c.Ingest.CommitMode != "run" && c.Ingest.CommitMode != "item" {
		return fmt.Errorf("INGEST_COMMIT_MODE 只能是 run 或 item: %q", c.Ingest.CommitMode)
	}
	if c.Ingest.StartPage < 1 || c.Ingest.EndPage < c.Ingest.StartPage {
		return fmt.Errorf("入库页码范围非法: %d-%d", c.Ingest.StartPage, c.Ingest.EndPage)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getEnvList 读取逗号分隔的列表
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
