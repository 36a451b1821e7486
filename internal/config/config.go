package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Mermaid   MermaidConfig
	Build     BuildConfig
}

type ServerConfig struct {
	Port       string
	Env        string
	LogLevel   string
	AuthSecret string // HMAC secret for service tokens; empty disables auth
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	KeyPrefix       string
	PublicURL       string
}

type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
}

type MermaidConfig struct {
	Command  string
	Strategy string // "inline-svg", "img-svg", "img-png" or "client"
}

type BuildConfig struct {
	TopSimilar       int
	MinContentLength int
	BatchSize        int
	MaxInFlight      int
	MaxListKeys      int
	Concurrency      int
	SourceAllowLocal bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("EMBEDDING_API_KEY")
	readSecret("AUTH_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.auth_secret", "AUTH_SECRET")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.key_prefix", "STORAGE_KEY_PREFIX")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	_ = viper.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = viper.BindEnv("embedding.text_model", "EMBEDDING_TEXT_MODEL")
	_ = viper.BindEnv("embedding.image_model", "EMBEDDING_IMAGE_MODEL")
	_ = viper.BindEnv("mermaid.command", "MERMAID_COMMAND")
	_ = viper.BindEnv("mermaid.strategy", "MERMAID_STRATEGY")
	_ = viper.BindEnv("build.top_similar", "BUILD_TOP_SIMILAR")
	_ = viper.BindEnv("build.min_content_length", "BUILD_MIN_CONTENT_LENGTH")
	_ = viper.BindEnv("build.batch_size", "BUILD_BATCH_SIZE")
	_ = viper.BindEnv("build.max_in_flight", "BUILD_MAX_IN_FLIGHT")
	_ = viper.BindEnv("build.max_list_keys", "BUILD_MAX_LIST_KEYS")
	_ = viper.BindEnv("build.concurrency", "BUILD_CONCURRENCY")
	_ = viper.BindEnv("build.source_allow_local", "BUILD_SOURCE_ALLOW_LOCAL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.key_prefix", "bundles")

	// Embedding defaults (OpenAI-compatible endpoint)
	viper.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	viper.SetDefault("embedding.text_model", "text-embedding-3-small")
	viper.SetDefault("embedding.image_model", "")

	// Mermaid defaults
	viper.SetDefault("mermaid.command", "mmdc")
	viper.SetDefault("mermaid.strategy", "inline-svg")

	// Build defaults
	viper.SetDefault("build.top_similar", 5)
	viper.SetDefault("build.min_content_length", 80)
	viper.SetDefault("build.batch_size", 32)
	viper.SetDefault("build.max_in_flight", 4)
	viper.SetDefault("build.max_list_keys", 5000)
	viper.SetDefault("build.concurrency", 4)
	viper.SetDefault("build.source_allow_local", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:       viper.GetString("server.port"),
			Env:        viper.GetString("server.env"),
			LogLevel:   viper.GetString("server.log_level"),
			AuthSecret: viper.GetString("server.auth_secret"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			KeyPrefix:       viper.GetString("storage.key_prefix"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    viper.GetString("embedding.base_url"),
			APIKey:     viper.GetString("embedding.api_key"),
			TextModel:  viper.GetString("embedding.text_model"),
			ImageModel: viper.GetString("embedding.image_model"),
		},
		Mermaid: MermaidConfig{
			Command:  viper.GetString("mermaid.command"),
			Strategy: viper.GetString("mermaid.strategy"),
		},
		Build: BuildConfig{
			TopSimilar:       viper.GetInt("build.top_similar"),
			MinContentLength: viper.GetInt("build.min_content_length"),
			BatchSize:        viper.GetInt("build.batch_size"),
			MaxInFlight:      viper.GetInt("build.max_in_flight"),
			MaxListKeys:      viper.GetInt("build.max_list_keys"),
			Concurrency:      viper.GetInt("build.concurrency"),
			SourceAllowLocal: viper.GetBool("build.source_allow_local"),
		},
	}

	return cfg, nil
}
