package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" validate:"required"`
	Storage     StorageConfig     `mapstructure:"storage" validate:"required"`
	LLM         LLMConfig         `mapstructure:"llm" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// CoordinatorConfig controls the background task coordinator.
type CoordinatorConfig struct {
	// WorkerCount is the number of concurrent execution slots.
	WorkerCount int `mapstructure:"worker_count" validate:"gte=1"`

	// MaxQueueDepth bounds the number of queued tasks. Zero means unbounded.
	MaxQueueDepth int `mapstructure:"max_queue_depth" validate:"gte=0"`

	// HistorySize is how many terminal task statuses are retained for lookups.
	HistorySize int `mapstructure:"history_size" validate:"gte=1"`
}

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StorageConfig selects and configures the session persistence backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend" validate:"required,oneof=memory file sqlite postgres"`
	Dir         string `mapstructure:"dir" validate:"required_if=Backend file"`
	Format      string `mapstructure:"format" validate:"oneof=json yaml toml"`
	SQLitePath  string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// GeminiAPIKey enables the Gemini generator. Generation commands fail
	// with service.ErrGenerationUnavailable when it is empty.
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// AuthConfig protects the ops API. An empty secret disables authentication.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gte=1"`
}
