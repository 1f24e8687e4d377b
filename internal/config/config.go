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
	Server     ServerConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Scorer     ScorerConfig
	Transcoder TranscoderConfig
	Montage    MontageConfig
	R2         R2Config
	OIDC       OIDCConfig
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour  int
	MontagePerHour int
	ClipsPerMin    int
}

// ScorerConfig configures the external AI clip-scoring service.
type ScorerConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxRetries  int // attempts for transient (overloaded) errors
	MaxInFlight int // concurrent calls to the scoring service
}

// TranscoderConfig configures the ffmpeg transcoding microservice.
type TranscoderConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

// MontageConfig bounds the selection engine and the assembly pipeline.
type MontageConfig struct {
	MinDurationSec    float64
	MaxDurationSec    float64
	LongClipSec       float64 // composite-score penalty threshold
	MaxUploadsPerWeek int
	RunTimeoutSec     int // wall-clock ceiling for one pipeline run
	MaxTranscodes     int // concurrent normalize calls per run
	WorkDir           string
	Intent            string // natural-language intent passed to the scorer
	PerSource         bool   // pick at most one clip per source video
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type OIDCConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SCORER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("OIDC_CLIENT_ID")

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
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("scorer.api_key", "SCORER_API_KEY")
	_ = viper.BindEnv("scorer.base_url", "SCORER_BASE_URL")
	_ = viper.BindEnv("scorer.model", "SCORER_MODEL")
	_ = viper.BindEnv("transcoder.service_url", "TRANSCODER_SERVICE_URL")
	_ = viper.BindEnv("transcoder.timeout", "TRANSCODER_TIMEOUT")
	_ = viper.BindEnv("montage.min_duration_sec", "MONTAGE_MIN_DURATION_SEC")
	_ = viper.BindEnv("montage.max_duration_sec", "MONTAGE_MAX_DURATION_SEC")
	_ = viper.BindEnv("montage.work_dir", "MONTAGE_WORK_DIR")
	_ = viper.BindEnv("montage.intent", "MONTAGE_INTENT")
	_ = viper.BindEnv("montage.per_source", "MONTAGE_PER_SOURCE")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("oidc.domain", "OIDC_DOMAIN")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 50)
	viper.SetDefault("ratelimit.montage_per_hour", 5)
	viper.SetDefault("ratelimit.clips_per_min", 60)

	// Scorer defaults
	viper.SetDefault("scorer.base_url", "https://api.clipscore.dev/openai/v1")
	viper.SetDefault("scorer.model", "clipscore-vision-1")
	viper.SetDefault("scorer.max_retries", 3)
	viper.SetDefault("scorer.max_in_flight", 2)

	// Transcoder defaults
	viper.SetDefault("transcoder.service_url", "http://localhost:8084")
	viper.SetDefault("transcoder.timeout", 180)

	// Montage defaults
	viper.SetDefault("montage.min_duration_sec", 30.0)
	viper.SetDefault("montage.max_duration_sec", 90.0)
	viper.SetDefault("montage.long_clip_sec", 20.0)
	viper.SetDefault("montage.max_uploads_per_week", 50)
	viper.SetDefault("montage.run_timeout_sec", 300)
	viper.SetDefault("montage.max_transcodes", 2)
	viper.SetDefault("montage.work_dir", os.TempDir())
	viper.SetDefault("montage.intent", "the most memorable and visually engaging moments of the week")
	viper.SetDefault("montage.per_source", false)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:  viper.GetInt("ratelimit.upload_per_hour"),
			MontagePerHour: viper.GetInt("ratelimit.montage_per_hour"),
			ClipsPerMin:    viper.GetInt("ratelimit.clips_per_min"),
		},
		Scorer: ScorerConfig{
			APIKey:      viper.GetString("scorer.api_key"),
			BaseURL:     viper.GetString("scorer.base_url"),
			Model:       viper.GetString("scorer.model"),
			MaxRetries:  viper.GetInt("scorer.max_retries"),
			MaxInFlight: viper.GetInt("scorer.max_in_flight"),
		},
		Transcoder: TranscoderConfig{
			ServiceURL: viper.GetString("transcoder.service_url"),
			Timeout:    viper.GetInt("transcoder.timeout"),
		},
		Montage: MontageConfig{
			MinDurationSec:    viper.GetFloat64("montage.min_duration_sec"),
			MaxDurationSec:    viper.GetFloat64("montage.max_duration_sec"),
			LongClipSec:       viper.GetFloat64("montage.long_clip_sec"),
			MaxUploadsPerWeek: viper.GetInt("montage.max_uploads_per_week"),
			RunTimeoutSec:     viper.GetInt("montage.run_timeout_sec"),
			MaxTranscodes:     viper.GetInt("montage.max_transcodes"),
			WorkDir:           viper.GetString("montage.work_dir"),
			Intent:            viper.GetString("montage.intent"),
			PerSource:         viper.GetBool("montage.per_source"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		OIDC: OIDCConfig{
			Domain:   viper.GetString("oidc.domain"),
			ClientID: viper.GetString("oidc.client_id"),
			Issuer:   viper.GetString("oidc.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
