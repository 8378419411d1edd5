package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/spf13/viper"

	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/queue"
	"github.com/dunamismax/pixelfx/internal/resize"
)

const (
	envPrefix     = "PIXELFX"
	configFileEnv = "PIXELFX_CONFIG"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Engine    EngineConfig    `mapstructure:"engine"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`
}

type APIConfig struct {
	Addr          string        `mapstructure:"addr" validate:"required"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry" validate:"gt=0"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type QueueConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" validate:"required"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	Name          string        `mapstructure:"name" validate:"required"`
	MaxRetry      int           `mapstructure:"max_retry" validate:"gte=0"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
}

func (q QueueConfig) ClientOptions() queue.Options {
	return queue.Options{Queue: q.Name, MaxRetry: q.MaxRetry, TaskTimeout: q.TaskTimeout}
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int    `mapstructure:"concurrency" validate:"gte=1"`
	MaxActiveJobs  int    `mapstructure:"max_active_jobs" validate:"gte=1"`
	LocalOutputDir string `mapstructure:"local_output_dir" validate:"required"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint" validate:"required"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket" validate:"required"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	OutputPrefix string `mapstructure:"output_prefix"`
}

// DatabaseConfig selects the job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type EngineConfig struct {
	MaxWidth      int    `mapstructure:"max_width" validate:"gte=1"`
	MaxHeight     int    `mapstructure:"max_height" validate:"gte=1"`
	Filter        string `mapstructure:"filter" validate:"oneof=bilinear catmullrom nearest box lanczos"`
	MaxInputBytes int64  `mapstructure:"max_input_bytes" validate:"gte=1"`
	OutputFormat  string `mapstructure:"output_format" validate:"oneof=png jpeg jpg webp"`
	Quality       int    `mapstructure:"quality" validate:"gte=0,lte=100"`
	ExportPrefix  string `mapstructure:"export_prefix"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend" validate:"oneof=redis memory"`
	Capacity int           `mapstructure:"capacity" validate:"gte=1"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.presign_expiry", 15*time.Minute)
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 60*time.Second)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("queue.task_timeout", 3*time.Minute)

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.local_output_dir", "./.pixelfx-output")
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "pixelfx-jobs")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.output_prefix", "outputs")

	v.SetDefault("database.dsn", "")

	v.SetDefault("engine.max_width", 800)
	v.SetDefault("engine.max_height", 600)
	v.SetDefault("engine.filter", "bilinear")
	v.SetDefault("engine.max_input_bytes", 10<<20)
	v.SetDefault("engine.output_format", "png")
	v.SetDefault("engine.quality", 90)
	v.SetDefault("engine.export_prefix", "ai-enhanced")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "redis")
	v.SetDefault("ratelimit.capacity", 30)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Second)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads defaults, then the optional file named by PIXELFX_CONFIG, then
// PIXELFX_* environment variables (api.addr is PIXELFX_API_ADDR).
func Load() (Config, error) {
	return LoadFile(os.Getenv(configFileEnv))
}

func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Engine.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.Engine.OutputFormat))
	cfg.Engine.Filter = strings.ToLower(strings.TrimSpace(cfg.Engine.Filter))
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	cfg.Tracing.Exporter = strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("validate config: %s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// EngineOptions maps the engine section onto pipeline options.
func (e EngineConfig) EngineOptions() pipeline.Options {
	return pipeline.Options{
		MaxWidth:  e.MaxWidth,
		MaxHeight: e.MaxHeight,
		Filter:    resize.Filter(e.Filter),
		Format:    e.OutputFormat,
		Quality:   e.Quality,
	}
}
