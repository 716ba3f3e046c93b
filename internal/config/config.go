package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ytdl-server/internal/errors"
)

// Config holds all server settings in correct types
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Limits    LimitsConfig
	Workers   WorkersConfig
	Retention RetentionConfig
	Defaults  DefaultsConfig
	Poll      PollConfig
	Engine    EngineConfig
	CORS      CORSConfig
	Janitor   JanitorConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host       string
	Port       int
	TrustProxy bool // take client identity from X-Forwarded-For
}

type StorageConfig struct {
	DownloadDir string
	TempDir     string
}

type LimitsConfig struct {
	DailyQuota        int
	RequestsPerSecond float64
	RequestBurst      int
}

type WorkersConfig struct {
	MaxParallel int
}

// RetentionConfig holds the two reclaim horizons, both measured from the
// moment a job reaches a terminal state.
type RetentionConfig struct {
	TokenExpire time.Duration
	FileDelete  time.Duration
}

type DefaultsConfig struct {
	AudioBitrate int
	Container    string
}

type PollConfig struct {
	Interval time.Duration
}

type EngineConfig struct {
	Kind   string // "ytdlp" or "native"
	FFmpeg string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type JanitorConfig struct {
	Schedule   string
	TempMaxAge time.Duration
}

type LogConfig struct {
	JSON  bool
	Level string
}

const (
	EngineYTDLP  = "ytdlp"
	EngineNative = "native"
)

// Containers lists the accepted output containers.
var Containers = []string{"mp4", "webm"}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// SetDefaults registers every recognised option with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("storage.download_dir", "downloads")
	v.SetDefault("storage.temp_dir", "temp")

	v.SetDefault("limits.daily_quota", 10)
	v.SetDefault("limits.requests_per_second", 5.0)
	v.SetDefault("limits.request_burst", 20)

	v.SetDefault("workers.max_parallel", 4)

	v.SetDefault("retention.token_expire", "5m")
	v.SetDefault("retention.file_delete", "6m")

	v.SetDefault("defaults.audio_bitrate", 192)
	v.SetDefault("defaults.container", "mp4")

	v.SetDefault("poll.interval", "250ms")

	v.SetDefault("engine.kind", EngineYTDLP)
	v.SetDefault("engine.ffmpeg", "ffmpeg")

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("janitor.schedule", "@every 1h")
	v.SetDefault("janitor.temp_max_age", "1h")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// NewViper returns a viper instance with defaults and environment binding.
// Environment variables use the YTDL_ prefix (YTDL_SERVER_PORT); a few
// short legacy names are still honoured.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("YTDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "YTDL_SERVER_PORT", "PORT")
	_ = v.BindEnv("workers.max_parallel", "YTDL_WORKERS_MAX_PARALLEL", "MAX_CONCURRENT_JOBS")
	_ = v.BindEnv("storage.download_dir", "YTDL_STORAGE_DOWNLOAD_DIR", "DOWNLOAD_DIR")
	_ = v.BindEnv("storage.temp_dir", "YTDL_STORAGE_TEMP_DIR", "TEMP_DIR")
	_ = v.BindEnv("cors.allowed_origins", "YTDL_CORS_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	SetDefaults(v)
	return v
}

// Load: The only way to get config in the app. A .env file in the working
// directory is applied first; configPath, when set, names a TOML/YAML/JSON
// file layered under the environment.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := NewViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	}
	return FromViper(v)
}

// FromViper builds and validates a Config from an already populated viper.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:       v.GetString("server.host"),
			Port:       v.GetInt("server.port"),
			TrustProxy: v.GetBool("server.trust_proxy"),
		},
		Storage: StorageConfig{
			DownloadDir: v.GetString("storage.download_dir"),
			TempDir:     v.GetString("storage.temp_dir"),
		},
		Limits: LimitsConfig{
			DailyQuota:        v.GetInt("limits.daily_quota"),
			RequestsPerSecond: v.GetFloat64("limits.requests_per_second"),
			RequestBurst:      v.GetInt("limits.request_burst"),
		},
		Workers: WorkersConfig{
			MaxParallel: v.GetInt("workers.max_parallel"),
		},
		Retention: RetentionConfig{
			TokenExpire: v.GetDuration("retention.token_expire"),
			FileDelete:  v.GetDuration("retention.file_delete"),
		},
		Defaults: DefaultsConfig{
			AudioBitrate: v.GetInt("defaults.audio_bitrate"),
			Container:    strings.ToLower(v.GetString("defaults.container")),
		},
		Poll: PollConfig{
			Interval: v.GetDuration("poll.interval"),
		},
		Engine: EngineConfig{
			Kind:   strings.ToLower(v.GetString("engine.kind")),
			FFmpeg: v.GetString("engine.ffmpeg"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitOrigins(v.GetStringSlice("cors.allowed_origins")),
		},
		Janitor: JanitorConfig{
			Schedule:   v.GetString("janitor.schedule"),
			TempMaxAge: v.GetDuration("janitor.temp_max_age"),
		},
		Log: LogConfig{
			JSON:  v.GetBool("log.json"),
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the server won't start with a configuration that breaks
// the retention contract or the worker pool.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Workers.MaxParallel < 1 {
		return errors.Newf("workers.max_parallel must be at least 1, got %d", c.Workers.MaxParallel)
	}
	if c.Limits.DailyQuota < 1 {
		return errors.Newf("limits.daily_quota must be at least 1, got %d", c.Limits.DailyQuota)
	}
	if c.Limits.RequestsPerSecond <= 0 || c.Limits.RequestBurst < 1 {
		return errors.New("limits.requests_per_second and limits.request_burst must be positive")
	}
	if c.Defaults.AudioBitrate <= 0 {
		return errors.Newf("defaults.audio_bitrate must be positive, got %d", c.Defaults.AudioBitrate)
	}
	if !IsContainer(c.Defaults.Container) {
		return errors.Newf("defaults.container must be one of %v, got %q", Containers, c.Defaults.Container)
	}
	if c.Retention.TokenExpire <= 0 {
		return errors.New("retention.token_expire must be positive")
	}
	if c.Retention.FileDelete < c.Retention.TokenExpire {
		err := errors.Newf("retention.file_delete (%s) is shorter than retention.token_expire (%s)",
			c.Retention.FileDelete, c.Retention.TokenExpire)
		return errors.WithHint(err, "files must outlive tokens so a valid token can always be downloaded")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("poll.interval must be positive")
	}
	if c.Engine.Kind != EngineYTDLP && c.Engine.Kind != EngineNative {
		return errors.Newf("engine.kind must be %q or %q, got %q", EngineYTDLP, EngineNative, c.Engine.Kind)
	}
	if c.Storage.DownloadDir == "" {
		return errors.New("storage.download_dir is required")
	}
	return nil
}

// IsContainer reports whether name is an accepted output container.
func IsContainer(name string) bool {
	for _, c := range Containers {
		if c == name {
			return true
		}
	}
	return false
}

// splitOrigins accepts both list values and the comma separated form used
// by ALLOWED_ORIGINS.
func splitOrigins(raw []string) []string {
	var origins []string
	for _, item := range raw {
		for _, o := range strings.Split(item, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins = append(origins, o)
			}
		}
	}
	return origins
}
