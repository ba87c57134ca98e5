package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Redis   RedisConfig
	Queue   QueueConfig
	Split   SplitConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port string
}

type StorageConfig struct {
	DBPath     string
	UploadDir  string
	ChunkDir   string
	ResultsDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig tunes the coordination core. LeaseTimeout must exceed the
// expected worst-case single-chunk transcription time or healthy
// workers get their leases reclaimed out from under them.
type QueueConfig struct {
	LeaseTimeout  time.Duration
	AckGrace      time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	WorkerTTL     time.Duration // liveness window for the worker registry
}

type SplitConfig struct {
	ChunkSeconds int
	Format       string
	Bitrate      string
	Concurrency  int
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("storage.db_path", "scribeflow.db")
	viper.SetDefault("storage.upload_dir", "uploads")
	viper.SetDefault("storage.chunk_dir", "chunks")
	viper.SetDefault("storage.results_dir", "results")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("queue.lease_timeout", "10m")
	viper.SetDefault("queue.ack_grace", "1m")
	viper.SetDefault("queue.sweep_interval", "1m")
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.worker_ttl", "2m")
	viper.SetDefault("split.chunk_seconds", 1200)
	viper.SetDefault("split.format", "mp3")
	viper.SetDefault("split.bitrate", "48k")
	viper.SetDefault("split.concurrency", 4)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file_path", "")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 14)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Storage: StorageConfig{
			DBPath:     viper.GetString("storage.db_path"),
			UploadDir:  viper.GetString("storage.upload_dir"),
			ChunkDir:   viper.GetString("storage.chunk_dir"),
			ResultsDir: viper.GetString("storage.results_dir"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			LeaseTimeout:  viper.GetDuration("queue.lease_timeout"),
			AckGrace:      viper.GetDuration("queue.ack_grace"),
			SweepInterval: viper.GetDuration("queue.sweep_interval"),
			MaxAttempts:   viper.GetInt("queue.max_attempts"),
			WorkerTTL:     viper.GetDuration("queue.worker_ttl"),
		},
		Split: SplitConfig{
			ChunkSeconds: viper.GetInt("split.chunk_seconds"),
			Format:       viper.GetString("split.format"),
			Bitrate:      viper.GetString("split.bitrate"),
			Concurrency:  viper.GetInt("split.concurrency"),
		},
		Log: LogConfig{
			Level:      viper.GetString("log.level"),
			Format:     viper.GetString("log.format"),
			Output:     viper.GetString("log.output"),
			FilePath:   viper.GetString("log.file_path"),
			MaxSizeMB:  viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAgeDays: viper.GetInt("log.max_age_days"),
		},
	}

	return cfg, nil
}
