package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration, read from environment
// variables with sensible defaults.
//
// Environment Variables:
//
// Server:
// - LISTEN_ADDR: HTTP listen address (default: :5000)
// - MAX_UPLOAD_MB: multipart upload size limit in MiB (default: 500)
//
// Jobs:
// - DATA_DIR: base directory for uploads and outputs (default: ./data)
// - WORKER_COUNT: concurrent operation slots (default: 1)
// - RETENTION_HOURS: job/file retention window (default: 24)
// - CLEANUP_CRON: cron expression for the cleanup sweep (default: @hourly)
// - DB_PATH: sqlite path for the durable job store; empty keeps jobs in memory
//
// Tools:
// - YTDLP_PATH: yt-dlp binary (default: yt-dlp)
// - FFMPEG_PATH: ffmpeg binary (default: ffmpeg)
// - FFPROBE_PATH: ffprobe binary (default: ffprobe)
//
// System:
// - LOG_LEVEL: debug|info|warn|error (default: info)
type Config struct {
	Server ServerConfig `json:"server"`
	Jobs   JobsConfig   `json:"jobs"`
	Tools  ToolsConfig  `json:"tools"`
	System SystemConfig `json:"system"`
}

type ServerConfig struct {
	ListenAddr  string `json:"listen_addr"`
	MaxUploadMB int    `json:"max_upload_mb"`
}

type JobsConfig struct {
	DataDir        string `json:"data_dir"`
	WorkerCount    int    `json:"worker_count"`
	RetentionHours int    `json:"retention_hours"`
	CleanupCron    string `json:"cleanup_cron"`
	DBPath         string `json:"db_path"`
}

type ToolsConfig struct {
	YtDlpPath   string `json:"ytdlp_path"`
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
}

type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

func (c JobsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c JobsConfig) DownloadsDir() string {
	return filepath.Join(c.DataDir, "downloads")
}

func (c JobsConfig) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// NewFromEnv creates a Config from environment variables.
func NewFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			ListenAddr:  getEnvString("LISTEN_ADDR", ":5000"),
			MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 500),
		},
		Jobs: JobsConfig{
			DataDir:        getEnvString("DATA_DIR", "./data"),
			WorkerCount:    getEnvInt("WORKER_COUNT", 1),
			RetentionHours: getEnvInt("RETENTION_HOURS", 24),
			CleanupCron:    getEnvString("CLEANUP_CRON", "@hourly"),
			DBPath:         getEnvString("DB_PATH", ""),
		},
		Tools: ToolsConfig{
			YtDlpPath:   getEnvString("YTDLP_PATH", "yt-dlp"),
			FFmpegPath:  getEnvString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: getEnvString("FFPROBE_PATH", "ffprobe"),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Jobs.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.Jobs.RetentionHours < 1 {
		return fmt.Errorf("RETENTION_HOURS must be at least 1")
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
