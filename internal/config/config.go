package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
// It is loaded once at startup and read-only thereafter.
type Config struct {
	Telegram struct {
		BotToken string
		GroupID  int64
	}
	Download struct {
		Dir              string
		MaxConcurrent    int
		MaxDownloadSpeed int64 // bytes/sec, 0 = unlimited
		MaxUploadSpeed   int64 // bytes/sec, 0 = unlimited
	}
	Database struct {
		Path string
	}
	History struct {
		Path string
	}
	Log struct {
		Path string
	}
	Server struct {
		Addr string
	}
	Monitor struct {
		Interval     time.Duration
		ErrorBackoff time.Duration
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("TORRENTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.bottoken", "")
	v.SetDefault("telegram.groupid", 0)
	v.SetDefault("download.dir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("download.maxdownloadspeed", 0)
	v.SetDefault("download.maxuploadspeed", 0)
	v.SetDefault("database.path", "data/torrentbot.db")
	v.SetDefault("history.path", "data/download_history.json")
	v.SetDefault("log.path", "logs/torrent_bot.log")
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("monitor.interval", 30*time.Second)
	v.SetDefault("monitor.errorbackoff", 60*time.Second)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the settings the process cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if c.Telegram.GroupID == 0 {
		return fmt.Errorf("telegram group id is required")
	}
	if strings.TrimSpace(c.Download.Dir) == "" {
		return fmt.Errorf("download directory is required")
	}
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent downloads must be positive, got %d", c.Download.MaxConcurrent)
	}
	if c.Download.MaxDownloadSpeed < 0 || c.Download.MaxUploadSpeed < 0 {
		return fmt.Errorf("speed limits must be zero or positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Monitor.ErrorBackoff < c.Monitor.Interval {
		return fmt.Errorf("monitor error backoff must be at least the interval")
	}
	return nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
