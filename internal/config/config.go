package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gitdelayed/internal/core"
	"gitdelayed/internal/git"
	"gitdelayed/internal/store"
)

// AppName names the config and state directories.
const AppName = "gitdelayed"

// ServerConfig holds the optional HTTP API settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// SchedulerConfig holds the polling and retry tunables.
type SchedulerConfig struct {
	PollInterval     time.Duration
	RetryDelay       time.Duration
	MaxAttempts      int
	ExecTimeout      time.Duration
	HistoryRetention int
}

// Config holds all runtime configuration for the CLI and the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

// Overrides carries values from command-line flags. Empty fields are ignored.
type Overrides struct {
	StateDir string
	LogLevel string
	// EnvFiles replaces the default .env search list when non-nil.
	EnvFiles []string
}

const defaultLogLevel = "info"

// shutdownPersistMargin covers writing the final execution record.
const shutdownPersistMargin = 5 * time.Second

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load resolves configuration.
// Priority: flags > environment variables > .env files > defaults
func Load(o Overrides) (*Config, error) {
	files := o.EnvFiles
	if files == nil {
		files = defaultEnvFiles()
	}
	if err := loadEnvFiles(files); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("GITDELAYED_ADDR", ""),
			AuthToken: getEnvString("GITDELAYED_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level: getEnvString("GITDELAYED_LOG_LEVEL", defaultLogLevel),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("GITDELAYED_BARK_URL", ""),
				Enabled: getEnvBool("GITDELAYED_BARK_ENABLED", false),
			},
		},
		Scheduler: SchedulerConfig{
			PollInterval:     getEnvDuration("GITDELAYED_POLL_INTERVAL", core.DefaultPollInterval),
			RetryDelay:       getEnvDuration("GITDELAYED_RETRY_DELAY", core.DefaultRetryDelay),
			MaxAttempts:      getEnvInt("GITDELAYED_MAX_ATTEMPTS", 0),
			ExecTimeout:      getEnvDuration("GITDELAYED_EXEC_TIMEOUT", core.DefaultExecTimeout),
			HistoryRetention: getEnvInt("GITDELAYED_HISTORY_RETENTION", store.DefaultHistoryRetention),
		},
		StateDir:      getEnvString("GITDELAYED_STATE_DIR", ""),
		UseUTC:        getEnvBool("GITDELAYED_USE_UTC", false),
		ShutdownGrace: getEnvDuration("GITDELAYED_SHUTDOWN_GRACE", 0),
	}

	if o.StateDir != "" {
		cfg.StateDir = o.StateDir
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	if cfg.Scheduler.HistoryRetention < 1 {
		cfg.Scheduler.HistoryRetention = store.DefaultHistoryRetention
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = cfg.MinShutdownGrace()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be >0")
	}
	if c.Scheduler.ExecTimeout <= 0 {
		return fmt.Errorf("exec timeout must be >0")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	if floor := c.MinShutdownGrace(); c.ShutdownGrace < floor {
		return fmt.Errorf("shutdown grace %s is shorter than exec timeout plus kill grace (%s)", c.ShutdownGrace, floor)
	}
	if c.Scheduler.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		return fmt.Errorf("bark notifications enabled without GITDELAYED_BARK_URL")
	}
	return nil
}

// MinShutdownGrace is the shortest drain window in which a git command
// started just before shutdown can time out, be killed and have its result
// stored.
func (c *Config) MinShutdownGrace() time.Duration {
	return c.Scheduler.ExecTimeout + git.DefaultKillGrace + shutdownPersistMargin
}

// RetryPolicy builds the scheduler retry policy.
func (c *Config) RetryPolicy() core.RetryPolicy {
	return core.RetryPolicy{Delay: c.Scheduler.RetryDelay, MaxAttempts: c.Scheduler.MaxAttempts}
}

// Location is the zone weekday and absolute expressions are read in.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultEnvFiles() []string {
	files := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(configDir, AppName, ".env"))
	}
	return files
}

// loadEnvFiles loads each file that exists. Earlier files win, and none of
// them override variables already set in the environment.
func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, AppName), nil
}
