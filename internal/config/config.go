package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Auth       *AuthConfig       `json:"auth"`
	Popup      *PopupConfig      `json:"popup"`
	Question   *QuestionConfig   `json:"question"`
	Enrollment *EnrollmentConfig `json:"enrollment"`
	Router     *RouterConfig     `json:"router"`
	Persist    *PersistConfig    `json:"persist"`
	Redis      *RedisConfig      `json:"redis"`
	Log        *LogConfig        `json:"log"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
	MigrationsPath string        `json:"migrations_path"`
}

type HTTPConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Host            string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxFrameBytes  int           `json:"max_frame_bytes"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type PopupConfig struct {
	InitialDelay   time.Duration `json:"initial_delay"`
	MinInterval    time.Duration `json:"min_interval"`
	MaxInterval    time.Duration `json:"max_interval"`
	IntervalStep   time.Duration `json:"interval_step"`
	ResponseWindow time.Duration `json:"response_window"`
	HistorySize    int           `json:"history_size"`
	Audience       string        `json:"audience"`
	MatchLatest    bool          `json:"match_latest"`
}

type QuestionConfig struct {
	Window           time.Duration `json:"window"`
	PointsPerCorrect int           `json:"points_per_correct"`
}

type EnrollmentConfig struct {
	Enforce  bool          `json:"enforce"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

type RouterConfig struct {
	RateLimit       int           `json:"rate_limit"`
	RateWindow      time.Duration `json:"rate_window"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

type PersistConfig struct {
	QueueSize  int           `json:"queue_size"`
	Workers    int           `json:"workers"`
	JobTimeout time.Duration `json:"job_timeout"`
}

// RedisConfig enables the leaderboard mirror when Addr is set
type RedisConfig struct {
	Addr      string        `json:"addr"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	KeyPrefix string        `json:"key_prefix"`
	Timeout   time.Duration `json:"timeout"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/classroom.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Host:            "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:  30 * time.Second,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  5 * time.Second,
			BufferSize:    100,
			MaxFrameBytes: 128 * 1024,
		},
		Auth: &AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Popup: &PopupConfig{
			InitialDelay:   2 * time.Minute,
			MinInterval:    3 * time.Minute,
			MaxInterval:    7 * time.Minute,
			IntervalStep:   time.Minute,
			ResponseWindow: 15 * time.Second,
			HistorySize:    16,
			Audience:       "connected",
		},
		Question: &QuestionConfig{
			Window:           60 * time.Second,
			PointsPerCorrect: 10,
		},
		Enrollment: &EnrollmentConfig{
			CacheTTL: 30 * time.Second,
		},
		Router: &RouterConfig{
			RateLimit:       100,
			RateWindow:      time.Minute,
			CleanupInterval: time.Minute,
		},
		Persist: &PersistConfig{
			QueueSize:  1024,
			Workers:    1,
			JobTimeout: 5 * time.Second,
		},
		Redis: &RedisConfig{
			KeyPrefix: "classroom:",
			Timeout:   2 * time.Second,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil ||
		c.Popup == nil || c.Question == nil || c.Enrollment == nil || c.Router == nil ||
		c.Persist == nil || c.Redis == nil || c.Log == nil {
		return errors.New("every configuration section is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("WebSocket max frame size must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.Popup.InitialDelay <= 0 || c.Popup.MinInterval <= 0 || c.Popup.MaxInterval < c.Popup.MinInterval {
		return fmt.Errorf("popup delays must be positive and ordered")
	}
	if c.Popup.ResponseWindow <= 0 || c.Popup.HistorySize <= 0 {
		return fmt.Errorf("popup response window and history size must be positive")
	}
	if c.Popup.Audience != "connected" && c.Popup.Audience != "enrolled" {
		return fmt.Errorf("popup audience must be 'connected' or 'enrolled'")
	}

	if c.Question.Window <= 0 || c.Question.PointsPerCorrect <= 0 {
		return fmt.Errorf("question window and points must be positive")
	}

	if c.Router.RateLimit <= 0 || c.Router.RateWindow <= 0 || c.Router.CleanupInterval <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}

	if c.Persist.QueueSize <= 0 || c.Persist.Workers <= 0 || c.Persist.JobTimeout <= 0 {
		return fmt.Errorf("persist queue settings must be positive")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json'")
	}

	return nil
}

// Apply configures logger's level and formatter
func (l *LogConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	return nil
}

// LoadDotEnv loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults.
// Unlike a plain fallback chain, each layer only overrides the keys it sets.
func Load(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
