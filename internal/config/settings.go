package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// setting binds one section.key to a field of Config. The environment name is
// CLASSROOM_<SECTION>_<KEY> in upper case.
type setting struct {
	section string
	key     string
	apply   func(string) error
}

func (s setting) envName() string {
	return "CLASSROOM_" + strings.ToUpper(s.section) + "_" + strings.ToUpper(s.key)
}

func settings(c *Config) []setting {
	return []setting{
		{"database", "path", stringVar(&c.Database.Path)},
		{"database", "timeout", durationVar(&c.Database.Timeout)},
		{"database", "max_connections", intVar(&c.Database.MaxConnections)},
		{"database", "migrations_path", stringVar(&c.Database.MigrationsPath)},

		{"http", "host", stringVar(&c.HTTP.Host)},
		{"http", "port", intVar(&c.HTTP.Port)},
		{"http", "read_timeout", durationVar(&c.HTTP.ReadTimeout)},
		{"http", "write_timeout", durationVar(&c.HTTP.WriteTimeout)},
		{"http", "shutdown_timeout", durationVar(&c.HTTP.ShutdownTimeout)},

		{"websocket", "ping_interval", durationVar(&c.WebSocket.PingInterval)},
		{"websocket", "read_timeout", durationVar(&c.WebSocket.ReadTimeout)},
		{"websocket", "write_timeout", durationVar(&c.WebSocket.WriteTimeout)},
		{"websocket", "buffer_size", intVar(&c.WebSocket.BufferSize)},
		{"websocket", "max_frame_bytes", intVar(&c.WebSocket.MaxFrameBytes)},
		{"websocket", "allowed_origins", listVar(&c.WebSocket.AllowedOrigins)},

		{"auth", "jwt_secret", stringVar(&c.Auth.JWTSecret)},
		{"auth", "token_ttl", durationVar(&c.Auth.TokenTTL)},

		{"popup", "initial_delay", durationVar(&c.Popup.InitialDelay)},
		{"popup", "min_interval", durationVar(&c.Popup.MinInterval)},
		{"popup", "max_interval", durationVar(&c.Popup.MaxInterval)},
		{"popup", "interval_step", durationVar(&c.Popup.IntervalStep)},
		{"popup", "response_window", durationVar(&c.Popup.ResponseWindow)},
		{"popup", "history_size", intVar(&c.Popup.HistorySize)},
		{"popup", "audience", stringVar(&c.Popup.Audience)},
		{"popup", "match_latest", boolVar(&c.Popup.MatchLatest)},

		{"question", "window", durationVar(&c.Question.Window)},
		{"question", "points_per_correct", intVar(&c.Question.PointsPerCorrect)},

		{"enrollment", "enforce", boolVar(&c.Enrollment.Enforce)},
		{"enrollment", "cache_ttl", durationVar(&c.Enrollment.CacheTTL)},

		{"router", "rate_limit", intVar(&c.Router.RateLimit)},
		{"router", "rate_window", durationVar(&c.Router.RateWindow)},
		{"router", "cleanup_interval", durationVar(&c.Router.CleanupInterval)},

		{"persist", "queue_size", intVar(&c.Persist.QueueSize)},
		{"persist", "workers", intVar(&c.Persist.Workers)},
		{"persist", "job_timeout", durationVar(&c.Persist.JobTimeout)},

		{"redis", "addr", stringVar(&c.Redis.Addr)},
		{"redis", "password", stringVar(&c.Redis.Password)},
		{"redis", "db", intVar(&c.Redis.DB)},
		{"redis", "key_prefix", stringVar(&c.Redis.KeyPrefix)},
		{"redis", "timeout", durationVar(&c.Redis.Timeout)},

		{"log", "level", stringVar(&c.Log.Level)},
		{"log", "format", stringVar(&c.Log.Format)},
	}
}

// legacyEnv maps the unprefixed names used by existing deployments; the
// prefixed names win when both are set
var legacyEnv = map[string]string{
	"JWT_SECRET": "CLASSROOM_AUTH_JWT_SECRET",
	"REDIS_ADDR": "CLASSROOM_REDIS_ADDR",
	"PORT":       "CLASSROOM_HTTP_PORT",
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
func applyEnv(c *Config) error {
	byEnv := make(map[string]setting)
	for _, s := range settings(c) {
		byEnv[s.envName()] = s
	}

	for legacy, name := range legacyEnv {
		if v := os.Getenv(legacy); v != "" && os.Getenv(name) == "" {
			if err := byEnv[name].apply(v); err != nil {
				return fmt.Errorf("%s: %w", legacy, err)
			}
		}
	}
	for name, s := range byEnv {
		if v := os.Getenv(name); v != "" {
			if err := s.apply(v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// applyFile overlays a JSON file of {"section": {"key": value}} objects.
// Durations are Go duration strings.
func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	index := make(map[string]setting)
	for _, s := range settings(c) {
		index[s.section+"."+s.key] = s
	}

	for section, values := range file {
		for key, raw := range values {
			s, ok := index[section+"."+key]
			if !ok {
				return fmt.Errorf("config file %s: unknown setting %s.%s", path, section, key)
			}
			text, err := rawText(raw)
			if err != nil {
				return fmt.Errorf("config file %s: %s.%s: %w", path, section, key, err)
			}
			if err := s.apply(text); err != nil {
				return fmt.Errorf("config file %s: %s.%s: %w", path, section, key, err)
			}
		}
	}
	return nil
}

// rawText flattens a JSON scalar or string array into the env-style text form
func rawText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return "", err
		}
		return strings.Join(list, ","), nil
	default:
		return string(raw), nil
	}
}

func stringVar(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func listVar(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
		return nil
	}
}
