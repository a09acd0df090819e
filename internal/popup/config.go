package popup

import (
	"errors"
	"time"
)

// Audience selects who a popup cycle addresses
type Audience string

const (
	// AudienceConnected addresses students currently in the room
	AudienceConnected Audience = "connected"
	// AudienceEnrolled also addresses enrolled students who are absent,
	// so their missed check-ins count against attendance
	AudienceEnrolled Audience = "enrolled"
)

// Config controls popup cadence
type Config struct {
	InitialDelay   time.Duration `json:"initial_delay"`
	MinInterval    time.Duration `json:"min_interval"`
	MaxInterval    time.Duration `json:"max_interval"`
	IntervalStep   time.Duration `json:"interval_step"`
	ResponseWindow time.Duration `json:"response_window"`
	HistorySize    int           `json:"history_size"`
	Audience       Audience      `json:"audience"`
	// MatchLatest resolves a response against the student's most recent
	// unresolved cycle instead of the cycle ID the client reports
	MatchLatest bool `json:"match_latest"`
}

// DefaultConfig fires two minutes after start, then every 3 to 7 whole minutes
func DefaultConfig() Config {
	return Config{
		InitialDelay:   2 * time.Minute,
		MinInterval:    3 * time.Minute,
		MaxInterval:    7 * time.Minute,
		IntervalStep:   time.Minute,
		ResponseWindow: 15 * time.Second,
		HistorySize:    16,
		Audience:       AudienceConnected,
	}
}

func (c Config) Validate() error {
	if c.InitialDelay <= 0 {
		return errors.New("popup initial delay must be positive")
	}
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return errors.New("popup interval range must be positive and ordered")
	}
	if c.IntervalStep < 0 {
		return errors.New("popup interval step cannot be negative")
	}
	if c.ResponseWindow <= 0 {
		return errors.New("popup response window must be positive")
	}
	if c.HistorySize <= 0 {
		return errors.New("popup history size must be positive")
	}
	if c.Audience != AudienceConnected && c.Audience != AudienceEnrolled {
		return errors.New("popup audience must be 'connected' or 'enrolled'")
	}
	return nil
}
