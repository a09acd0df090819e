// Package leaderboard mirrors awarded points into Redis sorted sets.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

var ErrDisabled = errors.New("leaderboard disabled")

// Config selects the Redis instance; an empty Addr disables the mirror
type Config struct {
	Addr      string        `json:"addr"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	KeyPrefix string        `json:"key_prefix"`
	Timeout   time.Duration `json:"timeout"`
}

func DefaultConfig() Config {
	return Config{KeyPrefix: "classroom:", Timeout: 2 * time.Second}
}

// Entry is one ranked student
type Entry struct {
	StudentID string `json:"studentId"`
	Points    int    `json:"points"`
}

// Board receives awards and serves rankings
type Board interface {
	Awarded(ctx context.Context, studentID, classID string, points int) error
	Top(ctx context.Context, classID string, n int) ([]Entry, error)
	Enabled() bool
	Close() error
}

// New returns a Redis mirror when cfg.Addr is set and a Nop board otherwise.
// The Redis connection is checked once; an unreachable server is an error.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (Board, error) {
	if cfg.Addr == "" {
		return Nop{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.KeyPrefix, logger), nil
}

// Redis keeps one sorted set per class
type Redis struct {
	client    *redis.Client
	keyPrefix string
	log       *logrus.Entry
}

func NewRedis(client *redis.Client, keyPrefix string, logger *logrus.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "classroom:"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		log:       logger.WithField("component", "leaderboard"),
	}
}

func (r *Redis) pointsKey(classID string) string {
	return fmt.Sprintf("%spoints:%s", r.keyPrefix, classID)
}

// Awarded adds points to the student's rank in classID
func (r *Redis) Awarded(ctx context.Context, studentID, classID string, points int) error {
	key := r.pointsKey(classID)
	total, err := r.client.ZIncrBy(ctx, key, float64(points), studentID).Result()
	if err != nil {
		return fmt.Errorf("redis: zincrby %s: %w", key, err)
	}
	r.log.WithFields(logrus.Fields{
		"class_id": classID,
		"user_id":  studentID,
		"total":    total,
	}).Debug("leaderboard updated")
	return nil
}

// Top returns up to n students ordered by points, highest first
func (r *Redis) Top(ctx context.Context, classID string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	key := r.pointsKey(classID)
	members, err := r.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("redis: zrevrange %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		id, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{StudentID: id, Points: int(m.Score)})
	}
	return entries, nil
}

func (r *Redis) Enabled() bool { return true }

func (r *Redis) Close() error { return r.client.Close() }

// Nop is the board used when Redis is not configured
type Nop struct{}

func (Nop) Awarded(context.Context, string, string, int) error { return nil }

func (Nop) Top(context.Context, string, int) ([]Entry, error) { return nil, ErrDisabled }

func (Nop) Enabled() bool { return false }

func (Nop) Close() error { return nil }
