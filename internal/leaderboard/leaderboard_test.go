package leaderboard

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutAddr(t *testing.T) {
	board, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, board.Enabled())
	assert.NoError(t, board.Awarded(context.Background(), "s1", "c1", 10))

	_, err = board.Top(context.Background(), "c1", 5)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.NoError(t, board.Close())
}

func TestNew_UnreachableRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRedis_AwardedFailsWhenServerGone(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedis(client, "", nil)
	defer r.Close()

	assert.Equal(t, "classroom:points:c1", r.pointsKey("c1"))
	err := r.Awarded(context.Background(), "s1", "c1", 10)
	assert.ErrorContains(t, err, "zincrby classroom:points:c1")
}

// TestRedis_Ranking runs against a real server when CLASSROOM_TEST_REDIS_ADDR is set
func TestRedis_Ranking(t *testing.T) {
	addr := os.Getenv("CLASSROOM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLASSROOM_TEST_REDIS_ADDR not set")
	}

	cfg := DefaultConfig()
	cfg.Addr = addr
	cfg.KeyPrefix = fmt.Sprintf("test:%s:", uuid.NewString())
	board, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer board.Close()

	ctx := context.Background()
	require.NoError(t, board.Awarded(ctx, "s1", "c1", 10))
	require.NoError(t, board.Awarded(ctx, "s2", "c1", 10))
	require.NoError(t, board.Awarded(ctx, "s2", "c1", 10))

	top, err := board.Top(ctx, "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{StudentID: "s2", Points: 20}, {StudentID: "s1", Points: 10}}, top)

	r := board.(*Redis)
	require.NoError(t, r.client.Del(ctx, r.pointsKey("c1")).Err())
}
