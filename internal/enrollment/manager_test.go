package enrollment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/testutil"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

type countingRoster struct {
	*testutil.FakeStore
	calls atomic.Int32
	err   error
}

func (c *countingRoster) ListStudents(ctx context.Context, classID string) ([]string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.FakeStore.ListStudents(ctx, classID)
}

func newRoster(students ...string) *countingRoster {
	store := testutil.NewFakeStore()
	store.Enroll("c1", students...)
	return &countingRoster{FakeStore: store}
}

func TestManager_StudentsCachedWithinTTL(t *testing.T) {
	roster := newRoster("s1", "s2", "s1")
	m := NewManager(DefaultConfig(), roster, nil)
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }

	got, err := m.Students(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got)

	_, err = m.Students(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), roster.calls.Load())

	now = now.Add(time.Minute)
	_, err = m.Students(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), roster.calls.Load())

	m.Invalidate("c1")
	_, err = m.Students(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), roster.calls.Load())
}

func TestManager_ValidateMembership(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnforceEnrollment = true
	m := NewManager(cfg, newRoster("s1"), nil)
	ctx := context.Background()

	assert.NoError(t, m.ValidateMembership(ctx, "c1", types.Identity{UserID: "s1", Role: types.RoleStudent}))
	assert.NoError(t, m.ValidateMembership(ctx, "c1", types.Identity{UserID: "t9", Role: types.RoleTeacher}))
	assert.ErrorIs(t, m.ValidateMembership(ctx, "c1", types.Identity{UserID: "s2", Role: types.RoleStudent}), ErrNotEnrolled)
	assert.ErrorIs(t, m.ValidateMembership(ctx, "c 1", types.Identity{UserID: "s1", Role: types.RoleStudent}), ErrInvalidClass)
	assert.ErrorIs(t, m.ValidateMembership(ctx, "c1", types.Identity{UserID: "s1", Role: "admin"}), types.ErrInvalidRole)
}

func TestManager_EnforcementOff(t *testing.T) {
	roster := newRoster()
	m := NewManager(DefaultConfig(), roster, nil)

	err := m.ValidateMembership(context.Background(), "c1", types.Identity{UserID: "anyone", Role: types.RoleStudent})
	assert.NoError(t, err)
	assert.Zero(t, roster.calls.Load(), "no roster read when enforcement is off")
}

func TestManager_StoreFailure(t *testing.T) {
	roster := newRoster("s1")
	roster.err = errors.New("disk gone")
	cfg := DefaultConfig()
	cfg.EnforceEnrollment = true
	m := NewManager(cfg, roster, nil)

	err := m.ValidateMembership(context.Background(), "c1", types.Identity{UserID: "s1", Role: types.RoleStudent})
	assert.ErrorIs(t, err, interfaces.ErrStorageFailure)
	assert.Equal(t, 0, m.Stats()["cached_classes"])
}
