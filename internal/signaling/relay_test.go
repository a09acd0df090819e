package signaling

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/registry"
	"classroom/internal/testutil"
	"classroom/pkg/types"
)

func setup(t *testing.T) (*registry.Registry, *Relay) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := registry.New(logger)
	return reg, New(reg, nil, logger)
}

func TestRelay_DeliversToLatestConnection(t *testing.T) {
	reg, relay := setup(t)
	teacher := testutil.NewFakeConn("t1", types.RoleTeacher)
	oldTab := testutil.NewFakeConn("s1", types.RoleStudent)
	newTab := testutil.NewFakeConn("s1", types.RoleStudent)
	for _, c := range []*testutil.FakeConn{teacher, oldTab, newTab} {
		_, err := reg.Join(c, "c1")
		require.NoError(t, err)
	}

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	assert.True(t, relay.Relay("c1", "t1", "s1", types.SignalOffer, payload))

	assert.Zero(t, oldTab.Count(types.EventSignalRelayed))
	ev, ok := newTab.Last(types.EventSignalRelayed)
	require.True(t, ok)
	msg := ev.Data.(types.SignalRelayed)
	assert.Equal(t, "t1", msg.FromUserID)
	assert.Equal(t, types.SignalOffer, msg.Kind)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(msg.Payload))
}

func TestRelay_SilentDrops(t *testing.T) {
	reg, relay := setup(t)
	teacher := testutil.NewFakeConn("t1", types.RoleTeacher)
	s1 := testutil.NewFakeConn("s1", types.RoleStudent)
	other := testutil.NewFakeConn("s9", types.RoleStudent)
	_, _ = reg.Join(teacher, "c1")
	_, _ = reg.Join(s1, "c1")
	_, _ = reg.Join(other, "c2")

	tests := []struct {
		name           string
		room, from, to string
		kind           string
	}{
		{"absent target", "c1", "t1", "nobody", types.SignalAnswer},
		{"target in another room", "c1", "t1", "s9", types.SignalCandidate},
		{"sender not a member", "c1", "s9", "t1", types.SignalOffer},
		{"unknown room", "c404", "t1", "s1", types.SignalOffer},
		{"unknown kind", "c1", "t1", "s1", "bye"},
		{"self addressed", "c1", "t1", "t1", types.SignalOffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, relay.Relay(tt.room, tt.from, tt.to, tt.kind, json.RawMessage(`{}`)))
		})
	}

	for _, c := range []*testutil.FakeConn{teacher, s1, other} {
		assert.Zero(t, c.Count(types.EventSignalRelayed))
	}
}

func TestRelay_TargetDisconnected(t *testing.T) {
	reg, relay := setup(t)
	teacher := testutil.NewFakeConn("t1", types.RoleTeacher)
	s1 := testutil.NewFakeConn("s1", types.RoleStudent)
	_, _ = reg.Join(teacher, "c1")
	_, _ = reg.Join(s1, "c1")

	reg.Disconnect(s1)
	assert.False(t, relay.Relay("c1", "t1", "s1", types.SignalCandidate, nil))
}

func TestRelay_RelayInsideDomain(t *testing.T) {
	reg, relay := setup(t)
	a := testutil.NewFakeConn("a", types.RoleStudent)
	b := testutil.NewFakeConn("b", types.RoleStudent)
	_, _ = reg.Join(a, "c1")
	_, _ = reg.Join(b, "c1")

	reg.WithRoom("c1", func(rm *registry.Room) {
		assert.True(t, relay.RelayIn(rm, "a", "b", types.SignalAnswer, nil))
	})
	ev, ok := b.Last(types.EventSignalRelayed)
	require.True(t, ok)
	assert.Equal(t, "null", string(ev.Data.(types.SignalRelayed).Payload))
}
