package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/internal/enrollment"
	"classroom/internal/persist"
	"classroom/internal/popup"
	"classroom/internal/question"
	"classroom/internal/registry"
	"classroom/internal/router"
	"classroom/internal/signaling"
	"classroom/internal/testutil"
	"classroom/pkg/types"
)

type fixture struct {
	hub   *Hub
	reg   *registry.Registry
	store *testutil.FakeStore
	queue *persist.Queue
}

type options struct {
	popupDelay     time.Duration
	questionWindow time.Duration
	enforce        bool
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	if opts.popupDelay == 0 {
		opts.popupDelay = time.Hour
	}
	if opts.questionWindow == 0 {
		opts.questionWindow = time.Hour
	}

	popupCfg := popup.DefaultConfig()
	popupCfg.InitialDelay = opts.popupDelay
	popupCfg.MinInterval = opts.popupDelay
	popupCfg.MaxInterval = opts.popupDelay
	popupCfg.IntervalStep = 0

	questionCfg := question.DefaultConfig()
	questionCfg.Window = opts.questionWindow

	enrollCfg := enrollment.DefaultConfig()
	enrollCfg.EnforceEnrollment = opts.enforce

	f := &fixture{
		reg:   registry.New(logger),
		store: testutil.NewFakeStore(),
		queue: persist.New(persist.DefaultConfig(), logger),
	}

	h, err := New(Config{CleanupInterval: 10 * time.Millisecond}, Deps{
		Registry:  f.reg,
		Router:    router.New(router.DefaultConfig(), nil),
		Admission: enrollment.NewManager(enrollCfg, f.store, logger),
		Popups:    popup.New(popupCfg, f.reg, f.store, f.queue, nil, logger),
		Questions: question.New(questionCfg, f.reg, f.store, f.queue, nil, logger),
		Relay:     signaling.New(f.reg, nil, logger),
		Store:     f.store,
		Jobs:      f.queue,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	f.hub = h

	t.Cleanup(func() {
		_ = h.Stop()
		_ = f.queue.Close()
	})
	return f
}

func (f *fixture) send(t *testing.T, c *testutil.FakeConn, frame map[string]interface{}) error {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	return f.hub.Dispatch(context.Background(), c, raw)
}

func (f *fixture) join(t *testing.T, room, userID string, role types.Role) *testutil.FakeConn {
	t.Helper()
	c := testutil.NewFakeConn(userID, role)
	require.NoError(t, f.send(t, c, map[string]interface{}{"type": "join", "roomId": room}))
	return c
}

func errorCode(t *testing.T, c *testutil.FakeConn) string {
	t.Helper()
	ev, ok := c.Last(types.EventError)
	require.True(t, ok, "no error event received")
	return ev.Data.(types.ErrorNotice).Code
}

func TestHub_Lifecycle(t *testing.T) {
	f := newFixture(t, options{})

	assert.ErrorIs(t, f.hub.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, f.hub.Stop())
	assert.ErrorIs(t, f.hub.Stop(), ErrHubNotRunning)

	c := testutil.NewFakeConn("s1", types.RoleStudent)
	err := f.send(t, c, map[string]interface{}{"type": "join", "roomId": "C1"})
	assert.ErrorIs(t, err, ErrHubNotRunning)

	require.NoError(t, f.hub.Start(context.Background()))
	assert.True(t, f.hub.Running())
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestHub_ClassroomQuestionScenario(t *testing.T) {
	f := newFixture(t, options{questionWindow: 100 * time.Millisecond})
	f.store.AddQuestion(&types.Question{ID: "Q1", ClassID: "C1", Text: "Pick A"},
		&types.Option{ID: "A", Text: "A", IsCorrect: true},
		&types.Option{ID: "B", Text: "B"},
	)

	teacher := f.join(t, "C1", "T", types.RoleTeacher)
	assert.True(t, f.hub.Popups.Running("C1"), "teacher join starts the scheduler")

	s1 := f.join(t, "C1", "S1", types.RoleStudent)
	s2 := f.join(t, "C1", "S2", types.RoleStudent)

	roster, ok := s2.Last(types.EventParticipantsList)
	require.True(t, ok)
	ids := []string{}
	for _, p := range roster.Data.([]types.Participant) {
		ids = append(ids, p.UserID)
	}
	assert.Equal(t, []string{"T", "S1", "S2"}, ids)
	assert.Equal(t, 2, teacher.Count(types.EventParticipantJoined))

	require.NoError(t, f.send(t, teacher, map[string]interface{}{"type": "triggerQuestion", "roomId": "C1", "questionId": "Q1"}))
	require.Equal(t, 1, s1.Count(types.EventQuestionBroadcast))

	require.NoError(t, f.send(t, s1, map[string]interface{}{
		"type": "submitAnswer", "roomId": "C1", "questionId": "Q1", "optionId": "A", "timeTakenMs": 5000,
	}))
	require.NoError(t, f.send(t, s2, map[string]interface{}{
		"type": "submitAnswer", "roomId": "C1", "questionId": "Q1", "optionId": "B", "timeTakenMs": 10000,
	}))

	require.Eventually(t, func() bool {
		return teacher.Count(types.EventQuestionResults) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ev, _ := teacher.Last(types.EventQuestionResults)
	res := ev.Data.(types.QuestionResults)
	assert.Equal(t, 2, res.TotalResponses)
	assert.Equal(t, 1, res.CorrectResponses)
	assert.Equal(t, 50, res.CorrectPercentage)
	assert.Equal(t, []types.OptionCount{
		{OptionID: "A", Text: "A", IsCorrect: true, Count: 1},
		{OptionID: "B", Text: "B", IsCorrect: false, Count: 1},
	}, res.OptionBreakdown)

	f.queue.Wait()
	assert.Equal(t, 10, f.store.Score("S1", "C1"))
	assert.Equal(t, 0, f.store.Score("S2", "C1"))
}

func TestHub_ClassroomTeardownScenario(t *testing.T) {
	f := newFixture(t, options{popupDelay: 40 * time.Millisecond, questionWindow: 80 * time.Millisecond})
	f.store.AddQuestion(&types.Question{ID: "Q1", ClassID: "C1", Text: "Pick A"},
		&types.Option{ID: "A", Text: "A", IsCorrect: true},
		&types.Option{ID: "B", Text: "B"},
	)

	teacher := f.join(t, "C1", "T", types.RoleTeacher)
	s1 := f.join(t, "C1", "S1", types.RoleStudent)
	s2 := f.join(t, "C1", "S2", types.RoleStudent)
	require.NoError(t, f.send(t, teacher, map[string]interface{}{"type": "triggerQuestion", "roomId": "C1", "questionId": "Q1"}))

	f.hub.Disconnect(s2)
	assert.Equal(t, 2, f.reg.MemberCount("C1"))
	assert.Equal(t, 1, s1.Count(types.EventParticipantLeft))

	f.hub.Disconnect(s1)
	f.hub.Disconnect(teacher)
	assert.Zero(t, f.reg.RoomCount())
	assert.False(t, f.hub.Popups.Running("C1"))
	assert.Zero(t, f.hub.Questions.OpenRounds("C1"))

	popups := teacher.Count(types.EventEngagementPopup) + s1.Count(types.EventEngagementPopup)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, popups, teacher.Count(types.EventEngagementPopup)+s1.Count(types.EventEngagementPopup),
		"no popup fires after teardown")
	assert.Zero(t, teacher.Count(types.EventQuestionResults))
	assert.Zero(t, s1.Count(types.EventQuestionResults))
}

func TestHub_PopupResponseRoundTrip(t *testing.T) {
	f := newFixture(t, options{popupDelay: 30 * time.Millisecond})
	f.join(t, "C1", "T", types.RoleTeacher)
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	require.Eventually(t, func() bool { return s1.Count(types.EventEngagementPopup) > 0 }, 2*time.Second, 5*time.Millisecond)
	ev, _ := s1.Last(types.EventEngagementPopup)
	popupID := ev.Data.(types.EngagementPopup).PopupID

	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "popupResponse", "roomId": "C1", "cycleId": popupID}))
	assert.ErrorIs(t, f.send(t, s1, map[string]interface{}{"type": "popupResponse", "roomId": "C1", "cycleId": popupID}), popup.ErrAlreadyResponded)

	f.queue.Wait()
	for _, d := range f.store.Dispatches("C1") {
		if d.CycleID == popupID {
			assert.True(t, d.Responded)
		}
	}
}

func TestHub_ChatAndHandRaiseReachWholeRoom(t *testing.T) {
	f := newFixture(t, options{})
	teacher := f.join(t, "C1", "T", types.RoleTeacher)
	s1 := f.join(t, "C1", "S1", types.RoleStudent)
	outsider := f.join(t, "C2", "S9", types.RoleStudent)

	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "chat", "roomId": "C1", "text": "hello"}))
	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "raiseHand", "roomId": "C1"}))

	for _, c := range []*testutil.FakeConn{teacher, s1} {
		ev, ok := c.Last(types.EventChatMessage)
		require.True(t, ok)
		assert.Equal(t, "hello", ev.Data.(types.ChatMessage).Text)
		assert.Equal(t, 1, c.Count(types.EventHandRaised))
	}
	assert.Zero(t, outsider.Count(types.EventChatMessage))

	// Posting into a room the connection has not joined is ignored
	err := f.send(t, outsider, map[string]interface{}{"type": "chat", "roomId": "C1", "text": "psst"})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, 1, teacher.Count(types.EventChatMessage))
}

func TestHub_ErrorEvents(t *testing.T) {
	f := newFixture(t, options{})
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	_ = f.hub.Dispatch(context.Background(), s1, []byte(`{oops`))
	assert.Equal(t, CodeInvalidFrame, errorCode(t, s1))

	_ = f.send(t, s1, map[string]interface{}{"type": "join", "roomId": "C2"})
	assert.Equal(t, CodeAlreadyInRoom, errorCode(t, s1))

	// Student question triggers are dropped without feedback
	s1.Reset()
	_ = f.send(t, s1, map[string]interface{}{"type": "triggerQuestion", "roomId": "C1", "questionId": "Q1"})
	assert.Zero(t, s1.Count(types.EventError))

	teacher := f.join(t, "C1", "T", types.RoleTeacher)
	_ = f.send(t, teacher, map[string]interface{}{"type": "submitAnswer", "roomId": "C1", "questionId": "Q1", "optionId": "A"})
	assert.Equal(t, CodeNotAuthorized, errorCode(t, teacher))
}

func TestHub_RateLimited(t *testing.T) {
	f := newFixture(t, options{})
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	var err error
	for i := 0; i < 150 && err == nil; i++ {
		err = f.send(t, s1, map[string]interface{}{"type": "raiseHand", "roomId": "C1"})
	}
	assert.ErrorIs(t, err, router.ErrRateLimitExceeded)
	assert.Equal(t, CodeRateLimited, errorCode(t, s1))
}

func TestHub_EnrollmentEnforced(t *testing.T) {
	f := newFixture(t, options{enforce: true})
	f.store.Enroll("C1", "S1")

	f.join(t, "C1", "S1", types.RoleStudent)

	stranger := testutil.NewFakeConn("S7", types.RoleStudent)
	err := f.send(t, stranger, map[string]interface{}{"type": "join", "roomId": "C1"})
	assert.ErrorIs(t, err, enrollment.ErrNotEnrolled)
	assert.Equal(t, CodeNotEnrolled, errorCode(t, stranger))
	assert.Equal(t, 1, f.reg.MemberCount("C1"))
}

func TestHub_FocusEventPersisted(t *testing.T) {
	f := newFixture(t, options{})
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "focusEvent", "roomId": "C1", "eventType": "blur", "durationMs": 3200}))
	f.queue.Wait()

	events := f.store.FocusEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "S1", events[0].StudentID)
	assert.Equal(t, "C1", events[0].ClassID)
	assert.Equal(t, int64(3200), events[0].Duration)
}

func TestHub_SignalRelay(t *testing.T) {
	f := newFixture(t, options{})
	teacher := f.join(t, "C1", "T", types.RoleTeacher)
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	require.NoError(t, f.send(t, teacher, map[string]interface{}{
		"type": "signal", "roomId": "C1", "toUserId": "S1", "kind": "offer", "payload": map[string]string{"sdp": "v=0"},
	}))
	ev, ok := s1.Last(types.EventSignalRelayed)
	require.True(t, ok)
	relayed := ev.Data.(types.SignalRelayed)
	assert.Equal(t, "T", relayed.FromUserID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(relayed.Payload))

	// Absent target: no delivery, no error to the sender
	require.NoError(t, f.send(t, teacher, map[string]interface{}{
		"type": "signal", "roomId": "C1", "toUserId": "ghost", "kind": "candidate", "payload": "x",
	}))
	assert.Zero(t, teacher.Count(types.EventError))
	assert.Zero(t, teacher.Count(types.EventSignalRelayed))
}

func TestHub_LeaveThenRejoinOtherRoom(t *testing.T) {
	f := newFixture(t, options{})
	s1 := f.join(t, "C1", "S1", types.RoleStudent)

	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "leave", "roomId": "C1"}))
	require.NoError(t, f.send(t, s1, map[string]interface{}{"type": "join", "roomId": "C2"}))
	assert.Equal(t, 1, f.reg.MemberCount("C2"))
	assert.Zero(t, f.reg.MemberCount("C1"))
}

func TestHub_ManyRoomsInParallel(t *testing.T) {
	f := newFixture(t, options{})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			room := fmt.Sprintf("R%d", i)
			c := testutil.NewFakeConn(fmt.Sprintf("u%d", i), types.RoleStudent)
			raw, _ := json.Marshal(map[string]string{"type": "join", "roomId": room})
			_ = f.hub.Dispatch(context.Background(), c, raw)
			f.hub.Disconnect(c)
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Zero(t, f.reg.RoomCount())
}
