// Package popup runs randomized attendance check-ins for live rooms.
package popup

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"classroom/internal/metrics"
	"classroom/internal/persist"
	"classroom/internal/registry"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

var (
	ErrUnknownCycle     = errors.New("popup cycle not found")
	ErrAlreadyResponded = errors.New("popup cycle already answered")
	ErrNotAddressed     = errors.New("student was not addressed by this popup cycle")
)

// Rooms is the slice of the registry the scheduler needs
type Rooms interface {
	WithRoom(roomID string, fn func(rm *registry.Room)) bool
}

// Cycle is one dispatched check-in. Cycles are never deleted early;
// unanswered entries simply age out of the bounded history.
type Cycle struct {
	ID        string
	RoomID    string
	CreatedAt time.Time
	Deadline  time.Time
	Responded map[string]bool
}

type roomState struct {
	gen    uint64
	timer  *time.Timer
	cycles []*Cycle
}

// Scheduler owns one timer chain per room
// ARCHITECTURAL DISCOVERY: Timer callbacks re-enter through Rooms.WithRoom and then
// compare generations, so a callback racing Stop observes a bumped generation and exits
type Scheduler struct {
	cfg   Config
	rooms Rooms
	store interfaces.Store
	jobs  persist.Submitter
	rec   metrics.Recorder
	log   *logrus.Entry

	mu     sync.Mutex
	states map[string]*roomState
	gen    uint64
	rng    *rand.Rand
	now    func() time.Time
}

// New creates a scheduler. store may be nil when the audience is connected students only.
func New(cfg Config, rooms Rooms, store interfaces.Store, jobs persist.Submitter, rec metrics.Recorder, logger *logrus.Logger) *Scheduler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		cfg:    cfg,
		rooms:  rooms,
		store:  store,
		jobs:   jobs,
		rec:    rec,
		log:    logger.WithField("component", "popup"),
		states: make(map[string]*roomState),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// Start schedules the first dispatch for roomID. Starting a running room is a no-op
// and returns false.
func (s *Scheduler) Start(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.states[roomID]; running {
		return false
	}
	st := &roomState{}
	s.states[roomID] = st
	s.armLocked(roomID, st, s.cfg.InitialDelay)

	s.log.WithFields(logrus.Fields{
		"room_id":       roomID,
		"initial_delay": s.cfg.InitialDelay.String(),
	}).Info("attendance popups started")
	return true
}

// Stop cancels the pending timer and forgets the room's cycles
func (s *Scheduler) Stop(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(roomID)
}

// StopAll cancels every room's timer
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID := range s.states {
		s.stopLocked(roomID)
	}
}

func (s *Scheduler) stopLocked(roomID string) {
	st, ok := s.states[roomID]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	s.gen++
	st.gen = s.gen
	delete(s.states, roomID)
	s.log.WithField("room_id", roomID).Info("attendance popups stopped")
}

// Running reports whether roomID has a live timer chain
func (s *Scheduler) Running(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[roomID]
	return ok
}

func (s *Scheduler) armLocked(roomID string, st *roomState, delay time.Duration) {
	s.gen++
	gen := s.gen
	st.gen = gen
	st.timer = time.AfterFunc(delay, func() { s.fire(roomID, gen) })
}

func (s *Scheduler) current(roomID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[roomID]
	return ok && st.gen == gen
}

func (s *Scheduler) fire(roomID string, gen uint64) {
	if !s.current(roomID, gen) {
		return
	}

	// Storage reads happen outside the room's domain
	var enrolled []string
	if s.cfg.Audience == AudienceEnrolled && s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ids, err := s.store.ListStudents(ctx, roomID)
		cancel()
		if err != nil {
			s.log.WithField("room_id", roomID).WithError(err).Warn("roster unavailable, addressing connected students only")
		}
		enrolled = ids
	}

	alive := s.rooms.WithRoom(roomID, func(rm *registry.Room) {
		s.mu.Lock()
		defer s.mu.Unlock()

		st, ok := s.states[roomID]
		if !ok || st.gen != gen {
			return
		}
		s.dispatchLocked(rm, st, enrolled)
		s.armLocked(roomID, st, s.nextDelayLocked())
	})

	if !alive {
		s.mu.Lock()
		if st, ok := s.states[roomID]; ok && st.gen == gen {
			delete(s.states, roomID)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) dispatchLocked(rm *registry.Room, st *roomState, enrolled []string) {
	now := s.now()
	cycle := &Cycle{
		ID:        uuid.NewString(),
		RoomID:    rm.ID(),
		CreatedAt: now,
		Deadline:  now.Add(s.cfg.ResponseWindow),
		Responded: make(map[string]bool),
	}

	audience := rm.StudentIDs()
	for _, id := range enrolled {
		if !contains(audience, id) {
			audience = append(audience, id)
		}
	}
	for _, studentID := range audience {
		cycle.Responded[studentID] = false
		s.persistDispatch(cycle, studentID)
	}

	st.cycles = append(st.cycles, cycle)
	if over := len(st.cycles) - s.cfg.HistorySize; over > 0 {
		st.cycles = st.cycles[over:]
	}

	rm.Broadcast(types.NewEvent(types.EventEngagementPopup, types.EngagementPopup{
		PopupID:           cycle.ID,
		RoomID:            rm.ID(),
		ResponseWindowSec: int(s.cfg.ResponseWindow / time.Second),
		Timestamp:         now,
	}))
	s.rec.PopupDispatched(len(audience))

	s.log.WithFields(logrus.Fields{
		"room_id":  rm.ID(),
		"cycle_id": cycle.ID,
		"students": len(audience),
	}).Info("attendance popup dispatched")
}

// nextDelayLocked draws uniformly from [MinInterval, MaxInterval] in IntervalStep increments
func (s *Scheduler) nextDelayLocked() time.Duration {
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	if s.cfg.IntervalStep > 0 {
		steps := int64(span / s.cfg.IntervalStep)
		return s.cfg.MinInterval + time.Duration(s.rng.Int63n(steps+1))*s.cfg.IntervalStep
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int63n(int64(span)+1))
}

// HandleResponse resolves a student's check-in. Callers run it inside the
// room's domain.
func (s *Scheduler) HandleResponse(roomID, studentID, cycleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok {
		s.rec.PopupResponse(false)
		return ErrUnknownCycle
	}

	var cycle *Cycle
	if s.cfg.MatchLatest {
		for i := len(st.cycles) - 1; i >= 0; i-- {
			if responded, addressed := st.cycles[i].Responded[studentID]; addressed && !responded {
				cycle = st.cycles[i]
				break
			}
		}
		if cycle == nil {
			s.rec.PopupResponse(false)
			return ErrUnknownCycle
		}
	} else {
		for _, c := range st.cycles {
			if c.ID == cycleID {
				cycle = c
				break
			}
		}
		if cycle == nil {
			s.rec.PopupResponse(false)
			return ErrUnknownCycle
		}
		responded, addressed := cycle.Responded[studentID]
		if !addressed {
			s.rec.PopupResponse(false)
			return ErrNotAddressed
		}
		if responded {
			s.rec.PopupResponse(false)
			return ErrAlreadyResponded
		}
	}

	cycle.Responded[studentID] = true
	s.rec.PopupResponse(true)

	resolved := cycle.ID
	fields := logrus.Fields{"room_id": roomID, "user_id": studentID, "cycle_id": resolved}
	s.log.WithFields(fields).Debug("popup response recorded")
	if s.jobs != nil && s.store != nil {
		s.jobs.Submit("mark_popup_responded", fields, func(ctx context.Context) error {
			return s.store.MarkPopupResponded(ctx, resolved, studentID)
		})
	}
	return nil
}

// Cycles returns copies of the room's retained cycles, oldest first
func (s *Scheduler) Cycles(roomID string) []Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[roomID]
	if !ok {
		return nil
	}
	out := make([]Cycle, 0, len(st.cycles))
	for _, c := range st.cycles {
		cp := *c
		cp.Responded = make(map[string]bool, len(c.Responded))
		for k, v := range c.Responded {
			cp.Responded[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (s *Scheduler) persistDispatch(cycle *Cycle, studentID string) {
	if s.jobs == nil || s.store == nil {
		return
	}
	d := &types.PopupDispatch{
		CycleID:   cycle.ID,
		ClassID:   cycle.RoomID,
		StudentID: studentID,
		CreatedAt: cycle.CreatedAt,
	}
	s.jobs.Submit("record_popup_dispatch", logrus.Fields{
		"room_id":  cycle.RoomID,
		"user_id":  studentID,
		"cycle_id": cycle.ID,
	}, func(ctx context.Context) error {
		return s.store.RecordPopupDispatch(ctx, d)
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
