// Package question runs timed multiple-choice rounds.
package question

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classroom/internal/metrics"
	"classroom/internal/persist"
	"classroom/internal/registry"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

var (
	ErrRoundOpen     = errors.New("question round already open")
	ErrRoundClosed   = errors.New("no open round for question")
	ErrWrongClass    = errors.New("question belongs to another class")
	ErrNoOptions     = errors.New("question has no options")
	ErrUnknownOption = errors.New("option does not belong to question")
	ErrRoomClosed    = errors.New("room is not active")
)

// Config controls round timing and scoring
type Config struct {
	Window           time.Duration `json:"window"`
	PointsPerCorrect int           `json:"points_per_correct"`
	StoreTimeout     time.Duration `json:"store_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Window:           60 * time.Second,
		PointsPerCorrect: 10,
		StoreTimeout:     5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("question window must be positive")
	}
	if c.PointsPerCorrect < 0 {
		return errors.New("points per correct answer cannot be negative")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("question store timeout must be positive")
	}
	return nil
}

// Rooms is the slice of the registry the engine needs
type Rooms interface {
	WithRoom(roomID string, fn func(rm *registry.Room)) bool
}

// AwardListener observes points after the store accepted them
type AwardListener interface {
	Awarded(ctx context.Context, studentID, classID string, points int) error
}

type round struct {
	questionID string
	roomID     string
	classID    string
	text       string
	options    []*types.Option
	opened     time.Time
	gen        uint64
	timer      *time.Timer

	answers map[string]string // student ID -> option ID, first write wins
}

// Engine tracks open rounds across rooms, keyed by question ID
type Engine struct {
	cfg   Config
	rooms Rooms
	store interfaces.Store
	jobs  persist.Submitter
	rec   metrics.Recorder
	log   *logrus.Entry

	mu       sync.Mutex
	rounds   map[string]*round
	gen      uint64
	listener AwardListener
}

func New(cfg Config, rooms Rooms, store interfaces.Store, jobs persist.Submitter, rec metrics.Recorder, logger *logrus.Logger) *Engine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:    cfg,
		rooms:  rooms,
		store:  store,
		jobs:   jobs,
		rec:    rec,
		log:    logger.WithField("component", "question"),
		rounds: make(map[string]*round),
	}
}

// OnAward registers a listener for accepted point awards
func (e *Engine) OnAward(l AwardListener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// BroadcastQuestion opens a round for questionID in roomID. Storage is read
// before entering the room's domain. Must not be called from inside that domain.
func (e *Engine) BroadcastQuestion(ctx context.Context, roomID, questionID string) error {
	logger := e.log.WithFields(logrus.Fields{"room_id": roomID, "question_id": questionID})

	if e.IsOpen(questionID) {
		logger.Debug("question already open, ignoring trigger")
		return ErrRoundOpen
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	q, err := e.store.GetQuestion(ctx, questionID)
	if err != nil {
		logger.WithError(err).Warn("question unavailable")
		return err
	}
	if q.ClassID != roomID {
		logger.WithField("class_id", q.ClassID).Warn("question belongs to another class")
		return ErrWrongClass
	}
	options, err := e.store.GetOptions(ctx, questionID)
	if err != nil {
		logger.WithError(err).Warn("options unavailable")
		return err
	}
	if len(options) == 0 {
		logger.Warn("question has no options")
		return ErrNoOptions
	}

	result := ErrRoomClosed
	e.rooms.WithRoom(roomID, func(rm *registry.Room) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if _, open := e.rounds[questionID]; open {
			result = ErrRoundOpen
			return
		}

		e.gen++
		r := &round{
			questionID: questionID,
			roomID:     roomID,
			classID:    q.ClassID,
			text:       q.Text,
			options:    options,
			opened:     time.Now(),
			gen:        e.gen,
			answers:    make(map[string]string),
		}
		gen := r.gen
		r.timer = time.AfterFunc(e.cfg.Window, func() { e.expire(roomID, questionID, gen) })
		e.rounds[questionID] = r

		public := make([]types.PublicOption, 0, len(options))
		for _, o := range options {
			public = append(public, types.PublicOption{ID: o.ID, Text: o.Text})
		}
		rm.Broadcast(types.NewEvent(types.EventQuestionBroadcast, types.QuestionBroadcast{
			QuestionID: questionID,
			Text:       q.Text,
			Options:    public,
			WindowSec:  int(e.cfg.Window / time.Second),
			Timestamp:  r.opened,
		}))
		result = nil
	})

	if result == nil {
		e.rec.QuestionBroadcast()
		logger.WithField("options", len(options)).Info("question broadcast")
	}
	return result
}

// HandleAnswer records a student's first answer to an open round. Callers run
// it inside the room's domain. Persistence and scoring happen asynchronously.
func (e *Engine) HandleAnswer(roomID, studentID, questionID, optionID string, timeTakenMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[questionID]
	if !ok || r.roomID != roomID {
		e.rec.Answer(metrics.AnswerLate)
		return ErrRoundClosed
	}
	if _, answered := r.answers[studentID]; answered {
		e.rec.Answer(metrics.AnswerDuplicate)
		return interfaces.ErrDuplicateSubmission
	}

	var chosen *types.Option
	for _, o := range r.options {
		if o.ID == optionID {
			chosen = o
			break
		}
	}
	if chosen == nil {
		e.rec.Answer(metrics.AnswerInvalid)
		return ErrUnknownOption
	}

	r.answers[studentID] = optionID
	e.rec.Answer(metrics.AnswerAccepted)

	e.persistAnswer(r.classID, &types.Response{
		StudentID:  studentID,
		QuestionID: questionID,
		OptionID:   optionID,
		TimeTaken:  timeTakenMs,
		CreatedAt:  time.Now(),
	}, chosen.IsCorrect)
	return nil
}

// persistAnswer records the response and awards points only when the store
// accepted it as the student's first answer
func (e *Engine) persistAnswer(classID string, resp *types.Response, correct bool) {
	if e.jobs == nil {
		return
	}
	points := e.cfg.PointsPerCorrect
	listener := e.listener
	fields := logrus.Fields{
		"room_id":     classID,
		"user_id":     resp.StudentID,
		"question_id": resp.QuestionID,
	}

	e.jobs.Submit("record_response", fields, func(ctx context.Context) error {
		if err := e.store.RecordResponse(ctx, resp); err != nil {
			if errors.Is(err, interfaces.ErrDuplicateSubmission) {
				e.log.WithFields(fields).Debug("store already holds a response, skipping award")
				return nil
			}
			return fmt.Errorf("record response: %w", err)
		}
		if !correct || points == 0 {
			return nil
		}
		if err := e.store.AwardPoints(ctx, resp.StudentID, classID, points); err != nil {
			return fmt.Errorf("award points: %w", err)
		}
		if listener != nil {
			if err := listener.Awarded(ctx, resp.StudentID, classID, points); err != nil {
				e.log.WithFields(fields).WithError(err).Warn("award listener failed")
			}
		}
		return nil
	})
}

func (e *Engine) expire(roomID, questionID string, gen uint64) {
	alive := e.rooms.WithRoom(roomID, func(rm *registry.Room) {
		e.mu.Lock()
		r, ok := e.rounds[questionID]
		if !ok || r.gen != gen {
			e.mu.Unlock()
			return
		}
		delete(e.rounds, questionID)
		results := compile(r)
		e.mu.Unlock()

		rm.Broadcast(types.NewEvent(types.EventQuestionResults, results))
		e.rec.QuestionCompiled(results.TotalResponses)
		e.log.WithFields(logrus.Fields{
			"room_id":     roomID,
			"question_id": questionID,
			"responses":   results.TotalResponses,
			"correct_pct": results.CorrectPercentage,
		}).Info("question results compiled")
	})

	if !alive {
		e.mu.Lock()
		if r, ok := e.rounds[questionID]; ok && r.gen == gen {
			delete(e.rounds, questionID)
		}
		e.mu.Unlock()
	}
}

// CancelRoom stops every open round of roomID without compiling results
func (e *Engine) CancelRoom(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, r := range e.rounds {
		if r.roomID != roomID {
			continue
		}
		r.timer.Stop()
		delete(e.rounds, id)
		e.log.WithFields(logrus.Fields{"room_id": roomID, "question_id": id}).Info("question round cancelled")
	}
}

// CancelAll stops every open round
func (e *Engine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.rounds {
		r.timer.Stop()
		delete(e.rounds, id)
	}
}

// IsOpen reports whether questionID has an open round
func (e *Engine) IsOpen(questionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rounds[questionID]
	return ok
}

// OpenRounds counts open rounds in roomID
func (e *Engine) OpenRounds(roomID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.rounds {
		if r.roomID == roomID {
			n++
		}
	}
	return n
}

// compile aggregates a round's answers in option order
func compile(r *round) types.QuestionResults {
	counts := make(map[string]int, len(r.options))
	for _, optionID := range r.answers {
		counts[optionID]++
	}

	res := types.QuestionResults{
		QuestionID:      r.questionID,
		TotalResponses:  len(r.answers),
		OptionBreakdown: make([]types.OptionCount, 0, len(r.options)),
	}
	for _, o := range r.options {
		n := counts[o.ID]
		if o.IsCorrect {
			res.CorrectResponses += n
		}
		res.OptionBreakdown = append(res.OptionBreakdown, types.OptionCount{
			OptionID:  o.ID,
			Text:      o.Text,
			IsCorrect: o.IsCorrect,
			Count:     n,
		})
	}
	res.CorrectPercentage = Percentage(res.CorrectResponses, res.TotalResponses)
	return res
}

// Percentage returns round(100*correct/total), or 0 when total is 0
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}
