package testutil

import (
	"context"
	"fmt"
	"sync"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

type scoreKey struct{ student, class string }
type responseKey struct{ student, question string }
type popupKey struct{ cycle, student string }

// FakeStore is an in-memory interfaces.Store
type FakeStore struct {
	mu sync.Mutex

	enrollments map[string][]string
	questions   map[string]*types.Question
	options     map[string][]*types.Option
	responses   map[responseKey]*types.Response
	scores      map[scoreKey]int
	focus       []*types.FocusEvent
	popups      map[popupKey]*types.PopupDispatch

	// Fail makes every write return a storage failure
	Fail bool
}

var _ interfaces.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{
		enrollments: make(map[string][]string),
		questions:   make(map[string]*types.Question),
		options:     make(map[string][]*types.Option),
		responses:   make(map[responseKey]*types.Response),
		scores:      make(map[scoreKey]int),
		popups:      make(map[popupKey]*types.PopupDispatch),
	}
}

// AddQuestion seeds a question and its options
func (s *FakeStore) AddQuestion(q *types.Question, opts ...*types.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = q
	for _, o := range opts {
		o.QuestionID = q.ID
	}
	s.options[q.ID] = opts
}

// Enroll seeds a class roster
func (s *FakeStore) Enroll(classID string, students ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[classID] = append(s.enrollments[classID], students...)
}

func (s *FakeStore) SetFail(fail bool) {
	s.mu.Lock()
	s.Fail = fail
	s.mu.Unlock()
}

func (s *FakeStore) ListStudents(ctx context.Context, classID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.enrollments[classID]...), nil
}

func (s *FakeStore) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[questionID]
	if !ok {
		return nil, fmt.Errorf("question %s: %w", questionID, interfaces.ErrNotFound)
	}
	cp := *q
	return &cp, nil
}

func (s *FakeStore) GetOptions(ctx context.Context, questionID string) ([]*types.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Option
	for _, o := range s.options[questionID] {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (s *FakeStore) RecordResponse(ctx context.Context, r *types.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return interfaces.ErrStorageFailure
	}
	key := responseKey{r.StudentID, r.QuestionID}
	if _, dup := s.responses[key]; dup {
		return interfaces.ErrDuplicateSubmission
	}
	cp := *r
	s.responses[key] = &cp
	return nil
}

func (s *FakeStore) AwardPoints(ctx context.Context, studentID, classID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return interfaces.ErrStorageFailure
	}
	s.scores[scoreKey{studentID, classID}] += amount
	return nil
}

func (s *FakeStore) RecordFocusEvent(ctx context.Context, e *types.FocusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return interfaces.ErrStorageFailure
	}
	cp := *e
	s.focus = append(s.focus, &cp)
	return nil
}

func (s *FakeStore) RecordPopupDispatch(ctx context.Context, d *types.PopupDispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return interfaces.ErrStorageFailure
	}
	cp := *d
	s.popups[popupKey{d.CycleID, d.StudentID}] = &cp
	return nil
}

func (s *FakeStore) MarkPopupResponded(ctx context.Context, cycleID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return interfaces.ErrStorageFailure
	}
	d, ok := s.popups[popupKey{cycleID, studentID}]
	if !ok {
		return interfaces.ErrNotFound
	}
	d.Responded = true
	return nil
}

func (s *FakeStore) HealthCheck(ctx context.Context) error { return nil }
func (s *FakeStore) Close() error                          { return nil }

// Score returns the accumulated points of a student in a class
func (s *FakeStore) Score(studentID, classID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[scoreKey{studentID, classID}]
}

// ResponseCount returns how many responses were stored for a question
func (s *FakeStore) ResponseCount(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.responses {
		if k.question == questionID {
			n++
		}
	}
	return n
}

// Dispatches returns stored popup rows for a class
func (s *FakeStore) Dispatches(classID string) []types.PopupDispatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PopupDispatch
	for _, d := range s.popups {
		if d.ClassID == classID {
			out = append(out, *d)
		}
	}
	return out
}

// FocusEvents returns stored focus telemetry
func (s *FakeStore) FocusEvents() []types.FocusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FocusEvent, 0, len(s.focus))
	for _, e := range s.focus {
		out = append(out, *e)
	}
	return out
}
