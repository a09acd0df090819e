// Package enrollment caches class rosters and gates room admission on them.
package enrollment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// Roster is the slice of the store this package reads
type Roster interface {
	ListStudents(ctx context.Context, classID string) ([]string, error)
}

// Config controls admission and cache lifetime
type Config struct {
	EnforceEnrollment bool          `json:"enforce_enrollment"`
	CacheTTL          time.Duration `json:"cache_ttl"`
}

func DefaultConfig() Config {
	return Config{EnforceEnrollment: false, CacheTTL: 30 * time.Second}
}

type cachedRoster struct {
	students map[string]struct{}
	ordered  []string
	loadedAt time.Time
}

// Manager serves rosters from memory and refreshes them from the store on expiry
// ARCHITECTURAL DISCOVERY: Rosters are read on every student join, so a short
// TTL cache keeps the store off the admission path without going stale for long
type Manager struct {
	cfg    Config
	roster Roster

	mu    sync.RWMutex
	cache map[string]*cachedRoster

	now func() time.Time
	log *logrus.Entry
}

func NewManager(cfg Config, roster Roster, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:    cfg,
		roster: roster,
		cache:  make(map[string]*cachedRoster),
		now:    time.Now,
		log:    logger.WithField("component", "enrollment"),
	}
}

// Students returns the enrolled student IDs of classID
func (m *Manager) Students(ctx context.Context, classID string) ([]string, error) {
	r, err := m.load(ctx, classID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out, nil
}

// ListStudents makes Manager usable wherever a Roster is expected
func (m *Manager) ListStudents(ctx context.Context, classID string) ([]string, error) {
	return m.Students(ctx, classID)
}

// IsEnrolled reports whether userID is on classID's roster
func (m *Manager) IsEnrolled(ctx context.Context, classID, userID string) (bool, error) {
	r, err := m.load(ctx, classID)
	if err != nil {
		return false, err
	}
	_, ok := r.students[userID]
	return ok, nil
}

// ValidateMembership decides whether identity may join classID.
// Teachers are always admitted; students only when enrolled or when
// enforcement is off.
func (m *Manager) ValidateMembership(ctx context.Context, classID string, identity types.Identity) error {
	if !types.IsValidRoomID(classID) {
		return ErrInvalidClass
	}
	if err := identity.Validate(); err != nil {
		return err
	}
	if identity.IsTeacher() || !m.cfg.EnforceEnrollment {
		return nil
	}

	ok, err := m.IsEnrolled(ctx, classID, identity.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotEnrolled, classID)
	}
	return nil
}

// Invalidate drops the cached roster of classID
func (m *Manager) Invalidate(classID string) {
	m.mu.Lock()
	delete(m.cache, classID)
	m.mu.Unlock()
}

// Stats reports cache occupancy
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"cached_classes":     len(m.cache),
		"enforce_enrollment": m.cfg.EnforceEnrollment,
	}
}

func (m *Manager) load(ctx context.Context, classID string) (*cachedRoster, error) {
	m.mu.RLock()
	r, ok := m.cache[classID]
	m.mu.RUnlock()
	if ok && m.now().Sub(r.loadedAt) < m.cfg.CacheTTL {
		return r, nil
	}

	ids, err := m.roster.ListStudents(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("%w: list students: %w", interfaces.ErrStorageFailure, err)
	}

	r = &cachedRoster{
		students: make(map[string]struct{}, len(ids)),
		ordered:  removeDuplicates(ids),
		loadedAt: m.now(),
	}
	for _, id := range r.ordered {
		r.students[id] = struct{}{}
	}

	m.mu.Lock()
	m.cache[classID] = r
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"class_id": classID, "students": len(r.ordered)}).Debug("roster loaded")
	return r, nil
}

func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
