package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	dbconfig "classroom/pkg/database"
	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

var log = logrus.WithField("component", "database")

// Manager implements interfaces.Store on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay time.Duration
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db, config.MigrationsPath).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   500 * time.Millisecond,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			// FUNCTIONAL DISCOVERY: Only lock contention is worth one retry; constraint
			// violations are answers, not failures
			if isBusy(err) {
				log.WithError(err).Warn("database busy, retrying write once")
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			log.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", interfaces.ErrStorageFailure)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", interfaces.ErrStorageFailure, ctx.Err())
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write operation timeout", interfaces.ErrStorageFailure)
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", interfaces.ErrStorageFailure)
	}

	return <-result
}

// ListStudents returns the user IDs enrolled in a class
func (m *Manager) ListStudents(ctx context.Context, classID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT student_id FROM enrollments
		WHERE class_id = ?
		ORDER BY enrolled_at, student_id
	`, classID)
	if err != nil {
		return nil, storageErr("query enrollments", err)
	}
	defer func() { _ = rows.Close() }()

	var students []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan enrollment row", err)
		}
		students = append(students, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate enrollment rows", err)
	}
	return students, nil
}

// GetQuestion retrieves a question by ID
func (m *Manager) GetQuestion(ctx context.Context, questionID string) (*types.Question, error) {
	var q types.Question
	err := m.db.QueryRowContext(ctx, `
		SELECT id, class_id, text, created_at FROM questions WHERE id = ?
	`, questionID).Scan(&q.ID, &q.ClassID, &q.Text, &q.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("question %s: %w", questionID, interfaces.ErrNotFound)
		}
		return nil, storageErr("query question", err)
	}
	return &q, nil
}

// GetOptions returns the options of a question in their authored order
func (m *Manager) GetOptions(ctx context.Context, questionID string) ([]*types.Option, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, question_id, text, is_correct FROM options
		WHERE question_id = ?
		ORDER BY position, rowid
	`, questionID)
	if err != nil {
		return nil, storageErr("query options", err)
	}
	defer func() { _ = rows.Close() }()

	var options []*types.Option
	for rows.Next() {
		var o types.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return nil, storageErr("scan option row", err)
		}
		options = append(options, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate option rows", err)
	}
	return options, nil
}

// RecordResponse persists an answer, mapping the (student, question) uniqueness
// violation onto ErrDuplicateSubmission
func (m *Manager) RecordResponse(ctx context.Context, r *types.Response) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO responses (id, student_id, question_id, option_id, time_taken, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, r.StudentID, r.QuestionID, r.OptionID, r.TimeTaken, r.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("response %s/%s: %w", r.StudentID, r.QuestionID, interfaces.ErrDuplicateSubmission)
		}
		if err != nil {
			return storageErr("insert response", err)
		}
		return nil
	})
}

// AwardPoints adds amount to the student's class score in a single upsert
// ARCHITECTURAL DISCOVERY: The increment happens inside SQLite, so concurrent
// awards never read-modify-write a stale total
func (m *Manager) AwardPoints(ctx context.Context, studentID, classID string, amount int) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO points (id, student_id, class_id, score)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(student_id, class_id) DO UPDATE SET score = score + excluded.score
		`, uuid.NewString(), studentID, classID, amount)
		if err != nil {
			return storageErr("award points", err)
		}
		return nil
	})
}

func (m *Manager) RecordFocusEvent(ctx context.Context, e *types.FocusEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO focus_logs (id, student_id, class_id, duration, event_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, e.StudentID, e.ClassID, e.Duration, e.EventType, e.CreatedAt)
		if err != nil {
			return storageErr("insert focus event", err)
		}
		return nil
	})
}

func (m *Manager) RecordPopupDispatch(ctx context.Context, d *types.PopupDispatch) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO popup_logs (id, cycle_id, class_id, student_id, responded, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(cycle_id, student_id) DO NOTHING
		`, d.ID, d.CycleID, d.ClassID, d.StudentID, d.Responded, d.CreatedAt)
		if err != nil {
			return storageErr("insert popup dispatch", err)
		}
		return nil
	})
}

// MarkPopupResponded flags the dispatch row; ErrNotFound when it was never recorded
func (m *Manager) MarkPopupResponded(ctx context.Context, cycleID, studentID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE popup_logs SET responded = 1
			WHERE cycle_id = ? AND student_id = ?
		`, cycleID, studentID)
		if err != nil {
			return storageErr("mark popup responded", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return storageErr("mark popup responded", err)
		}
		if n == 0 {
			return fmt.Errorf("popup %s/%s: %w", cycleID, studentID, interfaces.ErrNotFound)
		}
		return nil
	})
}

// CreateUser inserts an account row. Credentials are managed elsewhere.
func (m *Manager) CreateUser(ctx context.Context, id, name, email string, role types.Role) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
		`, id, name, email, string(role))
		if err != nil {
			return storageErr("insert user", err)
		}
		return nil
	})
}

func (m *Manager) CreateClass(ctx context.Context, id, teacherID, title, code string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO classes (id, teacher_id, title, code) VALUES (?, ?, ?, ?)
		`, id, teacherID, title, code)
		if err != nil {
			return storageErr("insert class", err)
		}
		return nil
	})
}

// Enroll adds a student to a class; enrolling twice is a no-op
func (m *Manager) Enroll(ctx context.Context, classID, studentID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO enrollments (id, class_id, student_id) VALUES (?, ?, ?)
			ON CONFLICT(class_id, student_id) DO NOTHING
		`, uuid.NewString(), classID, studentID)
		if err != nil {
			return storageErr("insert enrollment", err)
		}
		return nil
	})
}

// CreateQuestion stores a question with its options atomically; option order is preserved
func (m *Manager) CreateQuestion(ctx context.Context, q *types.Question, options []*types.Option) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("begin question transaction", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (id, class_id, text, created_at) VALUES (?, ?, ?, ?)
		`, q.ID, q.ClassID, q.Text, q.CreatedAt); err != nil {
			return storageErr("insert question", err)
		}

		for i, o := range options {
			if o.ID == "" {
				o.ID = uuid.NewString()
			}
			o.QuestionID = q.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO options (id, question_id, position, text, is_correct) VALUES (?, ?, ?, ?, ?)
			`, o.ID, o.QuestionID, i, o.Text, o.IsCorrect); err != nil {
				return storageErr("insert option", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return storageErr("commit question", err)
		}
		return nil
	})
}

// GetScore returns the student's total for a class, zero when no row exists
func (m *Manager) GetScore(ctx context.Context, studentID, classID string) (int, error) {
	var score int
	err := m.db.QueryRowContext(ctx, `
		SELECT score FROM points WHERE student_id = ? AND class_id = ?
	`, studentID, classID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("query score", err)
	}
	return score, nil
}

// ListScores returns a class's scores ordered from highest to lowest
func (m *Manager) ListScores(ctx context.Context, classID string) ([]types.Score, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT student_id, class_id, score FROM points
		WHERE class_id = ?
		ORDER BY score DESC, student_id
	`, classID)
	if err != nil {
		return nil, storageErr("query scores", err)
	}
	defer func() { _ = rows.Close() }()

	scores := []types.Score{}
	for rows.Next() {
		var s types.Score
		if err := rows.Scan(&s.StudentID, &s.ClassID, &s.Score); err != nil {
			return nil, storageErr("scan score row", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate score rows", err)
	}
	return scores, nil
}

// CountPopups reports how many popups a student received in a class and how many were answered
func (m *Manager) CountPopups(ctx context.Context, classID, studentID string) (total, responded int, err error) {
	err = m.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(responded), 0) FROM popup_logs
		WHERE class_id = ? AND student_id = ?
	`, classID, studentID).Scan(&total, &responded)
	if err != nil {
		return 0, 0, storageErr("count popups", err)
	}
	return total, responded, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return storageErr("database ping", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		return storageErr("database read test", err)
	}
	return nil
}

// GetDB returns the underlying database connection for schema tooling
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the writer and the connection pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", interfaces.ErrStorageFailure, op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}
