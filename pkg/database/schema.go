package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

var requiredTables = map[string]string{
	"users":             "Account directory",
	"classes":           "Class catalogue",
	"enrollments":       "Class rosters",
	"popup_logs":        "Attendance popup dispatches",
	"questions":         "Question bank",
	"options":           "Answer options",
	"responses":         "Submitted answers",
	"focus_logs":        "Focus telemetry",
	"points":            "Per-class scores",
	"schema_migrations": "Migration tracking",
}

var requiredIndexes = map[string]string{
	"idx_enrollments_class":        "Roster lookups",
	"idx_popup_logs_class_student": "Attendance history",
	"idx_options_question":         "Option ordering",
	"idx_responses_question":       "Per-question aggregation",
	"idx_focus_logs_class_student": "Focus reports",
	"idx_points_class":             "Leaderboard queries",
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies the columns the store reads and writes
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := map[string]map[string]string{
		"questions": {
			"id": "TEXT", "class_id": "TEXT", "text": "TEXT", "created_at": "DATETIME",
		},
		"options": {
			"id": "TEXT", "question_id": "TEXT", "position": "INTEGER", "text": "TEXT", "is_correct": "INTEGER",
		},
		"responses": {
			"id": "TEXT", "student_id": "TEXT", "question_id": "TEXT", "option_id": "TEXT", "time_taken": "INTEGER",
		},
		"popup_logs": {
			"id": "TEXT", "cycle_id": "TEXT", "class_id": "TEXT", "student_id": "TEXT", "responded": "INTEGER",
		},
		"focus_logs": {
			"id": "TEXT", "student_id": "TEXT", "class_id": "TEXT", "duration": "INTEGER", "event_type": "TEXT",
		},
		"points": {
			"id": "TEXT", "student_id": "TEXT", "class_id": "TEXT", "score": "INTEGER",
		},
	}

	for table, columns := range tables {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints verifies that database constraints are properly enforced
// ARCHITECTURAL DISCOVERY: Probes run inside a transaction that is always rolled
// back, so validation never leaves rows behind
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Foreign key: responses.question_id -> questions.id
	if _, err := tx.Exec(`
		INSERT INTO responses (id, student_id, question_id, option_id)
		VALUES ('probe', 'nobody', 'nonexistent', 'nonexistent')
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: responses.question_id")
	}

	seed := []string{
		`INSERT INTO users (id, name, email, role) VALUES ('probe-t', 'T', 'probe-t@example.invalid', 'teacher')`,
		`INSERT INTO users (id, name, email, role) VALUES ('probe-s', 'S', 'probe-s@example.invalid', 'student')`,
		`INSERT INTO classes (id, teacher_id, title, code) VALUES ('probe-c', 'probe-t', 'Probe', 'PROBE0')`,
	}
	for _, stmt := range seed {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to seed constraint probe: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO focus_logs (id, student_id, class_id, event_type)
		VALUES ('probe-f', 'probe-s', 'probe-c', 'hover')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: focus_logs.event_type")
	}

	if _, err := tx.Exec(`INSERT INTO points (id, student_id, class_id) VALUES ('probe-p1', 'probe-s', 'probe-c')`); err != nil {
		return fmt.Errorf("failed to seed points probe: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO points (id, student_id, class_id) VALUES ('probe-p2', 'probe-s', 'probe-c')`); err == nil {
		return fmt.Errorf("unique constraint not enforced: points(student_id, class_id)")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, typ    string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = typ
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expectedColumns {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
