package interfaces

import (
	"context"

	"classroom/pkg/types"
)

// Store is the narrow query interface to durable classroom data
// ARCHITECTURAL DISCOVERY: The coordinator never stores totals or history itself;
// every durable side effect goes through this interface
type Store interface {
	// ListStudents returns the user IDs enrolled in a class
	ListStudents(ctx context.Context, classID string) ([]string, error)

	// GetQuestion returns ErrNotFound when the question does not exist
	GetQuestion(ctx context.Context, questionID string) (*types.Question, error)

	// GetOptions returns the options of a question in creation order
	GetOptions(ctx context.Context, questionID string) ([]*types.Option, error)

	// RecordResponse persists an answer; a second answer for the same
	// (student, question) pair fails with ErrDuplicateSubmission
	RecordResponse(ctx context.Context, response *types.Response) error

	// AwardPoints adds amount to the (student, class) score, creating the row at zero first.
	// Must be atomic with respect to concurrent awards.
	AwardPoints(ctx context.Context, studentID, classID string, amount int) error

	RecordFocusEvent(ctx context.Context, event *types.FocusEvent) error

	RecordPopupDispatch(ctx context.Context, dispatch *types.PopupDispatch) error

	// MarkPopupResponded flags the (cycle, student) row as answered
	MarkPopupResponded(ctx context.Context, cycleID, studentID string) error

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	Close() error
}
