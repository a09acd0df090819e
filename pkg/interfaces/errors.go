package interfaces

import "errors"

// Error taxonomy shared by the coordinator and its collaborators
// ARCHITECTURAL DISCOVERY: Sentinels are matched with errors.Is so stores and
// authenticators can wrap them with context
var (
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrNotAuthorized       = errors.New("not authorized for this action")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrNotFound            = errors.New("not found")
	ErrStorageFailure      = errors.New("storage failure")
)
