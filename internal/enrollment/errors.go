package enrollment

import "errors"

var (
	ErrNotEnrolled  = errors.New("student is not enrolled in this class")
	ErrInvalidClass = errors.New("invalid class ID")
)
