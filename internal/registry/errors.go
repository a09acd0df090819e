package registry

import "errors"

var (
	ErrNilConnection      = errors.New("connection cannot be nil")
	ErrAlreadyInOtherRoom = errors.New("connection already belongs to another room")
)
