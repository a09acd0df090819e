package router

import "errors"

var (
	ErrInvalidJSON       = errors.New("frame is not valid JSON")
	ErrFrameTooLarge     = errors.New("frame exceeds size limit")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
