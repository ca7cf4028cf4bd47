package ardent

import "errors"

var (
	// Membership errors.
	ErrSelfNotFound          = errors.New("ardent: own identity not present in fleet membership")
	ErrMembershipUnavailable = errors.New("ardent: fleet membership unavailable")

	// Correlation errors.
	ErrAlreadyTracked = errors.New("ardent: call already outstanding for task")

	// Backlog errors.
	ErrTaskNotFound = errors.New("ardent: task not found")
	ErrStoreClosed  = errors.New("ardent: backlog store closed")

	// Configuration errors.
	ErrInvalidConfig = errors.New("ardent: invalid configuration")
)
