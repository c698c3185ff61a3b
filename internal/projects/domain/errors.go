package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrFileNotFound    = errors.New("file entry not found")
	ErrNoFiles         = errors.New("no files uploaded")
)

// RejectedError reports a refused status transition. It is an expected
// concurrency-control outcome, not an infrastructure fault: the caller
// maps Current to a user-facing reason.
type RejectedError struct {
	Current Status
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transition rejected: project is %s", e.Current)
}

// IsRejected returns the observed status when err is a rejected
// transition.
func IsRejected(err error) (Status, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Current, true
	}
	return "", false
}
