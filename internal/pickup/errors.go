package pickup

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the target pickup no longer exists.
	ErrNotFound = errors.New("pickup not found")
	// ErrAlreadyPending means the student is already waiting.
	ErrAlreadyPending = errors.New("student already pending")
	// ErrAlreadyReleased means the student was released today.
	ErrAlreadyReleased = errors.New("student already released today")
	// ErrThrottled means the click cooldown has not elapsed.
	ErrThrottled = errors.New("action throttled")
	// ErrUnavailable means the pickup store could not be reached.
	ErrUnavailable = errors.New("pickup store unavailable")
)

// DuplicateError carries the pickup that is already waiting.
type DuplicateError struct {
	Existing PendingPickup
	Waiting  time.Duration
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s is already waiting (%d minutes)", e.Existing.Name, int(e.Waiting.Round(time.Minute)/time.Minute))
}

// Is reports ErrAlreadyPending.
func (e *DuplicateError) Is(target error) bool { return target == ErrAlreadyPending }

// ThrottledError carries the remaining cooldown.
type ThrottledError struct {
	Name      string
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("wait %s before marking %s again", e.Remaining.Round(time.Second), e.Name)
}

// Is reports ErrThrottled.
func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// StoreError is a failed remote read or write.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("pickup store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrUnavailable.
func (e *StoreError) Is(target error) bool { return target == ErrUnavailable }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
