package notice

import (
	"errors"
	"fmt"
	"math"
	"time"

	"dismissal/internal/pickup"
	"dismissal/internal/roster"
)

// Level is the alert style of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Kind identifies the outcome a notice reports.
type Kind string

const (
	KindMarked          Kind = "marked"
	KindUndone          Kind = "undone"
	KindReleased        Kind = "released"
	KindReset           Kind = "reset"
	KindResetFailed     Kind = "reset_failed"
	KindDuplicate       Kind = "duplicate"
	KindThrottled       Kind = "throttled"
	KindNotFound        Kind = "not_found"
	KindAlreadyReleased Kind = "already_released"
	KindDegraded        Kind = "degraded"
	KindIOFailure       Kind = "io_failure"
)

// Notice is a transient message shown to staff after an action.
type Notice struct {
	Kind    Kind      `json:"kind"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Student string    `json:"student,omitempty"`
	At      time.Time `json:"at"`
}

// Marked reports a parent arrival.
func Marked(p pickup.PendingPickup) Notice {
	return Notice{Kind: KindMarked, Level: LevelSuccess, Student: p.Name, At: p.Timestamp,
		Message: fmt.Sprintf("%s marked for pickup", p.Name)}
}

// Undone reports a withdrawn arrival.
func Undone(p pickup.PendingPickup, at time.Time) Notice {
	return Notice{Kind: KindUndone, Level: LevelSuccess, Student: p.Name, At: at,
		Message: fmt.Sprintf("Undo successful, %s removed", p.Name)}
}

// Released reports a handoff.
func Released(r pickup.ReleasedPickup) Notice {
	return Notice{Kind: KindReleased, Level: LevelSuccess, Student: r.Name, At: r.ReleasedAt,
		Message: fmt.Sprintf("%s released safely", r.Name)}
}

// Reset reports a daily reset.
func Reset(at time.Time) Notice {
	return Notice{Kind: KindReset, Level: LevelSuccess, At: at,
		Message: "System reset for new day, all students available"}
}

// ResetFailed reports a daily reset that did not complete. It is retried on the next check.
func ResetFailed(at time.Time) Notice {
	return Notice{Kind: KindResetFailed, Level: LevelError, At: at,
		Message: "Error resetting system"}
}

// For maps an action error to its notice. A nil error yields false.
func For(err error, at time.Time) (Notice, bool) {
	if err == nil {
		return Notice{}, false
	}
	n := Notice{At: at, Level: LevelWarning}

	var (
		dup       *pickup.DuplicateError
		throttled *pickup.ThrottledError
	)
	switch {
	case errors.As(err, &dup):
		n.Kind, n.Student = KindDuplicate, dup.Existing.Name
		n.Message = fmt.Sprintf("%s is already waiting (%d minutes)", dup.Existing.Name, minutes(dup.Waiting))
	case errors.As(err, &throttled):
		n.Kind, n.Student = KindThrottled, throttled.Name
		n.Message = fmt.Sprintf("Wait %ds before marking %s again", int(math.Ceil(throttled.Remaining.Seconds())), throttled.Name)
	case errors.Is(err, pickup.ErrNotFound):
		n.Kind, n.Level = KindNotFound, LevelError
		n.Message = "Pickup not found"
	case errors.Is(err, pickup.ErrAlreadyReleased):
		n.Kind = KindAlreadyReleased
		n.Message = "Student was already released today"
	case errors.Is(err, roster.ErrDegraded):
		n.Kind = KindDegraded
		n.Message = "Using cached/sample data"
	default:
		n.Kind, n.Level = KindIOFailure, LevelError
		n.Message = "Could not reach the server, please try again"
	}
	return n, true
}

func minutes(d time.Duration) int {
	m := int(math.Round(d.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}
