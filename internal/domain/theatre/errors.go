package theatre

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidYear     = errors.New("year must be between 2024 and 2030")
	ErrInvalidMonth    = errors.New("month must be between 1 and 12")
	ErrPersistence     = errors.New("schedule persistence failed")
	ErrRunInProgress   = errors.New("a schedule run for this month is already in progress")
	ErrSessionNotFound = errors.New("theatre session not found")
)

const (
	MinYear = 2024
	MaxYear = 2030
)

// ValidateMonth checks the target month of a run before any data is touched.
func ValidateMonth(year int, month time.Month) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("%w: got %d", ErrInvalidYear, year)
	}
	if month < time.January || month > time.December {
		return fmt.Errorf("%w: got %d", ErrInvalidMonth, int(month))
	}
	return nil
}

// Persistence phases.
const (
	PhaseClear = "clear"
	PhaseWrite = "write"
)

// WriteFailure identifies one session that could not be written.
type WriteFailure struct {
	SessionID    uuid.UUID `json:"sessionId"`
	Date         string    `json:"date"`
	ConsultantID string    `json:"consultantId"`
	Err          string    `json:"error"`
}

// PersistenceError reports which phase failed and, for writes, which
// sessions were lost.
type PersistenceError struct {
	Phase    string
	Failures []WriteFailure
	Cause    error
}

func (e *PersistenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s phase failed", e.Phase)
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, ": %d session(s) not written", len(e.Failures))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *PersistenceError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrPersistence, e.Cause}
	}
	return []error{ErrPersistence}
}
