package features

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig    = errors.New("invalid feature configuration")
	ErrNonPositiveClose = errors.New("close must be a positive finite number")
	ErrUnsortedDates    = errors.New("dates are not in ascending order")
	ErrDuplicateDate    = errors.New("duplicate date")
	ErrColumnLength     = errors.New("column length does not match table length")
)

// RowError attaches the offending row to a data-quality error.
type RowError struct {
	Row  int
	Date time.Time
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Row, e.Date.Format("2006-01-02"), e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
