package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Validation errors surfaced to the requester. The task is not created
// and no state changes.
var (
	ErrEmptyDescription = errors.New("description must not be empty")
	ErrBadWhen          = errors.New("expected HH:MM or DD.MM HH:MM")
	ErrPastWhen         = errors.New("requested time is already past")
)

var whenRe = regexp.MustCompile(`^(?:(\d{1,2})\.(\d{1,2})\s+)?(\d{1,2}):(\d{2})$`)

// ParseWhen resolves a self-reminder time specification against now.
// A bare HH:MM means today, or tomorrow when the time has already
// passed. DD.MM HH:MM names an explicit date within now's year; an
// explicit date in the past is rejected rather than silently moved.
func ParseWhen(spec string, now time.Time) (time.Time, error) {
	m := whenRe.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWhen, spec)
	}

	hour, _ := strconv.Atoi(m[3])
	min, _ := strconv.Atoi(m[4])
	if hour > 23 || min > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWhen, spec)
	}

	loc := now.Location()

	if m[1] == "" {
		target := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, loc)
		if target.Before(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target, nil
	}

	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWhen, spec)
	}

	target := time.Date(now.Year(), time.Month(month), day, hour, min, 0, 0, loc)
	// time.Date normalizes out-of-range days (Feb 30 -> Mar 2); treat
	// that as a bad date rather than scheduling the wrong day.
	if target.Day() != day || target.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadWhen, spec)
	}
	if target.Before(now) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrPastWhen, target.Format("02.01.2006 15:04"))
	}
	return target, nil
}
