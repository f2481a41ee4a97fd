package recurrence

import (
	"fmt"
	"time"

	"nlcal/internal/model"
)

// DeleteMode selects how much of a recurring series a deletion removes.
type DeleteMode string

const (
	// DeleteSingle removes one occurrence by adding an exception date.
	DeleteSingle DeleteMode = "single"
	// DeleteFollowing truncates the series before the given date.
	DeleteFollowing DeleteMode = "following"
	// DeleteAll removes the base event and with it every occurrence.
	DeleteAll DeleteMode = "all"
)

// ParseDeleteMode maps a string to a DeleteMode, defaulting to DeleteSingle.
func ParseDeleteMode(s string) DeleteMode {
	switch DeleteMode(s) {
	case DeleteFollowing, DeleteAll:
		return DeleteMode(s)
	}
	return DeleteSingle
}

// ApplyDeletion mutates base's rule according to mode for the occurrence on
// date. It reports removeBase when the base event itself must be deleted:
// always for DeleteAll, and for DeleteFollowing when no occurrence would
// remain before date.
//
// DeleteFollowing sets the until bound to the day before date. A count-bound
// series whose last occurrence already precedes date is left unchanged.
func ApplyDeletion(base *model.CalendarEvent, mode DeleteMode, date time.Time) (removeBase bool, err error) {
	if base.Recurrence == nil {
		return true, nil
	}
	loc := base.Zone()
	rule := base.Recurrence

	switch mode {
	case DeleteAll:
		return true, nil

	case DeleteSingle:
		rule.AddException(date, loc)
		return false, nil

	case DeleteFollowing:
		y, m, d := date.In(loc).Date()
		cut := time.Date(y, m, d, 0, 0, 0, 0, loc)
		if !cut.After(model.DayStart(base.Start.In(loc))) {
			return true, nil
		}

		if _, ok := rule.End.Count(); ok {
			remaining, err := Expand(base.ID, *rule, base.Start, base.End, cut, cut.AddDate(100, 0, 0), loc, loc)
			if err != nil {
				return false, err
			}
			if len(remaining) == 0 {
				return false, nil
			}
		}
		if u, ok := rule.End.Until(); ok && u.Before(cut) {
			return false, nil
		}

		rule.End = model.UntilDate(cut.AddDate(0, 0, -1))
		return false, nil
	}

	return false, fmt.Errorf("unknown delete mode %q", mode)
}
