package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frequency of a recurrence rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Valid reports whether f is a supported frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

type terminationKind int

const (
	terminateNever terminationKind = iota
	terminateCount
	terminateUntil
)

// Termination bounds a recurrence: never, after a number of occurrences, or
// at an until date. Exactly one of these holds; the zero value is Never.
type Termination struct {
	kind  terminationKind
	count int
	until time.Time
}

// Never returns an unbounded termination.
func Never() Termination { return Termination{} }

// AfterCount stops after n occurrences.
func AfterCount(n int) Termination { return Termination{kind: terminateCount, count: n} }

// UntilDate stops after the last occurrence on or before t.
func UntilDate(t time.Time) Termination { return Termination{kind: terminateUntil, until: t} }

// Count returns the occurrence count and whether this is a count termination.
func (t Termination) Count() (int, bool) { return t.count, t.kind == terminateCount }

// Until returns the until date and whether this is an until termination.
func (t Termination) Until() (time.Time, bool) { return t.until, t.kind == terminateUntil }

// IsNever reports whether the rule is unbounded.
func (t Termination) IsNever() bool { return t.kind == terminateNever }

func (t Termination) String() string {
	switch t.kind {
	case terminateCount:
		return fmt.Sprintf("count=%d", t.count)
	case terminateUntil:
		return "until=" + t.until.Format("2006-01-02")
	default:
		return "never"
	}
}

type terminationJSON struct {
	Count *int       `json:"count,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

func (t Termination) MarshalJSON() ([]byte, error) {
	var out terminationJSON
	switch t.kind {
	case terminateCount:
		n := t.count
		out.Count = &n
	case terminateUntil:
		u := t.until
		out.Until = &u
	}
	return json.Marshal(out)
}

func (t *Termination) UnmarshalJSON(data []byte) error {
	var in terminationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Count != nil && in.Until != nil:
		return errors.New("termination: count and until are mutually exclusive")
	case in.Count != nil:
		*t = AfterCount(*in.Count)
	case in.Until != nil:
		*t = UntilDate(*in.Until)
	default:
		*t = Never()
	}
	return nil
}

// RecurrenceRule describes how a base event repeats.
type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"`
	ByWeekday  []time.Weekday `json:"byWeekday,omitempty"`
	ByMonthDay []int          `json:"byMonthDay,omitempty"`
	ByMonth    []int          `json:"byMonth,omitempty"`
	End        Termination    `json:"end"`
	// Exceptions are dates (year, month, day in the event's zone) excluded
	// from expansion.
	Exceptions []time.Time `json:"exceptions,omitempty"`
}

// Validate checks the rule's own invariants.
func (r *RecurrenceRule) Validate() error {
	if !r.Frequency.Valid() {
		return fmt.Errorf("recurrence: unknown frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("recurrence: interval must be >= 1, got %d", r.Interval)
	}
	if n, ok := r.End.Count(); ok && n < 1 {
		return fmt.Errorf("recurrence: count must be >= 1, got %d", n)
	}
	for _, d := range r.ByMonthDay {
		if d == 0 || d < -31 || d > 31 {
			return fmt.Errorf("recurrence: invalid month day %d", d)
		}
	}
	for _, m := range r.ByMonth {
		if m < 1 || m > 12 {
			return fmt.Errorf("recurrence: invalid month %d", m)
		}
	}
	return nil
}

// HasException reports whether the date of t (in loc) is excluded.
func (r *RecurrenceRule) HasException(t time.Time, loc *time.Location) bool {
	for _, ex := range r.Exceptions {
		if SameDay(ex, t, loc) {
			return true
		}
	}
	return false
}

// AddException excludes the date of t. Duplicate dates are ignored.
func (r *RecurrenceRule) AddException(t time.Time, loc *time.Location) {
	if r.HasException(t, loc) {
		return
	}
	y, m, d := t.In(loc).Date()
	r.Exceptions = append(r.Exceptions, time.Date(y, m, d, 0, 0, 0, 0, loc))
}

// Clone returns a deep copy of r.
func (r RecurrenceRule) Clone() RecurrenceRule {
	r.ByWeekday = append([]time.Weekday(nil), r.ByWeekday...)
	r.ByMonthDay = append([]int(nil), r.ByMonthDay...)
	r.ByMonth = append([]int(nil), r.ByMonth...)
	r.Exceptions = append([]time.Time(nil), r.Exceptions...)
	return r
}
