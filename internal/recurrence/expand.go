package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Expand generates the occurrences of rule whose start falls inside
// [rangeStart, rangeEnd].
//
//   - The rule is evaluated on the wall clock of sourceTz, so DST shifts do
//     not move a 9am meeting.
//   - Exception dates are skipped by calendar date.
//   - Every occurrence keeps the base duration (baseEnd - baseStart).
//   - When targetTz differs from sourceTz, the wall-clock time is carried
//     over unchanged into targetTz rather than shifting the instant.
//
// A nil sourceTz defaults to baseStart's location; a nil targetTz to sourceTz.
func Expand(baseID string, rule model.RecurrenceRule, baseStart, baseEnd, rangeStart, rangeEnd time.Time, sourceTz, targetTz *time.Location) ([]model.Occurrence, error) {
	occ, _, err := expand(baseID, rule, baseStart, baseEnd, rangeStart, rangeEnd, sourceTz, targetTz, defaultMaxOccurrencesPerEvent)
	return occ, err
}

func expand(baseID string, rule model.RecurrenceRule, baseStart, baseEnd, rangeStart, rangeEnd time.Time, sourceTz, targetTz *time.Location, limit int) ([]model.Occurrence, bool, error) {
	if rangeEnd.Before(rangeStart) {
		return nil, false, errors.New("expand: rangeEnd is before rangeStart")
	}
	if !baseEnd.After(baseStart) {
		return nil, false, fmt.Errorf("expand %s: %w", baseID, model.ErrInvalidTimeRange)
	}
	if err := rule.Validate(); err != nil {
		return nil, false, fmt.Errorf("expand %s: %w", baseID, err)
	}
	if sourceTz == nil {
		sourceTz = baseStart.Location()
	}
	if targetTz == nil {
		targetTz = sourceTz
	}

	dtstart := baseStart.In(sourceTz)
	r, err := rrule.NewRRule(ROption(rule, dtstart))
	if err != nil {
		return nil, false, fmt.Errorf("expand %s: %w", baseID, err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range rule.Exceptions {
		// Align EXDATE with the occurrence's wall-clock start on that date.
		y, m, d := ex.In(sourceTz).Date()
		set.ExDate(time.Date(y, m, d, dtstart.Hour(), dtstart.Minute(), dtstart.Second(), dtstart.Nanosecond(), sourceTz))
	}

	occTimes := set.Between(rangeStart.In(sourceTz), rangeEnd.In(sourceTz), true)

	hitCap := false
	if limit > 0 && len(occTimes) > limit {
		occTimes = occTimes[:limit]
		hitCap = true
	}

	dur := baseEnd.Sub(baseStart)
	reinterpret := sourceTz.String() != targetTz.String()

	out := make([]model.Occurrence, 0, len(occTimes))
	for _, start := range occTimes {
		if rule.HasException(start, sourceTz) {
			continue
		}
		end := start.Add(dur)
		if reinterpret {
			start = rewall(start, targetTz)
			end = rewall(end, targetTz)
		}
		out = append(out, model.Occurrence{
			ID:            model.OccurrenceID(baseID, start),
			OriginalEvent: baseID,
			Start:         start,
			End:           end,
		})
	}
	return out, hitCap, nil
}

// rewall keeps t's wall-clock reading but places it in loc.
func rewall(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ExpandConfig controls how stored events are turned into concrete instances.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all instances are converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the window; an instance is kept when it
	// overlaps [RangeStart, RangeEnd).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the expanded instances and truncation information.
type ExpandResult struct {
	Events []model.CalendarEvent
	// TruncatedEvents records base ids that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandEvents flattens stored events into concrete instances sorted by start.
// Recurring events become occurrences with OriginalEvent set; single events
// are passed through when they overlap the window. Rules that fail to expand
// are logged and skipped.
func ExpandEvents(events []model.CalendarEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence == nil {
			if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
				inst := ev.Clone()
				inst.Start = ev.Start.In(cfg.DisplayLocation)
				inst.End = ev.End.In(cfg.DisplayLocation)
				out = append(out, inst)
			}
			continue
		}

		// Widen the window so occurrences that started earlier but are still
		// running at RangeStart are included.
		from := cfg.RangeStart.Add(-ev.Duration())
		// Expanded in the event's own zone; Instance only moves the instant to
		// DisplayLocation, it does not reread the wall clock there.
		occs, hitCap, err := expand(ev.ID, *ev.Recurrence, ev.Start, ev.End, from, cfg.RangeEnd,
			ev.Zone(), ev.Zone(), cfg.MaxOccurrencesPerEvent)
		if err != nil {
			appLog.Error("expand: failed to expand rule", err, "id", ev.ID, "rule", ev.Recurrence.Frequency)
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"id", ev.ID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		for _, o := range occs {
			if !overlaps(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
				continue
			}
			out = append(out, Instance(ev, o, cfg.DisplayLocation))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	result.Events = out
	return result, nil
}

// Instance materializes an occurrence of base as a CalendarEvent in loc.
func Instance(base model.CalendarEvent, o model.Occurrence, loc *time.Location) model.CalendarEvent {
	inst := base.Clone()
	inst.ID = o.ID
	inst.OriginalEvent = o.OriginalEvent
	inst.Start = o.Start.In(loc)
	inst.End = o.End.In(loc)
	inst.Recurrence = nil
	return inst
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
