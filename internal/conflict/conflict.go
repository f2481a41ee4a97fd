package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
	"nlcal/internal/recurrence"
)

const defaultMaxSuggestions = 3

// Lister is the read side of the event store the detector needs.
type Lister interface {
	List(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.CalendarEvent, error)
}

// WorkingHours is a daily window expressed as offsets from local midnight.
type WorkingHours struct {
	Start time.Duration
	End   time.Duration
}

// DefaultWorkingHours is 09:00-18:00.
var DefaultWorkingHours = WorkingHours{Start: 9 * time.Hour, End: 18 * time.Hour}

// Options configures a Detector.
type Options struct {
	Location     *time.Location
	WorkingHours WorkingHours
	// SearchDays bounds how many days forward Suggest looks for slots.
	SearchDays int
	// MaxSuggestions caps the alternatives attached to a conflict.
	MaxSuggestions int
	// Now is used to drop suggestions in the past. Defaults to time.Now.
	Now func() time.Time
}

// Detector reports overlaps against the event store and proposes free slots.
type Detector struct {
	events Lister
	opts   Options
}

// NewDetector constructs a Detector over events.
func NewDetector(events Lister, opts Options) *Detector {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.WorkingHours.End <= opts.WorkingHours.Start {
		opts.WorkingHours = DefaultWorkingHours
	}
	if opts.SearchDays <= 0 {
		opts.SearchDays = 1
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = defaultMaxSuggestions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{events: events, opts: opts}
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// CheckConflict reports every timed event overlapping [start, end). Events
// whose id or base id equals excludeID are ignored so an event being updated
// does not conflict with itself. On conflict up to MaxSuggestions
// alternatives of the same duration are attached.
func (d *Detector) CheckConflict(ctx context.Context, start, end time.Time, excludeID string) (model.ConflictInfo, error) {
	var info model.ConflictInfo
	if !end.After(start) {
		return info, fmt.Errorf("check conflict: %w", model.ErrInvalidTimeRange)
	}

	events, err := d.instances(ctx, start, end)
	if err != nil {
		return info, err
	}

	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		if excludeID != "" && (ev.ID == excludeID || ev.BaseID() == excludeID) {
			continue
		}
		if Overlaps(start, end, ev.Start, ev.End) {
			info.ConflictingEvents = append(info.ConflictingEvents, ev)
		}
	}

	if len(info.ConflictingEvents) == 0 {
		return info, nil
	}
	info.HasConflict = true

	suggestions, err := d.Suggest(ctx, start.In(d.opts.Location), end.Sub(start), excludeID)
	if err != nil {
		// Suggestions are advisory; the conflict itself is still reported.
		appLog.Error("conflict: slot suggestion failed", err, "start", start.Format(time.RFC3339))
		return info, nil
	}
	info.Suggestions = suggestions

	appLog.Debug("conflict detected",
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"conflicts", len(info.ConflictingEvents),
		"suggestions", len(info.Suggestions),
	)
	return info, nil
}

// FindAvailableSlots returns free slots of exactly duration on date's day
// within hours. Only gaps at least duration long yield a slot, and each slot
// is clipped to the requested duration starting at the beginning of the gap.
func (d *Detector) FindAvailableSlots(ctx context.Context, date time.Time, duration time.Duration, hours WorkingHours) ([]model.TimeSlot, error) {
	day := model.DayStart(date.In(d.opts.Location))
	events, err := d.instances(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return FreeSlots(events, day, duration, hours, ""), nil
}

// Suggest collects up to MaxSuggestions free slots starting on from's day and
// walking forward SearchDays days. Slots that start before max(from's day
// start, now) are skipped.
func (d *Detector) Suggest(ctx context.Context, from time.Time, duration time.Duration, excludeID string) ([]model.TimeSlot, error) {
	out := make([]model.TimeSlot, 0, d.opts.MaxSuggestions)
	now := d.opts.Now()
	day := model.DayStart(from.In(d.opts.Location))

	for i := 0; i < d.opts.SearchDays && len(out) < d.opts.MaxSuggestions; i++ {
		cur := day.AddDate(0, 0, i)
		events, err := d.instances(ctx, cur, cur.AddDate(0, 0, 1))
		if err != nil {
			return out, err
		}
		for _, slot := range FreeSlots(events, cur, duration, d.opts.WorkingHours, excludeID) {
			if slot.Start.Before(now) {
				continue
			}
			out = append(out, slot)
			if len(out) == d.opts.MaxSuggestions {
				break
			}
		}
	}
	return out, nil
}

// FreeSlots is the pure gap walk behind FindAvailableSlots. day must be a
// local midnight; events may include other days and all-day events, which
// are ignored.
func FreeSlots(events []model.CalendarEvent, day time.Time, duration time.Duration, hours WorkingHours, excludeID string) []model.TimeSlot {
	if duration <= 0 {
		return nil
	}
	winStart := atClock(day, hours.Start)
	winEnd := atClock(day, hours.End)
	if !winEnd.After(winStart) {
		return nil
	}

	timed := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.AllDay {
			continue
		}
		if excludeID != "" && (ev.ID == excludeID || ev.BaseID() == excludeID) {
			continue
		}
		if !Overlaps(ev.Start, ev.End, winStart, winEnd) {
			continue
		}
		timed = append(timed, ev)
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Start.Before(timed[j].Start)
	})

	var slots []model.TimeSlot
	cursor := winStart
	for _, ev := range timed {
		if ev.Start.Sub(cursor) >= duration {
			slots = append(slots, model.TimeSlot{Start: cursor, End: cursor.Add(duration), Available: true})
		}
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	if winEnd.Sub(cursor) >= duration {
		slots = append(slots, model.TimeSlot{Start: cursor, End: cursor.Add(duration), Available: true})
	}
	return slots
}

// atClock returns the wall-clock reading offset past midnight on day, so the
// window keeps its hours on days with a DST shift.
func atClock(day time.Time, offset time.Duration) time.Time {
	y, m, d := day.Date()
	h := int(offset / time.Hour)
	min := int(offset % time.Hour / time.Minute)
	return time.Date(y, m, d, h, min, 0, 0, day.Location())
}

func (d *Detector) instances(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	stored, err := d.events.List(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	res, err := recurrence.ExpandEvents(stored, recurrence.ExpandConfig{
		DisplayLocation: d.opts.Location,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}
