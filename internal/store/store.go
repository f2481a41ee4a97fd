package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"nlcal/internal/model"
)

var (
	ErrNotFound        = errors.New("store: event not found")
	ErrVersionConflict = errors.New("store: version conflict")
	ErrExists          = errors.New("store: event id already exists")
)

// EventStore is the durable calendar. Every write bumps Version.
type EventStore interface {
	Create(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error)
	Update(ctx context.Context, id string, p Patch) (model.CalendarEvent, error)
	Delete(ctx context.Context, id string) error
	// List returns events overlapping [rangeStart, rangeEnd) plus every
	// recurring event that starts before rangeEnd, sorted by start.
	List(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.CalendarEvent, error)
	GetByID(ctx context.Context, id string) (model.CalendarEvent, error)
}

// Patch carries the fields an Update changes. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Start       *time.Time
	End         *time.Time
	AllDay      *bool
	Location    *string
	Category    *model.Category
	Color       *string
	Timezone    *string
	Recurrence  *model.RecurrenceRule
	// ClearRecurrence turns a recurring event into a single one.
	ClearRecurrence bool

	// IfVersion, when non-zero, must equal the stored Version.
	IfVersion int
}

// Apply returns ev with the patch applied. Version and timestamps are the
// caller's business.
func (p Patch) Apply(ev model.CalendarEvent) model.CalendarEvent {
	out := ev.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Start != nil {
		out.Start = *p.Start
	}
	if p.End != nil {
		out.End = *p.End
	}
	if p.AllDay != nil {
		out.AllDay = *p.AllDay
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.Color != nil {
		out.Color = *p.Color
	}
	if p.Timezone != nil {
		out.Timezone = *p.Timezone
	}
	if p.Recurrence != nil {
		r := p.Recurrence.Clone()
		out.Recurrence = &r
	}
	if p.ClearRecurrence {
		out.Recurrence = nil
	}
	return out
}

// prepare fills defaults on a new event and validates it.
func prepare(ev model.CalendarEvent, id string, now time.Time) (model.CalendarEvent, error) {
	ev = ev.Clone()
	ev.ID = id
	ev.OriginalEvent = ""
	if ev.Category == "" {
		ev.Category = model.InferCategory(ev.Title)
	}
	if ev.Color == "" {
		ev.Color = ev.Category.Color()
	}
	if ev.Timezone == "" {
		ev.Timezone = ev.Start.Location().String()
	}
	if err := ev.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	ev.Version = 1
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return ev, nil
}

func inRange(ev model.CalendarEvent, rangeStart, rangeEnd time.Time) bool {
	if ev.Recurrence != nil {
		return ev.Start.Before(rangeEnd)
	}
	return ev.Start.Before(rangeEnd) && rangeStart.Before(ev.End)
}

func sortByStart(events []model.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
