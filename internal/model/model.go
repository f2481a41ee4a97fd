package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTimeRange is returned when an event does not end after it starts.
	ErrInvalidTimeRange = errors.New("event end must be after start")
	// ErrEmptyTitle is returned for events without a title.
	ErrEmptyTitle = errors.New("event title is empty")
)

// Category is the closed set of event categories.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryStudy    Category = "study"
	CategoryHealth   Category = "health"
	CategorySocial   Category = "social"
	CategoryTravel   Category = "travel"
	CategoryOther    Category = "other"
)

var categoryColors = map[Category]string{
	CategoryWork:     "#3b82f6",
	CategoryPersonal: "#10b981",
	CategoryStudy:    "#8b5cf6",
	CategoryHealth:   "#ef4444",
	CategorySocial:   "#f59e0b",
	CategoryTravel:   "#06b6d4",
	CategoryOther:    "#6b7280",
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryColors[c]
	return ok
}

// Color returns the default display color of the category.
func (c Category) Color() string {
	if col, ok := categoryColors[c]; ok {
		return col
	}
	return categoryColors[CategoryOther]
}

// ParseCategory maps a free-form category name onto the enum, defaulting to
// CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// category keywords are checked in order; the first hit wins.
var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryWork, []string{"会议", "项目", "面试", "工作", "汇报", "评审", "客户", "出差", "例会", "开会"}},
	{CategoryStudy, []string{"课程", "考试", "讲座", "培训", "学习", "上课", "作业"}},
	{CategoryHealth, []string{"医院", "体检", "看病", "健身", "跑步", "牙医", "瑜伽"}},
	{CategorySocial, []string{"聚会", "聚餐", "约会", "生日", "吃饭", "派对", "见面"}},
	{CategoryTravel, []string{"航班", "火车", "旅行", "旅游", "机场", "高铁"}},
}

// InferCategory guesses a category from an event title.
func InferCategory(title string) Category {
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(title, w) {
				return ck.category
			}
		}
	}
	return CategoryPersonal
}

// CalendarEvent is a stored calendar entry, or a concrete occurrence of a
// recurring one when OriginalEvent is set.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
	Location    string    `json:"location,omitempty"`
	Category    Category  `json:"category"`
	Color       string    `json:"color,omitempty"`
	// Timezone is the IANA zone the event's wall-clock times belong to.
	Timezone   string          `json:"timezone,omitempty"`
	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`

	// OriginalEvent is the base event id for expanded occurrences.
	OriginalEvent string `json:"originalEvent,omitempty"`

	// Version is bumped by the store on every write.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the invariants every stored event must satisfy.
func (e *CalendarEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("%w: %s - %s", ErrInvalidTimeRange, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	if e.Category != "" && !e.Category.Valid() {
		return fmt.Errorf("unknown category %q", e.Category)
	}
	if e.Recurrence != nil {
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsOccurrence reports whether e was synthesized from a recurring base event.
func (e *CalendarEvent) IsOccurrence() bool {
	return e.OriginalEvent != ""
}

// BaseID returns the id of the stored event backing e.
func (e *CalendarEvent) BaseID() string {
	if e.OriginalEvent != "" {
		return e.OriginalEvent
	}
	return e.ID
}

// Duration returns End - Start.
func (e *CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Zone resolves Timezone, falling back to the zone of Start.
func (e *CalendarEvent) Zone() *time.Location {
	if e.Timezone != "" {
		if loc, err := time.LoadLocation(e.Timezone); err == nil {
			return loc
		}
	}
	return e.Start.Location()
}

// Clone returns a deep copy of e.
func (e CalendarEvent) Clone() CalendarEvent {
	if e.Recurrence != nil {
		r := e.Recurrence.Clone()
		e.Recurrence = &r
	}
	return e
}

// Occurrence is one concrete instance of a recurring event. It is derived at
// query time and never persisted on its own.
type Occurrence struct {
	ID            string    `json:"id"`
	OriginalEvent string    `json:"originalEvent"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// OccurrenceID builds the synthetic id of an occurrence.
func OccurrenceID(baseID string, start time.Time) string {
	return fmt.Sprintf("%s_%d", baseID, start.UnixMilli())
}

// TimeSlot is a candidate interval for scheduling.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// ConflictInfo reports overlaps for a proposed interval.
type ConflictInfo struct {
	HasConflict       bool            `json:"hasConflict"`
	ConflictingEvents []CalendarEvent `json:"conflictingEvents,omitempty"`
	Suggestions       []TimeSlot      `json:"suggestions,omitempty"`
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
