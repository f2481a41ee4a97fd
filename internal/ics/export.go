package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"nlcal/internal/model"
	"nlcal/internal/recurrence"
)

const productID = "-//nlcal//NL Calendar//ZH"

// Export writes stored events as a VCALENDAR. Recurring events are written
// once with RRULE and EXDATE, not expanded.
func Export(w io.Writer, events []model.CalendarEvent, now time.Time) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	stamp := now.UTC().Format("20060102T150405Z")
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetProperty(ical.ComponentProperty("DTSTAMP"), stamp)
		ve.SetProperty(ical.ComponentPropertySummary, escapeText(ev.Title))
		if ev.Description != "" {
			ve.SetProperty(ical.ComponentPropertyDescription, escapeText(ev.Description))
		}
		if ev.Location != "" {
			ve.SetProperty(ical.ComponentPropertyLocation, escapeText(ev.Location))
		}
		if ev.Category != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, string(ev.Category))
		}
		if ev.Color != "" {
			ve.SetProperty(ical.ComponentProperty(ColorProperty), ev.Color)
		}

		loc := ev.Zone()
		setTime(ve, ical.ComponentPropertyDtStart, ev.Start, ev.AllDay, loc)
		setTime(ve, ical.ComponentPropertyDtEnd, ev.End, ev.AllDay, loc)

		if ev.Recurrence != nil {
			ve.AddProperty(ical.ComponentPropertyRrule, recurrence.ToRRule(*ev.Recurrence, ev.Start.In(loc)))
			st := ev.Start.In(loc)
			for _, ex := range ev.Recurrence.Exceptions {
				y, m, d := ex.In(loc).Date()
				at := time.Date(y, m, d, st.Hour(), st.Minute(), st.Second(), 0, loc)
				setTime(ve, ical.ComponentPropertyExdate, at, ev.AllDay, loc)
			}
		}
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("ics: write: %w", err)
	}
	return nil
}

// setTime writes a DATE for all-day events, a TZID-qualified local time when
// loc is a loadable IANA zone, and UTC otherwise.
func setTime(ve *ical.VEvent, p ical.ComponentProperty, t time.Time, allDay bool, loc *time.Location) {
	set := ve.SetProperty
	if p == ical.ComponentPropertyExdate {
		set = ve.AddProperty
	}
	switch {
	case allDay:
		set(p, t.In(loc).Format("20060102"), ical.WithValue("DATE"))
	case ianaZone(loc):
		set(p, t.In(loc).Format("20060102T150405"), ical.WithTZID(loc.String()))
	default:
		set(p, t.UTC().Format("20060102T150405Z"))
	}
}

func ianaZone(loc *time.Location) bool {
	name := loc.String()
	if name == "" || name == "UTC" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

var textEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\n", `\n`)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
