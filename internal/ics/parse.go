package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
	"nlcal/internal/recurrence"
)

// ColorProperty carries the event color, which has no standard ICS field.
const ColorProperty = "X-NLCAL-COLOR"

// ImportedEvent is a VEVENT mapped onto the calendar model. UID is kept so
// subscriptions can upsert the same event on every refresh.
type ImportedEvent struct {
	UID   string
	Event model.CalendarEvent
}

// Parse reads an ICS payload.
//
//   - DTSTART/DTEND with TZID are read in that zone; a trailing Z means UTC;
//     floating times and unknown zones fall back to loc.
//   - VALUE=DATE (or a bare YYYYMMDD value) marks an all-day event.
//   - RRULE and EXDATE become the event's recurrence rule.
//   - A VEVENT with RECURRENCE-ID is imported as a standalone event and its
//     date becomes an exception on the series it overrides.
//
// VEVENTs that cannot be mapped are logged and skipped.
func Parse(body []byte, loc *time.Location) ([]ImportedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("ics: not a VCALENDAR payload")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	var (
		out       []ImportedEvent
		overrides []override
		byUID     = make(map[string]int)
	)
	for _, ve := range cal.Events() {
		ev, ov, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics: skipping vevent", perr)
			continue
		}
		if ov != nil {
			overrides = append(overrides, *ov)
		} else {
			byUID[ev.UID] = len(out)
		}
		out = append(out, ev)
	}

	for _, ov := range overrides {
		i, ok := byUID[ov.uid]
		if !ok || out[i].Event.Recurrence == nil {
			continue
		}
		base := &out[i].Event
		base.Recurrence.AddException(ov.at, base.Zone())
	}

	appLog.Debug("ics parsed", "events", len(out), "overrides", len(overrides))
	return out, nil
}

type override struct {
	uid string
	at  time.Time
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ImportedEvent, *override, error) {
	var out ImportedEvent

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return out, nil, errors.New("missing UID")
	}
	out.UID = uid

	ev := model.CalendarEvent{
		Title:       propText(ve, ical.ComponentPropertySummary),
		Description: propText(ve, ical.ComponentPropertyDescription),
		Location:    propText(ve, ical.ComponentPropertyLocation),
	}
	if strings.TrimSpace(ev.Title) == "" {
		ev.Title = "(无标题)"
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, nil, fmt.Errorf("%s: missing DTSTART", uid)
	}
	start, allDay, zone, err := parseDateTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, nil, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	ev.Start = start
	ev.AllDay = allDay
	ev.Timezone = zone.String()

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, _, err := parseDateTime(dtEnd.Value, dtEnd.ICalParameters, zone)
		if err != nil {
			return out, nil, fmt.Errorf("%s: DTEND: %w", uid, err)
		}
		ev.End = end
	}
	if !ev.End.After(ev.Start) {
		// No usable DTEND: one day for dates, an hour otherwise.
		if allDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start.Add(time.Hour)
		}
	}

	if c := propValue(ve, ical.ComponentPropertyCategories); c != "" {
		first, _, _ := strings.Cut(c, ",")
		ev.Category = model.ParseCategory(first)
	} else {
		ev.Category = model.InferCategory(strings.TrimSpace(ev.Title))
	}
	ev.Color = propValue(ve, ical.ComponentProperty(ColorProperty))
	if ev.Color == "" {
		ev.Color = ev.Category.Color()
	}

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		rule, err := recurrence.FromRRule(raw, zone)
		if err != nil {
			return out, nil, fmt.Errorf("%s: %w", uid, err)
		}
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			for _, part := range strings.Split(p.Value, ",") {
				if strings.TrimSpace(part) == "" {
					continue
				}
				t, _, _, err := parseDateTime(part, p.ICalParameters, zone)
				if err != nil {
					appLog.Error("ics: bad EXDATE", err, "uid", uid, "value", part)
					continue
				}
				rule.AddException(t, zone)
			}
		}
		ev.Recurrence = &rule
	}
	out.Event = ev

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		at, _, _, err := parseDateTime(rid.Value, rid.ICalParameters, zone)
		if err != nil {
			return out, nil, fmt.Errorf("%s: RECURRENCE-ID: %w", uid, err)
		}
		out.UID = uid + "_" + at.Format("20060102T150405")
		out.Event.Recurrence = nil
		return out, &override{uid: uid, at: at}, nil
	}
	return out, nil, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	return strings.TrimSpace(propText(ve, p))
}

// propText returns an unescaped TEXT value with its whitespace intact.
func propText(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return unescapeText(prop.Value)
	}
	return ""
}

// parseDateTime reads a DATE or DATE-TIME value. It returns the zone the
// value belongs to so related properties (DTEND, EXDATE) can default to it.
func parseDateTime(v string, params map[string][]string, fallback *time.Location) (t time.Time, allDay bool, zone *time.Location, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, nil, errors.New("empty value")
	}
	zone = fallback
	if tz := param(params, "TZID"); tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			zone = l
		} else {
			appLog.Debug("ics: unknown TZID, using default zone", "tzid", tz, "zone", fallback.String())
		}
	}

	isDate := strings.EqualFold(param(params, "VALUE"), "DATE") || !strings.Contains(v, "T")
	switch {
	case isDate:
		t, err = time.ParseInLocation("20060102", v, zone)
		return t, true, zone, err
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse("20060102T150405Z", v)
		return t, false, time.UTC, err
	default:
		t, err = time.ParseInLocation("20060102T150405", v, zone)
		return t, false, zone, err
	}
}

func param(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
