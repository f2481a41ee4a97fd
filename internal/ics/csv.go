package ics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nlcal/internal/model"
)

// Columns is the header shared by CSV and XLSX exports.
var Columns = []string{"Title", "Description", "Start Date", "Start Time", "End Date", "End Time", "All Day", "Location", "Category", "Timezone"}

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Row renders ev as one export row in its own zone.
func Row(ev model.CalendarEvent) []string {
	loc := ev.Zone()
	s, e := ev.Start.In(loc), ev.End.In(loc)
	startClock, endClock := s.Format(clockLayout), e.Format(clockLayout)
	if ev.AllDay {
		startClock, endClock = "", ""
	}
	return []string{
		ev.Title,
		ev.Description,
		s.Format(dateLayout),
		startClock,
		e.Format(dateLayout),
		endClock,
		strconv.FormatBool(ev.AllDay),
		ev.Location,
		string(ev.Category),
		loc.String(),
	}
}

// WriteCSV writes events with a header row.
func WriteCSV(w io.Writer, events []model.CalendarEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, ev := range events {
		if err := cw.Write(Row(ev)); err != nil {
			return fmt.Errorf("csv: write %s: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses rows written by WriteCSV. Columns are located by header
// name, so reordered files are accepted. Times are read in the row's
// Timezone when it loads, otherwise in loc. Text cells are kept as written.
func ReadCSV(r io.Reader, loc *time.Location) ([]model.CalendarEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))] = i
	}
	for _, required := range []string{"Title", "Start Date"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", required)
		}
	}

	var out []model.CalendarEvent
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("csv: line %d: %w", line, err)
		}
		field := func(name string) string {
			if i, ok := idx[name]; ok && i < len(rec) {
				return rec[i]
			}
			return ""
		}
		ev, err := rowEvent(field, loc)
		if err != nil {
			return out, fmt.Errorf("csv: line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func rowEvent(text func(string) string, fallback *time.Location) (model.CalendarEvent, error) {
	field := func(name string) string { return strings.TrimSpace(text(name)) }
	ev := model.CalendarEvent{
		Title:       text("Title"),
		Description: text("Description"),
		Location:    text("Location"),
	}
	zone := fallback
	if tz := field("Timezone"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			zone = l
		}
	}
	ev.Timezone = zone.String()
	ev.AllDay, _ = strconv.ParseBool(field("All Day"))

	var err error
	if ev.Start, err = parseCell(field("Start Date"), field("Start Time"), zone); err != nil {
		return ev, fmt.Errorf("start: %w", err)
	}
	endDate := field("End Date")
	if endDate == "" {
		endDate = field("Start Date")
	}
	if ev.End, err = parseCell(endDate, field("End Time"), zone); err != nil {
		return ev, fmt.Errorf("end: %w", err)
	}
	if !ev.End.After(ev.Start) {
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		} else {
			ev.End = ev.Start.Add(time.Hour)
		}
	}

	if c := field("Category"); c != "" {
		ev.Category = model.ParseCategory(c)
	} else {
		ev.Category = model.InferCategory(strings.TrimSpace(ev.Title))
	}
	ev.Color = ev.Category.Color()
	return ev, nil
}

func parseCell(date, clock string, loc *time.Location) (time.Time, error) {
	if clock == "" {
		return time.ParseInLocation(dateLayout, date, loc)
	}
	return time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, loc)
}
