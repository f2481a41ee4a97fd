package recurrence

import (
	"testing"
	"time"

	"nlcal/internal/model"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}

func TestExpandWeeklyCount(t *testing.T) {
	loc := time.UTC
	// 2026-10-19 is a Monday.
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, End: model.AfterCount(5)}

	occ, err := Expand("base", rule, start, start.Add(time.Hour), start, start.AddDate(0, 0, 70), loc, loc)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(occ) != 5 {
		t.Fatalf("got %d occurrences, want 5", len(occ))
	}
	for i, o := range occ {
		if d := o.End.Sub(o.Start); d != time.Hour {
			t.Errorf("occurrence %d duration = %v", i, d)
		}
		if o.OriginalEvent != "base" {
			t.Errorf("occurrence %d OriginalEvent = %q", i, o.OriginalEvent)
		}
		if o.ID != model.OccurrenceID("base", o.Start) {
			t.Errorf("occurrence %d ID = %q", i, o.ID)
		}
		if i > 0 {
			if gap := o.Start.Sub(occ[i-1].Start); gap != 7*24*time.Hour {
				t.Errorf("gap before occurrence %d = %v", i, gap)
			}
		}
	}
}

func TestExpandExceptionRemovesExactlyOne(t *testing.T) {
	loc := time.UTC
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.AfterCount(7)}

	before, err := Expand("b", rule, start, start.Add(30*time.Minute), start, start.AddDate(0, 0, 10), loc, loc)
	if err != nil {
		t.Fatal(err)
	}

	exDate := time.Date(2026, 10, 22, 0, 0, 0, 0, loc)
	rule.Exceptions = []time.Time{exDate}
	after, err := Expand("b", rule, start, start.Add(30*time.Minute), start, start.AddDate(0, 0, 10), loc, loc)
	if err != nil {
		t.Fatal(err)
	}

	if len(after) != len(before)-1 {
		t.Fatalf("after = %d, before = %d", len(after), len(before))
	}
	j := 0
	for _, o := range before {
		if model.SameDay(o.Start, exDate, loc) {
			continue
		}
		if !after[j].Start.Equal(o.Start) {
			t.Fatalf("unexpected occurrence %v, want %v", after[j].Start, o.Start)
		}
		j++
	}
}

func TestExpandUntilIsInclusiveOfDate(t *testing.T) {
	loc := time.UTC
	start := time.Date(2026, 10, 19, 18, 0, 0, 0, loc)
	rule := model.RecurrenceRule{Frequency: model.Daily, Interval: 2,
		End: model.UntilDate(time.Date(2026, 10, 23, 0, 0, 0, 0, loc))}

	occ, err := Expand("b", rule, start, start.Add(time.Hour), start, start.AddDate(0, 1, 0), loc, loc)
	if err != nil {
		t.Fatal(err)
	}
	// 19, 21, 23
	if len(occ) != 3 {
		t.Fatalf("got %d occurrences: %v", len(occ), occ)
	}
	if occ[2].Start.Day() != 23 {
		t.Errorf("last occurrence on %v", occ[2].Start)
	}
}

func TestExpandByWeekday(t *testing.T) {
	loc := time.UTC
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, loc) // Monday
	rule := model.RecurrenceRule{
		Frequency: model.Weekly, Interval: 1,
		ByWeekday: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		End:       model.AfterCount(6),
	}
	occ, err := Expand("b", rule, start, start.Add(time.Hour), start, start.AddDate(0, 1, 0), loc, loc)
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday, time.Monday, time.Wednesday, time.Friday}
	if len(occ) != len(want) {
		t.Fatalf("got %d occurrences", len(occ))
	}
	for i, o := range occ {
		if o.Start.Weekday() != want[i] {
			t.Errorf("occurrence %d on %v, want %v", i, o.Start.Weekday(), want[i])
		}
	}
}

func TestExpandPreservesWallClockAcrossZones(t *testing.T) {
	shanghai := mustLoad(t, "Asia/Shanghai")
	newYork := mustLoad(t, "America/New_York")

	start := time.Date(2026, 10, 26, 9, 0, 0, 0, newYork)
	rule := model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, End: model.AfterCount(3)}

	// The window spans the end of US daylight saving time on 2026-11-01.
	occ, err := Expand("b", rule, start, start.Add(time.Hour),
		start.Add(-time.Hour), start.AddDate(0, 0, 30), newYork, shanghai)
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 3 {
		t.Fatalf("got %d occurrences", len(occ))
	}
	for _, o := range occ {
		if o.Start.Location() != shanghai {
			t.Errorf("location = %v", o.Start.Location())
		}
		if o.Start.Hour() != 9 || o.End.Hour() != 10 {
			t.Errorf("wall clock = %v - %v, want 09:00-10:00", o.Start, o.End)
		}
	}
}

func TestExpandEventsMixesSingleAndRecurring(t *testing.T) {
	loc := time.UTC
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, loc)
	events := []model.CalendarEvent{
		{ID: "single", Title: "一次性", Start: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour), Timezone: "UTC"},
		{ID: "standup", Title: "站会", Start: day.Add(-7*24*time.Hour + 9*time.Hour), End: day.Add(-7*24*time.Hour + 9*time.Hour + 15*time.Minute),
			Timezone: "UTC", Recurrence: &model.RecurrenceRule{Frequency: model.Daily, Interval: 1}},
		{ID: "outside", Title: "明年", Start: day.AddDate(1, 0, 0), End: day.AddDate(1, 0, 0).Add(time.Hour), Timezone: "UTC"},
	}

	res, err := ExpandEvents(events, ExpandConfig{DisplayLocation: loc, RangeStart: day, RangeEnd: day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d events: %+v", len(res.Events), res.Events)
	}
	if res.Events[0].OriginalEvent != "standup" || res.Events[0].Start.Hour() != 9 {
		t.Errorf("first = %+v", res.Events[0])
	}
	if res.Events[1].ID != "single" {
		t.Errorf("second = %+v", res.Events[1])
	}
}

func TestApplyDeletionModes(t *testing.T) {
	loc := time.UTC
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	newBase := func() model.CalendarEvent {
		return model.CalendarEvent{ID: "b", Title: "周会", Start: start, End: start.Add(time.Hour), Timezone: "UTC",
			Recurrence: &model.RecurrenceRule{Frequency: model.Weekly, Interval: 1, End: model.AfterCount(10)}}
	}
	target := start.AddDate(0, 0, 14)

	t.Run("single", func(t *testing.T) {
		base := newBase()
		remove, err := ApplyDeletion(&base, DeleteSingle, target)
		if err != nil || remove {
			t.Fatalf("remove=%v err=%v", remove, err)
		}
		if !base.Recurrence.HasException(target, loc) {
			t.Error("exception not recorded")
		}
	})

	t.Run("following", func(t *testing.T) {
		base := newBase()
		remove, err := ApplyDeletion(&base, DeleteFollowing, target)
		if err != nil || remove {
			t.Fatalf("remove=%v err=%v", remove, err)
		}
		u, ok := base.Recurrence.End.Until()
		if !ok || !model.SameDay(u, target.AddDate(0, 0, -1), loc) {
			t.Fatalf("until = %v (ok=%v)", u, ok)
		}
		occ, _ := Expand("b", *base.Recurrence, base.Start, base.End, start, start.AddDate(1, 0, 0), loc, loc)
		if len(occ) != 2 {
			t.Errorf("remaining occurrences = %d, want 2", len(occ))
		}
	})

	t.Run("following from first removes base", func(t *testing.T) {
		base := newBase()
		remove, err := ApplyDeletion(&base, DeleteFollowing, start)
		if err != nil || !remove {
			t.Fatalf("remove=%v err=%v", remove, err)
		}
	})

	t.Run("all", func(t *testing.T) {
		base := newBase()
		remove, err := ApplyDeletion(&base, DeleteAll, target)
		if err != nil || !remove {
			t.Fatalf("remove=%v err=%v", remove, err)
		}
	})
}

func TestRRuleRoundTrip(t *testing.T) {
	loc := time.UTC
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, loc)
	rules := []model.RecurrenceRule{
		{Frequency: model.Weekly, Interval: 2, ByWeekday: []time.Weekday{time.Tuesday, time.Thursday}, End: model.AfterCount(8)},
		{Frequency: model.Monthly, Interval: 1, ByMonthDay: []int{15}, End: model.UntilDate(time.Date(2027, 3, 1, 0, 0, 0, 0, loc))},
		{Frequency: model.Yearly, Interval: 1, ByMonth: []int{10}},
	}
	for _, r := range rules {
		text := ToRRule(r, start)
		got, err := FromRRule(text, loc)
		if err != nil {
			t.Fatalf("FromRRule(%q): %v", text, err)
		}
		if got.Frequency != r.Frequency || got.Interval != r.Interval || got.End.String() != r.End.String() {
			t.Errorf("%q -> %+v", text, got)
		}
		if len(got.ByWeekday) != len(r.ByWeekday) {
			t.Errorf("%q weekdays = %v", text, got.ByWeekday)
		}
		for i := range r.ByWeekday {
			if got.ByWeekday[i] != r.ByWeekday[i] {
				t.Errorf("%q weekday %d = %v", text, i, got.ByWeekday[i])
			}
		}
	}

	if _, err := FromRRule("FREQ=DAILY;COUNT=3;UNTIL=20270101T000000Z", loc); err == nil {
		t.Error("expected COUNT+UNTIL to be rejected")
	}
}
