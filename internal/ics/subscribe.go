package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
	"nlcal/internal/store"
)

// RefreshStats summarizes one subscription refresh.
type RefreshStats struct {
	Sources int
	Created int
	Updated int
	Deleted int
	Failed  int
}

// Subscriber mirrors ICS feeds into the event store. Each feed event is
// stored under SubscriptionID, so a refresh updates it in place and removes
// events that left the feed.
type Subscriber struct {
	fetcher *Fetcher
	store   store.EventStore
	sources []Source
	loc     *time.Location
	now     func() time.Time
}

// NewSubscriber wires a Subscriber. Times without a zone are read in loc.
func NewSubscriber(f *Fetcher, st store.EventStore, sources []Source, loc *time.Location, now func() time.Time) *Subscriber {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Subscriber{fetcher: f, store: st, sources: sources, loc: loc, now: now}
}

// SubscriptionID is the store id of feed event uid from source sourceID.
func SubscriptionID(sourceID, uid string) string {
	return "sub-" + sourceID + "-" + uid
}

// Refresh fetches every source and upserts its events. A failing source is
// logged and skipped; its stored events are left as they are.
func (s *Subscriber) Refresh(ctx context.Context) (RefreshStats, error) {
	stats := RefreshStats{Sources: len(s.sources)}
	var errs []error
	for _, src := range s.sources {
		if err := s.refreshOne(ctx, src, &stats); err != nil {
			stats.Failed++
			errs = append(errs, err)
			appLog.Error("subscription refresh failed", err, "id", src.ID, "url", redactURL(src.URL))
		}
	}
	appLog.Info("subscriptions refreshed",
		"sources", stats.Sources,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"failed", stats.Failed,
	)
	return stats, errors.Join(errs...)
}

func (s *Subscriber) refreshOne(ctx context.Context, src Source, stats *RefreshStats) error {
	res, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return err
	}
	items, err := Parse(res.Body, s.loc)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", src.ID, err)
	}

	seen := make(map[string]bool, len(items))
	for _, it := range items {
		id := SubscriptionID(src.ID, it.UID)
		seen[id] = true
		created, changed, err := upsert(ctx, s.store, id, it.Event)
		if err != nil {
			appLog.Error("subscription upsert failed", err, "id", id)
			continue
		}
		switch {
		case created:
			stats.Created++
		case changed:
			stats.Updated++
		}
	}

	now := s.now()
	stored, err := s.store.List(ctx, time.Unix(0, 0), now.AddDate(20, 0, 0))
	if err != nil {
		return fmt.Errorf("refresh %s: list: %w", src.ID, err)
	}
	prefix := SubscriptionID(src.ID, "")
	for _, ev := range stored {
		if !strings.HasPrefix(ev.ID, prefix) || seen[ev.ID] {
			continue
		}
		if err := s.store.Delete(ctx, ev.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			appLog.Error("subscription delete failed", err, "id", ev.ID)
			continue
		}
		stats.Deleted++
	}
	return nil
}

func upsert(ctx context.Context, st store.EventStore, id string, ev model.CalendarEvent) (created, changed bool, err error) {
	cur, err := st.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		ev.ID = id
		if _, err := st.Create(ctx, ev); err != nil {
			return false, false, err
		}
		return true, true, nil
	}
	if err != nil {
		return false, false, err
	}
	if sameContent(cur, ev) {
		return false, false, nil
	}

	p := store.Patch{
		Title:       &ev.Title,
		Description: &ev.Description,
		Start:       &ev.Start,
		End:         &ev.End,
		AllDay:      &ev.AllDay,
		Location:    &ev.Location,
		Category:    &ev.Category,
		Color:       &ev.Color,
		Timezone:    &ev.Timezone,
		IfVersion:   cur.Version,
	}
	if ev.Recurrence != nil {
		p.Recurrence = ev.Recurrence
	} else {
		p.ClearRecurrence = true
	}
	if _, err := st.Update(ctx, id, p); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func sameContent(a, b model.CalendarEvent) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Location != b.Location ||
		!a.Start.Equal(b.Start) || !a.End.Equal(b.End) || a.AllDay != b.AllDay ||
		a.Category != b.Category || a.Color != b.Color {
		return false
	}
	if (a.Recurrence == nil) != (b.Recurrence == nil) {
		return false
	}
	if a.Recurrence == nil {
		return true
	}
	loc := b.Zone()
	return a.Recurrence.Frequency == b.Recurrence.Frequency &&
		a.Recurrence.Interval == b.Recurrence.Interval &&
		a.Recurrence.End.String() == b.Recurrence.End.String() &&
		len(a.Recurrence.Exceptions) == len(b.Recurrence.Exceptions) &&
		fmt.Sprint(a.Recurrence.ByWeekday, a.Recurrence.ByMonthDay, a.Recurrence.ByMonth) ==
			fmt.Sprint(b.Recurrence.ByWeekday, b.Recurrence.ByMonthDay, b.Recurrence.ByMonth) &&
		exceptionsEqual(a.Recurrence, b.Recurrence, loc)
}

func exceptionsEqual(a, b *model.RecurrenceRule, loc *time.Location) bool {
	for _, ex := range b.Exceptions {
		if !a.HasException(ex, loc) {
			return false
		}
	}
	return true
}

// Schedule runs Refresh on spec until c is stopped.
func (s *Subscriber) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_, _ = s.Refresh(ctx)
	})
}

// ImportEvents stores events as new entries and reports how many were
// created. Failures are collected and do not stop the import.
func ImportEvents(ctx context.Context, st store.EventStore, events []model.CalendarEvent) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, ev := range events {
		ev.ID = ""
		if _, err := st.Create(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("import %q: %w", ev.Title, err))
			continue
		}
		n++
	}
	if n > 0 {
		appLog.Info("events imported", "count", n, "failed", len(errs))
	}
	return n, errors.Join(errs...)
}
