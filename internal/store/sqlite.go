package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"nlcal/internal/model"
	"nlcal/internal/recurrence"
)

//go:embed schema.sql
var schema string

const exdateLayout = "2006-01-02"

const eventColumns = `id, title, description, start_ms, end_ms, all_day, location, category,
	color, timezone, rrule, exdates, version, created_ms, updated_ms`

// SQLiteStore persists events in a SQLite file. Times are stored as Unix
// milliseconds next to the IANA zone they were entered in; recurrence rules
// as RRULE text plus a comma-separated list of exception dates.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, now func() time.Time) (*SQLiteStore, error) {
	if now == nil {
		now = time.Now
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db, now: now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}
	out, err := prepare(ev, id, s.now())
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	row := toRow(out)

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM events WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	if exists > 0 {
		return model.CalendarEvent{}, fmt.Errorf("create event %s: %w", id, ErrExists)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events ("+eventColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		row.args()...,
	)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) (model.CalendarEvent, error) {
	cur, err := s.GetByID(ctx, id)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("update event: %w", err)
	}
	if p.IfVersion != 0 && p.IfVersion != cur.Version {
		return model.CalendarEvent{}, fmt.Errorf("update event %s (have %d, want %d): %w", id, cur.Version, p.IfVersion, ErrVersionConflict)
	}
	next := p.Apply(cur)
	if err := next.Validate(); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now()

	row := toRow(next)
	res, err := s.db.ExecContext(ctx, `UPDATE events SET
		title = ?, description = ?, start_ms = ?, end_ms = ?, all_day = ?, location = ?,
		category = ?, color = ?, timezone = ?, rrule = ?, exdates = ?, version = ?, updated_ms = ?
		WHERE id = ? AND version = ?`,
		row.title, row.description, row.startMs, row.endMs, row.allDay, row.location,
		row.category, row.color, row.timezone, row.rrule, row.exdates, row.version, row.updatedMs,
		id, cur.Version,
	)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, err)
	}
	if n == 0 {
		// Someone else wrote between our read and our write.
		return model.CalendarEvent{}, fmt.Errorf("update event %s: %w", id, ErrVersionConflict)
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+` FROM events
		WHERE start_ms < ? AND (end_ms > ? OR rrule != '')
		ORDER BY start_ms, id`,
		rangeEnd.UnixMilli(), rangeStart.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.CalendarEvent
	for rows.Next() {
		var r eventRow
		if err := r.scan(rows); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := r.event()
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", r.id, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (model.CalendarEvent, error) {
	var r eventRow
	err := r.scan(s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return r.event()
}

type eventRow struct {
	id, title, description string
	startMs, endMs         int64
	allDay                 bool
	location, category     string
	color, timezone        string
	rrule, exdates         string
	version                int
	createdMs, updatedMs   int64
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *eventRow) scan(sc scanner) error {
	return sc.Scan(&r.id, &r.title, &r.description, &r.startMs, &r.endMs, &r.allDay,
		&r.location, &r.category, &r.color, &r.timezone, &r.rrule, &r.exdates,
		&r.version, &r.createdMs, &r.updatedMs)
}

func (r *eventRow) args() []any {
	return []any{r.id, r.title, r.description, r.startMs, r.endMs, r.allDay,
		r.location, r.category, r.color, r.timezone, r.rrule, r.exdates,
		r.version, r.createdMs, r.updatedMs}
}

func toRow(ev model.CalendarEvent) eventRow {
	r := eventRow{
		id:          ev.ID,
		title:       ev.Title,
		description: ev.Description,
		startMs:     ev.Start.UnixMilli(),
		endMs:       ev.End.UnixMilli(),
		allDay:      ev.AllDay,
		location:    ev.Location,
		category:    string(ev.Category),
		color:       ev.Color,
		timezone:    ev.Timezone,
		version:     ev.Version,
		createdMs:   ev.CreatedAt.UnixMilli(),
		updatedMs:   ev.UpdatedAt.UnixMilli(),
	}
	if ev.Recurrence != nil {
		loc := ev.Zone()
		r.rrule = recurrence.ToRRule(*ev.Recurrence, ev.Start.In(loc))
		dates := make([]string, 0, len(ev.Recurrence.Exceptions))
		for _, ex := range ev.Recurrence.Exceptions {
			dates = append(dates, ex.In(loc).Format(exdateLayout))
		}
		r.exdates = strings.Join(dates, ",")
	}
	return r
}

func (r *eventRow) event() (model.CalendarEvent, error) {
	loc := time.UTC
	if r.timezone != "" {
		if l, err := time.LoadLocation(r.timezone); err == nil {
			loc = l
		}
	}
	ev := model.CalendarEvent{
		ID:          r.id,
		Title:       r.title,
		Description: r.description,
		Start:       time.UnixMilli(r.startMs).In(loc),
		End:         time.UnixMilli(r.endMs).In(loc),
		AllDay:      r.allDay,
		Location:    r.location,
		Category:    model.Category(r.category),
		Color:       r.color,
		Timezone:    r.timezone,
		Version:     r.version,
		CreatedAt:   time.UnixMilli(r.createdMs).In(loc),
		UpdatedAt:   time.UnixMilli(r.updatedMs).In(loc),
	}
	if r.rrule != "" {
		rule, err := recurrence.FromRRule(r.rrule, loc)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		for _, d := range strings.Split(r.exdates, ",") {
			if d == "" {
				continue
			}
			t, err := time.ParseInLocation(exdateLayout, d, loc)
			if err != nil {
				return model.CalendarEvent{}, fmt.Errorf("exdate %q: %w", d, err)
			}
			rule.Exceptions = append(rule.Exceptions, t)
		}
		ev.Recurrence = &rule
	}
	return ev, nil
}
