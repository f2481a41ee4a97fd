package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"nlcal/internal/model"
)

// ErrUnavailable means no model could be asked; callers fall back to the
// offline response.
var ErrUnavailable = errors.New("llm: unavailable")

// CreateEventFunction is the only function the model may call.
const CreateEventFunction = "createCalendarEvent"

// FunctionCall is a structured call proposed by the model.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Reply is either free text or a function call.
type Reply struct {
	Text string
	Call *FunctionCall
}

// Assistant answers messages the rule-based classifier could not place.
type Assistant interface {
	Complete(ctx context.Context, message string, now time.Time) (Reply, error)
}

// Offline is the Assistant used when no model is configured.
type Offline struct{}

func (Offline) Complete(context.Context, string, time.Time) (Reply, error) {
	return Reply{}, ErrUnavailable
}

// CreateArgs are the validated arguments of createCalendarEvent.
type CreateArgs struct {
	Title       string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
	Category    model.Category
	Priority    string
}

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseCreateArgs validates createCalendarEvent arguments. Times without an
// offset are read in loc.
func ParseCreateArgs(args map[string]any, loc *time.Location) (CreateArgs, error) {
	var out CreateArgs
	out.Title = strings.TrimSpace(stringArg(args, "title"))
	if out.Title == "" {
		return out, errors.New("createCalendarEvent: title is required")
	}

	var err error
	if out.Start, err = parseISO(stringArg(args, "startTime"), loc); err != nil {
		return out, fmt.Errorf("createCalendarEvent: startTime: %w", err)
	}
	if out.End, err = parseISO(stringArg(args, "endTime"), loc); err != nil {
		return out, fmt.Errorf("createCalendarEvent: endTime: %w", err)
	}
	if !out.End.After(out.Start) {
		return out, fmt.Errorf("createCalendarEvent: %w", model.ErrInvalidTimeRange)
	}

	out.Location = strings.TrimSpace(stringArg(args, "location"))
	out.Description = strings.TrimSpace(stringArg(args, "description"))
	out.Priority = strings.TrimSpace(stringArg(args, "priority"))
	if c := stringArg(args, "category"); c != "" {
		out.Category = model.ParseCategory(c)
	} else {
		out.Category = model.InferCategory(out.Title)
	}
	return out, nil
}

func parseISO(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 time: %q", s)
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// APIKey looks up the key in the named variable, then in the conventional
// NLCAL_GEMINI_API_KEY and GEMINI_API_KEY.
func APIKey(envName string) string {
	for _, name := range []string{envName, "NLCAL_GEMINI_API_KEY", "GEMINI_API_KEY"} {
		if name == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
