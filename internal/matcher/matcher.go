package matcher

import (
	"sort"
	"strings"
	"time"

	"nlcal/internal/intent"
	"nlcal/internal/model"
)

// Mode selects the fuzzy title comparison.
type Mode string

const (
	// Positional compares runes at equal indices over the shorter title.
	Positional Mode = "positional"
	// EditDistance uses a length-normalised Levenshtein similarity.
	EditDistance Mode = "edit_distance"
)

// ParseMode maps a config value to a Mode, defaulting to Positional.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == EditDistance {
		return EditDistance
	}
	return Positional
}

const similarityThreshold = 0.6

// Kind is the outcome class of a resolution.
type Kind int

const (
	NoMatch Kind = iota
	Single
	Ambiguous
	Batch
	TooMany
)

func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "no_match"
	case Single:
		return "single"
	case Ambiguous:
		return "ambiguous"
	case Batch:
		return "batch"
	case TooMany:
		return "too_many"
	}
	return "unknown"
}

// Options configures a Matcher.
type Options struct {
	Fuzzy Mode
	// BatchConfidence is the classifier confidence above which 2..MaxBatch
	// candidates may be confirmed together.
	BatchConfidence float64
	MaxBatch        int
	// MaxListed caps how many candidates an ambiguous result shows.
	MaxListed int
	// MaxCandidates is the largest set that is still enumerated.
	MaxCandidates int
	Location      *time.Location
}

// Result is the resolved candidate set.
type Result struct {
	Kind       Kind
	Candidates []model.CalendarEvent
	// Listed is the prefix shown to the user for Ambiguous results.
	Listed []model.CalendarEvent
}

// Matcher narrows concrete event instances down to the ones a command refers to.
type Matcher struct {
	opts Options
}

// New returns a Matcher, filling unset options with defaults.
func New(opts Options) *Matcher {
	if opts.Fuzzy == "" {
		opts.Fuzzy = Positional
	}
	if opts.BatchConfidence <= 0 {
		opts.BatchConfidence = 0.8
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 5
	}
	if opts.MaxListed <= 0 {
		opts.MaxListed = 5
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 10
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Matcher{opts: opts}
}

// FindCandidates filters events by title, then date, then time. A filter is
// applied only when its entity is present; a bare period word ("下午") keeps
// events starting within its hours. When no date narrowed the set and
// more than MaxCandidates remain, today's events are preferred if any exist.
// The result is sorted by start time.
func (m *Matcher) FindCandidates(e intent.Entities, events []model.CalendarEvent, now time.Time) []model.CalendarEvent {
	now = now.In(m.opts.Location)
	out := make([]model.CalendarEvent, 0, len(events))
	out = append(out, events...)

	if title := strings.TrimSpace(e.EventTitle); title != "" {
		out = filter(out, func(ev model.CalendarEvent) bool {
			return Similar(ev.Title, title, m.opts.Fuzzy)
		})
	}

	dateNarrowed := false
	if e.Date != "" {
		if day, ok := intent.ResolveDate(e.Date, now); ok {
			dateNarrowed = true
			out = filter(out, func(ev model.CalendarEvent) bool {
				return model.SameDay(ev.Start, day, m.opts.Location)
			})
		}
	}

	if from, to, ok := intent.PeriodRange(e.Time); ok {
		out = filter(out, func(ev model.CalendarEvent) bool {
			h := ev.Start.In(m.opts.Location).Hour()
			return h >= from && h < to
		})
	} else if e.Time != "" {
		if h, mm, ok := intent.ResolveTime(e.Time); ok {
			exact := minuteGiven(e.Time)
			out = filter(out, func(ev model.CalendarEvent) bool {
				st := ev.Start.In(m.opts.Location)
				if st.Hour() != h {
					return false
				}
				return !exact || st.Minute() == mm
			})
		}
	}

	if !dateNarrowed && len(out) > m.opts.MaxCandidates {
		today := filter(out, func(ev model.CalendarEvent) bool {
			return model.SameDay(ev.Start, now, m.opts.Location)
		})
		if len(today) > 0 {
			out = today
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Resolve applies the result policy to a candidate set.
func (m *Matcher) Resolve(candidates []model.CalendarEvent, confidence float64) Result {
	r := Result{Candidates: candidates}
	n := len(candidates)
	switch {
	case n == 0:
		r.Kind = NoMatch
	case n == 1:
		r.Kind = Single
		r.Listed = candidates
	case n > m.opts.MaxCandidates:
		r.Kind = TooMany
	case n <= m.opts.MaxBatch && confidence > m.opts.BatchConfidence:
		r.Kind = Batch
		r.Listed = candidates
	default:
		r.Kind = Ambiguous
		r.Listed = candidates
		if len(r.Listed) > m.opts.MaxListed {
			r.Listed = r.Listed[:m.opts.MaxListed]
		}
	}
	return r
}

// Match is FindCandidates followed by Resolve.
func (m *Matcher) Match(e intent.Entities, events []model.CalendarEvent, now time.Time, confidence float64) Result {
	return m.Resolve(m.FindCandidates(e, events, now), confidence)
}

// Similar reports whether two titles refer to the same thing: either contains
// the other, or their similarity under mode exceeds 0.6.
func Similar(a, b string, mode Mode) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	if mode == EditDistance {
		return editSimilarity(a, b) > similarityThreshold
	}
	return positionalSimilarity(a, b) > similarityThreshold
}

func positionalSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	n := min(len(ra), len(rb))
	if n == 0 {
		return 0
	}
	same := 0
	for i := 0; i < n; i++ {
		if ra[i] == rb[i] {
			same++
		}
	}
	return float64(same) / float64(n)
}

func editSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes the edit distance over runes with a single row.
func levenshtein(a, b []rune) int {
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cur := row[j]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min(row[j]+1, row[j-1]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(b)]
}

// minuteGiven reports whether a time phrase names minutes explicitly.
func minuteGiven(raw string) bool {
	return strings.ContainsAny(raw, ":：半刻分")
}

func filter(events []model.CalendarEvent, keep func(model.CalendarEvent) bool) []model.CalendarEvent {
	out := events[:0:0]
	for _, ev := range events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}
