package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"nlcal/internal/model"
)

var toRRuleFreq = map[model.Frequency]rrule.Frequency{
	model.Daily:   rrule.DAILY,
	model.Weekly:  rrule.WEEKLY,
	model.Monthly: rrule.MONTHLY,
	model.Yearly:  rrule.YEARLY,
}

var toRRuleWeekday = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// ROption builds the rrule-go option set for rule anchored at dtstart.
// An until date is widened to the end of that day in dtstart's zone so the
// occurrence on the until date itself is kept.
func ROption(rule model.RecurrenceRule, dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:       toRRuleFreq[rule.Frequency],
		Interval:   rule.Interval,
		Dtstart:    dtstart,
		Bymonthday: append([]int(nil), rule.ByMonthDay...),
		Bymonth:    append([]int(nil), rule.ByMonth...),
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	for _, wd := range rule.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday[wd])
	}
	if n, ok := rule.End.Count(); ok {
		opt.Count = n
	}
	if u, ok := rule.End.Until(); ok {
		opt.Until = endOfDay(u, dtstart.Location())
	}
	return opt
}

// ToRRule renders rule as RRULE text (without the "RRULE:" prefix).
func ToRRule(rule model.RecurrenceRule, dtstart time.Time) string {
	opt := ROption(rule, dtstart)
	return opt.RRuleString()
}

// FromRRule parses RRULE text into a rule. The until date is expressed in loc.
func FromRRule(s string, loc *time.Location) (model.RecurrenceRule, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return model.RecurrenceRule{}, fmt.Errorf("parse rrule %q: %w", s, err)
	}

	var rule model.RecurrenceRule
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.Daily
	case rrule.WEEKLY:
		rule.Frequency = model.Weekly
	case rrule.MONTHLY:
		rule.Frequency = model.Monthly
	case rrule.YEARLY:
		rule.Frequency = model.Yearly
	default:
		return model.RecurrenceRule{}, fmt.Errorf("parse rrule %q: unsupported frequency", s)
	}

	rule.Interval = opt.Interval
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	for _, wd := range opt.Byweekday {
		// rrule-go numbers weekdays from Monday = 0.
		rule.ByWeekday = append(rule.ByWeekday, time.Weekday((wd.Day()+1)%7))
	}
	rule.ByMonthDay = append(rule.ByMonthDay, opt.Bymonthday...)
	rule.ByMonth = append(rule.ByMonth, opt.Bymonth...)

	switch {
	case opt.Count > 0 && !opt.Until.IsZero():
		return model.RecurrenceRule{}, fmt.Errorf("parse rrule %q: COUNT and UNTIL are mutually exclusive", s)
	case opt.Count > 0:
		rule.End = model.AfterCount(opt.Count)
	case !opt.Until.IsZero():
		y, m, d := opt.Until.In(loc).Date()
		rule.End = model.UntilDate(time.Date(y, m, d, 0, 0, 0, 0, loc))
	default:
		rule.End = model.Never()
	}

	if err := rule.Validate(); err != nil {
		return model.RecurrenceRule{}, err
	}
	return rule, nil
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}
