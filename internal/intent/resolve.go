package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	fullDateRe     = regexp.MustCompile(`(\d{4})[-/.年](\d{1,2})[-/.月](\d{1,2})`)
	monthDayRe     = regexp.MustCompile(`(\d{1,2})月(\d{1,2})`)
	dotDateRe      = regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})$`)
	weekdayRe      = regexp.MustCompile(`(下下|下|这|本|上)?(?:周|星期|礼拜)([一二三四五六日天1-7])`)
	daysLaterRe    = regexp.MustCompile(`(\d{1,2}|` + cnNumPattern + `)天`)
	clockRe        = regexp.MustCompile(`(\d{1,2})[:：](\d{2})`)
	hourMinuteRe   = regexp.MustCompile(`(\d{1,2}|` + cnNumPattern + `)[点时](半|一刻|三刻|(\d{1,2}|` + cnNumPattern + `)分?)?`)
	periodPrefixRe = regexp.MustCompile(`^` + periodPattern)
)

var relativeDays = map[string]int{
	"今天": 0, "今日": 0, "今晚": 0,
	"明天": 1, "明日": 1,
	"后天": 2, "大后天": 3,
	"昨天": -1, "前天": -2,
}

var weekdayChars = map[string]time.Weekday{
	"一": time.Monday, "1": time.Monday,
	"二": time.Tuesday, "2": time.Tuesday,
	"三": time.Wednesday, "3": time.Wednesday,
	"四": time.Thursday, "4": time.Thursday,
	"五": time.Friday, "5": time.Friday,
	"六": time.Saturday, "6": time.Saturday,
	"日": time.Sunday, "天": time.Sunday, "7": time.Sunday,
}

// Default clock readings for a bare period word.
var periodDefaults = map[string][2]int{
	"凌晨": {1, 0},
	"早上": {8, 0},
	"早晨": {8, 0},
	"上午": {9, 0},
	"中午": {12, 0},
	"下午": {14, 0},
	"傍晚": {18, 0},
	"晚上": {19, 0},
	"今晚": {19, 0},
}

// ResolveDate turns a date phrase into local midnight in now's location.
// Weeks start on Monday. A month/day without a year that lies more than half
// a year in the past is taken to mean next year.
func ResolveDate(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if n, ok := relativeDays[raw]; ok {
		return today.AddDate(0, 0, n), true
	}

	if m := fullDateRe.FindStringSubmatch(raw); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return civilDate(y, mo, d, loc)
	}

	for _, re := range []*regexp.Regexp{monthDayRe, dotDateRe} {
		if m := re.FindStringSubmatch(raw); m != nil {
			mo, _ := strconv.Atoi(m[1])
			d, _ := strconv.Atoi(m[2])
			t, ok := civilDate(now.Year(), mo, d, loc)
			if !ok {
				return time.Time{}, false
			}
			if today.Sub(t) > 183*24*time.Hour {
				t = t.AddDate(1, 0, 0)
			}
			return t, true
		}
	}

	if m := weekdayRe.FindStringSubmatch(raw); m != nil {
		wd := weekdayChars[m[2]]
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		offset := (int(wd) + 6) % 7
		weeks := 0
		switch m[1] {
		case "下":
			weeks = 1
		case "下下":
			weeks = 2
		case "上":
			weeks = -1
		}
		return monday.AddDate(0, 0, weeks*7+offset), true
	}

	if strings.Contains(raw, "天") && (strings.HasSuffix(raw, "后")) {
		if m := daysLaterRe.FindStringSubmatch(raw); m != nil {
			if n, ok := parseNumber(m[1]); ok {
				return today.AddDate(0, 0, n), true
			}
		}
	}

	switch raw {
	case "下周", "下个星期", "下星期", "下礼拜":
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		return monday.AddDate(0, 0, 7), true
	}

	return time.Time{}, false
}

// Hour spans [start, end) a bare period word refers to.
var periodRanges = map[string][2]int{
	"凌晨": {0, 6},
	"早上": {6, 10},
	"早晨": {6, 10},
	"上午": {6, 12},
	"中午": {11, 14},
	"下午": {12, 18},
	"傍晚": {17, 19},
	"晚上": {18, 24},
	"今晚": {18, 24},
}

// PeriodRange reports the hour span [start, end) of a phrase that is only a
// period word, such as "下午". A phrase naming a clock reading is not a period.
func PeriodRange(raw string) (start, end int, ok bool) {
	raw = strings.TrimSpace(raw)
	if clockRe.MatchString(raw) || hourMinuteRe.MatchString(raw) {
		return 0, 0, false
	}
	r, ok := periodRanges[periodPrefixRe.FindString(raw)]
	return r[0], r[1], ok
}

// ResolveTime turns a time phrase into an hour and minute. Afternoon and
// evening periods shift 1-11 o'clock by twelve hours.
func ResolveTime(raw string) (hour, minute int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	period := periodPrefixRe.FindString(raw)

	switch {
	case clockRe.MatchString(raw):
		m := clockRe.FindStringSubmatch(raw)
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
	case hourMinuteRe.MatchString(raw):
		m := hourMinuteRe.FindStringSubmatch(raw)
		h, hok := parseNumber(m[1])
		if !hok {
			return 0, 0, false
		}
		hour = h
		switch m[2] {
		case "":
		case "半":
			minute = 30
		case "一刻":
			minute = 15
		case "三刻":
			minute = 45
		default:
			if n, nok := parseNumber(m[3]); nok {
				minute = n
			}
		}
	case period != "":
		def := periodDefaults[period]
		return def[0], def[1], true
	default:
		return 0, 0, false
	}

	switch period {
	case "下午", "傍晚", "晚上", "今晚":
		if hour < 12 {
			hour += 12
		}
	case "中午":
		if hour < 11 {
			hour += 12
		}
	case "凌晨", "早上", "早晨", "上午":
		if hour == 12 {
			hour = 0
		}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// At combines a resolved date with a resolved time in the date's location.
func At(date time.Time, hour, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
}

func civilDate(y, m, d int, loc *time.Location) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	// Reject dates time.Date normalized (e.g. 2月30日).
	if t.Month() != time.Month(m) {
		return time.Time{}, false
	}
	return t, true
}

var cnDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// parseNumber accepts ASCII digits or Chinese numerals up to 99.
func parseNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}

	runes := []rune(s)
	total, cur := 0, -1
	for _, r := range runes {
		if r == '十' {
			if cur < 0 {
				cur = 1
			}
			total += cur * 10
			cur = -1
			continue
		}
		d, ok := cnDigits[r]
		if !ok {
			return 0, false
		}
		cur = d
	}
	if cur > 0 {
		total += cur
	}
	return total, true
}
