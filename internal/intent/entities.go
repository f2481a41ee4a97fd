package intent

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	periodPattern = `(?:凌晨|早上|早晨|上午|中午|下午|傍晚|晚上|今晚)`
	cnNumPattern  = `[零一二三四五六七八九十两]{1,3}`

	maxResidualTitleRunes = 10
	locationWindowRunes   = 10
)

// Date patterns are tried in order: explicit dates before relative ones.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}[日号]?`),
	regexp.MustCompile(`\d{1,2}月\d{1,2}[日号]?`),
	regexp.MustCompile(`(?:^|[^\d:：.])(\d{1,2}[./]\d{1,2})(?:[^\d:：.点时]|$)`),
	regexp.MustCompile(`大后天|后天|明天|今天|昨天|前天|今日|明日|今晚`),
	regexp.MustCompile(`(?:下下|下|这|本|上)?(?:周|星期|礼拜)[一二三四五六日天1-7]`),
	regexp.MustCompile(`(?:\d{1,2}|` + cnNumPattern + `)天(?:后|以后|之后)`),
	regexp.MustCompile(`下周|下个星期|下星期|下礼拜`),
}

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(periodPattern + `?\d{1,2}[:：]\d{2}`),
	regexp.MustCompile(periodPattern + `?(?:\d{1,2}|` + cnNumPattern + `)[点时](?:半|一刻|三刻|(?:\d{1,2}|` + cnNumPattern + `)分?)?`),
	regexp.MustCompile(periodPattern),
}

var (
	quotedTitleRe = regexp.MustCompile(`[“"「『《'‘]([^”"」』》'’]+)[”"」』》'’]`)
	suffixTitleRe = regexp.MustCompile(`[\p{Han}A-Za-z0-9]{0,10}?(?:会议|约会|活动|培训|课程|聚会|面试|考试|讲座|例会|聚餐)`)
	rangeJoinRe   = regexp.MustCompile(`^\s*(?:到|至|-|~|—|～)\s*`)
	placeNounRe   = regexp.MustCompile(`[0-9A-Za-z号楼层栋座室#\-]*(?:会议室|办公室|公司|学校|医院|餐厅|饭店|咖啡厅|咖啡馆|图书馆|体育馆|健身房|酒店|机场|车站|火车站|教室|食堂|家里|公园)`)
)

var (
	locationPrepositions = []string{"在", "去", "到", "于"}
	// Characters that, directly before a preposition, make it part of another word
	// (现在, 改到, 推迟到 ...).
	prepositionBlockers = []string{"现", "正", "存", "实", "所", "自", "改", "挪", "移", "换", "迟", "前", "整", "直", "等"}
	locationStopWords   = []string{"开会", "开", "举行", "举办", "参加", "见面", "吃饭", "和", "跟", "与", "的", "上课", "面试"}

	leadingVerbs = []string{"召开", "参加", "出席", "举行", "举办", "开个", "约个", "有个", "一个", "开", "约", "去", "有", "个"}
	// "开" is kept when it starts a word such as 开发.
	openCompounds = []string{"发", "放", "学", "业", "心", "题", "幕", "工"}

	fillerWords = []string{"帮我", "给我", "我要", "我想", "麻烦", "请", "一下"}
	particles   = []string{"的", "了", "吧", "呢", "吗", "啊", "呀", "把", "请"}

	// genericTitles name the calendar itself rather than an event.
	genericTitles = map[string]bool{"日程": true, "安排": true, "事件": true, "提醒": true, "事情": true, "活动安排": true, "行程": true}

	allScopeAll       = []string{"所有", "全部", "每次", "整个系列"}
	allScopeFollowing = []string{"及以后", "以后的", "之后的", "以后", "之后"}
)

// strippable words removed before title matching, longest first.
var strippable []string

func init() {
	seen := make(map[string]bool)
	for _, group := range [][]string{
		deleteKeywords, updateMarkers, updateKeywords, createKeywords, queryKeywords,
		fillerWords, allScopeAll, allScopeFollowing,
	} {
		for _, w := range group {
			// Single-rune create verbs are handled as leading verbs only.
			if utf8.RuneCountInString(w) < 2 || seen[w] {
				continue
			}
			seen[w] = true
			strippable = append(strippable, w)
		}
	}
	sort.SliceStable(strippable, func(i, j int) bool {
		return utf8.RuneCountInString(strippable[i]) > utf8.RuneCountInString(strippable[j])
	})
}

// Extract pulls title, date, time, location and scope out of message. Update
// messages are split at the change marker: the part before it names the
// target, the part after it supplies NewDate/NewTime.
func Extract(message string) Entities {
	var e Entities

	target := message
	if idx, marker := findUpdateMarker(message); idx >= 0 {
		target = message[:idx]
		rest := message[idx+len(marker):]
		e.NewDate = ExtractDate(rest)
		e.NewTime, _ = extractTimeRange(rest)
	}

	e.Date = ExtractDate(target)
	e.Time, e.EndTime = extractTimeRange(target)
	e.Location = ExtractLocation(target)
	e.Scope = extractScope(message)
	e.EventTitle = extractTitle(target, e)
	return e
}

// ExtractDate returns the first date phrase in s, or "".
func ExtractDate(s string) string {
	for _, re := range datePatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return m[1]
		}
		return m[0]
	}
	return ""
}

// ExtractTime returns the first time phrase in s, or "".
func ExtractTime(s string) string {
	t, _ := extractTimeRange(s)
	return t
}

// extractTimeRange returns the first time phrase and, when it is followed by
// a range connector (到/至/-), the end time phrase.
func extractTimeRange(s string) (start, end string) {
	for _, re := range timePatterns {
		loc := re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		start = s[loc[0]:loc[1]]
		rest := s[loc[1]:]
		if j := rangeJoinRe.FindStringIndex(rest); j != nil {
			after := rest[j[1]:]
			for _, re2 := range timePatterns[:2] {
				if m := re2.FindStringIndex(after); m != nil && m[0] == 0 {
					end = after[:m[1]]
					break
				}
			}
		}
		return start, end
	}
	return "", ""
}

// ExtractLocation scans a short window after a location preposition, or
// falls back to a known place noun with its prefix (e.g. "3号会议室").
func ExtractLocation(s string) string {
	for _, prep := range locationPrepositions {
		from := 0
		for {
			i := strings.Index(s[from:], prep)
			if i < 0 {
				break
			}
			i += from
			from = i + len(prep)

			if i > 0 && hasSuffixAny(s[:i], prepositionBlockers) {
				continue
			}
			window := takeRunes(s[from:], locationWindowRunes)
			if window == "" || startsWithTemporal(window) {
				continue
			}
			if loc := trimLocation(window); loc != "" {
				return loc
			}
		}
	}
	return placeNounRe.FindString(s)
}

func trimLocation(window string) string {
	if m := placeNounRe.FindStringIndex(window); m != nil {
		return strings.TrimSpace(window[:m[1]])
	}
	cut := len(window)
	for i, r := range window {
		if strings.ContainsRune("，。,.!！?？;；、 \t", r) {
			cut = i
			break
		}
	}
	window = window[:cut]
	for _, stop := range locationStopWords {
		if j := strings.Index(window, stop); j >= 0 {
			window = window[:j]
		}
	}
	// Drop anything that turned out to be a time phrase.
	if t := ExtractTime(window); t != "" {
		if j := strings.Index(window, t); j >= 0 {
			window = window[:j]
		}
	}
	return strings.TrimSpace(window)
}

func startsWithTemporal(s string) bool {
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r >= '0' && r <= '9' && !placeNounRe.MatchString(takeRunes(s, locationWindowRunes)) {
		return true
	}
	for _, group := range [][]*regexp.Regexp{datePatterns, timePatterns} {
		for _, re := range group {
			if loc := re.FindStringIndex(s); loc != nil && loc[0] == 0 {
				return true
			}
		}
	}
	return false
}

func extractScope(s string) string {
	switch {
	case containsAny(s, allScopeAll):
		return ScopeAll
	case containsAny(s, allScopeFollowing):
		return ScopeFollowing
	}
	return ""
}

func extractTitle(s string, e Entities) string {
	if m := quotedTitleRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}

	residual := s
	phrases := []string{e.Date, e.Time, e.EndTime, e.Location}
	// Longest first: "今晚8点" must go before "今晚".
	sort.SliceStable(phrases, func(i, j int) bool { return len(phrases[i]) > len(phrases[j]) })
	for _, phrase := range phrases {
		if phrase != "" {
			residual = strings.Replace(residual, phrase, " ", 1)
		}
	}
	residual = rangeJoinRe.ReplaceAllString(residual, " ")
	for _, w := range strippable {
		residual = strings.ReplaceAll(residual, w, " ")
	}
	for _, p := range particles {
		residual = strings.ReplaceAll(residual, p, " ")
	}
	for _, prep := range locationPrepositions {
		if e.Location != "" {
			residual = strings.ReplaceAll(residual, prep+" ", " ")
		}
	}

	if m := suffixTitleRe.FindString(strings.ReplaceAll(residual, " ", "")); m != "" {
		return stripLeadingVerbs(m)
	}

	compact := strings.TrimSpace(strings.Join(strings.Fields(residual), ""))
	compact = stripLeadingVerbs(compact)
	compact = strings.Trim(compact, "，。,.!！?？;；、")
	if genericTitles[compact] {
		return ""
	}
	if n := utf8.RuneCountInString(compact); n >= 2 && n <= maxResidualTitleRunes {
		return compact
	}
	return ""
}

func stripLeadingVerbs(s string) string {
	for changed := true; changed; {
		changed = false
		for _, v := range leadingVerbs {
			if !strings.HasPrefix(s, v) {
				continue
			}
			rest := s[len(v):]
			if rest == "" {
				continue
			}
			if v == "开" && hasPrefixAny(rest, openCompounds) {
				continue
			}
			// Keep at least a two-rune title.
			if utf8.RuneCountInString(rest) < 2 {
				continue
			}
			s = rest
			changed = true
			break
		}
	}
	return s
}

func findUpdateMarker(s string) (int, string) {
	best, marker := -1, ""
	for _, m := range updateMarkers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best, marker = i, m
		}
	}
	return best, marker
}

func takeRunes(s string, n int) string {
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}

func hasSuffixAny(s string, suffixes []string) bool {
	for _, x := range suffixes {
		if strings.HasSuffix(s, x) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes []string) bool {
	for _, x := range prefixes {
		if strings.HasPrefix(s, x) {
			return true
		}
	}
	return false
}
