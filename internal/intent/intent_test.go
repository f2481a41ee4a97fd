package intent

import (
	"testing"
	"time"
)

var cst = time.FixedZone("CST", 8*3600)

// Monday.
var now = time.Date(2026, 10, 19, 8, 0, 0, 0, cst)

func TestIdentifyScenarios(t *testing.T) {
	cases := []struct {
		msg      string
		want     Type
		title    string
		date     string
		timeText string
	}{
		{"明天下午3点开项目会议", Create, "项目会议", "明天", "下午3点"},
		{"删除明天的团队会议", Delete, "团队会议", "明天", ""},
		{"取消后天上午10:30的面试", Delete, "面试", "后天", "上午10:30"},
		{"帮我安排一个周五的部门聚餐", Create, "部门聚餐", "周五", ""},
		{"明天有什么安排", Query, "", "明天", ""},
		{"下午有什么会议吗", Query, "会议", "", "下午"},
		{"把明天的团队会议改到后天下午4点", Update, "团队会议", "明天", ""},
	}
	c := NewClassifier()
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			got := c.Identify(tc.msg, false)
			if got.Type != tc.want {
				t.Fatalf("Type = %s, want %s (entities %+v)", got.Type, tc.want, got.Entities)
			}
			if got.Entities.EventTitle != tc.title {
				t.Errorf("EventTitle = %q, want %q", got.Entities.EventTitle, tc.title)
			}
			if got.Entities.Date != tc.date {
				t.Errorf("Date = %q, want %q", got.Entities.Date, tc.date)
			}
			if got.Entities.Time != tc.timeText {
				t.Errorf("Time = %q, want %q", got.Entities.Time, tc.timeText)
			}
			if got.OriginalMessage != tc.msg {
				t.Errorf("OriginalMessage = %q", got.OriginalMessage)
			}
		})
	}
}

func TestIdentifyUnknownConfidence(t *testing.T) {
	for _, msg := range []string{"随便聊聊", "今天天气怎么样", "", "   "} {
		got := NewClassifier().Identify(msg, false)
		if got.Type != Unknown || got.Confidence != 0.1 {
			t.Errorf("Identify(%q) = %+v", msg, got)
		}
	}
}

func TestDeleteRequiresCalendarContextOrDate(t *testing.T) {
	c := NewClassifier()
	if got := c.Identify("取消吧，我不想说了", false); got.Type == Delete {
		t.Errorf("conversational 取消 classified as delete: %+v", got)
	}
	if got := c.Identify("取消10月20日的安排", false); got.Type != Delete {
		t.Errorf("dated 取消 = %s", got.Type)
	}
}

func TestCreateSufficientConditions(t *testing.T) {
	c := NewClassifier()
	for _, msg := range []string{
		"创建一个培训",    // create kw + event kw
		"周三下午面试",    // event kw + time ref
		"明天9点提醒我交报告", // create kw + time ref
	} {
		if got := c.Identify(msg, false); got.Type != Create {
			t.Errorf("Identify(%q) = %s", msg, got.Type)
		}
	}
}

func TestConfirmationReplies(t *testing.T) {
	c := NewClassifier()
	cases := map[string]Type{
		"确认":    Confirm,
		"好的！":   Confirm,
		"是":     Confirm,
		"OK":    Confirm,
		"不要":    Cancel,
		"算了":    Cancel,
		"取消":    Cancel,
		"不确定":   Cancel,
		"no":    Cancel,
		"明天下午3点开项目会议": Create,
	}
	for msg, want := range cases {
		got := c.Identify(msg, true)
		if got.Type != want {
			t.Errorf("Identify(%q, pending) = %s, want %s", msg, got.Type, want)
		}
		if (want == Confirm || want == Cancel) && got.Confidence != 0.9 {
			t.Errorf("Identify(%q) confidence = %v", msg, got.Confidence)
		}
	}

	// Without a pending context the same reply is not a confirmation.
	if got := c.Identify("确认", false); got.Type == Confirm {
		t.Errorf("confirm without context: %+v", got)
	}
}

func TestDeleteConfidenceMonotone(t *testing.T) {
	steps := []struct {
		e      Entities
		strong bool
	}{
		{Entities{}, false},
		{Entities{EventTitle: "会议"}, false},
		{Entities{EventTitle: "会议", Date: "明天"}, false},
		{Entities{EventTitle: "会议", Date: "明天", Time: "3点"}, false},
		{Entities{EventTitle: "会议", Date: "明天", Time: "3点"}, true},
	}
	prev := 0.0
	for i, s := range steps {
		c := deleteConfidence(s.e, s.strong)
		if c < prev {
			t.Errorf("step %d: confidence %v < %v", i, c, prev)
		}
		if c > 0.95 {
			t.Errorf("step %d: confidence %v above cap", i, c)
		}
		prev = c
	}
	if prev != 0.95 {
		t.Errorf("fully specified delete confidence = %v, want 0.95", prev)
	}
}

func TestCreateConfidenceCap(t *testing.T) {
	e := Entities{EventTitle: "x", Date: "明天", Time: "3点", Location: "会议室"}
	if c := createConfidence(e, true); c != 0.9 {
		t.Errorf("createConfidence = %v, want 0.9", c)
	}
	got := NewClassifier().Identify("明天下午3点开项目会议", false)
	if got.Confidence <= 0.5 || got.Confidence > 0.9 {
		t.Errorf("create confidence = %v", got.Confidence)
	}
}

func TestExtractLocation(t *testing.T) {
	cases := map[string]string{
		"明天下午3点在3号会议室开项目会议": "3号会议室",
		"周五去医院体检":           "医院",
		"下午在星巴克和老王见面":       "星巴克",
		"现在开会":              "",
		"把会议改到下午4点":         "",
		"在明天上午开会":           "",
		"B座会议室开评审会":         "B座会议室",
	}
	for msg, want := range cases {
		if got := ExtractLocation(msg); got != want {
			t.Errorf("ExtractLocation(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestExtractTitleWithLocation(t *testing.T) {
	e := Extract("明天下午3点在3号会议室开项目会议")
	if e.EventTitle != "项目会议" || e.Location != "3号会议室" {
		t.Fatalf("entities = %+v", e)
	}
	q := Extract("删除“周报评审”")
	if q.EventTitle != "周报评审" {
		t.Errorf("quoted title = %q", q.EventTitle)
	}
}

func TestExtractUpdateTarget(t *testing.T) {
	e := Extract("把明天的团队会议改到后天下午4点")
	if e.NewDate != "后天" || e.NewTime != "下午4点" {
		t.Fatalf("new values = %q %q", e.NewDate, e.NewTime)
	}
	if e.Date != "明天" || e.EventTitle != "团队会议" {
		t.Fatalf("target = %+v", e)
	}
}

func TestExtractTimeRange(t *testing.T) {
	e := Extract("明天下午2点到4点开评审会议")
	if e.Time != "下午2点" || e.EndTime != "4点" {
		t.Fatalf("time range = %q..%q", e.Time, e.EndTime)
	}
}

func TestExtractScope(t *testing.T) {
	if s := Extract("删除所有的周会").Scope; s != ScopeAll {
		t.Errorf("scope = %q", s)
	}
	if s := Extract("删除下周一及以后的周会").Scope; s != ScopeFollowing {
		t.Errorf("scope = %q", s)
	}
	if s := Extract("删除明天的周会").Scope; s != "" {
		t.Errorf("scope = %q", s)
	}
}

func TestResolveDate(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"今天", time.Date(2026, 10, 19, 0, 0, 0, 0, cst)},
		{"明天", time.Date(2026, 10, 20, 0, 0, 0, 0, cst)},
		{"大后天", time.Date(2026, 10, 22, 0, 0, 0, 0, cst)},
		{"昨天", time.Date(2026, 10, 18, 0, 0, 0, 0, cst)},
		{"10月25日", time.Date(2026, 10, 25, 0, 0, 0, 0, cst)},
		{"11.3", time.Date(2026, 11, 3, 0, 0, 0, 0, cst)},
		{"2027年1月5日", time.Date(2027, 1, 5, 0, 0, 0, 0, cst)},
		{"1月5日", time.Date(2027, 1, 5, 0, 0, 0, 0, cst)},
		{"周五", time.Date(2026, 10, 23, 0, 0, 0, 0, cst)},
		{"下周三", time.Date(2026, 10, 28, 0, 0, 0, 0, cst)},
		{"星期日", time.Date(2026, 10, 25, 0, 0, 0, 0, cst)},
		{"下周", time.Date(2026, 10, 26, 0, 0, 0, 0, cst)},
		{"三天后", time.Date(2026, 10, 22, 0, 0, 0, 0, cst)},
	}
	for _, tc := range cases {
		got, ok := ResolveDate(tc.raw, now)
		if !ok || !got.Equal(tc.want) {
			t.Errorf("ResolveDate(%q) = %v, %v; want %v", tc.raw, got, ok, tc.want)
		}
	}
	for _, bad := range []string{"", "2月30日", "随便"} {
		if _, ok := ResolveDate(bad, now); ok {
			t.Errorf("ResolveDate(%q) should fail", bad)
		}
	}
}

func TestResolveTime(t *testing.T) {
	cases := []struct {
		raw  string
		h, m int
	}{
		{"下午3点", 15, 0},
		{"上午10:30", 10, 30},
		{"晚上八点半", 20, 30},
		{"中午12点", 12, 0},
		{"中午1点", 13, 0},
		{"9点一刻", 9, 15},
		{"14时20分", 14, 20},
		{"下午", 14, 0},
		{"十二点", 12, 0},
	}
	for _, tc := range cases {
		h, m, ok := ResolveTime(tc.raw)
		if !ok || h != tc.h || m != tc.m {
			t.Errorf("ResolveTime(%q) = %d:%02d %v, want %d:%02d", tc.raw, h, m, ok, tc.h, tc.m)
		}
	}
	if _, _, ok := ResolveTime("25:00"); ok {
		t.Error("ResolveTime(25:00) should fail")
	}
}

func TestPeriodRange(t *testing.T) {
	if from, to, ok := PeriodRange("下午"); !ok || from != 12 || to != 18 {
		t.Errorf("PeriodRange(下午) = %d-%d %v", from, to, ok)
	}
	if from, to, ok := PeriodRange("晚上"); !ok || from != 18 || to != 24 {
		t.Errorf("PeriodRange(晚上) = %d-%d %v", from, to, ok)
	}
	for _, raw := range []string{"下午3点", "10:30", "", "明天"} {
		if _, _, ok := PeriodRange(raw); ok {
			t.Errorf("PeriodRange(%q) should not be a period", raw)
		}
	}
}
