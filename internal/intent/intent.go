package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Type is the classified purpose of a user message.
type Type string

const (
	Create  Type = "create"
	Delete  Type = "delete"
	Update  Type = "update"
	Query   Type = "query"
	Confirm Type = "confirm"
	Cancel  Type = "cancel"
	Unknown Type = "unknown"
)

// Scope words for recurring events.
const (
	ScopeSingle    = "single"
	ScopeFollowing = "following"
	ScopeAll       = "all"
)

// Entities are the structured fields extracted from a message. Date and time
// fields hold the raw phrase; see ResolveDate and ResolveTime.
type Entities struct {
	EventTitle string `json:"eventTitle,omitempty"`
	Date       string `json:"date,omitempty"`
	Time       string `json:"time,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
	Location   string `json:"location,omitempty"`

	// NewDate / NewTime carry the target of an update ("改到后天下午4点").
	NewDate string `json:"newDate,omitempty"`
	NewTime string `json:"newTime,omitempty"`

	// Scope is single, following or all; empty when the message says nothing.
	Scope string `json:"scope,omitempty"`
}

// ParsedIntent is the classifier output. It is discarded once handled.
type ParsedIntent struct {
	Type            Type     `json:"type"`
	Confidence      float64  `json:"confidence"`
	Entities        Entities `json:"entities"`
	OriginalMessage string   `json:"originalMessage"`
}

const (
	replyConfidence   = 0.9
	unknownConfidence = 0.1
	maxReplyRunes     = 8
)

var (
	confirmKeywords = []string{"确认", "确定", "是的", "好的", "可以", "没问题", "对", "是", "好", "行", "嗯", "ok", "yes", "y"}
	cancelKeywords  = []string{"不要", "取消", "算了", "别删", "不用", "不", "否", "别", "no", "n"}

	deleteKeywords       = []string{"删除", "删掉", "删了", "取消", "清除", "移除", "去掉", "撤销"}
	strongDeleteKeywords = []string{"删除", "删掉", "移除"}
	calendarKeywords     = []string{"日程", "会议", "活动", "安排", "事件", "约会", "提醒", "课程", "聚会", "面试", "培训", "考试", "讲座", "开会", "会"}

	updateKeywords = []string{"修改", "更改", "改到", "改成", "改为", "改在", "改期", "推迟", "提前", "调整", "挪到", "移到", "换到"}
	// updateMarkers split a message into target (before) and new values (after).
	updateMarkers = []string{"推迟到", "提前到", "调整到", "改到", "改成", "改为", "改在", "挪到", "移到", "换到"}

	createKeywords       = []string{"创建", "新建", "添加", "增加", "安排", "预约", "预定", "提醒我", "记得", "设置", "约", "开", "加"}
	strongCreateKeywords = []string{"创建", "新建", "添加", "安排"}
	eventKeywords        = []string{"会议", "约会", "活动", "培训", "课程", "聚会", "面试", "考试", "讲座", "开会", "见面", "吃饭", "聚餐", "日程", "例会", "上课", "会"}

	queryKeywords = []string{"查看", "查询", "看看", "看一下", "有没有", "有什么", "有哪些", "什么安排", "显示", "列出", "几点", "什么时候"}
	// questionMarkers turn a message into a question; a question never creates.
	questionMarkers = []string{"吗", "?", "？", "有没有", "有什么", "有哪些", "查看", "查询", "几点", "什么时候"}
)

// Classifier turns free text into a ParsedIntent. It is stateless; the
// caller says whether a confirmation is pending.
type Classifier struct{}

// NewClassifier returns a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Identify classifies message. With awaitingConfirmation set, short replies
// are first tested against cancel and confirm keywords and short-circuit to
// Cancel/Confirm. Otherwise the order is delete, update, create, query.
// Identify never fails: unmatched input yields Unknown.
func (c *Classifier) Identify(message string, awaitingConfirmation bool) ParsedIntent {
	out := ParsedIntent{Type: Unknown, Confidence: unknownConfidence, OriginalMessage: message}
	text := strings.TrimSpace(message)
	if text == "" {
		return out
	}

	if awaitingConfirmation {
		if t, ok := classifyReply(text); ok {
			out.Type = t
			out.Confidence = replyConfidence
			return out
		}
	}

	ents := Extract(text)
	out.Entities = ents

	hasDate := ents.Date != ""
	hasTime := ents.Time != ""

	switch {
	case containsAny(text, deleteKeywords) && (containsAny(text, calendarKeywords) || hasDate):
		out.Type = Delete
		out.Confidence = deleteConfidence(ents, containsAny(text, strongDeleteKeywords))

	case containsAny(text, updateKeywords) && (containsAny(text, eventKeywords) || hasDate || ents.EventTitle != ""):
		out.Type = Update
		out.Confidence = updateConfidence(ents)

	case isCreate(text, hasDate || hasTime) && !containsAny(text, questionMarkers):
		out.Type = Create
		out.Confidence = createConfidence(ents, containsAny(text, strongCreateKeywords))

	case containsAny(text, queryKeywords) || containsAny(text, questionMarkers):
		out.Type = Query
		out.Confidence = 0.7
		if hasDate {
			out.Confidence += 0.1
		}
	}
	return out
}

// isCreate accepts any of three sufficient conditions because users often
// omit either the verb or the noun.
func isCreate(text string, timeRef bool) bool {
	createKw := containsAny(text, createKeywords)
	eventKw := containsAny(text, eventKeywords)
	return (createKw && eventKw) || (eventKw && timeRef) || (createKw && timeRef)
}

func classifyReply(text string) (Type, bool) {
	norm := strings.ToLower(strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
	if norm == "" || utf8.RuneCountInString(norm) > maxReplyRunes {
		return "", false
	}
	// Latin replies must match whole words so "no" does not hit "now".
	if isASCII(norm) {
		for _, w := range strings.Fields(norm) {
			switch w {
			case "no", "n", "cancel":
				return Cancel, true
			case "ok", "okay", "yes", "y", "sure":
				return Confirm, true
			}
		}
		return "", false
	}
	// Negations are tested first: "不确定" is a refusal.
	if containsAny(norm, cancelKeywords) {
		return Cancel, true
	}
	if containsAny(norm, confirmKeywords) {
		return Confirm, true
	}
	return "", false
}

// deleteConfidence grows monotonically as entities are added.
func deleteConfidence(e Entities, strongKeyword bool) float64 {
	c := 0.6
	if e.EventTitle != "" {
		c += 0.1
	}
	if e.Date != "" {
		c += 0.1
	}
	if e.Time != "" {
		c += 0.05
	}
	if strongKeyword {
		c += 0.1
	}
	return capAt(c, 0.95)
}

func createConfidence(e Entities, strongKeyword bool) float64 {
	c := 0.5
	if e.EventTitle != "" {
		c += 0.15
	}
	if e.Date != "" {
		c += 0.1
	}
	if e.Time != "" {
		c += 0.1
	}
	if e.Location != "" {
		c += 0.05
	}
	if strongKeyword {
		c += 0.1
	}
	return capAt(c, 0.9)
}

func updateConfidence(e Entities) float64 {
	c := 0.6
	if e.EventTitle != "" {
		c += 0.1
	}
	if e.Date != "" {
		c += 0.1
	}
	if e.NewDate != "" || e.NewTime != "" {
		c += 0.1
	}
	return capAt(c, 0.9)
}

func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	// Round away float noise from the additive boosts.
	return float64(int(v*1000+0.5)) / 1000
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
