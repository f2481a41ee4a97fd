package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"

	"nlcal/internal/model"
)

var cst = time.FixedZone("CST", 8*3600)

func TestParseCreateArgs(t *testing.T) {
	got, err := ParseCreateArgs(map[string]any{
		"title":     "项目会议",
		"startTime": "2026-10-20T15:00:00",
		"endTime":   "2026-10-20T16:00",
		"location":  "3号会议室",
	}, cst)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Start.Equal(time.Date(2026, 10, 20, 15, 0, 0, 0, cst)) || !got.End.Equal(time.Date(2026, 10, 20, 16, 0, 0, 0, cst)) {
		t.Errorf("times = %v - %v", got.Start, got.End)
	}
	if got.Category != model.CategoryWork || got.Location != "3号会议室" {
		t.Errorf("args = %+v", got)
	}

	withZone, err := ParseCreateArgs(map[string]any{
		"title":     "call",
		"startTime": "2026-10-20T07:00:00Z",
		"endTime":   "2026-10-20T08:00:00Z",
		"category":  "Social",
	}, cst)
	if err != nil {
		t.Fatal(err)
	}
	if withZone.Start.Hour() != 15 || withZone.Category != model.CategorySocial {
		t.Errorf("zoned args = %+v", withZone)
	}
}

func TestParseCreateArgsRejects(t *testing.T) {
	cases := map[string]map[string]any{
		"no title":   {"startTime": "2026-10-20T15:00", "endTime": "2026-10-20T16:00"},
		"bad start":  {"title": "x", "startTime": "tomorrow", "endTime": "2026-10-20T16:00"},
		"no end":     {"title": "x", "startTime": "2026-10-20T15:00"},
		"end before": {"title": "x", "startTime": "2026-10-20T15:00", "endTime": "2026-10-20T14:00"},
	}
	for name, args := range cases {
		if _, err := ParseCreateArgs(args, cst); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestOfflineIsUnavailable(t *testing.T) {
	_, err := Offline{}.Complete(context.Background(), "hi", time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewGeminiWithoutKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), "", "gemini-1.5-flash", 0, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestReplyFrom(t *testing.T) {
	call := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{
			genai.Text("好的"),
			genai.FunctionCall{Name: CreateEventFunction, Args: map[string]any{"title": "聚餐"}},
		}},
	}}}
	r, err := replyFrom(call)
	if err != nil {
		t.Fatal(err)
	}
	if r.Call == nil || r.Call.Name != CreateEventFunction || r.Call.Arguments["title"] != "聚餐" {
		t.Fatalf("reply = %+v", r)
	}

	text := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(" 你好 ")}},
	}}}
	r, err = replyFrom(text)
	if err != nil || r.Text != "你好" || r.Call != nil {
		t.Fatalf("reply = %+v, %v", r, err)
	}

	if _, err := replyFrom(&genai.GenerateContentResponse{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty err = %v", err)
	}
}

func TestAPIKeyLookupOrder(t *testing.T) {
	t.Setenv("MY_KEY", "")
	t.Setenv("NLCAL_GEMINI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "fallback")
	if got := APIKey("MY_KEY"); got != "fallback" {
		t.Errorf("APIKey = %q", got)
	}
	t.Setenv("MY_KEY", "primary")
	if got := APIKey("MY_KEY"); got != "primary" {
		t.Errorf("APIKey = %q", got)
	}
}
