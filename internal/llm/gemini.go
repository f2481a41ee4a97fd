package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	appLog "nlcal/internal/log"
)

// DefaultTimeout bounds a single Gemini call.
const DefaultTimeout = 15 * time.Second

var createEventDecl = &genai.FunctionDeclaration{
	Name:        CreateEventFunction,
	Description: "Create a calendar event for the user.",
	Parameters: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       {Type: genai.TypeString, Description: "Short event title, e.g. 项目会议"},
			"startTime":   {Type: genai.TypeString, Description: "Start time, ISO-8601 (2006-01-02T15:04:05)"},
			"endTime":     {Type: genai.TypeString, Description: "End time, ISO-8601"},
			"location":    {Type: genai.TypeString, Description: "Where the event takes place"},
			"description": {Type: genai.TypeString, Description: "Free-form notes"},
			"category": {
				Type: genai.TypeString,
				Enum: []string{"work", "personal", "study", "health", "social", "travel", "other"},
			},
			"priority": {Type: genai.TypeString, Enum: []string{"low", "medium", "high"}},
		},
		Required: []string{"title", "startTime", "endTime"},
	},
}

// GeminiAssistant asks a Gemini model, offering createCalendarEvent as a tool.
type GeminiAssistant struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	loc     *time.Location
	timeout time.Duration
}

// NewGemini dials the Gemini API. An empty key yields ErrUnavailable.
func NewGemini(ctx context.Context, apiKey, modelName string, timeout time.Duration, loc *time.Location) (*GeminiAssistant, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: no api key: %w", ErrUnavailable)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	m := client.GenerativeModel(modelName)
	m.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{createEventDecl}}}
	appLog.Info("gemini assistant initialized", "model", modelName, "timeout", timeout)
	return &GeminiAssistant{client: client, model: m, loc: loc, timeout: timeout}, nil
}

// Close releases the underlying client.
func (g *GeminiAssistant) Close() error {
	return g.client.Close()
}

func (g *GeminiAssistant) Complete(ctx context.Context, message string, now time.Time) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// GenerativeModel is not safe to mutate concurrently; use a shallow copy.
	m := *g.model
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt(now.In(g.loc)))}}

	resp, err := m.GenerateContent(ctx, genai.Text(message))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, fmt.Errorf("gemini: timed out after %s: %w", g.timeout, ErrUnavailable)
		}
		return Reply{}, fmt.Errorf("gemini: generate: %w", err)
	}
	return replyFrom(resp)
}

func replyFrom(resp *genai.GenerateContentResponse) (Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Reply{}, fmt.Errorf("gemini: empty response: %w", ErrUnavailable)
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			return Reply{Call: &FunctionCall{Name: p.Name, Arguments: p.Args}}, nil
		case genai.Text:
			text.WriteString(string(p))
		}
	}
	return Reply{Text: strings.TrimSpace(text.String())}, nil
}

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(`你是一个日历助手。当前时间是 %s（%s，时区 %s）。
如果用户想创建日程，调用 %s，时间使用 ISO-8601 格式且不带时区偏移；否则用简短的中文回答。`,
		now.Format("2006-01-02 15:04"), weekdayCN[now.Weekday()], now.Location(), CreateEventFunction)
}

var weekdayCN = [...]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}
