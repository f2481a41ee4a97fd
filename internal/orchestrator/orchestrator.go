package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nlcal/internal/confirm"
	"nlcal/internal/conflict"
	"nlcal/internal/intent"
	"nlcal/internal/llm"
	appLog "nlcal/internal/log"
	"nlcal/internal/matcher"
	"nlcal/internal/model"
	"nlcal/internal/recurrence"
	"nlcal/internal/store"
)

const (
	defaultTitle      = "新日程"
	defaultHour       = 9
	defaultLLMTimeout = 20 * time.Second

	// Candidate events for delete/update are searched in this window around
	// today, widened to include an explicitly named date.
	matchBackfillDays = 30
	matchHorizonDays  = 180
)

// FunctionCallRecord describes a structured call made while handling a command.
type FunctionCallRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Result    string         `json:"result,omitempty"`
}

// Response is what a command produces for the user.
type Response struct {
	Success           bool                  `json:"success"`
	Message           string                `json:"message"`
	Intent            intent.Type           `json:"intent,omitempty"`
	NeedsConfirmation bool                  `json:"needsConfirmation,omitempty"`
	CandidateEvents   []model.CalendarEvent `json:"candidateEvents,omitempty"`
	Events            []model.CalendarEvent `json:"events,omitempty"`
	Suggestions       []model.TimeSlot      `json:"suggestions,omitempty"`
	FunctionCalls     []FunctionCallRecord  `json:"functionCalls,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	Location        *time.Location
	DefaultDuration time.Duration
	WorkingHours    conflict.WorkingHours
	SearchDays      int
	Matcher         matcher.Options
	// Assistant handles unknown intents. Nil means offline.
	Assistant  llm.Assistant
	LLMTimeout time.Duration
	Now        func() time.Time
}

// Orchestrator routes classified commands to the matcher, conflict detector,
// confirmation machine and store. Commands run one at a time.
type Orchestrator struct {
	mu         sync.Mutex
	store      store.EventStore
	confirm    *confirm.Machine
	classifier *intent.Classifier
	matcher    *matcher.Matcher
	detector   *conflict.Detector
	opts       Options
}

// New wires an Orchestrator over st and machine.
func New(st store.EventStore, machine *confirm.Machine, opts Options) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	if opts.WorkingHours.End <= opts.WorkingHours.Start {
		opts.WorkingHours = conflict.DefaultWorkingHours
	}
	if opts.SearchDays <= 0 {
		opts.SearchDays = 3
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = defaultLLMTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Matcher.Location = opts.Location

	return &Orchestrator{
		store:      st,
		confirm:    machine,
		classifier: intent.NewClassifier(),
		matcher:    matcher.New(opts.Matcher),
		detector: conflict.NewDetector(st, conflict.Options{
			Location:     opts.Location,
			WorkingHours: opts.WorkingHours,
			SearchDays:   opts.SearchDays,
			Now:          opts.Now,
		}),
		opts: opts,
	}
}

// Handle classifies message for session and executes it.
func (o *Orchestrator) Handle(ctx context.Context, session, message string) Response {
	o.mu.Lock()
	defer o.mu.Unlock()

	pending := o.pending(ctx, session)
	pi := o.classifier.Identify(message, pending != nil)
	appLog.Info("command classified",
		"session", session,
		"intent", pi.Type,
		"confidence", pi.Confidence,
		"title", pi.Entities.EventTitle,
		"date", pi.Entities.Date,
		"time", pi.Entities.Time,
	)
	return o.dispatch(ctx, session, pi, pending)
}

// HandleIntent executes an already classified intent.
func (o *Orchestrator) HandleIntent(ctx context.Context, session string, pi intent.ParsedIntent) Response {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dispatch(ctx, session, pi, o.pending(ctx, session))
}

// Events returns concrete instances overlapping [start, end).
func (o *Orchestrator) Events(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	return o.instances(ctx, start, end)
}

// Slots returns free slots of duration on date within working hours.
func (o *Orchestrator) Slots(ctx context.Context, date time.Time, duration time.Duration) ([]model.TimeSlot, error) {
	return o.detector.FindAvailableSlots(ctx, date, duration, o.opts.WorkingHours)
}

// Location is the zone commands are interpreted in.
func (o *Orchestrator) Location() *time.Location { return o.opts.Location }

func (o *Orchestrator) pending(ctx context.Context, session string) *confirm.Context {
	c, err := o.confirm.Pending(ctx, session)
	if err != nil {
		appLog.Error("orchestrator: failed to load confirmation", err, "session", session)
		return nil
	}
	return c
}

func (o *Orchestrator) dispatch(ctx context.Context, session string, pi intent.ParsedIntent, pending *confirm.Context) Response {
	if pending != nil && pi.Type != intent.Confirm && pi.Type != intent.Cancel {
		if err := o.confirm.Clear(ctx, session); err != nil {
			appLog.Error("orchestrator: failed to clear stale confirmation", err, "session", session)
		} else {
			appLog.Info("stale confirmation discarded", "session", session, "action", pending.PendingAction, "new_intent", pi.Type)
		}
	}

	var resp Response
	switch pi.Type {
	case intent.Confirm:
		resp = o.handleConfirm(ctx, session)
	case intent.Cancel:
		resp = o.handleCancel(ctx, session)
	case intent.Create:
		resp = o.handleCreate(ctx, pi)
	case intent.Delete:
		resp = o.handleDelete(ctx, session, pi)
	case intent.Update:
		resp = o.handleUpdate(ctx, session, pi)
	case intent.Query:
		resp = o.handleQuery(ctx, pi)
	default:
		resp = o.handleUnknown(ctx, pi)
	}
	resp.Intent = pi.Type
	return resp
}

func (o *Orchestrator) handleConfirm(ctx context.Context, session string) Response {
	c, err := o.confirm.Confirm(ctx, session)
	if errors.Is(err, confirm.ErrNoPending) {
		return Response{Message: "当前没有待确认的操作。"}
	}
	if err != nil {
		return o.storageFailure("confirm", err)
	}
	switch c.PendingAction {
	case confirm.ActionDelete:
		return o.executeDelete(ctx, c)
	case confirm.ActionUpdate:
		return o.executeUpdate(ctx, c)
	}
	return Response{Message: "无法执行未知的待确认操作。"}
}

func (o *Orchestrator) handleCancel(ctx context.Context, session string) Response {
	c, err := o.confirm.Cancel(ctx, session)
	if err != nil {
		return o.storageFailure("cancel", err)
	}
	if c == nil {
		return Response{Success: true, Message: "当前没有需要取消的操作。"}
	}
	return Response{
		Success:         true,
		Message:         "已取消操作，以下日程保持不变：\n" + o.list(c.TargetEvents),
		CandidateEvents: c.TargetEvents,
	}
}

func (o *Orchestrator) handleQuery(ctx context.Context, pi intent.ParsedIntent) Response {
	now := o.now()
	day := model.DayStart(now)
	label := "今天"
	if pi.Entities.Date != "" {
		if d, ok := intent.ResolveDate(pi.Entities.Date, now); ok {
			day, label = d, pi.Entities.Date
		}
	}

	events, err := o.instances(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return o.storageFailure("query", err)
	}
	if pi.Entities.EventTitle != "" {
		events = o.matcher.FindCandidates(intent.Entities{EventTitle: pi.Entities.EventTitle}, events, now)
	}
	if len(events) == 0 {
		return Response{Success: true, Message: label + "没有日程安排。"}
	}
	return Response{
		Success: true,
		Message: fmt.Sprintf("%s共有%d个日程：\n%s", label, len(events), o.list(events)),
		Events:  events,
	}
}

func (o *Orchestrator) handleUnknown(ctx context.Context, pi intent.ParsedIntent) Response {
	if o.opts.Assistant == nil {
		return offlineResponse()
	}
	cctx, cancel := context.WithTimeout(ctx, o.opts.LLMTimeout)
	defer cancel()

	reply, err := o.opts.Assistant.Complete(cctx, pi.OriginalMessage, o.now())
	if err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			appLog.Error("orchestrator: assistant failed", err)
		}
		return offlineResponse()
	}

	if reply.Call != nil {
		if reply.Call.Name != llm.CreateEventFunction {
			appLog.Info("assistant called unknown function", "name", reply.Call.Name)
			return offlineResponse()
		}
		args, err := llm.ParseCreateArgs(reply.Call.Arguments, o.opts.Location)
		if err != nil {
			return Response{
				Message: "无法创建日程：" + err.Error(),
				FunctionCalls: []FunctionCallRecord{{
					Name: reply.Call.Name, Arguments: reply.Call.Arguments, Result: err.Error(),
				}},
			}
		}
		ev := model.CalendarEvent{
			Title:       args.Title,
			Description: args.Description,
			Start:       args.Start,
			End:         args.End,
			Location:    args.Location,
			Category:    args.Category,
			Color:       args.Category.Color(),
			Timezone:    o.opts.Location.String(),
		}
		return o.createEvent(ctx, ev, reply.Call.Arguments)
	}

	if reply.Text == "" {
		return offlineResponse()
	}
	return Response{Success: true, Message: reply.Text}
}

func offlineResponse() Response {
	return Response{Message: "抱歉，我没有理解您的意思。您可以试试：\n" +
		"- 明天下午3点开项目会议\n" +
		"- 删除明天的团队会议\n" +
		"- 把明天的团队会议改到后天下午4点\n" +
		"- 明天有什么安排"}
}

func (o *Orchestrator) storageFailure(op string, err error) Response {
	appLog.Error("orchestrator: storage failure", err, "op", op)
	return Response{Message: "操作失败：日程存储暂时不可用，请稍后重试。"}
}

func (o *Orchestrator) now() time.Time {
	return o.opts.Now().In(o.opts.Location)
}

func (o *Orchestrator) instances(ctx context.Context, start, end time.Time) ([]model.CalendarEvent, error) {
	stored, err := o.store.List(ctx, start, end)
	if err != nil {
		return nil, err
	}
	res, err := recurrence.ExpandEvents(stored, recurrence.ExpandConfig{
		DisplayLocation: o.opts.Location,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}
