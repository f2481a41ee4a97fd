package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nlcal/internal/confirm"
	"nlcal/internal/intent"
	"nlcal/internal/llm"
	"nlcal/internal/model"
	"nlcal/internal/store"
)

// Monday 08:00.
var now = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func at(day, h, m int) time.Time { return time.Date(2026, 10, day, h, m, 0, 0, time.UTC) }

type fakeAssistant struct {
	reply llm.Reply
	err   error
	got   string
}

func (f *fakeAssistant) Complete(_ context.Context, message string, _ time.Time) (llm.Reply, error) {
	f.got = message
	return f.reply, f.err
}

type brokenStore struct{ store.EventStore }

func (brokenStore) List(context.Context, time.Time, time.Time) ([]model.CalendarEvent, error) {
	return nil, errors.New("database is locked")
}

func newOrchestrator(t *testing.T, st store.EventStore, a llm.Assistant) *Orchestrator {
	t.Helper()
	machine := confirm.NewMachine(confirm.NewMemoryStore(clock), 0, clock)
	return New(st, machine, Options{Location: time.UTC, Assistant: a, Now: clock})
}

func seed(t *testing.T, st store.EventStore, ev model.CalendarEvent) model.CalendarEvent {
	t.Helper()
	out, err := st.Create(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestDeleteAfterConfirmation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	ev := seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	resp := o.Handle(ctx, "s1", "删除明天的团队会议")
	if resp.Intent != intent.Delete || !resp.NeedsConfirmation || len(resp.CandidateEvents) != 1 {
		t.Fatalf("delete resp = %+v", resp)
	}
	if _, err := st.GetByID(ctx, ev.ID); err != nil {
		t.Fatalf("event removed before confirmation: %v", err)
	}

	resp = o.Handle(ctx, "s1", "确认")
	if !resp.Success || resp.Intent != intent.Confirm {
		t.Fatalf("confirm resp = %+v", resp)
	}
	if !strings.Contains(resp.Message, "团队会议") || !strings.Contains(resp.Message, "10:00") {
		t.Errorf("message = %q", resp.Message)
	}
	if _, err := st.GetByID(ctx, ev.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetByID after delete err = %v", err)
	}

	// The context is consumed.
	if resp := o.HandleIntent(ctx, "s1", intent.ParsedIntent{Type: intent.Confirm}); resp.Success {
		t.Errorf("second confirm = %+v", resp)
	}
}

func TestCreateRecordsFunctionCall(t *testing.T) {
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)

	resp := o.Handle(context.Background(), "s1", "明天下午3点开项目会议")
	if !resp.Success || resp.Intent != intent.Create || len(resp.Events) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	ev := resp.Events[0]
	if ev.Title != "项目会议" || !ev.Start.Equal(at(20, 15, 0)) || !ev.End.Equal(at(20, 16, 0)) {
		t.Errorf("event = %s %v-%v", ev.Title, ev.Start, ev.End)
	}
	if ev.Category != model.CategoryWork || ev.Color != model.CategoryWork.Color() {
		t.Errorf("category = %s %s", ev.Category, ev.Color)
	}
	if len(resp.FunctionCalls) != 1 {
		t.Fatalf("function calls = %+v", resp.FunctionCalls)
	}
	fc := resp.FunctionCalls[0]
	if fc.Name != llm.CreateEventFunction || !fc.Success || fc.Result != ev.ID || fc.Arguments["title"] != "项目会议" {
		t.Errorf("function call = %+v", fc)
	}
}

func TestAmbiguousDeleteListsCandidates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	seed(t, st, model.CalendarEvent{Title: "会议", Start: at(20, 10, 0), End: at(20, 11, 0)})
	seed(t, st, model.CalendarEvent{Title: "会议", Start: at(22, 14, 0), End: at(22, 15, 0)})

	resp := o.Handle(ctx, "s1", "取消会议")
	if resp.Intent != intent.Delete || resp.NeedsConfirmation || resp.Success {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.CandidateEvents) != 2 || !strings.Contains(resp.Message, "哪一个") {
		t.Errorf("resp = %+v", resp)
	}
	if c, _ := o.confirm.Pending(ctx, "s1"); c != nil {
		t.Errorf("ambiguous match entered confirmation: %+v", c)
	}
}

func TestNoMatchSuggestsRephrase(t *testing.T) {
	o := newOrchestrator(t, store.NewMemoryStore(clock), nil)
	resp := o.Handle(context.Background(), "s1", "删除明天的团队会议")
	if resp.Success || resp.NeedsConfirmation || !strings.Contains(resp.Message, "没有找到") {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCancelKeepsEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	ev := seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	o.Handle(ctx, "s1", "删除明天的团队会议")
	resp := o.Handle(ctx, "s1", "算了")
	if !resp.Success || resp.Intent != intent.Cancel || len(resp.CandidateEvents) != 1 {
		t.Fatalf("cancel resp = %+v", resp)
	}
	if _, err := st.GetByID(ctx, ev.ID); err != nil {
		t.Fatalf("event gone after cancel: %v", err)
	}

	again := o.HandleIntent(ctx, "s1", intent.ParsedIntent{Type: intent.Cancel})
	if !again.Success || again.Message != "当前没有需要取消的操作。" {
		t.Errorf("second cancel = %+v", again)
	}
}

func TestUnrelatedCommandClearsPending(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	o.Handle(ctx, "s1", "删除明天的团队会议")
	resp := o.Handle(ctx, "s1", "明天有什么安排")
	if resp.Intent != intent.Query || len(resp.Events) != 1 {
		t.Fatalf("query resp = %+v", resp)
	}
	if c, _ := o.confirm.Pending(ctx, "s1"); c != nil {
		t.Fatalf("stale context survived: %+v", c)
	}
	if _, err := st.GetByID(ctx, resp.Events[0].ID); err != nil {
		t.Fatal(err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	o.Handle(ctx, "alice", "删除明天的团队会议")
	if resp := o.HandleIntent(ctx, "bob", intent.ParsedIntent{Type: intent.Confirm}); resp.Success {
		t.Fatalf("bob confirmed alice's delete: %+v", resp)
	}
	if c, _ := o.confirm.Pending(ctx, "alice"); c == nil {
		t.Fatal("alice's context lost")
	}
}

func TestQueryEmptyDay(t *testing.T) {
	o := newOrchestrator(t, store.NewMemoryStore(clock), nil)
	resp := o.Handle(context.Background(), "s1", "明天有什么安排")
	if !resp.Success || resp.Message != "明天没有日程安排。" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCreateConflictOffersSlots(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	seed(t, st, model.CalendarEvent{Title: "评审", Start: at(20, 15, 0), End: at(20, 16, 0)})

	resp := o.Handle(ctx, "s1", "明天下午3点开项目会议")
	if resp.Success || len(resp.CandidateEvents) != 1 || len(resp.Suggestions) == 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.FunctionCalls) != 1 || resp.FunctionCalls[0].Result != "conflict" || resp.FunctionCalls[0].Success {
		t.Errorf("function calls = %+v", resp.FunctionCalls)
	}
	for _, s := range resp.Suggestions {
		if s.Start.Before(at(20, 16, 0)) && s.End.After(at(20, 15, 0)) {
			t.Errorf("suggestion %v overlaps the conflict", s)
		}
	}
	all, _ := st.List(ctx, at(1, 0, 0), at(31, 0, 0))
	if len(all) != 1 {
		t.Errorf("conflicting create was stored: %d events", len(all))
	}
}

func TestStorageFailureIsReported(t *testing.T) {
	o := newOrchestrator(t, brokenStore{}, nil)
	for _, msg := range []string{"明天有什么安排", "明天下午3点开项目会议", "删除明天的团队会议"} {
		resp := o.Handle(context.Background(), "s1", msg)
		if resp.Success || !strings.Contains(resp.Message, "存储") {
			t.Errorf("%s: resp = %+v", msg, resp)
		}
	}
}

func TestStaleSnapshotIsNotDeleted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	ev := seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	o.Handle(ctx, "s1", "删除明天的团队会议")
	loc := "2号会议室"
	if _, err := st.Update(ctx, ev.ID, store.Patch{Location: &loc}); err != nil {
		t.Fatal(err)
	}
	resp := o.Handle(ctx, "s1", "确认")
	if resp.Success || !strings.Contains(resp.Message, "其他操作修改") {
		t.Fatalf("resp = %+v", resp)
	}
	if _, err := st.GetByID(ctx, ev.ID); err != nil {
		t.Fatalf("modified event was deleted: %v", err)
	}
}

func TestDeleteOneOccurrence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	base := seed(t, st, model.CalendarEvent{
		Title:      "团队会议",
		Start:      at(19, 9, 0),
		End:        at(19, 9, 30),
		Recurrence: &model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.AfterCount(5)},
	})

	resp := o.Handle(ctx, "s1", "删除明天的团队会议")
	if !resp.NeedsConfirmation || len(resp.CandidateEvents) != 1 || resp.CandidateEvents[0].OriginalEvent != base.ID {
		t.Fatalf("resp = %+v", resp)
	}
	if resp = o.Handle(ctx, "s1", "确认"); !resp.Success {
		t.Fatalf("confirm = %+v", resp)
	}

	got, err := st.GetByID(ctx, base.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || len(got.Recurrence.Exceptions) != 1 {
		t.Fatalf("base = v%d %+v", got.Version, got.Recurrence)
	}
	left, err := o.Events(ctx, at(19, 0, 0), at(31, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 4 {
		t.Fatalf("occurrences left = %d", len(left))
	}
	for _, ev := range left {
		if ev.Start.Day() == 20 {
			t.Errorf("deleted occurrence still expands: %v", ev.Start)
		}
	}
}

func TestUpdateFollowingKeepsOccurrenceCount(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	rule := &model.RecurrenceRule{Frequency: model.Daily, Interval: 1, End: model.AfterCount(5)}
	rule.AddException(at(20, 9, 0), time.UTC)
	seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(19, 9, 0), End: at(19, 9, 30), Recurrence: rule})

	resp := o.HandleIntent(ctx, "s1", intent.ParsedIntent{
		Type:       intent.Update,
		Confidence: 0.9,
		Entities: intent.Entities{
			EventTitle: "团队会议",
			Date:       "10月22日",
			NewTime:    "上午10点",
			Scope:      intent.ScopeFollowing,
		},
	})
	if !resp.NeedsConfirmation {
		t.Fatalf("update resp = %+v", resp)
	}
	if resp = o.Handle(ctx, "s1", "确认"); !resp.Success {
		t.Fatalf("confirm = %+v", resp)
	}

	got, err := o.Events(ctx, at(19, 0, 0), at(31, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Time{at(19, 9, 0), at(21, 9, 0), at(22, 10, 0), at(23, 10, 0)}
	if len(got) != len(want) {
		t.Fatalf("occurrences = %d, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if !got[i].Start.Equal(w) {
			t.Errorf("occurrence %d starts %v, want %v", i, got[i].Start, w)
		}
	}
}

func TestUpdateMovesEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	ev := seed(t, st, model.CalendarEvent{Title: "团队会议", Start: at(20, 10, 0), End: at(20, 11, 0)})

	resp := o.Handle(ctx, "s1", "把明天的团队会议改到后天下午4点")
	if resp.Intent != intent.Update || !resp.NeedsConfirmation {
		t.Fatalf("update resp = %+v", resp)
	}
	if resp = o.Handle(ctx, "s1", "好的"); !resp.Success {
		t.Fatalf("confirm = %+v", resp)
	}
	got, err := st.GetByID(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Start.Equal(at(21, 16, 0)) || !got.End.Equal(at(21, 17, 0)) || got.Version != 2 {
		t.Errorf("moved event = %v-%v v%d", got.Start, got.End, got.Version)
	}
}

func TestAssistantCreatesEvent(t *testing.T) {
	st := store.NewMemoryStore(clock)
	a := &fakeAssistant{reply: llm.Reply{Call: &llm.FunctionCall{
		Name: llm.CreateEventFunction,
		Arguments: map[string]any{
			"title":     "读书会",
			"startTime": "2026-10-21T19:00:00",
			"endTime":   "2026-10-21T20:00:00",
		},
	}}}
	o := newOrchestrator(t, st, a)

	resp := o.Handle(context.Background(), "s1", "随便聊聊")
	if resp.Intent != intent.Unknown || !resp.Success || len(resp.Events) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if a.got != "随便聊聊" || !resp.Events[0].Start.Equal(at(21, 19, 0)) {
		t.Errorf("assistant saw %q, created %+v", a.got, resp.Events[0])
	}
	if len(resp.FunctionCalls) != 1 || !resp.FunctionCalls[0].Success {
		t.Errorf("function calls = %+v", resp.FunctionCalls)
	}
}

func TestAssistantFallbacks(t *testing.T) {
	text := newOrchestrator(t, store.NewMemoryStore(clock), &fakeAssistant{reply: llm.Reply{Text: "你好！"}})
	if resp := text.Handle(context.Background(), "s1", "随便聊聊"); !resp.Success || resp.Message != "你好！" {
		t.Errorf("text reply = %+v", resp)
	}

	for name, a := range map[string]llm.Assistant{
		"nil":     nil,
		"offline": llm.Offline{},
		"failing": &fakeAssistant{err: errors.New("quota exceeded")},
		"bad call": &fakeAssistant{reply: llm.Reply{Call: &llm.FunctionCall{
			Name: "deleteEverything",
		}}},
	} {
		o := newOrchestrator(t, store.NewMemoryStore(clock), a)
		resp := o.Handle(context.Background(), "s1", "随便聊聊")
		if resp.Success || !strings.Contains(resp.Message, "明天有什么安排") {
			t.Errorf("%s: resp = %+v", name, resp)
		}
	}
}

func TestSlots(t *testing.T) {
	st := store.NewMemoryStore(clock)
	o := newOrchestrator(t, st, nil)
	seed(t, st, model.CalendarEvent{Title: "评审", Start: at(20, 9, 0), End: at(20, 12, 0)})

	slots, err := o.Slots(context.Background(), at(20, 0, 0), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) == 0 || !slots[0].Start.Equal(at(20, 12, 0)) {
		t.Fatalf("slots = %+v", slots)
	}
}
