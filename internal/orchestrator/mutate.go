package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nlcal/internal/confirm"
	"nlcal/internal/intent"
	"nlcal/internal/llm"
	appLog "nlcal/internal/log"
	"nlcal/internal/matcher"
	"nlcal/internal/model"
	"nlcal/internal/recurrence"
	"nlcal/internal/store"
)

const isoLayout = "2006-01-02T15:04:05"

const confirmHint = "回复「确认」执行，回复「取消」放弃。"

func (o *Orchestrator) handleCreate(ctx context.Context, pi intent.ParsedIntent) Response {
	now := o.now()
	e := pi.Entities

	title := e.EventTitle
	if title == "" {
		title = defaultTitle
	}
	day := model.DayStart(now)
	if e.Date != "" {
		if d, ok := intent.ResolveDate(e.Date, now); ok {
			day = d
		}
	}
	h, m := defaultHour, 0
	if e.Time != "" {
		if hh, mm, ok := intent.ResolveTime(e.Time); ok {
			h, m = hh, mm
		}
	}
	start := intent.At(day, h, m)
	end := start.Add(o.opts.DefaultDuration)
	if e.EndTime != "" {
		if eh, em, ok := intent.ResolveTime(e.EndTime); ok {
			cand := intent.At(day, eh, em)
			// "下午2点到4点": the end inherits the afternoon.
			if !cand.After(start) && eh < 12 {
				cand = cand.Add(12 * time.Hour)
			}
			if cand.After(start) {
				end = cand
			}
		}
	}

	category := model.InferCategory(title)
	ev := model.CalendarEvent{
		Title:    title,
		Start:    start,
		End:      end,
		Location: e.Location,
		Category: category,
		Color:    category.Color(),
		Timezone: o.opts.Location.String(),
	}
	args := map[string]any{
		"title":     title,
		"startTime": start.Format(isoLayout),
		"endTime":   end.Format(isoLayout),
		"category":  string(category),
	}
	if e.Location != "" {
		args["location"] = e.Location
	}
	return o.createEvent(ctx, ev, args)
}

// createEvent runs the conflict check and stores ev, recording the
// createCalendarEvent call either way.
func (o *Orchestrator) createEvent(ctx context.Context, ev model.CalendarEvent, args map[string]any) Response {
	call := FunctionCallRecord{Name: llm.CreateEventFunction, Arguments: args}

	info, err := o.detector.CheckConflict(ctx, ev.Start, ev.End, "")
	if errors.Is(err, model.ErrInvalidTimeRange) {
		call.Result = err.Error()
		return Response{Message: "无法创建日程：结束时间必须晚于开始时间。", FunctionCalls: []FunctionCallRecord{call}}
	}
	if err != nil {
		resp := o.storageFailure("create", err)
		call.Result = err.Error()
		resp.FunctionCalls = []FunctionCallRecord{call}
		return resp
	}
	if info.HasConflict {
		call.Result = "conflict"
		return Response{
			Message:         o.conflictMessage(info),
			CandidateEvents: info.ConflictingEvents,
			Suggestions:     info.Suggestions,
			FunctionCalls:   []FunctionCallRecord{call},
		}
	}

	created, err := o.store.Create(ctx, ev)
	if err != nil {
		resp := o.storageFailure("create", err)
		call.Result = err.Error()
		resp.FunctionCalls = []FunctionCallRecord{call}
		return resp
	}
	call.Success = true
	call.Result = created.ID
	appLog.Info("event created", "id", created.ID, "title", created.Title, "start", created.Start.Format(time.RFC3339))

	msg := fmt.Sprintf("已创建日程「%s」：%s", created.Title, o.span(created))
	if created.Location != "" {
		msg += "，地点：" + created.Location
	}
	return Response{
		Success:       true,
		Message:       msg,
		Events:        []model.CalendarEvent{created},
		FunctionCalls: []FunctionCallRecord{call},
	}
}

func (o *Orchestrator) handleDelete(ctx context.Context, session string, pi intent.ParsedIntent) Response {
	targets, resp, ok := o.resolveTargets(ctx, pi, "删除")
	if !ok {
		return resp
	}
	scope := pi.Entities.Scope
	if scope == "" {
		scope = intent.ScopeSingle
	}
	c := confirm.Context{
		PendingAction:   confirm.ActionDelete,
		TargetEvents:    targets,
		Scope:           scope,
		OriginalMessage: pi.OriginalMessage,
	}
	if err := o.confirm.Begin(ctx, session, c); err != nil {
		return o.storageFailure("begin delete", err)
	}

	var b strings.Builder
	b.WriteString("确认删除以下日程吗？\n")
	b.WriteString(o.list(targets))
	if hasOccurrence(targets) {
		b.WriteString("\n这是重复日程，将删除" + scopeLabel(scope) + "。")
	}
	b.WriteString("\n" + confirmHint)
	return Response{Success: true, Message: b.String(), NeedsConfirmation: true, CandidateEvents: targets}
}

func (o *Orchestrator) handleUpdate(ctx context.Context, session string, pi intent.ParsedIntent) Response {
	e := pi.Entities
	if e.NewDate == "" && e.NewTime == "" {
		return Response{Message: "请说明要改到什么时间，例如「把明天的团队会议改到后天下午4点」。"}
	}
	targets, resp, ok := o.resolveTargets(ctx, pi, "修改")
	if !ok {
		return resp
	}
	if len(targets) > 1 {
		return Response{
			Message:         fmt.Sprintf("找到%d个匹配的日程：\n%s\n一次只能修改一个日程，请说明具体是哪一个。", len(targets), o.list(targets)),
			CandidateEvents: targets,
		}
	}
	t := targets[0]

	now := o.now()
	st := t.Start.In(o.opts.Location)
	day := model.DayStart(st)
	if e.NewDate != "" {
		d, ok := intent.ResolveDate(e.NewDate, now)
		if !ok {
			return Response{Message: "无法识别新的日期「" + e.NewDate + "」。"}
		}
		day = d
	}
	h, m := st.Hour(), st.Minute()
	if e.NewTime != "" {
		hh, mm, ok := intent.ResolveTime(e.NewTime)
		if !ok {
			return Response{Message: "无法识别新的时间「" + e.NewTime + "」。"}
		}
		h, m = hh, mm
	}
	newStart := intent.At(day, h, m)
	newEnd := newStart.Add(t.Duration())
	if newStart.Equal(t.Start) {
		return Response{Message: "新时间与原时间相同，无需修改。", CandidateEvents: targets}
	}

	info, err := o.detector.CheckConflict(ctx, newStart, newEnd, t.ID)
	if err != nil {
		return o.storageFailure("update conflict check", err)
	}
	if info.HasConflict {
		return Response{
			Message:         o.conflictMessage(info),
			CandidateEvents: info.ConflictingEvents,
			Suggestions:     info.Suggestions,
		}
	}

	scope := e.Scope
	if scope == "" {
		scope = intent.ScopeSingle
	}
	c := confirm.Context{
		PendingAction:   confirm.ActionUpdate,
		TargetEvents:    targets,
		Changes:         &confirm.Changes{Start: newStart, End: newEnd},
		Scope:           scope,
		OriginalMessage: pi.OriginalMessage,
	}
	if err := o.confirm.Begin(ctx, session, c); err != nil {
		return o.storageFailure("begin update", err)
	}

	moved := t
	moved.Start, moved.End = newStart, newEnd
	msg := fmt.Sprintf("确认将「%s」从 %s 改到 %s 吗？", t.Title, o.span(t), o.span(moved))
	if t.IsOccurrence() {
		msg += "\n这是重复日程，将修改" + scopeLabel(scope) + "。"
	}
	return Response{Success: true, Message: msg + "\n" + confirmHint, NeedsConfirmation: true, CandidateEvents: targets}
}

// resolveTargets matches the entities against stored instances and applies
// the result policy. ok is false when resp should be returned as is.
func (o *Orchestrator) resolveTargets(ctx context.Context, pi intent.ParsedIntent, verb string) (targets []model.CalendarEvent, resp Response, ok bool) {
	now := o.now()
	from, to := o.matchWindow(pi.Entities, now)
	events, err := o.instances(ctx, from, to)
	if err != nil {
		return nil, o.storageFailure("match", err), false
	}

	res := o.matcher.Match(pi.Entities, events, now, pi.Confidence)
	appLog.Debug("candidates resolved", "kind", res.Kind, "count", len(res.Candidates))

	switch res.Kind {
	case matcher.NoMatch:
		return nil, Response{Message: noMatchMessage(pi.Entities, verb)}, false
	case matcher.TooMany:
		return nil, Response{Message: fmt.Sprintf("找到%d个匹配的日程，数量太多。请提供更具体的标题、日期或时间。", len(res.Candidates))}, false
	case matcher.Ambiguous:
		return nil, Response{
			Message:         fmt.Sprintf("找到%d个匹配的日程：\n%s\n请说明具体要%s哪一个，例如加上日期或时间。", len(res.Candidates), o.list(res.Listed), verb),
			CandidateEvents: res.Listed,
		}, false
	}
	if !confirm.Eligible(len(res.Candidates), pi.Confidence) {
		return nil, Response{Message: "请提供更具体的描述。", CandidateEvents: res.Listed}, false
	}
	return res.Candidates, Response{}, true
}

func (o *Orchestrator) matchWindow(e intent.Entities, now time.Time) (time.Time, time.Time) {
	today := model.DayStart(now)
	from := today.AddDate(0, 0, -matchBackfillDays)
	to := today.AddDate(0, 0, matchHorizonDays)
	if e.Date != "" {
		if d, ok := intent.ResolveDate(e.Date, now); ok {
			if d.Before(from) {
				from = d
			}
			if !d.Before(to) {
				to = d.AddDate(0, 0, 1)
			}
		}
	}
	return from, to
}

func (o *Orchestrator) executeDelete(ctx context.Context, c confirm.Context) Response {
	mode := recurrence.ParseDeleteMode(c.Scope)
	versions := make(map[string]int)
	removed := make(map[string]bool)

	var done, failed []model.CalendarEvent
	var reasons []string
	for _, t := range c.TargetEvents {
		if err := o.deleteOne(ctx, t, mode, versions, removed); err != nil {
			appLog.Error("orchestrator: delete failed", err, "id", t.ID)
			failed = append(failed, t)
			reasons = append(reasons, failureReason(err))
			continue
		}
		done = append(done, t)
	}

	if len(failed) == 0 {
		if len(done) == 1 {
			return Response{Success: true, Message: fmt.Sprintf("已删除日程「%s」（%s）。", done[0].Title, o.span(done[0]))}
		}
		return Response{Success: true, Message: fmt.Sprintf("已删除%d个日程：\n%s", len(done), o.list(done))}
	}

	var b strings.Builder
	if len(done) > 0 {
		fmt.Fprintf(&b, "已删除%d个日程：\n%s\n", len(done), o.list(done))
	}
	b.WriteString("以下日程删除失败：")
	for i, t := range failed {
		fmt.Fprintf(&b, "\n%d. 「%s」%s：%s", i+1, t.Title, o.span(t), reasons[i])
	}
	return Response{Message: b.String(), CandidateEvents: failed}
}

// deleteOne removes the snapshot target t. Writes are checked against the
// snapshot version; versions tracks bases already rewritten in this batch.
func (o *Orchestrator) deleteOne(ctx context.Context, t model.CalendarEvent, mode recurrence.DeleteMode, versions map[string]int, removed map[string]bool) error {
	baseID := t.BaseID()
	if removed[baseID] {
		return nil
	}
	expected := t.Version
	if v, ok := versions[baseID]; ok {
		expected = v
	}

	cur, err := o.store.GetByID(ctx, baseID)
	if err != nil {
		return err
	}
	if cur.Version != expected {
		return fmt.Errorf("delete %s: %w", baseID, store.ErrVersionConflict)
	}

	removeBase := true
	if t.IsOccurrence() && cur.Recurrence != nil {
		removeBase, err = recurrence.ApplyDeletion(&cur, mode, t.Start)
		if err != nil {
			return err
		}
	}
	if removeBase {
		if err := o.store.Delete(ctx, baseID); err != nil {
			return err
		}
		removed[baseID] = true
		appLog.Info("event deleted", "id", baseID, "title", t.Title)
		return nil
	}

	upd, err := o.store.Update(ctx, baseID, store.Patch{Recurrence: cur.Recurrence, IfVersion: expected})
	if err != nil {
		return err
	}
	versions[baseID] = upd.Version
	appLog.Info("recurring event truncated", "id", baseID, "mode", mode, "occurrence", t.Start.Format(time.RFC3339))
	return nil
}

func (o *Orchestrator) executeUpdate(ctx context.Context, c confirm.Context) Response {
	if len(c.TargetEvents) != 1 || c.Changes == nil {
		return Response{Message: "待确认的修改不完整，请重新操作。"}
	}
	t := c.TargetEvents[0]
	ch := *c.Changes

	var err error
	if t.IsOccurrence() {
		err = o.updateOccurrence(ctx, t, ch, recurrence.ParseDeleteMode(c.Scope))
	} else {
		_, err = o.store.Update(ctx, t.ID, store.Patch{Start: &ch.Start, End: &ch.End, IfVersion: t.Version})
	}
	if err != nil {
		appLog.Error("orchestrator: update failed", err, "id", t.ID)
		return Response{Message: fmt.Sprintf("修改「%s」失败：%s", t.Title, failureReason(err)), CandidateEvents: c.TargetEvents}
	}

	moved := t
	moved.Start, moved.End = ch.Start, ch.End
	appLog.Info("event updated", "id", t.ID, "start", ch.Start.Format(time.RFC3339))
	return Response{Success: true, Message: fmt.Sprintf("已将「%s」改到 %s。", t.Title, o.span(moved))}
}

// updateOccurrence moves one occurrence (single), the rest of the series
// (following) or the whole series (all).
func (o *Orchestrator) updateOccurrence(ctx context.Context, t model.CalendarEvent, ch confirm.Changes, mode recurrence.DeleteMode) error {
	base, err := o.store.GetByID(ctx, t.OriginalEvent)
	if err != nil {
		return err
	}
	if base.Version != t.Version {
		return fmt.Errorf("update %s: %w", base.ID, store.ErrVersionConflict)
	}
	if base.Recurrence == nil {
		_, err := o.store.Update(ctx, base.ID, store.Patch{Start: &ch.Start, End: &ch.End, IfVersion: base.Version})
		return err
	}
	loc := base.Zone()
	dayShift := civilDays(t.Start.In(loc), ch.Start.In(loc))
	clock := ch.Start.In(loc)

	switch mode {
	case recurrence.DeleteAll:
		bs := base.Start.In(loc)
		newStart := time.Date(bs.Year(), bs.Month(), bs.Day()+dayShift, clock.Hour(), clock.Minute(), 0, 0, loc)
		newEnd := newStart.Add(ch.End.Sub(ch.Start))
		rule := base.Recurrence.Clone()
		for i, ex := range rule.Exceptions {
			rule.Exceptions[i] = ex.AddDate(0, 0, dayShift)
		}
		_, err := o.store.Update(ctx, base.ID, store.Patch{Start: &newStart, End: &newEnd, Recurrence: &rule, IfVersion: base.Version})
		return err

	case recurrence.DeleteFollowing:
		// The new series is stored before the old one is cut, so a failed
		// write leaves duplicates rather than lost occurrences.
		orig := base.Recurrence.Clone()
		rule := orig.Clone()
		if n, ok := orig.End.Count(); ok && t.Start.After(base.Start) {
			// COUNT includes excepted dates, so count them too.
			plain := orig.Clone()
			plain.Exceptions = nil
			done, err := recurrence.Expand(base.ID, plain, base.Start, base.End, base.Start, t.Start.Add(-time.Second), loc, loc)
			if err != nil {
				return err
			}
			rule.End = model.AfterCount(max(n-len(done), 1))
		}
		cut := model.DayStart(t.Start.In(loc))
		rule.Exceptions = nil
		for _, ex := range orig.Exceptions {
			if !ex.Before(cut) {
				rule.Exceptions = append(rule.Exceptions, ex.AddDate(0, 0, dayShift))
			}
		}
		next := base.Clone()
		next.ID = ""
		next.Start, next.End = ch.Start, ch.End
		next.Recurrence = &rule
		if _, err := o.store.Create(ctx, next); err != nil {
			return err
		}

		removeBase, err := recurrence.ApplyDeletion(&base, recurrence.DeleteFollowing, t.Start)
		if err != nil {
			return err
		}
		if removeBase {
			return o.store.Delete(ctx, base.ID)
		}
		_, err = o.store.Update(ctx, base.ID, store.Patch{Recurrence: base.Recurrence, IfVersion: base.Version})
		return err

	default:
		detached := t.Clone()
		detached.ID = ""
		detached.OriginalEvent = ""
		detached.Recurrence = nil
		detached.Start, detached.End = ch.Start, ch.End
		if _, err := o.store.Create(ctx, detached); err != nil {
			return err
		}
		base.Recurrence.AddException(t.Start, loc)
		_, err := o.store.Update(ctx, base.ID, store.Patch{Recurrence: base.Recurrence, IfVersion: base.Version})
		return err
	}
}

func civilDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return "日程已被其他操作修改，请重新查询后再试"
	case errors.Is(err, store.ErrNotFound):
		return "日程已不存在"
	case errors.Is(err, model.ErrInvalidTimeRange):
		return "结束时间必须晚于开始时间"
	}
	return "存储错误，请稍后重试"
}

func hasOccurrence(events []model.CalendarEvent) bool {
	for _, ev := range events {
		if ev.IsOccurrence() {
			return true
		}
	}
	return false
}

func scopeLabel(scope string) string {
	switch scope {
	case intent.ScopeAll:
		return "整个系列"
	case intent.ScopeFollowing:
		return "这一次及以后的所有日程"
	}
	return "这一次"
}

func noMatchMessage(e intent.Entities, verb string) string {
	var parts []string
	if e.Date != "" {
		parts = append(parts, e.Date)
	}
	if e.Time != "" {
		parts = append(parts, e.Time)
	}
	if e.EventTitle != "" {
		parts = append(parts, "「"+e.EventTitle+"」")
	}
	what := "相关的日程"
	if len(parts) > 0 {
		what = strings.Join(parts, " ") + " 的日程"
	}
	return fmt.Sprintf("没有找到%s。请检查标题或日期，例如「%s明天下午3点的项目会议」，或先说「明天有什么安排」查看日程。", what, verb)
}
