package orchestrator

import (
	"fmt"
	"strings"

	"nlcal/internal/model"
)

// list renders events as numbered lines, e.g. "1. 「周会」10月20日 10:00-11:00 @3号会议室".
func (o *Orchestrator) list(events []model.CalendarEvent) string {
	lines := make([]string, 0, len(events))
	for i, ev := range events {
		line := fmt.Sprintf("%d. 「%s」%s", i+1, ev.Title, o.span(ev))
		if ev.Location != "" {
			line += " @" + ev.Location
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// span formats the event's interval in the display zone.
func (o *Orchestrator) span(ev model.CalendarEvent) string {
	loc := o.opts.Location
	s, e := ev.Start.In(loc), ev.End.In(loc)
	day := fmt.Sprintf("%d月%d日", s.Month(), s.Day())
	if ev.AllDay {
		return day + " 全天"
	}
	if model.SameDay(s, e, loc) {
		return fmt.Sprintf("%s %s-%s", day, s.Format("15:04"), e.Format("15:04"))
	}
	return fmt.Sprintf("%s %s - %d月%d日 %s", day, s.Format("15:04"), e.Month(), e.Day(), e.Format("15:04"))
}

func (o *Orchestrator) conflictMessage(info model.ConflictInfo) string {
	var b strings.Builder
	b.WriteString("该时间段与以下日程冲突：\n")
	b.WriteString(o.list(info.ConflictingEvents))
	if len(info.Suggestions) == 0 {
		b.WriteString("\n近期没有找到合适的空闲时间，请换一个时间。")
		return b.String()
	}
	b.WriteString("\n可选的空闲时间：")
	loc := o.opts.Location
	for i, s := range info.Suggestions {
		st, en := s.Start.In(loc), s.End.In(loc)
		fmt.Fprintf(&b, "\n%d. %d月%d日 %s-%s", i+1, st.Month(), st.Day(), st.Format("15:04"), en.Format("15:04"))
	}
	return b.String()
}
