package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "nlcal/internal/log"
	"nlcal/internal/model"
)

// ErrNoPending is returned by Confirm when the session has nothing to confirm.
var ErrNoPending = errors.New("confirm: no pending action")

// DefaultTTL bounds how long a pending action survives without an answer.
const DefaultTTL = 5 * time.Minute

// Action is the mutation waiting for the user's answer.
type Action string

const (
	ActionDelete Action = "delete"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Changes is the patch an update applies to its single target.
type Changes struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Title    string    `json:"title,omitempty"`
	Location string    `json:"location,omitempty"`
}

// Context is the snapshot stored while a destructive action awaits an answer.
// TargetEvents are executed as stored, never re-resolved.
type Context struct {
	PendingAction   Action                `json:"pendingAction"`
	TargetEvents    []model.CalendarEvent `json:"targetEvents"`
	Changes         *Changes              `json:"changes,omitempty"`
	Scope           string                `json:"scope,omitempty"`
	OriginalMessage string                `json:"originalMessage"`
	Timestamp       time.Time             `json:"timestamp"`
}

// Store persists at most one Context per session. Get returns nil, nil when
// the session has no live context.
type Store interface {
	Get(ctx context.Context, session string) (*Context, error)
	Put(ctx context.Context, session string, c Context, ttl time.Duration) error
	Delete(ctx context.Context, session string) error
}

// Eligible reports whether a resolved target set may enter confirmation:
// exactly one target, or a small batch the classifier is sure about.
func Eligible(targets int, confidence float64) bool {
	if targets == 1 {
		return true
	}
	return targets >= 2 && targets <= 5 && confidence > 0.8
}

// Machine is the two-state (idle / awaiting) confirmation flow for one store.
type Machine struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewMachine wires a Machine to store. A zero ttl selects DefaultTTL and a nil
// clock selects time.Now.
func NewMachine(store Store, ttl time.Duration, now func() time.Time) *Machine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{store: store, ttl: ttl, now: now}
}

// TTL returns the configured expiry.
func (m *Machine) TTL() time.Duration { return m.ttl }

// Begin moves the session to awaiting, replacing any earlier context.
func (m *Machine) Begin(ctx context.Context, session string, c Context) error {
	if len(c.TargetEvents) == 0 {
		return errors.New("confirm: begin without targets")
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = m.now()
	}
	if err := m.store.Put(ctx, session, c, m.ttl); err != nil {
		return fmt.Errorf("confirm: begin: %w", err)
	}
	appLog.Debug("confirmation pending", "session", session, "action", c.PendingAction, "targets", len(c.TargetEvents))
	return nil
}

// Pending returns the live context, or nil when idle. Expired contexts are
// treated as absent and removed.
func (m *Machine) Pending(ctx context.Context, session string) (*Context, error) {
	c, err := m.store.Get(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("confirm: pending: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	if m.now().Sub(c.Timestamp) > m.ttl {
		appLog.Debug("confirmation expired", "session", session, "action", c.PendingAction)
		_ = m.store.Delete(ctx, session)
		return nil, nil
	}
	return c, nil
}

// Confirm pops the pending context so the caller can execute it.
func (m *Machine) Confirm(ctx context.Context, session string) (Context, error) {
	c, err := m.Pending(ctx, session)
	if err != nil {
		return Context{}, err
	}
	if c == nil {
		return Context{}, ErrNoPending
	}
	if err := m.store.Delete(ctx, session); err != nil {
		return Context{}, fmt.Errorf("confirm: confirm: %w", err)
	}
	return *c, nil
}

// Cancel discards the pending context and returns it. Cancelling an idle
// session succeeds with a nil context.
func (m *Machine) Cancel(ctx context.Context, session string) (*Context, error) {
	c, err := m.Pending(ctx, session)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	if err := m.store.Delete(ctx, session); err != nil {
		return nil, fmt.Errorf("confirm: cancel: %w", err)
	}
	return c, nil
}

// Clear drops any context without reporting it. It is used when a new,
// unrelated command arrives while a confirmation is pending.
func (m *Machine) Clear(ctx context.Context, session string) error {
	if err := m.store.Delete(ctx, session); err != nil {
		return fmt.Errorf("confirm: clear: %w", err)
	}
	return nil
}
