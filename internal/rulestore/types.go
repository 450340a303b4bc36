// Package rulestore persists rules (conditions + actions), alarm history,
// and acknowledgements over database/sql, backed by the pure-Go
// modernc.org/sqlite driver. It mirrors the hot-path read tables in an
// in-memory cache invalidated on every mutation.
package rulestore

import "time"

// Operator mirrors event.Operator so callers don't need to import the
// event package just to build a Condition.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpMin      Operator = "min"
	OpMax      Operator = "max"
	OpIn       Operator = "in"
)

// ActionType is the closed set of rule action kinds, per §3/§4.6.
type ActionType string

const (
	ActionNotify   ActionType = "notify"
	ActionExecute  ActionType = "execute"
	ActionRecord   ActionType = "record"
	ActionEscalate ActionType = "escalate"
)

// AlarmStatus is the lifecycle state of an alarm history entry.
type AlarmStatus string

const (
	AlarmActive       AlarmStatus = "active"
	AlarmAcknowledged AlarmStatus = "acknowledged"
	AlarmResolved     AlarmStatus = "resolved"
)

// Condition is one {type, value, operator} predicate over event fields,
// ANDed with its rule's other conditions.
type Condition struct {
	Type     string // e.g. "eventType", "source", "data.confidence"
	Value    any
	Operator Operator
}

// Action is one ordered step a rule performs on a match.
type Action struct {
	Type   ActionType
	Config map[string]any
	Order  int
}

// Rule is a persistent, uniquely identified alarm rule.
type Rule struct {
	ID          string
	Name        string
	Description string
	Priority    int
	Category    string
	Enabled     bool
	CooldownSec int // minimum seconds between triggers; 0 disables cooldown
	Conditions  []Condition
	Actions     []Action
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AlarmHistoryEntry is one append-only record of a rule firing.
type AlarmHistoryEntry struct {
	ID          string
	RuleID      string
	EventType   string
	EventSource string
	EventData   string // serialised event.Data
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	Status      AlarmStatus
}

// Acknowledgment records an operator acknowledging an alarm.
type Acknowledgment struct {
	ID             string
	AlarmID        string
	UserID         string
	AcknowledgedAt time.Time
	Notes          string
}

// HistoryFilter narrows GetAlarmHistory queries.
type HistoryFilter struct {
	RuleID string
	Status AlarmStatus
}

// Stats summarises the store's contents for the health snapshot and
// operator tooling.
type Stats struct {
	RuleCount       int
	EnabledRules    int
	ActiveAlarms    int
	HistoryRowCount int
}
