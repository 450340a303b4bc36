// Package event defines the normalised unit carried by the hub's event bus,
// along with the deterministic category/priority derivation rules and the
// filter predicate shared by subscriptions and the rule engine.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the severity band assigned to an event.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Category groups events by domain for rule filtering and dashboards.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryAircraft Category = "aircraft"
	CategoryVehicle  Category = "vehicle"
	CategorySystem   Category = "system"
	CategoryGeneral  Category = "general"
)

// Event is the normalised unit published and delivered by the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  Priority       `json:"priority"`
	Category  Category       `json:"category"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SourceSystem is used for events the core itself produces rather than a
// named connector instance.
const SourceSystem = "system"

// NewID returns a time-sortable event identifier. Falls back to a random
// v4 UUID if the runtime clock does not support v7 generation.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Normalize fills in ID, Timestamp, Category, and Priority when the
// caller left them zero-valued, per §3/§4.1's derivation rules. It is
// idempotent: fields already set are left untouched.
func Normalize(e Event) Event {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Category == "" {
		e.Category = deriveCategory(e.Type)
	}
	if e.Priority == "" {
		e.Priority = derivePriority(e.Type)
	}
	return e
}

// categorySubstrings maps a type substring to the category it implies.
// Checked in order; first match wins.
var categorySubstrings = []struct {
	substr string
	cat    Category
}{
	{"security", CategorySecurity},
	{"intrusion", CategorySecurity},
	{"motion", CategorySecurity},
	{"smart-detect", CategorySecurity},
	{"smartdetect", CategorySecurity},
	{"camera", CategorySecurity},
	{"aircraft", CategoryAircraft},
	{"adsb", CategoryAircraft},
	{"squawk", CategoryAircraft},
	{"vehicle", CategoryVehicle},
	{"speed", CategoryVehicle},
	{"connector", CategorySystem},
	{"system", CategorySystem},
	{"bus:", CategorySystem},
	{"health", CategorySystem},
}

func deriveCategory(typ string) Category {
	lower := strings.ToLower(typ)
	for _, m := range categorySubstrings {
		if strings.Contains(lower, m.substr) {
			return m.cat
		}
	}
	return CategoryGeneral
}

// priorityCritical/priorityHigh/priorityNormal/priorityLow are the
// substring sets from §3's derivation table, checked highest severity
// first.
var (
	priorityCritical = []string{"emergency", "squawk"}
	priorityHigh     = []string{"intrusion", "loitering", "speed-violation"}
	priorityNormal   = []string{"motion", "smart-detect", "smartdetect", "vehicle", "person"}
	priorityLow      = []string{"connector-status", "system-status"}
)

func derivePriority(typ string) Priority {
	lower := strings.ToLower(typ)
	for _, s := range priorityCritical {
		if strings.Contains(lower, s) {
			return PriorityCritical
		}
	}
	for _, s := range priorityHigh {
		if strings.Contains(lower, s) {
			return PriorityHigh
		}
	}
	for _, s := range priorityNormal {
		if strings.Contains(lower, s) {
			return PriorityNormal
		}
	}
	for _, s := range priorityLow {
		if strings.Contains(lower, s) {
			return PriorityLow
		}
	}
	return PriorityNormal
}
