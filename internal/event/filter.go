package event

import "fmt"

// Operator is a comparison applied against a single data path.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpMin      Operator = "min"
	OpMax      Operator = "max"
	OpIn       Operator = "in"
)

// DataCondition is a single {path, operator, value} predicate evaluated
// against event.Data (or, via EventType/Source/Priority, the event
// header).
type DataCondition struct {
	Path     string
	Operator Operator
	Value    any
}

// Filter is a conjunctive (AND) set of optional predicates. An empty
// Filter matches every event.
type Filter struct {
	// EventType matches if the event's type equals any element, or
	// contains any element as a substring (families like "smartDetect*"
	// are expressed as a substring here, not a glob).
	EventType []string
	Source    []string
	Priority  []Priority
	DataPath  []DataCondition
}

// Match reports whether e satisfies every predicate in f.
func (f Filter) Match(e Event) bool {
	if len(f.EventType) > 0 && !matchesAnyTypeElement(e.Type, f.EventType) {
		return false
	}
	if len(f.Source) > 0 && !containsString(f.Source, e.Source) {
		return false
	}
	if len(f.Priority) > 0 && !containsPriority(f.Priority, e.Priority) {
		return false
	}
	for _, dc := range f.DataPath {
		if !matchDataCondition(e, dc) {
			return false
		}
	}
	return true
}

func matchesAnyTypeElement(typ string, elems []string) bool {
	for _, el := range elems {
		if typ == el || (el != "" && contains(typ, el)) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsPriority(set []Priority, v Priority) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// fieldValue resolves a dotted path against the event header and Data
// payload. "eventType", "source", "priority" address the header;
// anything else (optionally prefixed "data.") addresses e.Data.
func fieldValue(e Event, path string) (any, bool) {
	switch path {
	case "eventType", "type":
		return e.Type, true
	case "source":
		return e.Source, true
	case "priority":
		return string(e.Priority), true
	}
	key := path
	if len(path) > 5 && path[:5] == "data." {
		key = path[5:]
	}
	v, ok := e.Data[key]
	return v, ok
}

func matchDataCondition(e Event, dc DataCondition) bool {
	v, ok := fieldValue(e, dc.Path)
	if !ok {
		return false
	}
	switch dc.Operator {
	case OpEquals:
		return fmt.Sprint(v) == fmt.Sprint(dc.Value)
	case OpContains:
		s, ok := v.(string)
		if !ok {
			return false
		}
		needle, ok := dc.Value.(string)
		if !ok {
			return false
		}
		return contains(s, needle)
	case OpMin:
		fv, ok1 := asFloat(v)
		th, ok2 := asFloat(dc.Value)
		return ok1 && ok2 && fv >= th
	case OpMax:
		fv, ok1 := asFloat(v)
		th, ok2 := asFloat(dc.Value)
		return ok1 && ok2 && fv <= th
	case OpIn:
		set, ok := dc.Value.([]any)
		if !ok {
			return false
		}
		for _, cand := range set {
			if fmt.Sprint(cand) == fmt.Sprint(v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
