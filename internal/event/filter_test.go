package event

import "testing"

func TestFilter_Empty_MatchesEverything(t *testing.T) {
	var f Filter
	e := Event{Type: "camera:motion", Source: "cam-7", Priority: PriorityNormal}
	if !f.Match(e) {
		t.Fatal("empty filter should match any event")
	}
}

func TestFilter_EventType_ExactAndSubstring(t *testing.T) {
	f := Filter{EventType: []string{"smartDetect"}}
	if !f.Match(Event{Type: "smartDetectZone"}) {
		t.Error("expected substring match on EventType")
	}
	if f.Match(Event{Type: "motion"}) {
		t.Error("unexpected match on unrelated type")
	}
}

func TestFilter_Source(t *testing.T) {
	f := Filter{Source: []string{"cam-7", "cam-8"}}
	if !f.Match(Event{Source: "cam-7"}) {
		t.Error("expected source match")
	}
	if f.Match(Event{Source: "cam-9"}) {
		t.Error("unexpected source match")
	}
}

func TestFilter_DataPath_MinMax(t *testing.T) {
	f := Filter{DataPath: []DataCondition{{Path: "confidence", Operator: OpMin, Value: 0.8}}}
	matched := f.Match(Event{Data: map[string]any{"confidence": 0.95}})
	unmatched := f.Match(Event{Data: map[string]any{"confidence": 0.5}})
	if !matched {
		t.Error("expected min condition to match high confidence")
	}
	if unmatched {
		t.Error("expected min condition to reject low confidence")
	}
}

func TestFilter_DataPath_MissingFieldNeverMatches(t *testing.T) {
	f := Filter{DataPath: []DataCondition{{Path: "confidence", Operator: OpMin, Value: 0.8}}}
	if f.Match(Event{Data: map[string]any{}}) {
		t.Error("missing field should not satisfy a condition")
	}
}

func TestFilter_DataPath_In(t *testing.T) {
	f := Filter{DataPath: []DataCondition{{Path: "zone", Operator: OpIn, Value: []any{"front", "back"}}}}
	if !f.Match(Event{Data: map[string]any{"zone": "front"}}) {
		t.Error("expected in-set match")
	}
	if f.Match(Event{Data: map[string]any{"zone": "side"}}) {
		t.Error("unexpected in-set match")
	}
}

func TestFilter_AllPredicatesConjunctive(t *testing.T) {
	f := Filter{
		EventType: []string{"motion"},
		Source:    []string{"cam-7"},
	}
	if f.Match(Event{Type: "motion", Source: "cam-8"}) {
		t.Error("filter should require all predicates, not any")
	}
}
