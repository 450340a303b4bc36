package event

import "testing"

func TestNormalize_DerivesCategory(t *testing.T) {
	cases := []struct {
		typ  string
		want Category
	}{
		{"camera:motion", CategorySecurity},
		{"adsb:squawk-7500", CategoryAircraft},
		{"speed-violation", CategoryVehicle},
		{"connector:connected", CategorySystem},
		{"frobnicate:widget", CategoryGeneral},
	}
	for _, c := range cases {
		got := Normalize(Event{Type: c.typ}).Category
		if got != c.want {
			t.Errorf("Normalize(%q).Category = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestNormalize_DerivesPriority(t *testing.T) {
	cases := []struct {
		typ  string
		want Priority
	}{
		{"aircraft:squawk-7700", PriorityCritical},
		{"camera:intrusion", PriorityHigh},
		{"camera:motion", PriorityNormal},
		{"connector-status:changed", PriorityLow},
		{"anything:else", PriorityNormal},
	}
	for _, c := range cases {
		got := Normalize(Event{Type: c.typ}).Priority
		if got != c.want {
			t.Errorf("Normalize(%q).Priority = %q, want %q", c.typ, got, c.want)
		}
	}
}

func TestNormalize_FillsIDAndTimestampOnce(t *testing.T) {
	e := Normalize(Event{Type: "motion"})
	if e.ID == "" {
		t.Fatal("expected ID to be filled")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected Timestamp to be filled")
	}

	// Idempotent: an already-set ID/Timestamp/Category/Priority survive.
	again := Normalize(e)
	if again.ID != e.ID {
		t.Errorf("Normalize overwrote existing ID: %q -> %q", e.ID, again.ID)
	}
}

func TestNormalize_RespectsExplicitValues(t *testing.T) {
	e := Normalize(Event{Type: "camera:motion", Category: CategoryGeneral, Priority: PriorityCritical})
	if e.Category != CategoryGeneral {
		t.Errorf("explicit Category overridden: got %q", e.Category)
	}
	if e.Priority != PriorityCritical {
		t.Errorf("explicit Priority overridden: got %q", e.Priority)
	}
}
