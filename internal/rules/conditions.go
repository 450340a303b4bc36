package rules

import (
	"github.com/nugget/integration-hub/internal/event"
	"github.com/nugget/integration-hub/internal/rulestore"
)

// matchConditions ANDs every condition against evt, reusing
// event.Filter's single-predicate evaluator so the operator semantics
// (equals/contains/min/max/in) stay identical between rules and the
// bus's own filtered subscriptions.
func matchConditions(conds []rulestore.Condition, evt event.Event) bool {
	for _, c := range conds {
		dc := event.DataCondition{
			Path:     c.Type,
			Operator: event.Operator(c.Operator),
			Value:    c.Value,
		}
		f := event.Filter{DataPath: []event.DataCondition{dc}}
		if !f.Match(evt) {
			return false
		}
	}
	return true
}
