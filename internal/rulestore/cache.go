package rulestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// loadCache populates the in-memory rule cache from the database. Called
// once at open and after every mutating transaction commits.
func (s *Store) loadCache() error {
	rows, err := s.db.Query(`SELECT id, name, description, priority, category, enabled, cooldown_sec, created_at, updated_at FROM alarm_rules`)
	if err != nil {
		return fmt.Errorf("rulestore: load cache: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]*Rule)
	for rows.Next() {
		r, err := scanRuleRow(rows)
		if err != nil {
			return err
		}
		cache[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range cache {
		conds, err := s.loadConditions(r.ID)
		if err != nil {
			return err
		}
		r.Conditions = conds

		actions, err := s.loadActions(r.ID)
		if err != nil {
			return err
		}
		r.Actions = actions
	}

	s.cacheMu.Lock()
	s.cache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *Store) loadConditions(ruleID string) ([]Condition, error) {
	rows, err := s.db.Query(`SELECT condition_type, condition_value, condition_operator FROM alarm_conditions WHERE rule_id = ?`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load conditions for %s: %w", ruleID, err)
	}
	defer rows.Close()

	var out []Condition
	for rows.Next() {
		var c Condition
		var rawValue string
		if err := rows.Scan(&c.Type, &rawValue, &c.Operator); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(rawValue), &v); err != nil {
			v = rawValue
		}
		c.Value = v
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadActions(ruleID string) ([]Action, error) {
	rows, err := s.db.Query(`SELECT action_type, action_config, action_order FROM alarm_actions WHERE rule_id = ? ORDER BY action_order`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rulestore: load actions for %s: %w", ruleID, err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		var rawConfig string
		if err := rows.Scan(&a.Type, &rawConfig, &a.Order); err != nil {
			return nil, err
		}
		cfg := map[string]any{}
		if rawConfig != "" {
			if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
				return nil, fmt.Errorf("rulestore: decode action config: %w", err)
			}
		}
		a.Config = cfg
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanRuleRow(rows *sql.Rows) (*Rule, error) {
	var r Rule
	var enabled int
	var created, updated string
	if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Priority, &r.Category, &enabled, &r.CooldownSec, &created, &updated); err != nil {
		return nil, fmt.Errorf("rulestore: scan rule: %w", err)
	}
	r.Enabled = enabled != 0
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func cloneRule(r *Rule) *Rule {
	out := *r
	out.Conditions = append([]Condition(nil), r.Conditions...)
	out.Actions = append([]Action(nil), r.Actions...)
	return &out
}
