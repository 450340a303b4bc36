package rulestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nugget/integration-hub/internal/huberrors"
)

// CreateRule inserts rule and its conditions/actions in a single
// transaction, assigning IDs if absent, then refreshes the cache.
func (s *Store) CreateRule(r Rule) (*Rule, error) {
	if r.Name == "" {
		return nil, huberrors.Config("createRule", "", fmt.Errorf("name is required"))
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	err := s.withTx(func(tx *sql.Tx) error {
		return s.insertRuleTx(tx, &r)
	})
	if err != nil {
		return nil, err
	}
	if err := s.loadCache(); err != nil {
		return nil, err
	}
	return s.GetRule(r.ID)
}

// UpdateRule replaces the named rule's fields, conditions, and actions in
// a single transaction. Conditions/actions are always fully replaced,
// never merged, matching the dispatcher's "full definition" semantics.
func (s *Store) UpdateRule(id string, updated Rule) (*Rule, error) {
	updated.ID = id
	updated.UpdatedAt = time.Now().UTC()

	err := s.withTx(func(tx *sql.Tx) error {
		var createdAt string
		row := tx.QueryRow(`SELECT created_at FROM alarm_rules WHERE id = ?`, id)
		if err := row.Scan(&createdAt); err != nil {
			if err == sql.ErrNoRows {
				return huberrors.Store("updateRule", id, fmt.Errorf("rule not found"))
			}
			return err
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return err
		}
		updated.CreatedAt = ts

		if _, err := tx.Exec(`DELETE FROM alarm_conditions WHERE rule_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM alarm_actions WHERE rule_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE alarm_rules SET name=?, description=?, priority=?, category=?, enabled=?, cooldown_sec=?, updated_at=?
			WHERE id=?`,
			updated.Name, updated.Description, updated.Priority, updated.Category, boolToInt(updated.Enabled), updated.CooldownSec, formatTime(updated.UpdatedAt), id); err != nil {
			return err
		}
		return s.insertConditionsAndActionsTx(tx, &updated)
	})
	if err != nil {
		return nil, err
	}
	if err := s.loadCache(); err != nil {
		return nil, err
	}
	return s.GetRule(id)
}

// DeleteRule removes the rule and (via ON DELETE CASCADE) its conditions
// and actions.
func (s *Store) DeleteRule(id string) error {
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM alarm_rules WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return huberrors.Store("deleteRule", id, fmt.Errorf("rule not found"))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.loadCache()
}

// GetRule returns a copy of the cached rule, or a StoreError if absent.
func (s *Store) GetRule(id string) (*Rule, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	r, ok := s.cache[id]
	if !ok {
		return nil, huberrors.Store("getRule", id, fmt.Errorf("rule not found"))
	}
	return cloneRule(r), nil
}

// GetAll returns every cached rule, sorted by id.
func (s *Store) GetAll() []*Rule {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make([]*Rule, 0, len(s.cache))
	for _, r := range s.cache {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetByCategory returns cached rules matching category, sorted by id.
func (s *Store) GetByCategory(category string) []*Rule {
	var out []*Rule
	for _, r := range s.GetAll() {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

// GetEnabled returns every enabled cached rule, sorted by id. This is the
// hot path the Rule Engine polls on every event.
func (s *Store) GetEnabled() []*Rule {
	var out []*Rule
	for _, r := range s.GetAll() {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("rulestore: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rulestore: commit tx: %w", err)
	}
	return nil
}

func (s *Store) insertRuleTx(tx *sql.Tx, r *Rule) error {
	_, err := tx.Exec(`
		INSERT INTO alarm_rules (id, name, description, priority, category, enabled, cooldown_sec, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.Priority, r.Category, boolToInt(r.Enabled), r.CooldownSec, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("rulestore: insert rule: %w", err)
	}
	return s.insertConditionsAndActionsTx(tx, r)
}

func (s *Store) insertConditionsAndActionsTx(tx *sql.Tx, r *Rule) error {
	for _, c := range r.Conditions {
		rawValue, err := json.Marshal(c.Value)
		if err != nil {
			return fmt.Errorf("rulestore: encode condition value: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO alarm_conditions (id, rule_id, condition_type, condition_value, condition_operator)
			VALUES (?, ?, ?, ?, ?)`,
			NewID(), r.ID, c.Type, string(rawValue), c.Operator); err != nil {
			return fmt.Errorf("rulestore: insert condition: %w", err)
		}
	}
	for i, a := range r.Actions {
		order := a.Order
		if order == 0 {
			order = i
		}
		rawConfig, err := json.Marshal(a.Config)
		if err != nil {
			return fmt.Errorf("rulestore: encode action config: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO alarm_actions (id, rule_id, action_type, action_config, action_order)
			VALUES (?, ?, ?, ?, ?)`,
			NewID(), r.ID, a.Type, string(rawConfig), order); err != nil {
			return fmt.Errorf("rulestore: insert action: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
