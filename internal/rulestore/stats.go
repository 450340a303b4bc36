package rulestore

import "fmt"

// GetStats summarises the store for the Supervisor's health snapshot.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats

	rules := s.GetAll()
	stats.RuleCount = len(rules)
	for _, r := range rules {
		if r.Enabled {
			stats.EnabledRules++
		}
	}

	row := s.db.QueryRow(`SELECT COUNT(*) FROM alarm_history WHERE status != ?`, AlarmResolved)
	if err := row.Scan(&stats.ActiveAlarms); err != nil {
		return stats, fmt.Errorf("rulestore: count active alarms: %w", err)
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM alarm_history`)
	if err := row.Scan(&stats.HistoryRowCount); err != nil {
		return stats, fmt.Errorf("rulestore: count alarm history: %w", err)
	}

	return stats, nil
}
