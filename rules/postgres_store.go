package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hjscm/alertengine/alert"
	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Conditions
// and actions are stored as JSONB columns; the scalar attributes get their
// own columns so List filters run in SQL.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

// Add inserts a new rule into the database.
func (s *PostgresRuleStore) Add(rule *alert.Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, name, description, category, priority_base, status,
			conditions, actions, cooldown_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.Description, rule.Category, rule.PriorityBase,
		rule.Status, conditions, actions, rule.CooldownSeconds,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(id string) (*alert.Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, category, priority_base, status,
			conditions, actions, cooldown_seconds, created_at, updated_at
		FROM rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns rules matching the filter, ordered by creation time.
func (s *PostgresRuleStore) List(filter Filter) ([]*alert.Rule, error) {
	query := `
		SELECT id, name, description, category, priority_base, status,
			conditions, actions, cooldown_seconds, created_at, updated_at
		FROM rules
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, filter.Category, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*alert.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// ListEnabled returns all enabled rules.
func (s *PostgresRuleStore) ListEnabled() ([]*alert.Rule, error) {
	return s.List(Filter{Status: alert.StatusEnabled})
}

// Update modifies an existing rule.
func (s *PostgresRuleStore) Update(rule *alert.Rule) error {
	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, description = $2, category = $3, priority_base = $4,
			status = $5, conditions = $6, actions = $7, cooldown_seconds = $8,
			updated_at = $9
		WHERE id = $10
	`, rule.Name, rule.Description, rule.Category, rule.PriorityBase,
		rule.Status, conditions, actions, rule.CooldownSeconds,
		rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &ErrNotFound{ID: rule.ID}
	}
	return nil
}

// Delete removes a rule from the database.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

func marshalRuleBody(rule *alert.Rule) (conditions, actions []byte, err error) {
	conditions, err = json.Marshal(rule.Conditions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actions, err = json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return conditions, actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alert.Rule, error) {
	var r alert.Rule
	var conditions, actions []byte
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Category,
		&r.PriorityBase, &r.Status, &conditions, &actions,
		&r.CooldownSeconds, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("invalid conditions for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("invalid actions for rule %s: %w", r.ID, err)
	}
	return &r, nil
}
