package exceptions

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
	_ "github.com/lib/pq"
)

// PostgresExceptionStore implements ExceptionStore backed by PostgreSQL.
// History rows live in exception_history; every read rehydrates them so
// the audit trail always travels with the exception.
type PostgresExceptionStore struct {
	db *sql.DB
}

// NewPostgresExceptionStore creates a PostgreSQL-backed ExceptionStore.
func NewPostgresExceptionStore(db *sql.DB) *PostgresExceptionStore {
	return &PostgresExceptionStore{db: db}
}

const exceptionColumns = `id, rule_id, entity_type, entity_id, category, title,
	priority_score, priority_level, status, amount, sla_deadline,
	created_at, last_triggered_at, trigger_count, assigned_to`

// Insert stores a new exception and its initial history entries.
func (s *PostgresExceptionStore) Insert(e *Exception) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO exceptions (`+exceptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.RuleID, e.Entity.Type, e.Entity.ID, e.Category, e.Title,
		e.PriorityScore, e.PriorityLevel, e.Status, e.Amount,
		nullTime(e.SLADeadline), e.CreatedAt, e.LastTriggeredAt,
		e.TriggerCount, nullString(e.AssignedTo))
	if err != nil {
		return fmt.Errorf("failed to insert exception: %w", err)
	}

	if err := insertHistory(tx, e.ID, e.History, 0); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the exception row and appends any new history entries.
func (s *PostgresExceptionStore) Update(e *Exception) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE exceptions
		SET priority_score = $1, priority_level = $2, status = $3, amount = $4,
			sla_deadline = $5, last_triggered_at = $6, trigger_count = $7,
			assigned_to = $8, title = $9
		WHERE id = $10
	`, e.PriorityScore, e.PriorityLevel, e.Status, e.Amount,
		nullTime(e.SLADeadline), e.LastTriggeredAt, e.TriggerCount,
		nullString(e.AssignedTo), e.Title, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update exception: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &ErrNotFound{ID: e.ID}
	}

	var persisted int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM exception_history WHERE exception_id = $1
	`, e.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}
	if err := insertHistory(tx, e.ID, e.History, persisted); err != nil {
		return err
	}
	return tx.Commit()
}

func insertHistory(tx *sql.Tx, exceptionID string, history []HistoryEntry, from int) error {
	for i := from; i < len(history); i++ {
		h := history[i]
		_, err := tx.Exec(`
			INSERT INTO exception_history
				(exception_id, seq, actor, at, from_status, to_status, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, exceptionID, i, h.Actor, h.At, h.From, h.To, nullString(h.Reason))
		if err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}
	return nil
}

// Get retrieves an exception with its full history.
func (s *PostgresExceptionStore) Get(id string) (*Exception, error) {
	row := s.db.QueryRow(`SELECT `+exceptionColumns+` FROM exceptions WHERE id = $1`, id)
	e, err := scanException(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}
	if err := s.loadHistory(e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetOpen returns the open exception for a (rule, entity) pair, nil when
// none exists.
func (s *PostgresExceptionStore) GetOpen(ruleID string, entity alert.EntityRef) (*Exception, error) {
	row := s.db.QueryRow(`
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE rule_id = $1 AND entity_type = $2 AND entity_id = $3
		  AND status <> 'RESOLVED'
		ORDER BY created_at DESC
		LIMIT 1
	`, ruleID, entity.Type, entity.ID)
	e, err := scanException(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open exception: %w", err)
	}
	if err := s.loadHistory(e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns matching exceptions sorted by priority score descending.
func (s *PostgresExceptionStore) List(q Query) ([]*Exception, int, error) {
	var total int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM exceptions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR priority_level = $3)
	`, string(q.Status), q.Category, string(q.PriorityLevel)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count exceptions: %w", err)
	}

	page, size := normalizePage(q)
	rows, err := s.db.Query(`
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR priority_level = $3)
		ORDER BY priority_score DESC, created_at ASC
		LIMIT $4 OFFSET $5
	`, string(q.Status), q.Category, string(q.PriorityLevel), size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list exceptions: %w", err)
	}
	defer rows.Close()

	var out []*Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan exception: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating exceptions: %w", err)
	}
	for _, e := range out {
		if err := s.loadHistory(e); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ListDue returns OPEN/PROCESSING exceptions past their SLA deadline.
func (s *PostgresExceptionStore) ListDue(now time.Time) ([]*Exception, error) {
	rows, err := s.db.Query(`
		SELECT `+exceptionColumns+`
		FROM exceptions
		WHERE status IN ('OPEN', 'PROCESSING')
		  AND sla_deadline IS NOT NULL AND sla_deadline < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due exceptions: %w", err)
	}
	defer rows.Close()

	var due []*Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		due = append(due, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due exceptions: %w", err)
	}
	for _, e := range due {
		if err := s.loadHistory(e); err != nil {
			return nil, err
		}
	}
	return due, nil
}

// Stats returns the dashboard summary counts.
func (s *PostgresExceptionStore) Stats() (*Stats, error) {
	stats := &Stats{
		ByLevel:    make(map[scoring.Level]int),
		ByCategory: make(map[string]int),
	}

	rows, err := s.db.Query(`
		SELECT status, priority_level, category, COUNT(*)
		FROM exceptions
		GROUP BY status, priority_level, category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var level scoring.Level
		var category string
		var count int
		if err := rows.Scan(&status, &level, &category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		if status == StatusOpen {
			stats.Open += count
		}
		if status == StatusEscalated {
			stats.Escalated += count
		}
		if level == scoring.LevelCritical {
			stats.Critical += count
		}
		stats.ByLevel[level] += count
		stats.ByCategory[category] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresExceptionStore) loadHistory(e *Exception) error {
	rows, err := s.db.Query(`
		SELECT actor, at, from_status, to_status, COALESCE(reason, '')
		FROM exception_history
		WHERE exception_id = $1
		ORDER BY seq ASC
	`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to load history for %s: %w", e.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Actor, &h.At, &h.From, &h.To, &h.Reason); err != nil {
			return fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.History = append(e.History, h)
	}
	return rows.Err()
}

func scanException(row interface{ Scan(...any) error }) (*Exception, error) {
	var e Exception
	var slaDeadline sql.NullTime
	var assignedTo sql.NullString
	if err := row.Scan(&e.ID, &e.RuleID, &e.Entity.Type, &e.Entity.ID,
		&e.Category, &e.Title, &e.PriorityScore, &e.PriorityLevel, &e.Status,
		&e.Amount, &slaDeadline, &e.CreatedAt, &e.LastTriggeredAt,
		&e.TriggerCount, &assignedTo); err != nil {
		return nil, err
	}
	if slaDeadline.Valid {
		e.SLADeadline = slaDeadline.Time
	}
	if assignedTo.Valid {
		e.AssignedTo = assignedTo.String
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
