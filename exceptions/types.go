// Package exceptions owns the exception lifecycle: creation on first rule
// match, re-trigger accounting, the status state machine with its audit
// history, SLA escalation, and dispatch throttling.
package exceptions

import (
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
)

// Status is the exception lifecycle state.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusProcessing Status = "PROCESSING"
	StatusEscalated  Status = "ESCALATED"
	StatusResolved   Status = "RESOLVED"
)

// HistoryEntry records one status transition. History is append-only and
// is the compliance audit trail.
type HistoryEntry struct {
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason string    `json:"reason,omitempty"`
}

// Exception is a stateful instance of an ongoing rule match.
type Exception struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"ruleId"`
	Entity          alert.EntityRef `json:"entityRef"`
	Category        string          `json:"category"`
	Title           string          `json:"title,omitempty"`
	PriorityScore   float64         `json:"priorityScore"`
	PriorityLevel   scoring.Level   `json:"priorityLevel"`
	Status          Status          `json:"status"`
	Amount          float64         `json:"amount,omitempty"`
	SLADeadline     time.Time       `json:"slaDeadline"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastTriggeredAt time.Time       `json:"lastTriggeredAt"`
	TriggerCount    int             `json:"triggerCount"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	History         []HistoryEntry  `json:"history"`
}

// Open reports whether the exception still accepts triggers and SLA
// escalation.
func (e *Exception) Open() bool {
	return e.Status != StatusResolved
}

// Query filters and paginates exception listings. Results are sorted by
// priority score descending.
type Query struct {
	Status        Status
	Category      string
	PriorityLevel scoring.Level
	Page          int // 1-based; 0 means first page
	PageSize      int // 0 means default
}

// DefaultPageSize caps unpaginated listings.
const DefaultPageSize = 50

// Stats is the dashboard summary.
type Stats struct {
	Total      int                   `json:"total"`
	Open       int                   `json:"open"`
	Critical   int                   `json:"critical"`
	Escalated  int                   `json:"escalated"`
	ByLevel    map[scoring.Level]int `json:"byLevel"`
	ByCategory map[string]int        `json:"byCategory"`
}
