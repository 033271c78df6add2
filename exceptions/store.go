package exceptions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
)

// ErrNotFound is returned for lookups of unknown exception IDs.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("exception %s not found", e.ID) }

// ExceptionStore persists exceptions and their history. The lifecycle
// Manager is the only writer.
type ExceptionStore interface {
	// Insert a newly created exception
	Insert(e *Exception) error

	// Update an existing exception (status, score, counters, history)
	Update(e *Exception) error

	// Get an exception by ID
	Get(id string) (*Exception, error)

	// GetOpen returns the open (non-RESOLVED) exception for a
	// (rule, entity) pair, or nil when none exists
	GetOpen(ruleID string, entity alert.EntityRef) (*Exception, error)

	// List returns matching exceptions sorted by priority score
	// descending, plus the total match count for pagination
	List(q Query) ([]*Exception, int, error)

	// ListDue returns OPEN/PROCESSING exceptions whose SLA deadline has
	// passed
	ListDue(now time.Time) ([]*Exception, error)

	// Stats returns the dashboard summary
	Stats() (*Stats, error)
}

// InMemoryExceptionStore implements ExceptionStore with a map. Thread-safe
// with RWMutex; values are deep-copied across the boundary so callers can
// never mutate stored state directly.
type InMemoryExceptionStore struct {
	byID   map[string]*Exception
	byPair map[string]string // ruleID+entity key -> open exception ID
	mu     sync.RWMutex
}

// NewInMemoryExceptionStore creates an empty in-memory store.
func NewInMemoryExceptionStore() *InMemoryExceptionStore {
	return &InMemoryExceptionStore{
		byID:   make(map[string]*Exception),
		byPair: make(map[string]string),
	}
}

func pairKey(ruleID string, entity alert.EntityRef) string {
	return ruleID + "\x00" + entity.Key()
}

func copyException(e *Exception) *Exception {
	cp := *e
	cp.History = make([]HistoryEntry, len(e.History))
	copy(cp.History, e.History)
	return &cp
}

// Insert stores a new exception and indexes its open (rule, entity) pair.
func (s *InMemoryExceptionStore) Insert(e *Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; exists {
		return fmt.Errorf("exception with ID %s already exists", e.ID)
	}
	key := pairKey(e.RuleID, e.Entity)
	if openID, exists := s.byPair[key]; exists {
		return fmt.Errorf("open exception %s already exists for rule %s entity %s",
			openID, e.RuleID, e.Entity)
	}
	s.byID[e.ID] = copyException(e)
	if e.Open() {
		s.byPair[key] = e.ID
	}
	return nil
}

// Update replaces the stored exception, maintaining the open-pair index.
func (s *InMemoryExceptionStore) Update(e *Exception) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.ID]; !exists {
		return &ErrNotFound{ID: e.ID}
	}
	s.byID[e.ID] = copyException(e)
	key := pairKey(e.RuleID, e.Entity)
	if e.Open() {
		s.byPair[key] = e.ID
	} else if s.byPair[key] == e.ID {
		delete(s.byPair, key)
	}
	return nil
}

// Get retrieves an exception by ID.
func (s *InMemoryExceptionStore) Get(id string) (*Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.byID[id]
	if !exists {
		return nil, &ErrNotFound{ID: id}
	}
	return copyException(e), nil
}

// GetOpen returns the open exception for a (rule, entity) pair, nil when
// none.
func (s *InMemoryExceptionStore) GetOpen(ruleID string, entity alert.EntityRef) (*Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byPair[pairKey(ruleID, entity)]
	if !exists {
		return nil, nil
	}
	return copyException(s.byID[id]), nil
}

// List returns matching exceptions sorted by priority score descending.
func (s *InMemoryExceptionStore) List(q Query) ([]*Exception, int, error) {
	s.mu.RLock()
	var matched []*Exception
	for _, e := range s.byID {
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if q.Category != "" && e.Category != q.Category {
			continue
		}
		if q.PriorityLevel != "" && e.PriorityLevel != q.PriorityLevel {
			continue
		}
		matched = append(matched, copyException(e))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PriorityScore != matched[j].PriorityScore {
			return matched[i].PriorityScore > matched[j].PriorityScore
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	page, size := normalizePage(q)
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListDue returns OPEN/PROCESSING exceptions past their SLA deadline.
func (s *InMemoryExceptionStore) ListDue(now time.Time) ([]*Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Exception
	for _, e := range s.byID {
		if (e.Status == StatusOpen || e.Status == StatusProcessing) &&
			!e.SLADeadline.IsZero() && now.After(e.SLADeadline) {
			due = append(due, copyException(e))
		}
	}
	return due, nil
}

// Stats returns the dashboard summary counts.
func (s *InMemoryExceptionStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByLevel:    make(map[scoring.Level]int),
		ByCategory: make(map[string]int),
	}
	for _, e := range s.byID {
		stats.Total++
		if e.Status == StatusOpen {
			stats.Open++
		}
		if e.Status == StatusEscalated {
			stats.Escalated++
		}
		if e.PriorityLevel == scoring.LevelCritical {
			stats.Critical++
		}
		stats.ByLevel[e.PriorityLevel]++
		stats.ByCategory[e.Category]++
	}
	return stats, nil
}

func normalizePage(q Query) (page, size int) {
	page = q.Page
	if page < 1 {
		page = 1
	}
	size = q.PageSize
	if size < 1 {
		size = DefaultPageSize
	}
	return page, size
}
