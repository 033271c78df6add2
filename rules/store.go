// Package rules provides rule persistence, validation, compilation, and
// condition evaluation.
package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Category string
	Status   alert.RuleStatus
}

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	// Add a new rule
	Add(rule *alert.Rule) error

	// Get a rule by ID
	Get(id string) (*alert.Rule, error)

	// List rules matching the filter, oldest first
	List(filter Filter) ([]*alert.Rule, error)

	// ListEnabled returns all enabled rules
	ListEnabled() ([]*alert.Rule, error)

	// Update an existing rule
	Update(rule *alert.Rule) error

	// Delete a rule
	Delete(id string) error
}

// ErrNotFound is returned for lookups of unknown rule IDs.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("rule %s not found", e.ID) }

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*alert.Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{rules: make(map[string]*alert.Rule)}
}

// Add adds a new rule to the store, enforcing unique IDs and setting
// timestamps.
func (s *InMemoryRuleStore) Add(rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(id string) (*alert.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, &ErrNotFound{ID: id}
	}
	return rule, nil
}

// List returns rules matching the filter, ordered by creation time.
func (s *InMemoryRuleStore) List(filter Filter) ([]*alert.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Rule
	for _, rule := range s.rules {
		if filter.Category != "" && rule.Category != filter.Category {
			continue
		}
		if filter.Status != "" && rule.Status != filter.Status {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListEnabled returns all enabled rules.
func (s *InMemoryRuleStore) ListEnabled() ([]*alert.Rule, error) {
	return s.List(Filter{Status: alert.StatusEnabled})
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return &ErrNotFound{ID: rule.ID}
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return &ErrNotFound{ID: id}
	}
	delete(s.rules, id)
	return nil
}
