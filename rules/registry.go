package rules

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hjscm/alertengine/alert"
)

// ChangeKind describes what happened to a rule.
type ChangeKind string

const (
	RuleCreated ChangeKind = "created"
	RuleUpdated ChangeKind = "updated"
	RuleDeleted ChangeKind = "deleted"
)

// RuleChanged is published to subscribers after every successful mutation.
// The scheduler's candidate index consumes it to stay current without
// re-scanning the store.
type RuleChanged struct {
	Kind ChangeKind
	Rule *alert.Rule
}

// Registry validates, compiles, stores, and serves rule definitions. It is
// the only writer of the rule store.
type Registry struct {
	store     RuleStore
	evaluator *Evaluator
	cache     RulesCache

	mu          sync.RWMutex
	subscribers []func(RuleChanged)
}

// NewRegistry creates a registry over the given store. Enabled rules
// already in the store are compiled eagerly so the first evaluation does
// not pay compilation latency.
func NewRegistry(store RuleStore, evaluator *Evaluator) (*Registry, error) {
	r := &Registry{
		store:     store,
		evaluator: evaluator,
		cache:     NewInMemoryRulesCache(DefaultCacheConfig()),
	}

	enabled, err := store.ListEnabled()
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}
	for _, rule := range enabled {
		if err := evaluator.Compile(rule); err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}
	r.cache.Set(enabled)

	return r, nil
}

// Subscribe registers a listener for rule changes. Listeners are invoked
// synchronously after the mutation commits.
func (r *Registry) Subscribe(fn func(RuleChanged)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

func (r *Registry) publish(ev RuleChanged) {
	r.mu.RLock()
	subs := r.subscribers
	r.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Create validates and compiles the rule, then persists it. An empty ID is
// assigned a UUID. Returns the rule ID.
func (r *Registry) Create(rule *alert.Rule) (string, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Status == "" {
		rule.Status = alert.StatusDraft
	}
	if err := alert.Validate(rule); err != nil {
		return "", err
	}
	if err := r.evaluator.Compile(rule); err != nil {
		return "", &alert.ValidationError{RuleID: rule.ID, Reason: err.Error()}
	}
	if err := r.store.Add(rule); err != nil {
		r.evaluator.Forget(rule.ID)
		return "", err
	}
	r.cache.Invalidate()
	r.publish(RuleChanged{Kind: RuleCreated, Rule: rule})
	return rule.ID, nil
}

// Update replaces an existing rule definition after validating and
// recompiling it.
func (r *Registry) Update(rule *alert.Rule) error {
	if err := alert.Validate(rule); err != nil {
		return err
	}
	if err := r.evaluator.Compile(rule); err != nil {
		return &alert.ValidationError{RuleID: rule.ID, Reason: err.Error()}
	}
	if err := r.store.Update(rule); err != nil {
		return err
	}
	r.cache.Invalidate()
	r.publish(RuleChanged{Kind: RuleUpdated, Rule: rule})
	return nil
}

// SetStatus enables, disables, or drafts a rule. Enabling revalidates the
// rule so a draft with no conditions cannot be switched on.
func (r *Registry) SetStatus(id string, status alert.RuleStatus) error {
	rule, err := r.store.Get(id)
	if err != nil {
		return err
	}
	updated := *rule
	updated.Status = status
	return r.Update(&updated)
}

// Get retrieves a rule by ID.
func (r *Registry) Get(id string) (*alert.Rule, error) {
	return r.store.Get(id)
}

// List returns rules matching the filter.
func (r *Registry) List(filter Filter) ([]*alert.Rule, error) {
	return r.store.List(filter)
}

// Enabled returns all enabled rules, served from cache when valid.
func (r *Registry) Enabled() ([]*alert.Rule, error) {
	if cached := r.cache.Get(); cached != nil {
		return cached, nil
	}
	enabled, err := r.store.ListEnabled()
	if err != nil {
		return nil, err
	}
	r.cache.Set(enabled)
	return enabled, nil
}

// Delete removes a rule and its compiled programs.
func (r *Registry) Delete(id string) error {
	rule, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(id); err != nil {
		return err
	}
	r.evaluator.Forget(id)
	r.cache.Invalidate()
	r.publish(RuleChanged{Kind: RuleDeleted, Rule: rule})
	return nil
}

// Evaluator exposes the shared evaluator for the engine.
func (r *Registry) Evaluator() *Evaluator { return r.evaluator }
