package engine

import (
	"sync"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/rules"
)

// candidateIndex maps field paths to the enabled rules that reference
// them, so a snapshot update fans out only to rules that observe at least
// one of its fields. Built once from the registry and incrementally
// maintained through RuleChanged events; disable removes a rule
// immediately.
type candidateIndex struct {
	mu      sync.RWMutex
	byField map[string]map[string]*alert.Rule // field path -> ruleID -> rule
}

func newCandidateIndex() *candidateIndex {
	return &candidateIndex{byField: make(map[string]map[string]*alert.Rule)}
}

// rebuild replaces the index contents with the given enabled rules.
func (ix *candidateIndex) rebuild(enabled []*alert.Rule) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.byField = make(map[string]map[string]*alert.Rule)
	for _, r := range enabled {
		ix.addLocked(r)
	}
}

// apply folds one registry event into the index.
func (ix *candidateIndex) apply(ev rules.RuleChanged) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(ev.Rule.ID)
	if ev.Kind != rules.RuleDeleted && ev.Rule.Status == alert.StatusEnabled {
		ix.addLocked(ev.Rule)
	}
}

func (ix *candidateIndex) addLocked(r *alert.Rule) {
	for _, path := range r.FieldPaths() {
		bucket, ok := ix.byField[path]
		if !ok {
			bucket = make(map[string]*alert.Rule)
			ix.byField[path] = bucket
		}
		bucket[r.ID] = r
	}
}

func (ix *candidateIndex) removeLocked(ruleID string) {
	for path, bucket := range ix.byField {
		if _, ok := bucket[ruleID]; ok {
			delete(bucket, ruleID)
			if len(bucket) == 0 {
				delete(ix.byField, path)
			}
		}
	}
}

// candidates returns the rules referencing any of the given field paths,
// deduplicated.
func (ix *candidateIndex) candidates(fieldPaths []string) []*alert.Rule {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*alert.Rule
	for _, path := range fieldPaths {
		for id, r := range ix.byField[path] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
