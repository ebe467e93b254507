package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrRuleNotFound is returned by stores when a rule ID does not exist for
// the given user.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore manages rule persistence and retrieval. Rules are scoped to their
// owning user on every call.
type RuleStore interface {
	// Add a new rule.
	Add(ctx context.Context, rule *Rule) error

	// Get a rule by ID.
	Get(ctx context.Context, userID, id string) (*Rule, error)

	// List all rules for a user, ordered by priority.
	List(ctx context.Context, userID string) ([]*Rule, error)

	// ListActive returns the user's enabled rules, ordered by priority
	// ascending. This ordering is the engine's one ordering contract: it
	// decides which rule's stop_processing suppresses later rules.
	ListActive(ctx context.Context, userID string) ([]*Rule, error)

	// Update an existing rule.
	Update(ctx context.Context, rule *Rule) error

	// Delete a rule.
	Delete(ctx context.Context, userID, id string) error

	// RecordRun applies the statistics of one matched rule run as
	// independent increments: execution count always, success or failure
	// count depending on whether every action completed.
	RecordRun(ctx context.Context, userID, ruleID string, succeeded bool, at time.Time) error
}

// InMemoryRuleStore implements RuleStore using per-user maps. Thread-safe.
type InMemoryRuleStore struct {
	rules map[string]map[string]*Rule // userID -> ruleID -> rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]map[string]*Rule),
	}
}

// Add adds a new rule to the store, enforcing unique IDs per user.
func (s *InMemoryRuleStore) Add(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.rules[rule.UserID]
	if byID == nil {
		byID = make(map[string]*Rule)
		s.rules[rule.UserID] = byID
	}

	if _, exists := byID[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	byID[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(ctx context.Context, userID, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[userID][id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// List returns all of a user's rules ordered by priority.
func (s *InMemoryRuleStore) List(ctx context.Context, userID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules[userID] {
		out = append(out, rule)
	}
	sortRules(out)
	return out, nil
}

// ListActive returns the user's enabled rules ordered by priority.
func (s *InMemoryRuleStore) ListActive(ctx context.Context, userID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules[userID] {
		if rule.Enabled {
			active = append(active, rule)
		}
	}
	sortRules(active)
	return active, nil
}

// Update updates an existing rule, preserving CreatedAt and statistics.
func (s *InMemoryRuleStore) Update(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.UserID][rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.ExecutionCount = existing.ExecutionCount
	rule.SuccessCount = existing.SuccessCount
	rule.FailureCount = existing.FailureCount
	rule.LastExecutedAt = existing.LastExecutedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.UserID][rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[userID][id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules[userID], id)
	return nil
}

// RecordRun increments the rule's run counters.
func (s *InMemoryRuleStore) RecordRun(ctx context.Context, userID, ruleID string, succeeded bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[userID][ruleID]
	if !exists {
		return fmt.Errorf("rule %s: %w", ruleID, ErrRuleNotFound)
	}

	rule.ExecutionCount++
	if succeeded {
		rule.SuccessCount++
	} else {
		rule.FailureCount++
	}
	t := at
	rule.LastExecutedAt = &t
	return nil
}

// sortRules orders rules by priority ascending, then creation time, then ID
// so that evaluation order is stable and deterministic.
func sortRules(rs []*Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority < rs[j].Priority
		}
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
