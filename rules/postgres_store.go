package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore.
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, user_id, name, description, enabled, priority, match_all,
	stop_processing, conditions, actions, expression,
	execution_count, success_count, failure_count, last_executed_at,
	created_at, updated_at`

// Add inserts a new rule into the database.
func (s *PostgresRuleStore) Add(ctx context.Context, rule *Rule) error {
	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_rules (id, user_id, name, description, enabled, priority,
			match_all, stop_processing, conditions, actions, expression,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rule.ID, rule.UserID, rule.Name, rule.Description, rule.Enabled, rule.Priority,
		rule.MatchAll, rule.StopProcessing, conditions, actions, rule.Expression,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID.
func (s *PostgresRuleStore) Get(ctx context.Context, userID, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM email_rules
		WHERE id = $1 AND user_id = $2
	`, id, userID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules for the user ordered by priority.
func (s *PostgresRuleStore) List(ctx context.Context, userID string) ([]*Rule, error) {
	return s.list(ctx, userID, false)
}

// ListActive returns the user's enabled rules ordered by priority ascending.
// Ties break on creation time so evaluation order stays deterministic.
func (s *PostgresRuleStore) ListActive(ctx context.Context, userID string) ([]*Rule, error) {
	return s.list(ctx, userID, true)
}

func (s *PostgresRuleStore) list(ctx context.Context, userID string, activeOnly bool) ([]*Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM email_rules
		WHERE user_id = $1`
	if activeOnly {
		query += ` AND enabled = true`
	}
	query += ` ORDER BY priority ASC, created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule. Statistics columns are untouched; only
// RecordRun writes those.
func (s *PostgresRuleStore) Update(ctx context.Context, rule *Rule) error {
	conditions, actions, err := marshalRuleBody(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE email_rules
		SET name = $1, description = $2, enabled = $3, priority = $4,
			match_all = $5, stop_processing = $6, conditions = $7, actions = $8,
			expression = $9, updated_at = $10
		WHERE id = $11 AND user_id = $12
	`, rule.Name, rule.Description, rule.Enabled, rule.Priority,
		rule.MatchAll, rule.StopProcessing, conditions, actions,
		rule.Expression, rule.UpdatedAt, rule.ID, rule.UserID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return requireRow(result, rule.ID)
}

// Delete removes a rule from the database.
func (s *PostgresRuleStore) Delete(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM email_rules
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return requireRow(result, id)
}

// RecordRun applies run statistics as atomic increments in the database, not
// a read-modify-write, so concurrent runs against the same rule for different
// messages never lose updates.
func (s *PostgresRuleStore) RecordRun(ctx context.Context, userID, ruleID string, succeeded bool, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE email_rules
		SET execution_count = execution_count + 1,
			success_count = success_count + CASE WHEN $3 THEN 1 ELSE 0 END,
			failure_count = failure_count + CASE WHEN $3 THEN 0 ELSE 1 END,
			last_executed_at = $4
		WHERE id = $1 AND user_id = $2
	`, ruleID, userID, succeeded, at)
	if err != nil {
		return fmt.Errorf("failed to record rule run: %w", err)
	}

	return requireRow(result, ruleID)
}

func marshalRuleBody(rule *Rule) (conditions, actions []byte, err error) {
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

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule           Rule
		conditions     []byte
		actions        []byte
		lastExecutedAt sql.NullTime
	)

	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &rule.Description,
		&rule.Enabled, &rule.Priority, &rule.MatchAll, &rule.StopProcessing,
		&conditions, &actions, &rule.Expression,
		&rule.ExecutionCount, &rule.SuccessCount, &rule.FailureCount,
		&lastExecutedAt, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if lastExecutedAt.Valid {
		t := lastExecutedAt.Time
		rule.LastExecutedAt = &t
	}

	return &rule, nil
}

func requireRow(result sql.Result, ruleID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, ErrRuleNotFound)
	}
	return nil
}
