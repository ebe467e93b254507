//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lib/pq"

	"github.com/tdaniel1925/easemail-rules/mailstore"
	"github.com/tdaniel1925/easemail-rules/rules"
)

// setupTestDB starts a PostgreSQL container, applies the schema and returns a
// connection.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "easemail_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=easemail_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func insertMessage(t *testing.T, db *sql.DB, userID string, mutate func(*rules.Message)) *rules.Message {
	t.Helper()

	msg := &rules.Message{
		ID:          uuid.New().String(),
		UserID:      userID,
		FromAddress: "sender@example.com",
		Subject:     "hello",
		Folder:      "inbox",
		ReceivedAt:  time.Now(),
	}
	if mutate != nil {
		mutate(msg)
	}

	_, err := db.Exec(`
		INSERT INTO messages (id, user_id, from_address, from_name, to_addresses,
			cc_addresses, subject, snippet, body_text, is_read, is_starred,
			has_attachments, folder, labels, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, msg.ID, msg.UserID, msg.FromAddress, msg.FromName,
		pq.Array(msg.ToAddresses), pq.Array(msg.CcAddresses),
		msg.Subject, msg.Snippet, msg.Body, msg.IsRead, msg.IsStarred,
		msg.HasAttachments, msg.Folder, pq.Array(msg.Labels), msg.ReceivedAt)
	if err != nil {
		t.Fatalf("Failed to insert message: %v", err)
	}
	return msg
}

func sampleRule(userID string) *rules.Rule {
	return &rules.Rule{
		ID:       uuid.New().String(),
		UserID:   userID,
		Name:     "archive-newsletters",
		Enabled:  true,
		MatchAll: true,
		Conditions: []rules.Condition{
			{Field: rules.FieldFromAddress, Operator: rules.OpContains, Value: "newsletter"},
		},
		Actions: []rules.Action{{Type: rules.ActionArchive}},
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db)

	rule := sampleRule("user-1")
	rule.Expression = `Message.HasAttachments`
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	retrieved, err := store.Get(ctx, "user-1", rule.ID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Name != "archive-newsletters" {
		t.Errorf("Expected name 'archive-newsletters', got '%s'", retrieved.Name)
	}
	if retrieved.Expression != `Message.HasAttachments` {
		t.Errorf("Expression did not round-trip, got '%s'", retrieved.Expression)
	}
	if len(retrieved.Conditions) != 1 || retrieved.Conditions[0].Value != "newsletter" {
		t.Errorf("Conditions did not round-trip through JSONB: %+v", retrieved.Conditions)
	}
	if len(retrieved.Actions) != 1 || retrieved.Actions[0].Type != rules.ActionArchive {
		t.Errorf("Actions did not round-trip through JSONB: %+v", retrieved.Actions)
	}

	active, err := store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active rule, got %d", len(active))
	}

	rule.Name = "renamed"
	rule.Enabled = false
	if err := store.Update(ctx, rule); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}

	updated, err := store.Get(ctx, "user-1", rule.ID)
	if err != nil {
		t.Fatalf("Failed to get updated rule: %v", err)
	}
	if updated.Name != "renamed" || updated.Enabled {
		t.Errorf("Update not applied: %+v", updated)
	}

	active, err = store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Disabled rule should not be active, got %d", len(active))
	}

	if err := store.Delete(ctx, "user-1", rule.ID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(ctx, "user-1", rule.ID); err == nil {
		t.Error("Expected error when getting deleted rule, got nil")
	}
}

func TestPostgresRuleStore_UserIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db)

	aliceRule := sampleRule("alice")
	bobRule := sampleRule("bob")
	bobRule.Name = "bob-rule"

	if err := store.Add(ctx, aliceRule); err != nil {
		t.Fatalf("Failed to add alice's rule: %v", err)
	}
	if err := store.Add(ctx, bobRule); err != nil {
		t.Fatalf("Failed to add bob's rule: %v", err)
	}

	if _, err := store.Get(ctx, "alice", bobRule.ID); err == nil {
		t.Error("Alice should not see bob's rule")
	}
	if err := store.Delete(ctx, "alice", bobRule.ID); err == nil {
		t.Error("Alice should not delete bob's rule")
	}

	bobRules, err := store.ListActive(ctx, "bob")
	if err != nil {
		t.Fatalf("Failed to list bob's rules: %v", err)
	}
	if len(bobRules) != 1 || bobRules[0].Name != "bob-rule" {
		t.Errorf("Bob should see exactly his own rule, got %+v", bobRules)
	}
}

func TestPostgresRuleStore_RecordRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db)
	rule := sampleRule("user-1")
	if err := store.Add(ctx, rule); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	now := time.Now()
	if err := store.RecordRun(ctx, "user-1", rule.ID, true, now); err != nil {
		t.Fatalf("Failed to record successful run: %v", err)
	}
	if err := store.RecordRun(ctx, "user-1", rule.ID, false, now.Add(time.Second)); err != nil {
		t.Fatalf("Failed to record failed run: %v", err)
	}

	got, err := store.Get(ctx, "user-1", rule.ID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if got.ExecutionCount != 2 || got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Errorf("Stats = exec %d success %d failure %d, want 2/1/1",
			got.ExecutionCount, got.SuccessCount, got.FailureCount)
	}
	if got.LastExecutedAt == nil {
		t.Error("LastExecutedAt should be set")
	}

	// Update must not clobber the counters.
	got.Name = "renamed"
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}
	after, err := store.Get(ctx, "user-1", rule.ID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if after.ExecutionCount != 2 || after.SuccessCount != 1 || after.FailureCount != 1 {
		t.Errorf("Update clobbered stats: %+v", after)
	}
}

func TestPostgresRuleStore_Ordering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db)

	priorities := []int{3, 1, 2}
	for _, p := range priorities {
		rule := sampleRule("user-1")
		rule.Name = fmt.Sprintf("rule-%d", p)
		rule.Priority = p
		if err := store.Add(ctx, rule); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	active, err := store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("Expected 3 rules, got %d", len(active))
	}
	for i, want := range []string{"rule-1", "rule-2", "rule-3"} {
		if active[i].Name != want {
			t.Errorf("active[%d] = %s, want %s", i, active[i].Name, want)
		}
	}
}

func TestPostgresMailbox_Mutations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	mailbox := mailstore.NewPostgresMailbox(db, nil)
	messages := mailstore.NewPostgresMessageStore(db)
	msg := insertMessage(t, db, "user-1", nil)

	if err := mailbox.SetRead(ctx, "user-1", msg.ID, true); err != nil {
		t.Fatalf("SetRead failed: %v", err)
	}
	if err := mailbox.SetStarred(ctx, "user-1", msg.ID, true); err != nil {
		t.Fatalf("SetStarred failed: %v", err)
	}
	if err := mailbox.AddLabel(ctx, "user-1", msg.ID, "finance"); err != nil {
		t.Fatalf("AddLabel failed: %v", err)
	}
	// Re-adding an existing label is a silent no-op.
	if err := mailbox.AddLabel(ctx, "user-1", msg.ID, "finance"); err != nil {
		t.Fatalf("Repeated AddLabel failed: %v", err)
	}
	if err := mailbox.Archive(ctx, "user-1", msg.ID); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	got, err := messages.Get(ctx, "user-1", msg.ID)
	if err != nil {
		t.Fatalf("Failed to reload message: %v", err)
	}
	if !got.IsRead || !got.IsStarred {
		t.Errorf("Flags not applied: %+v", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "finance" {
		t.Errorf("Labels = %v, want exactly one 'finance'", got.Labels)
	}
	if got.Folder != "archive" {
		t.Errorf("Folder = %s, want archive", got.Folder)
	}

	if err := mailbox.SetRead(ctx, "user-1", uuid.New().String(), true); err == nil {
		t.Error("Mutating a missing message should fail")
	}
	if err := mailbox.SetRead(ctx, "someone-else", msg.ID, false); err == nil {
		t.Error("Another user must not mutate the message")
	}
}

func TestEngine_EndToEndWithDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := rules.NewPostgresRuleStore(db)
	mailbox := mailstore.NewPostgresMailbox(db, nil)
	messages := mailstore.NewPostgresMessageStore(db)

	engine, err := rules.NewEngine(store, mailbox)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	err = engine.AddRule(ctx, &rules.Rule{
		ID: uuid.New().String(), UserID: "user-1", Name: "star invoices", Enabled: true,
		Conditions: []rules.Condition{
			{Field: rules.FieldSubject, Operator: rules.OpContains, Value: "invoice"},
		},
		Actions: []rules.Action{
			{Type: rules.ActionStar},
			{Type: rules.ActionAddLabel, Label: "finance"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	msg := insertMessage(t, db, "user-1", func(m *rules.Message) {
		m.Subject = "Your invoice #42"
	})

	loaded, err := messages.Get(ctx, "user-1", msg.ID)
	if err != nil {
		t.Fatalf("Failed to load message: %v", err)
	}

	summary, err := engine.ProcessEmail(ctx, loaded, "user-1")
	if err != nil {
		t.Fatalf("ProcessEmail failed: %v", err)
	}
	if len(summary.Matched()) != 1 {
		t.Fatalf("Expected one matched rule, got %+v", summary.Results)
	}

	after, err := messages.Get(ctx, "user-1", msg.ID)
	if err != nil {
		t.Fatalf("Failed to reload message: %v", err)
	}
	if !after.IsStarred {
		t.Error("Message should be starred after the rule run")
	}
	if len(after.Labels) != 1 || after.Labels[0] != "finance" {
		t.Errorf("Labels = %v, want [finance]", after.Labels)
	}
}
