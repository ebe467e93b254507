// Package mailstore is the engine's data-layer collaborator: it loads
// message records for rule runs and applies the mutations rule actions
// request. The special folders mirror what the inbox UI shows.
package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tdaniel1925/easemail-rules/rules"
)

const (
	FolderArchive = "archive"
	FolderSpam    = "spam"
	FolderTrash   = "trash"
)

// ErrMessageNotFound is returned when a message ID does not exist for the user.
var ErrMessageNotFound = errors.New("message not found")

// Forwarder sends a copy of a message to another address. The SMTP
// implementation lives in this package; tests swap in fakes.
type Forwarder interface {
	Forward(ctx context.Context, msg *rules.Message, address string) error
}

// PostgresMessageStore reads message records from the messages table.
type PostgresMessageStore struct {
	db *sql.DB
}

// NewPostgresMessageStore creates a message store over an open database handle.
func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

// Get loads one message scoped to its owning user.
func (s *PostgresMessageStore) Get(ctx context.Context, userID, messageID string) (*rules.Message, error) {
	return getMessage(ctx, s.db, userID, messageID)
}

// PostgresMailbox implements rules.Mailbox against the messages table. Every
// mutation is a single scoped UPDATE written to be idempotent: marking a read
// message read, or re-adding a label it already carries, succeeds silently.
type PostgresMailbox struct {
	db        *sql.DB
	forwarder Forwarder
}

// NewPostgresMailbox creates a mailbox over an open database handle. The
// forwarder may be nil, in which case forward actions fail (and only they do).
func NewPostgresMailbox(db *sql.DB, forwarder Forwarder) *PostgresMailbox {
	return &PostgresMailbox{db: db, forwarder: forwarder}
}

// SetRead sets the read flag on a message.
func (m *PostgresMailbox) SetRead(ctx context.Context, userID, messageID string, read bool) error {
	return m.update(ctx, userID, messageID, `is_read = $3`, read)
}

// SetStarred sets the starred flag on a message.
func (m *PostgresMailbox) SetStarred(ctx context.Context, userID, messageID string, starred bool) error {
	return m.update(ctx, userID, messageID, `is_starred = $3`, starred)
}

// MoveToFolder moves a message into the named folder.
func (m *PostgresMailbox) MoveToFolder(ctx context.Context, userID, messageID, folder string) error {
	return m.update(ctx, userID, messageID, `folder = $3`, folder)
}

// AddLabel attaches a label, skipping the append when it is already present.
func (m *PostgresMailbox) AddLabel(ctx context.Context, userID, messageID, label string) error {
	return m.update(ctx, userID, messageID,
		`labels = CASE WHEN $3 = ANY(labels) THEN labels ELSE array_append(labels, $3) END`,
		label)
}

// Archive moves a message into the archive folder.
func (m *PostgresMailbox) Archive(ctx context.Context, userID, messageID string) error {
	return m.MoveToFolder(ctx, userID, messageID, FolderArchive)
}

// Delete moves a message into the trash folder. Rows are never dropped here;
// trash expiry belongs to the retention job, not the rule engine.
func (m *PostgresMailbox) Delete(ctx context.Context, userID, messageID string) error {
	return m.MoveToFolder(ctx, userID, messageID, FolderTrash)
}

// MarkSpam moves a message into the spam folder.
func (m *PostgresMailbox) MarkSpam(ctx context.Context, userID, messageID string) error {
	return m.MoveToFolder(ctx, userID, messageID, FolderSpam)
}

// Forward sends a copy of the message to the given address through the
// configured forwarder.
func (m *PostgresMailbox) Forward(ctx context.Context, userID, messageID, address string) error {
	if m.forwarder == nil {
		return fmt.Errorf("no forwarder configured")
	}

	msg, err := getMessage(ctx, m.db, userID, messageID)
	if err != nil {
		return err
	}

	if err := m.forwarder.Forward(ctx, msg, address); err != nil {
		return fmt.Errorf("failed to forward message %s: %w", messageID, err)
	}
	return nil
}

func (m *PostgresMailbox) update(ctx context.Context, userID, messageID, set string, arg any) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE messages
		SET `+set+`, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, messageID, userID, arg)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}
	return nil
}

func getMessage(ctx context.Context, db *sql.DB, userID, messageID string) (*rules.Message, error) {
	var msg rules.Message
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, from_address, from_name, to_addresses, cc_addresses,
			subject, snippet, body_text, is_read, is_starred, has_attachments,
			folder, labels, received_at
		FROM messages
		WHERE id = $1 AND user_id = $2
	`, messageID, userID).Scan(
		&msg.ID, &msg.UserID, &msg.FromAddress, &msg.FromName,
		pq.Array(&msg.ToAddresses), pq.Array(&msg.CcAddresses),
		&msg.Subject, &msg.Snippet, &msg.Body,
		&msg.IsRead, &msg.IsStarred, &msg.HasAttachments,
		&msg.Folder, pq.Array(&msg.Labels), &msg.ReceivedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}
