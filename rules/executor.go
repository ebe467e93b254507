package rules

import (
	"context"
	"fmt"
)

// Mailbox is the mail-mutation side of the data layer. Every action type maps
// to exactly one call. Implementations are expected to be idempotent: putting
// a message into a state it is already in succeeds silently.
type Mailbox interface {
	SetRead(ctx context.Context, userID, messageID string, read bool) error
	SetStarred(ctx context.Context, userID, messageID string, starred bool) error
	MoveToFolder(ctx context.Context, userID, messageID, folder string) error
	AddLabel(ctx context.Context, userID, messageID, label string) error
	Archive(ctx context.Context, userID, messageID string) error
	Delete(ctx context.Context, userID, messageID string) error
	MarkSpam(ctx context.Context, userID, messageID string) error
	Forward(ctx context.Context, userID, messageID, address string) error
}

// ExecuteAction applies one action to one message through the mailbox. A
// missing required parameter or an unknown action type is reported as an
// error without touching the mailbox.
func ExecuteAction(ctx context.Context, mailbox Mailbox, action Action, msg *Message) error {
	switch action.Type {
	case ActionMarkRead:
		return mailbox.SetRead(ctx, msg.UserID, msg.ID, true)
	case ActionMarkUnread:
		return mailbox.SetRead(ctx, msg.UserID, msg.ID, false)
	case ActionStar:
		return mailbox.SetStarred(ctx, msg.UserID, msg.ID, true)
	case ActionUnstar:
		return mailbox.SetStarred(ctx, msg.UserID, msg.ID, false)
	case ActionArchive:
		return mailbox.Archive(ctx, msg.UserID, msg.ID)
	case ActionDelete:
		return mailbox.Delete(ctx, msg.UserID, msg.ID)
	case ActionMarkSpam:
		return mailbox.MarkSpam(ctx, msg.UserID, msg.ID)
	case ActionMoveToFolder:
		if action.Folder == "" {
			return fmt.Errorf("move_to_folder action is missing its folder")
		}
		return mailbox.MoveToFolder(ctx, msg.UserID, msg.ID, action.Folder)
	case ActionAddLabel:
		if action.Label == "" {
			return fmt.Errorf("add_label action is missing its label")
		}
		return mailbox.AddLabel(ctx, msg.UserID, msg.ID, action.Label)
	case ActionForwardTo:
		if action.ForwardTo == "" {
			return fmt.Errorf("forward_to action is missing its address")
		}
		return mailbox.Forward(ctx, msg.UserID, msg.ID, action.ForwardTo)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// ExecuteActions runs a rule's action list in order. A failed action does not
// abort the ones after it: each action is an independent user-visible effect,
// so partial completion beats all-or-nothing here.
func ExecuteActions(ctx context.Context, mailbox Mailbox, actions []Action, msg *Message) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, ActionResult{
			Action: action,
			Err:    ExecuteAction(ctx, mailbox, action, msg),
		})
	}
	return results
}
