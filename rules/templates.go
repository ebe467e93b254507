package rules

import "fmt"

// BuiltinTemplates returns the pre-built rule catalog offered to users who
// have not written a rule yet. Templates carry no owner or statistics; they
// become real rules through InstantiateTemplate.
func BuiltinTemplates() []RuleTemplate {
	return []RuleTemplate{
		{
			ID:          "archive-newsletters",
			Name:        "Archive newsletters",
			Description: "Move bulk newsletters out of the inbox as they arrive",
			MatchAll:    false,
			Conditions: []Condition{
				{Field: FieldFromAddress, Operator: OpContains, Value: "newsletter"},
				{Field: FieldFromAddress, Operator: OpContains, Value: "no-reply"},
			},
			Actions: []Action{
				{Type: ActionMarkRead},
				{Type: ActionArchive},
			},
		},
		{
			ID:          "star-invoices",
			Name:        "Star invoices",
			Description: "Star anything that looks like a bill or invoice",
			MatchAll:    false,
			Conditions: []Condition{
				{Field: FieldSubject, Operator: OpContains, Value: "invoice"},
				{Field: FieldSubject, Operator: OpContains, Value: "receipt"},
			},
			Actions: []Action{
				{Type: ActionStar},
				{Type: ActionAddLabel, Label: "finance"},
			},
		},
		{
			ID:          "file-attachments",
			Name:        "File attachments for review",
			Description: "Label unread mail that carries attachments",
			MatchAll:    true,
			Conditions: []Condition{
				{Field: FieldHasAttachments, Operator: OpEquals, Value: "true"},
				{Field: FieldIsRead, Operator: OpEquals, Value: "false"},
			},
			Actions: []Action{
				{Type: ActionAddLabel, Label: "attachments"},
			},
		},
		{
			ID:          "junk-unsubscribe",
			Name:        "Trash unsubscribe confirmations",
			Description: "Delete confirmation mail for completed unsubscribes",
			MatchAll:    true,
			Conditions: []Condition{
				{Field: FieldSubject, Operator: OpContains, Value: "unsubscribed"},
			},
			Actions: []Action{
				{Type: ActionDelete},
			},
		},
		{
			ID:          "social-updates",
			Name:        "File social updates",
			Description: "Move social network notifications to their own folder",
			MatchAll:    false,
			Conditions: []Condition{
				{Field: FieldFromAddress, Operator: OpEndsWith, Value: "facebookmail.com"},
				{Field: FieldFromAddress, Operator: OpEndsWith, Value: "linkedin.com"},
				{Field: FieldFromAddress, Operator: OpEndsWith, Value: "twitter.com"},
			},
			Actions: []Action{
				{Type: ActionMarkRead},
				{Type: ActionMoveToFolder, Folder: "social"},
			},
		},
	}
}

// FindTemplate looks up a built-in template by ID.
func FindTemplate(id string) (RuleTemplate, error) {
	for _, t := range BuiltinTemplates() {
		if t.ID == id {
			return t, nil
		}
	}
	return RuleTemplate{}, fmt.Errorf("template %s not found", id)
}

// InstantiateTemplate turns a template into a concrete rule owned by a user.
// The caller assigns the ID; conditions and actions are copied so later edits
// to the rule never bleed into the catalog.
func InstantiateTemplate(t RuleTemplate, ruleID, userID string, priority int) *Rule {
	conditions := make([]Condition, len(t.Conditions))
	copy(conditions, t.Conditions)
	actions := make([]Action, len(t.Actions))
	copy(actions, t.Actions)

	return &Rule{
		ID:          ruleID,
		UserID:      userID,
		Name:        t.Name,
		Description: t.Description,
		Enabled:     true,
		Priority:    priority,
		MatchAll:    t.MatchAll,
		Conditions:  conditions,
		Actions:     actions,
	}
}
