package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateRule checks a rule definition before it is saved. The evaluator
// never surfaces configuration errors at run time (a malformed rule just
// stops matching), so this is the one place a user finds out their rule is
// broken.
func ValidateRule(r *Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if r.UserID == "" {
		return fmt.Errorf("rule must have an owner")
	}

	if len(r.Conditions) == 0 && r.Expression == "" {
		return fmt.Errorf("rule must have at least one condition or an expression")
	}

	for i, cond := range r.Conditions {
		if err := validateCondition(cond); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}

	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}

	for i, action := range r.Actions {
		if err := validateAction(action); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}
	}

	return nil
}

func validateCondition(cond Condition) error {
	if !isValidField(cond.Field) {
		return fmt.Errorf("unknown field %q", cond.Field)
	}
	if !isValidOperator(cond.Operator) {
		return fmt.Errorf("unknown operator %q", cond.Operator)
	}

	if isBooleanField(cond.Field) {
		if cond.Operator != OpEquals {
			return fmt.Errorf("field %q only supports the %q operator", cond.Field, OpEquals)
		}
		if _, err := strconv.ParseBool(strings.TrimSpace(cond.Value)); err != nil {
			return fmt.Errorf("field %q requires a boolean value, got %q", cond.Field, cond.Value)
		}
		return nil
	}

	if cond.Value == "" {
		return fmt.Errorf("condition value cannot be empty")
	}
	return nil
}

func validateAction(action Action) error {
	switch action.Type {
	case ActionMarkRead, ActionMarkUnread, ActionStar, ActionUnstar,
		ActionArchive, ActionDelete, ActionMarkSpam:
		return nil
	case ActionMoveToFolder:
		if action.Folder == "" {
			return fmt.Errorf("%s requires a folder", action.Type)
		}
		return nil
	case ActionAddLabel:
		if action.Label == "" {
			return fmt.Errorf("%s requires a label", action.Type)
		}
		return nil
	case ActionForwardTo:
		if action.ForwardTo == "" {
			return fmt.Errorf("%s requires a forwarding address", action.Type)
		}
		if !strings.Contains(action.ForwardTo, "@") {
			return fmt.Errorf("%s address %q is not an email address", action.Type, action.ForwardTo)
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func isValidField(f ConditionField) bool {
	switch f {
	case FieldFromAddress, FieldFromName, FieldToAddress, FieldSubject,
		FieldBody, FieldHasAttachments, FieldIsRead, FieldIsStarred,
		FieldFolder, FieldLabel:
		return true
	}
	return false
}

func isValidOperator(op Operator) bool {
	switch op {
	case OpContains, OpNotContains, OpEquals, OpNotEquals, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

func isBooleanField(f ConditionField) bool {
	switch f {
	case FieldHasAttachments, FieldIsRead, FieldIsStarred:
		return true
	}
	return false
}
