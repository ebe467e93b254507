package rules

import (
	"strings"
	"testing"
)

func validRule() *Rule {
	return &Rule{
		ID: "r1", UserID: "user-1", Name: "Archive newsletters",
		Conditions: []Condition{{Field: FieldFromAddress, Operator: OpContains, Value: "newsletter"}},
		Actions:    []Action{{Type: ActionArchive}},
	}
}

func TestValidateRuleAcceptsWellFormed(t *testing.T) {
	if err := ValidateRule(validRule()); err != nil {
		t.Errorf("ValidateRule() rejected a valid rule: %v", err)
	}

	exprOnly := validRule()
	exprOnly.Conditions = nil
	exprOnly.Expression = `Message.HasAttachments`
	if err := ValidateRule(exprOnly); err != nil {
		t.Errorf("ValidateRule() rejected an expression-only rule: %v", err)
	}
}

func TestValidateRuleRejections(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Rule)
		wantMsg string
	}{
		{
			"empty name",
			func(r *Rule) { r.Name = "  " },
			"name",
		},
		{
			"missing owner",
			func(r *Rule) { r.UserID = "" },
			"owner",
		},
		{
			"no conditions or expression",
			func(r *Rule) { r.Conditions = nil },
			"condition",
		},
		{
			"no actions",
			func(r *Rule) { r.Actions = nil },
			"action",
		},
		{
			"unknown condition field",
			func(r *Rule) { r.Conditions[0].Field = "priority" },
			"unknown field",
		},
		{
			"unknown operator",
			func(r *Rule) { r.Conditions[0].Operator = "matches_regex" },
			"unknown operator",
		},
		{
			"empty condition value",
			func(r *Rule) { r.Conditions[0].Value = "" },
			"empty",
		},
		{
			"string operator on boolean field",
			func(r *Rule) {
				r.Conditions[0] = Condition{Field: FieldIsRead, Operator: OpContains, Value: "true"}
			},
			"operator",
		},
		{
			"non-boolean value on boolean field",
			func(r *Rule) {
				r.Conditions[0] = Condition{Field: FieldHasAttachments, Operator: OpEquals, Value: "maybe"}
			},
			"boolean",
		},
		{
			"move without folder",
			func(r *Rule) { r.Actions[0] = Action{Type: ActionMoveToFolder} },
			"folder",
		},
		{
			"label without value",
			func(r *Rule) { r.Actions[0] = Action{Type: ActionAddLabel} },
			"label",
		},
		{
			"forward without address",
			func(r *Rule) { r.Actions[0] = Action{Type: ActionForwardTo} },
			"forwarding address",
		},
		{
			"forward to non-address",
			func(r *Rule) { r.Actions[0] = Action{Type: ActionForwardTo, ForwardTo: "not-an-address"} },
			"not an email address",
		},
		{
			"unknown action type",
			func(r *Rule) { r.Actions[0] = Action{Type: "snooze"} },
			"unknown action",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule := validRule()
			tc.mutate(rule)

			err := ValidateRule(rule)
			if err == nil {
				t.Fatal("ValidateRule() should reject the rule")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q should mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestValidateRuleBooleanValueForms(t *testing.T) {
	// strconv.ParseBool accepts the usual spellings.
	for _, value := range []string{"true", "false", "TRUE", "False", "1", "0", "t", "f"} {
		rule := validRule()
		rule.Conditions[0] = Condition{Field: FieldIsStarred, Operator: OpEquals, Value: value}

		if err := ValidateRule(rule); err != nil {
			t.Errorf("ValidateRule() rejected boolean value %q: %v", value, err)
		}
	}
}
