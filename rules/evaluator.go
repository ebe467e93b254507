package rules

import (
	"strconv"
	"strings"
)

// EvaluateCondition reports whether a single condition holds for a message.
// String comparisons are case-insensitive. Any field/operator mismatch or
// unparseable boolean value resolves to false rather than an error, so a
// malformed condition degrades to never-matching.
func EvaluateCondition(cond Condition, msg *Message) bool {
	if msg == nil {
		return false
	}

	switch cond.Field {
	case FieldHasAttachments:
		return evalBool(cond, msg.HasAttachments)
	case FieldIsRead:
		return evalBool(cond, msg.IsRead)
	case FieldIsStarred:
		return evalBool(cond, msg.IsStarred)
	case FieldFromAddress:
		return evalString(cond.Operator, cond.Value, msg.FromAddress)
	case FieldFromName:
		return evalString(cond.Operator, cond.Value, msg.FromName)
	case FieldSubject:
		return evalString(cond.Operator, cond.Value, msg.Subject)
	case FieldBody:
		return evalString(cond.Operator, cond.Value, msg.Body, msg.Snippet)
	case FieldFolder:
		return evalString(cond.Operator, cond.Value, msg.Folder)
	case FieldToAddress:
		values := append(append([]string{}, msg.ToAddresses...), msg.CcAddresses...)
		return evalString(cond.Operator, cond.Value, values...)
	case FieldLabel:
		return evalString(cond.Operator, cond.Value, msg.Labels...)
	default:
		// Unknown field: treat as not satisfied.
		return false
	}
}

// EvaluateConditions reports whether a condition group holds. With matchAll
// the group is a short-circuiting AND, otherwise a short-circuiting OR. An
// empty group never matches: a rule has to state at least one condition
// before it can fire.
func EvaluateConditions(conds []Condition, matchAll bool, msg *Message) bool {
	if len(conds) == 0 {
		return false
	}

	for _, cond := range conds {
		ok := EvaluateCondition(cond, msg)
		if matchAll && !ok {
			return false
		}
		if !matchAll && ok {
			return true
		}
	}

	return matchAll
}

// evalBool compares a boolean message flag against the condition value.
// Boolean fields only support equality; anything else is a configuration
// error and resolves to false.
func evalBool(cond Condition, flag bool) bool {
	if cond.Operator != OpEquals {
		return false
	}
	want, err := strconv.ParseBool(strings.TrimSpace(cond.Value))
	if err != nil {
		return false
	}
	return flag == want
}

// evalString applies a string operator across one or more candidate values.
// Positive operators match if any candidate matches; their negations hold
// only when no candidate matches.
func evalString(op Operator, value string, candidates ...string) bool {
	value = strings.ToLower(value)

	switch op {
	case OpContains:
		return anyMatch(candidates, func(c string) bool { return strings.Contains(c, value) })
	case OpNotContains:
		return !anyMatch(candidates, func(c string) bool { return strings.Contains(c, value) })
	case OpEquals:
		return anyMatch(candidates, func(c string) bool { return c == value })
	case OpNotEquals:
		return !anyMatch(candidates, func(c string) bool { return c == value })
	case OpStartsWith:
		return anyMatch(candidates, func(c string) bool { return strings.HasPrefix(c, value) })
	case OpEndsWith:
		return anyMatch(candidates, func(c string) bool { return strings.HasSuffix(c, value) })
	default:
		return false
	}
}

func anyMatch(candidates []string, match func(string) bool) bool {
	for _, c := range candidates {
		if match(strings.ToLower(c)) {
			return true
		}
	}
	return false
}
