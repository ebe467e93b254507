package main

import (
	"github.com/tdaniel1925/easemail-rules/rules"
)

// API request and response models.

// ProcessRequest is the payload the mail-sync pipeline posts once per
// newly-inserted message.
type ProcessRequest struct {
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
}

// SaveRuleRequest is the shared body for creating and updating a rule.
type SaveRuleRequest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Enabled        bool              `json:"enabled"`
	Priority       int               `json:"priority"`
	MatchAll       bool              `json:"matchAll"`
	StopProcessing bool              `json:"stopProcessing"`
	Conditions     []rules.Condition `json:"conditions"`
	Actions        []rules.Action    `json:"actions"`
	Expression     string            `json:"expression,omitempty"`
}

func (r SaveRuleRequest) toRule(id, userID string) *rules.Rule {
	return &rules.Rule{
		ID:             id,
		UserID:         userID,
		Name:           r.Name,
		Description:    r.Description,
		Enabled:        r.Enabled,
		Priority:       r.Priority,
		MatchAll:       r.MatchAll,
		StopProcessing: r.StopProcessing,
		Conditions:     r.Conditions,
		Actions:        r.Actions,
		Expression:     r.Expression,
	}
}

// InstantiateTemplateRequest creates a rule from the built-in catalog.
type InstantiateTemplateRequest struct {
	TemplateID string `json:"templateId"`
	Priority   int    `json:"priority"`
}

// ActionResultResponse reports one executed action.
type ActionResultResponse struct {
	Type  rules.ActionType `json:"type"`
	Error string           `json:"error,omitempty"`
}

// RuleResultResponse reports one evaluated rule.
type RuleResultResponse struct {
	RuleID   string                 `json:"ruleId"`
	RuleName string                 `json:"ruleName"`
	Matched  bool                   `json:"matched"`
	Actions  []ActionResultResponse `json:"actions,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// SummaryResponse is the synchronous-processing response body.
type SummaryResponse struct {
	MessageID string               `json:"messageId"`
	UserID    string               `json:"userId"`
	Results   []RuleResultResponse `json:"results"`
	Stopped   bool                 `json:"stopped"`
	StoppedBy string               `json:"stoppedBy,omitempty"`
}

func toSummaryResponse(s *rules.ProcessingSummary) SummaryResponse {
	resp := SummaryResponse{
		MessageID: s.MessageID,
		UserID:    s.UserID,
		Results:   []RuleResultResponse{},
		Stopped:   s.Stopped,
		StoppedBy: s.StoppedBy,
	}

	for _, r := range s.Results {
		rr := RuleResultResponse{
			RuleID:   r.RuleID,
			RuleName: r.RuleName,
			Matched:  r.Matched,
		}
		if r.Err != nil {
			rr.Error = r.Err.Error()
		}
		for _, ar := range r.Actions {
			arr := ActionResultResponse{Type: ar.Action.Type}
			if ar.Err != nil {
				arr.Error = ar.Err.Error()
			}
			rr.Actions = append(rr.Actions, arr)
		}
		resp.Results = append(resp.Results, rr)
	}

	return resp
}
