package rules

import "time"

// ConditionField identifies the message attribute a condition inspects.
type ConditionField string

const (
	FieldFromAddress    ConditionField = "from_address"
	FieldFromName       ConditionField = "from_name"
	FieldToAddress      ConditionField = "to_address"
	FieldSubject        ConditionField = "subject"
	FieldBody           ConditionField = "body"
	FieldHasAttachments ConditionField = "has_attachments"
	FieldIsRead         ConditionField = "is_read"
	FieldIsStarred      ConditionField = "is_starred"
	FieldFolder         ConditionField = "folder"
	FieldLabel          ConditionField = "label"
)

// Operator is the comparison applied between a condition's value and the
// message field. Boolean fields support OpEquals only.
type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
)

// Condition is a single predicate over one message field.
type Condition struct {
	Field    ConditionField `json:"field"`
	Operator Operator       `json:"operator"`
	Value    string         `json:"value"`
}

// ActionType identifies the side effect an action performs on a message.
type ActionType string

const (
	ActionMarkRead     ActionType = "mark_read"
	ActionMarkUnread   ActionType = "mark_unread"
	ActionStar         ActionType = "star"
	ActionUnstar       ActionType = "unstar"
	ActionArchive      ActionType = "archive"
	ActionDelete       ActionType = "delete"
	ActionMarkSpam     ActionType = "mark_spam"
	ActionMoveToFolder ActionType = "move_to_folder"
	ActionAddLabel     ActionType = "add_label"
	ActionForwardTo    ActionType = "forward_to"
)

// Action is one side-effecting operation performed when a rule matches.
// Folder, Label and ForwardTo carry the parameter for the action types that
// require one.
type Action struct {
	Type      ActionType `json:"type"`
	Folder    string     `json:"folder,omitempty"`
	Label     string     `json:"label,omitempty"`
	ForwardTo string     `json:"forward_to,omitempty"`
}

// Rule is a user-owned automation: an ordered condition group plus an ordered
// action list. The engine treats every field as read-only except the
// execution statistics, which it updates through RuleStore.RecordRun.
type Rule struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Enabled        bool `json:"enabled"`
	Priority       int  `json:"priority"`
	MatchAll       bool `json:"matchAll"`
	StopProcessing bool `json:"stopProcessing"`

	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`

	// Expression is an optional CEL predicate over the Message variable,
	// evaluated in addition to the condition group.
	Expression string `json:"expression,omitempty"`

	ExecutionCount int64      `json:"executionCount"`
	SuccessCount   int64      `json:"successCount"`
	FailureCount   int64      `json:"failureCount"`
	LastExecutedAt *time.Time `json:"lastExecutedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is the email record a rule run evaluates. The engine never mutates
// it; actions go through the Mailbox interface instead.
type Message struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	FromAddress string   `json:"fromAddress"`
	FromName    string   `json:"fromName"`
	ToAddresses []string `json:"toAddresses"`
	CcAddresses []string `json:"ccAddresses,omitempty"`

	Subject string `json:"subject"`
	Snippet string `json:"snippet,omitempty"`
	Body    string `json:"body,omitempty"`

	IsRead         bool `json:"isRead"`
	IsStarred      bool `json:"isStarred"`
	HasAttachments bool `json:"hasAttachments"`

	Folder string   `json:"folder"`
	Labels []string `json:"labels,omitempty"`

	ReceivedAt time.Time `json:"receivedAt"`
}

// ActionResult records the outcome of one executed action.
type ActionResult struct {
	Action Action `json:"action"`
	Err    error  `json:"-"`
}

// RuleResult records the outcome of evaluating one rule during a run.
type RuleResult struct {
	RuleID   string         `json:"ruleId"`
	RuleName string         `json:"ruleName"`
	Matched  bool           `json:"matched"`
	Actions  []ActionResult `json:"actions,omitempty"`
	Err      error          `json:"-"`
}

// Succeeded reports whether the rule matched and every action completed.
func (r RuleResult) Succeeded() bool {
	if !r.Matched {
		return false
	}
	for _, ar := range r.Actions {
		if ar.Err != nil {
			return false
		}
	}
	return true
}

// ProcessingSummary is the result of one ProcessEmail invocation.
type ProcessingSummary struct {
	MessageID string       `json:"messageId"`
	UserID    string       `json:"userId"`
	Results   []RuleResult `json:"results"`

	// Stopped is true when a matching rule with stop_processing suppressed
	// the rules ordered after it. StoppedBy names that rule.
	Stopped   bool   `json:"stopped"`
	StoppedBy string `json:"stoppedBy,omitempty"`
}

// Matched returns the IDs of the rules that matched during the run.
func (s *ProcessingSummary) Matched() []string {
	var ids []string
	for _, r := range s.Results {
		if r.Matched {
			ids = append(ids, r.RuleID)
		}
	}
	return ids
}

// RuleTemplate is a pre-built rule minus identity and statistics,
// instantiable into a concrete Rule for a user.
type RuleTemplate struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	MatchAll    bool        `json:"matchAll"`
	Conditions  []Condition `json:"conditions"`
	Actions     []Action    `json:"actions"`
}
