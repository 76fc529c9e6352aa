package schema

import "time"

// SequenceStatus is the lifecycle state of a sequence.
type SequenceStatus string

const (
	SequenceStatusDraft    SequenceStatus = "draft"
	SequenceStatusActive   SequenceStatus = "active"
	SequenceStatusPaused   SequenceStatus = "paused"
	SequenceStatusArchived SequenceStatus = "archived"
)

// StepType enumerates the kinds of steps in a sequence.
type StepType string

const (
	StepTypeEmail     StepType = "email"
	StepTypeWait      StepType = "wait"
	StepTypeCondition StepType = "condition"
)

// Delay is applied before a step becomes due.
type Delay struct {
	Days    int `json:"days,omitempty" yaml:"days,omitempty"`
	Hours   int `json:"hours,omitempty" yaml:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty" yaml:"minutes,omitempty"`
}

// IsZero reports whether the delay has no components.
func (d Delay) IsZero() bool {
	return d.Days == 0 && d.Hours == 0 && d.Minutes == 0
}

// EmailConfig is the payload of an email step.
type EmailConfig struct {
	Subject      string `json:"subject" yaml:"subject"`
	HTMLBody     string `json:"html_body,omitempty" yaml:"html_body,omitempty"`
	TextBody     string `json:"text_body,omitempty" yaml:"text_body,omitempty"`
	FromOverride string `json:"from_override,omitempty" yaml:"from_override,omitempty"`
	SendTime     string `json:"send_time,omitempty" yaml:"send_time,omitempty"` // HH:MM
	SendDays     []int  `json:"send_days,omitempty" yaml:"send_days,omitempty"` // 0=Sunday..6=Saturday
}

// ConditionType enumerates what a condition step inspects.
type ConditionType string

const (
	ConditionEmailOpened ConditionType = "email_opened"
	ConditionLinkClicked ConditionType = "link_clicked"
	ConditionFieldValue  ConditionType = "field_value"
	ConditionExpression  ConditionType = "expression"
)

// ConditionOperator compares a record field against a configured value.
type ConditionOperator string

const (
	OperatorEquals     ConditionOperator = "equals"
	OperatorNotEquals  ConditionOperator = "not_equals"
	OperatorContains   ConditionOperator = "contains"
	OperatorIsEmpty    ConditionOperator = "is_empty"
	OperatorIsNotEmpty ConditionOperator = "is_not_empty"
)

// ConditionConfig is the payload of a condition step.
// ThenStep/ElseStep are stored but not followed; sequences advance linearly.
type ConditionConfig struct {
	Type       ConditionType     `json:"type" yaml:"type"`
	Field      string            `json:"field,omitempty" yaml:"field,omitempty"`
	Operator   ConditionOperator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      string            `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string            `json:"expression,omitempty" yaml:"expression,omitempty"`
	Engine     string            `json:"engine,omitempty" yaml:"engine,omitempty"` // cel | expr | jq (default: cel)
	ThenStep   int               `json:"then_step,omitempty" yaml:"then_step,omitempty"`
	ElseStep   int               `json:"else_step,omitempty" yaml:"else_step,omitempty"`
}

// ExitConditionType enumerates configured exit rules.
type ExitConditionType string

const (
	ExitUnsubscribed ExitConditionType = "unsubscribed"
	ExitTagAdded     ExitConditionType = "tag_added"
)

// ExitCondition removes an enrollment from its sequence when matched.
type ExitCondition struct {
	Type ExitConditionType `json:"type" yaml:"type"`
	Tag  string            `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// SequenceSettings holds sequence-level behavior.
type SequenceSettings struct {
	StopOnReply   bool   `json:"stop_on_reply" yaml:"stop_on_reply"`
	StopOnBounce  bool   `json:"stop_on_bounce" yaml:"stop_on_bounce"`
	ThrottleDaily int    `json:"throttle_daily,omitempty" yaml:"throttle_daily,omitempty"`
	SendDays      []int  `json:"send_days,omitempty" yaml:"send_days,omitempty"`
	SendTime      string `json:"send_time,omitempty" yaml:"send_time,omitempty"`
	Timezone      string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Location resolves the settings timezone, defaulting to UTC.
func (s SequenceSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, NewErrorf(ErrCodeValidation, "unknown timezone %q", s.Timezone).WithCause(err)
	}
	return loc, nil
}

// StepDefinition is one authored step. Exactly one of Email or Condition is
// set for email and condition steps; wait steps carry only a delay.
type StepDefinition struct {
	Order     int              `json:"step_order" yaml:"step_order"`
	Type      StepType         `json:"step_type" yaml:"step_type"`
	Delay     Delay            `json:"delay" yaml:"delay"`
	Email     *EmailConfig     `json:"email,omitempty" yaml:"email,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// SequenceDefinition is the importable, authored form of a sequence.
type SequenceDefinition struct {
	Name           string           `json:"name" yaml:"name"`
	Description    string           `json:"description,omitempty" yaml:"description,omitempty"`
	OrganizationID string           `json:"organization_id" yaml:"organization_id"`
	Settings       SequenceSettings `json:"settings" yaml:"settings"`
	ExitConditions []ExitCondition  `json:"exit_conditions,omitempty" yaml:"exit_conditions,omitempty"`
	Steps          []StepDefinition `json:"steps" yaml:"steps"`
}
