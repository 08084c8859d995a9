package model

import "time"

// TriggerType identifies the event that fires a notification rule.
type TriggerType string

const (
	TriggerDeadline     TriggerType = "deadline"
	TriggerAssignment   TriggerType = "assignment"
	TriggerStatusChange TriggerType = "status_change"
	TriggerMilestone    TriggerType = "milestone"
	TriggerEscalation   TriggerType = "escalation"
	TriggerOverdue      TriggerType = "overdue"
)

// ConditionOperator is a comparison applied by the condition evaluator.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorContains    ConditionOperator = "contains"
	OperatorInList      ConditionOperator = "in_list"
)

// Condition is one declarative predicate over an entity snapshot.
// LogicalOperator is carried from the rule definition but not consulted:
// conditions in a list are always AND-ed.
type Condition struct {
	Field           string            `json:"field"`
	Operator        ConditionOperator `json:"operator"`
	Value           interface{}       `json:"value"`
	LogicalOperator string            `json:"logical_operator,omitempty"`
}

// RecipientType identifies how a recipient identifier is interpreted.
type RecipientType string

const (
	RecipientUser        RecipientType = "user"
	RecipientRole        RecipientType = "role"
	RecipientDepartment  RecipientType = "department"
	RecipientCustomGroup RecipientType = "custom_group"
	RecipientEmail       RecipientType = "email"
)

// Recipient is one target of a notification. Identifier may contain
// {{placeholders}} resolved against dispatch variables.
type Recipient struct {
	Type       RecipientType `json:"type"`
	Identifier string        `json:"identifier"`
	Name       string        `json:"name,omitempty"`
	IsRequired bool          `json:"is_required"`
}

// ChannelType identifies a delivery transport.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelInApp   ChannelType = "in_app"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
)

// Channel binds a transport type to its configuration. Lower Priority
// values are attempted first.
type Channel struct {
	Type     ChannelType       `json:"type"`
	Config   map[string]string `json:"config,omitempty"`
	Priority int               `json:"priority"`
}

// Template holds the message skeleton. Variables is documentation only;
// rendering never validates against it.
type Template struct {
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	HTMLBody  string   `json:"html_body,omitempty"`
	Variables []string `json:"variables,omitempty"`
}

// TimingTrigger selects how a rule's send time is computed.
type TimingTrigger string

const (
	TimingImmediate TimingTrigger = "immediate"
	TimingScheduled TimingTrigger = "scheduled"
	TimingBeforeDue TimingTrigger = "before_due"
	TimingAfterDue  TimingTrigger = "after_due"
	TimingRecurring TimingTrigger = "recurring"
)

// Timing is the send-time policy of a rule. RecurringInterval and
// StopConditions are carried from the rule definition but not consulted:
// a recurring trigger sends once, immediately, and repetition is owned
// by whatever re-fires the trigger (the deadline scan, the event
// source).
type Timing struct {
	Trigger           TimingTrigger `json:"trigger"`
	ScheduleTime      *time.Time    `json:"schedule_time,omitempty"`
	OffsetHours       float64       `json:"offset_hours,omitempty"`
	RecurringInterval string        `json:"recurring_interval,omitempty"`
	StopConditions    []Condition   `json:"stop_conditions,omitempty"`
}

// FinalAction is applied once an escalation chain is exhausted.
type FinalAction string

const (
	FinalActionIgnore        FinalAction = "ignore"
	FinalActionAssignManager FinalAction = "assign_manager"
	FinalActionMarkCritical  FinalAction = "mark_critical"
	FinalActionAutoApprove   FinalAction = "auto_approve"
)

// EscalationStep is one timed re-notification in an escalation chain.
// DelayHours counts from the previous step, or from the initial alert
// for the first step.
type EscalationStep struct {
	DelayHours float64     `json:"delay_hours"`
	Recipients []Recipient `json:"recipients"`
	Template   *Template   `json:"template,omitempty"`
	Condition  *Condition  `json:"condition,omitempty"`
}

// EscalationRule configures escalation for unacknowledged alerts.
type EscalationRule struct {
	Steps       []EscalationStep `json:"steps"`
	MaxAttempts int              `json:"max_attempts"`
	FinalAction FinalAction      `json:"final_action"`
}

// NotificationRule is a declarative trigger definition. Rules are created
// through configuration, never mutated by the runtime, and logically
// deleted by deactivation.
type NotificationRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	IsActive    bool            `json:"is_active"`
	TriggerType TriggerType     `json:"trigger_type"`
	EntityType  EntityType      `json:"entity_type"`
	Conditions  []Condition     `json:"conditions,omitempty"`
	Recipients  []Recipient     `json:"recipients"`
	Channels    []Channel       `json:"channels"`
	Template    Template        `json:"template"`
	Timing      Timing          `json:"timing"`
	Escalation  *EscalationRule `json:"escalation,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
