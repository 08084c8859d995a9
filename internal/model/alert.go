package model

import "time"

// AlertSeverity represents the severity level of a deadline alert.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityUrgent   AlertSeverity = "urgent"
)

// AlertType represents the classification of a deadline alert.
type AlertType string

const (
	AlertTaskDueSoon          AlertType = "task_due_soon"
	AlertTaskOverdue          AlertType = "task_overdue"
	AlertTenderDeadline       AlertType = "tender_deadline"
	AlertMilestoneApproaching AlertType = "milestone_approaching"
)

// ActionType identifies a user-triggerable remediation for an alert.
type ActionType string

const (
	ActionExtendDeadline ActionType = "extend_deadline"
	ActionReassign       ActionType = "reassign"
	ActionEscalate       ActionType = "escalate"
	ActionMarkComplete   ActionType = "mark_complete"
	ActionAddComment     ActionType = "add_comment"
)

// AlertAction is advisory metadata describing a remediation the owning
// module may execute. The engine never executes actions itself.
type AlertAction struct {
	Type                 ActionType             `json:"type"`
	Label                string                 `json:"label"`
	Payload              map[string]interface{} `json:"payload,omitempty"`
	RequiresConfirmation bool                   `json:"requires_confirmation"`
}

// DeadlineAlert is a derived warning about an entity's time-to-due.
// TimeUntilDue is in hours and signed; negative means overdue.
type DeadlineAlert struct {
	ID             string        `json:"id"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	EntityType     EntityType    `json:"entity_type"`
	EntityID       string        `json:"entity_id"`
	Assignee       string        `json:"assignee,omitempty"`
	DueDate        time.Time     `json:"due_date"`
	TimeUntilDue   float64       `json:"time_until_due"`
	Description    string        `json:"description"`
	Actions        []AlertAction `json:"actions,omitempty"`
	IsAcknowledged bool          `json:"is_acknowledged"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Snapshot flattens the alert into a field map so deadline rules can
// evaluate conditions against the alert itself.
func (a *DeadlineAlert) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"id":             a.ID,
		"type":           string(a.Type),
		"severity":       string(a.Severity),
		"entity_type":    string(a.EntityType),
		"entity_id":      a.EntityID,
		"assignee":       a.Assignee,
		"due_date":       a.DueDate.Format(time.RFC3339),
		"time_until_due": a.TimeUntilDue,
		"description":    a.Description,
	}
}
