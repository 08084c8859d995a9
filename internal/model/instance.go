package model

import "time"

// InstanceStatus tracks a notification instance through delivery.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceSent      InstanceStatus = "sent"
	InstanceDelivered InstanceStatus = "delivered"
	InstanceFailed    InstanceStatus = "failed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// Content is the rendered message of an instance.
type Content struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body,omitempty"`
}

// NotificationInstance is one concrete, scheduled unit of delivery
// derived from a rule firing against an entity.
type NotificationInstance struct {
	ID            string                 `json:"id"`
	RuleID        string                 `json:"rule_id"`
	EntityType    EntityType             `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	TriggerType   TriggerType            `json:"trigger_type"`
	Status        InstanceStatus         `json:"status"`
	Priority      Priority               `json:"priority"`
	Recipients    []Recipient            `json:"recipients"`
	Channels      []Channel              `json:"channels"`
	Content       Content                `json:"content"`
	ScheduledAt   time.Time              `json:"scheduled_at"`
	SentAt        *time.Time             `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time             `json:"delivered_at,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// IsTerminal reports whether the instance can no longer change state.
// Delivered and cancelled instances are immutable; failed is terminal
// once retries are exhausted.
func (n *NotificationInstance) IsTerminal() bool {
	switch n.Status {
	case InstanceDelivered, InstanceCancelled:
		return true
	case InstanceFailed:
		return n.RetryCount >= n.MaxRetries
	}
	return false
}
