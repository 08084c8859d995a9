package model

import (
	"encoding/json"
	"time"
)

// EntityType identifies the kind of record a rule or alert refers to.
type EntityType string

const (
	EntityTypeTask      EntityType = "task"
	EntityTypeTender    EntityType = "tender"
	EntityTypeMilestone EntityType = "milestone"
	EntityTypeApproval  EntityType = "approval"
)

// Priority represents the business priority of an entity.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Entity is the minimal capability every watched record provides.
// The engine treats entities as read-only snapshots; it never writes
// back to the owning store.
type Entity interface {
	EntityID() string
	EntityType() EntityType
}

// DueBearing is implemented by entities that carry a deadline.
type DueBearing interface {
	DueDate() (time.Time, bool)
}

// Prioritized is implemented by entities that carry a business priority.
type Prioritized interface {
	Priority() Priority
}

// Assignable is implemented by entities with a responsible user.
type Assignable interface {
	Assignee() string
}

// Resolvable reports whether an entity has reached a terminal state
// (done, awarded, approved, ...) and should no longer produce alerts.
type Resolvable interface {
	IsResolved() bool
}

// Task is a work item on a board.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Prio       Priority   `json:"priority"`
	AssignedTo string     `json:"assigned_to"`
	Due        *time.Time `json:"due_date,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

func (t *Task) EntityID() string       { return t.ID }
func (t *Task) EntityType() EntityType { return EntityTypeTask }
func (t *Task) Priority() Priority     { return t.Prio }
func (t *Task) Assignee() string       { return t.AssignedTo }
func (t *Task) IsResolved() bool       { return t.Status == "done" || t.Status == "cancelled" }

func (t *Task) DueDate() (time.Time, bool) {
	if t.Due == nil {
		return time.Time{}, false
	}
	return *t.Due, true
}

// Tender is a tender record with a submission deadline.
type Tender struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Prio       Priority   `json:"priority"`
	Manager    string     `json:"manager"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	CustomerID string     `json:"customer_id,omitempty"`
}

func (t *Tender) EntityID() string       { return t.ID }
func (t *Tender) EntityType() EntityType { return EntityTypeTender }
func (t *Tender) Priority() Priority     { return t.Prio }
func (t *Tender) Assignee() string       { return t.Manager }
func (t *Tender) IsResolved() bool {
	return t.Status == "submitted" || t.Status == "awarded" || t.Status == "lost"
}

func (t *Tender) DueDate() (time.Time, bool) {
	if t.Deadline == nil {
		return time.Time{}, false
	}
	return *t.Deadline, true
}

// Milestone is a dated checkpoint inside a project or tender.
type Milestone struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   string     `json:"status"`
	Owner    string     `json:"owner"`
	TargetAt *time.Time `json:"target_at,omitempty"`
	ParentID string     `json:"parent_id,omitempty"`
}

func (m *Milestone) EntityID() string       { return m.ID }
func (m *Milestone) EntityType() EntityType { return EntityTypeMilestone }
func (m *Milestone) Assignee() string       { return m.Owner }
func (m *Milestone) IsResolved() bool       { return m.Status == "reached" }

func (m *Milestone) DueDate() (time.Time, bool) {
	if m.TargetAt == nil {
		return time.Time{}, false
	}
	return *m.TargetAt, true
}

// Approval is a pending sign-off step.
type Approval struct {
	ID        string     `json:"id"`
	Subject   string     `json:"subject"`
	Status    string     `json:"status"`
	Approver  string     `json:"approver"`
	NeededBy  *time.Time `json:"needed_by,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

func (a *Approval) EntityID() string       { return a.ID }
func (a *Approval) EntityType() EntityType { return EntityTypeApproval }
func (a *Approval) Assignee() string       { return a.Approver }
func (a *Approval) IsResolved() bool       { return a.Status == "approved" || a.Status == "rejected" }

func (a *Approval) DueDate() (time.Time, bool) {
	if a.NeededBy == nil {
		return time.Time{}, false
	}
	return *a.NeededBy, true
}

// Snapshot flattens an entity into a field map for condition evaluation
// and template variables. Field names follow the entity's JSON tags.
func Snapshot(e Entity) map[string]interface{} {
	data, err := json.Marshal(e)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}
