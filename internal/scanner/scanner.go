// Package scanner implements the periodic deadline scan: it classifies
// due-bearing entities by time-to-due, maintains the live alert set, and
// requests dispatch of matching deadline rules.
package scanner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/dispatch"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/rule"
	"github.com/biztrack/notifier/internal/store"
)

// EntitySource is the read-only boundary to the record stores. The
// engine never mutates entities through it.
type EntitySource interface {
	// ListDue returns all open due-bearing entities.
	ListDue(ctx context.Context) ([]model.Entity, error)

	// Get returns a snapshot of one entity.
	Get(ctx context.Context, entityType model.EntityType, id string) (model.Entity, error)
}

// Scanner classifies entity deadlines on each invocation. It owns no
// timer; the caller (cron, timer service) decides the cadence.
type Scanner struct {
	logger     *zap.Logger
	clock      clock.Clock
	source     EntitySource
	registry   *rule.Registry
	dispatcher *dispatch.Dispatcher
	alerts     *store.AlertStore
}

// NewScanner creates a deadline scanner.
func NewScanner(logger *zap.Logger, clk clock.Clock, source EntitySource, registry *rule.Registry, dispatcher *dispatch.Dispatcher, alerts *store.AlertStore) *Scanner {
	return &Scanner{
		logger:     logger.Named("deadline-scanner"),
		clock:      clk,
		source:     source,
		registry:   registry,
		dispatcher: dispatcher,
		alerts:     alerts,
	}
}

// CheckDeadlines runs one scan tick: classify every open due-bearing
// entity, replace the live alert set, and dispatch matching deadline
// rules. A misbehaving entity or rule is logged and skipped; it never
// aborts the scan.
func (s *Scanner) CheckDeadlines(ctx context.Context) ([]*model.DeadlineAlert, error) {
	entities, err := s.source.ListDue(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list due entities: %w", err)
	}

	now := s.clock.Now()
	var generated []*model.DeadlineAlert
	byID := make(map[string]model.Entity)

	for _, entity := range entities {
		alert := s.classify(entity, now)
		if alert == nil {
			continue
		}
		generated = append(generated, alert)
		byID[alert.EntityID] = entity
	}

	live := s.alerts.Replace(generated)

	for _, alert := range live {
		if alert.IsAcknowledged {
			continue
		}
		entity, ok := byID[alert.EntityID]
		if !ok {
			continue
		}
		s.dispatchFor(ctx, alert, entity)
	}

	s.logger.Info("Deadline scan complete",
		zap.Int("entities", len(entities)),
		zap.Int("alerts", len(live)))

	return live, nil
}

// classify applies the severity precedence ladder. Terminal entities and
// entities without a due date never produce alerts.
func (s *Scanner) classify(entity model.Entity, now time.Time) *model.DeadlineAlert {
	if resolvable, ok := entity.(model.Resolvable); ok && resolvable.IsResolved() {
		return nil
	}
	dueBearing, ok := entity.(model.DueBearing)
	if !ok {
		return nil
	}
	due, ok := dueBearing.DueDate()
	if !ok {
		return nil
	}

	hoursUntilDue := due.Sub(now).Hours()

	var severity model.AlertSeverity
	overdue := false
	switch {
	case hoursUntilDue < 0:
		severity = model.AlertSeverityCritical
		overdue = true
	case hoursUntilDue <= 24:
		severity = model.AlertSeverityWarning
	case hoursUntilDue <= 48 && isUrgent(entity):
		severity = model.AlertSeverityInfo
	default:
		return nil
	}

	alertType, ok := alertTypeFor(entity.EntityType(), overdue)
	if !ok {
		return nil
	}

	assignee := ""
	if assignable, ok := entity.(model.Assignable); ok {
		assignee = assignable.Assignee()
	}

	return &model.DeadlineAlert{
		ID:           uuid.New().String(),
		Type:         alertType,
		Severity:     severity,
		EntityType:   entity.EntityType(),
		EntityID:     entity.EntityID(),
		Assignee:     assignee,
		DueDate:      due,
		TimeUntilDue: hoursUntilDue,
		Description:  describe(entity.EntityType(), hoursUntilDue),
		Actions:      buildActions(overdue),
		CreatedAt:    now,
	}
}

func isUrgent(entity model.Entity) bool {
	p, ok := entity.(model.Prioritized)
	return ok && p.Priority() == model.PriorityUrgent
}

func alertTypeFor(entityType model.EntityType, overdue bool) (model.AlertType, bool) {
	switch entityType {
	case model.EntityTypeTask:
		if overdue {
			return model.AlertTaskOverdue, true
		}
		return model.AlertTaskDueSoon, true
	case model.EntityTypeTender:
		return model.AlertTenderDeadline, true
	case model.EntityTypeMilestone:
		return model.AlertMilestoneApproaching, true
	}
	return "", false
}

func describe(entityType model.EntityType, hoursUntilDue float64) string {
	rounded := int(math.Round(math.Abs(hoursUntilDue)))
	if hoursUntilDue < 0 {
		return fmt.Sprintf("%s is overdue by %dh", entityType, rounded)
	}
	return fmt.Sprintf("%s is due in %dh", entityType, rounded)
}

// buildActions describes the remediations the owning module may offer.
// They are advisory metadata; the engine executes none of them.
func buildActions(overdue bool) []model.AlertAction {
	actions := []model.AlertAction{
		{Type: model.ActionExtendDeadline, Label: "Extend deadline", RequiresConfirmation: true},
		{Type: model.ActionReassign, Label: "Reassign", RequiresConfirmation: true},
		{Type: model.ActionAddComment, Label: "Add comment"},
	}
	if overdue {
		actions = append(actions,
			model.AlertAction{Type: model.ActionEscalate, Label: "Escalate"},
			model.AlertAction{Type: model.ActionMarkComplete, Label: "Mark complete", RequiresConfirmation: true})
	}
	return actions
}

// dispatchFor matches deadline rules against the alert and requests
// dispatch for each one whose conditions hold.
func (s *Scanner) dispatchFor(ctx context.Context, alert *model.DeadlineAlert, entity model.Entity) {
	triggers := []model.TriggerType{model.TriggerDeadline}
	if alert.TimeUntilDue < 0 {
		triggers = append(triggers, model.TriggerOverdue)
	}

	snapshot := alert.Snapshot()
	snapshot["entity"] = model.Snapshot(entity)

	vars := model.Snapshot(entity)
	for k, v := range alert.Snapshot() {
		vars[k] = v
	}

	for _, trigger := range triggers {
		for _, r := range s.registry.List(trigger, alert.EntityType) {
			if !rule.EvaluateConditions(r.Conditions, snapshot) {
				continue
			}
			if _, err := s.dispatcher.Dispatch(ctx, r, entity, vars); err != nil {
				s.logger.Error("Failed to dispatch deadline rule",
					zap.String("rule_id", r.ID),
					zap.String("entity_id", alert.EntityID),
					zap.Error(err))
			}
		}
	}
}
