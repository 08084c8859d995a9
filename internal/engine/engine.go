// Package engine assembles the notification pipeline: rule registry,
// condition evaluation, dispatch, deadline scanning, and escalation. It
// is the only package the hosting application talks to.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/dispatch"
	"github.com/biztrack/notifier/internal/escalate"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/rule"
	"github.com/biztrack/notifier/internal/scanner"
	"github.com/biztrack/notifier/internal/store"
)

// Engine wires the notification components together and exposes the
// module boundary: rule configuration, event-driven triggers, deadline
// scanning, alert queries, and acknowledgement.
type Engine struct {
	logger     *zap.Logger
	js         nats.JetStreamContext
	clock      clock.Clock
	source     scanner.EntitySource
	registry   *rule.Registry
	dispatcher *dispatch.Dispatcher
	scanner    *scanner.Scanner
	escalator  *escalate.Manager
	alerts     *store.AlertStore
	history    store.InstanceHistory
}

// New creates an engine. js may be nil when running without NATS
// (tests); event ingestion and lifecycle events are then disabled.
func New(logger *zap.Logger, js nats.JetStreamContext, clk clock.Clock, source scanner.EntitySource, history store.InstanceHistory, senders map[model.ChannelType]dispatch.Sender, cfg dispatch.Config) *Engine {
	registry := rule.NewRegistry(logger)
	dispatcher := dispatch.NewDispatcher(logger, js, clk, history, senders, cfg)
	alerts := store.NewAlertStore(logger, clk)
	escalator := escalate.NewManager(logger, js, clk, dispatcher, alerts)

	// Terminally failed deliveries become unmet obligations the
	// escalation manager keeps for operator inspection.
	dispatcher.OnExhausted(escalator.NoteFailedInstance)

	return &Engine{
		logger:     logger.Named("notification-engine"),
		js:         js,
		clock:      clk,
		source:     source,
		registry:   registry,
		dispatcher: dispatcher,
		scanner:    scanner.NewScanner(logger, clk, source, registry, dispatcher, alerts),
		escalator:  escalator,
		alerts:     alerts,
		history:    history,
	}
}

// Start sets up the JetStream streams, subscribes to entity events, and
// runs the dispatch and escalation loops until the context is cancelled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if e.js != nil {
		if err := e.setupStreams(); err != nil {
			return err
		}
		if err := e.subscribeToEvents(ctx); err != nil {
			return err
		}
	}

	if err := e.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	if err := e.escalator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start escalation manager: %w", err)
	}

	e.logger.Info("Notification engine started")
	return nil
}

// Stop stops the dispatch and escalation loops.
func (e *Engine) Stop() {
	e.dispatcher.Stop()
	e.escalator.Stop()
	e.logger.Info("Notification engine stopped")
}

func (e *Engine) setupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:     "NOTIFY",
			Subjects: []string{"notify.>"},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
			MaxMsgs:  -1,
		},
		{
			Name:     "ENTITY_EVENTS",
			Subjects: []string{"entity.>"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  -1,
		},
	}

	for _, cfg := range streams {
		_, err := e.js.StreamInfo(cfg.Name)
		if err == nil {
			e.logger.Info("Using existing stream", zap.String("name", cfg.Name))
			continue
		}
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		if _, err := e.js.AddStream(&cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		e.logger.Info("Created stream", zap.String("name", cfg.Name))
	}
	return nil
}

// CreateRule registers a notification rule.
func (e *Engine) CreateRule(r *model.NotificationRule) error {
	return e.registry.Register(r)
}

// Rule returns a rule by ID, active or not.
func (e *Engine) Rule(id string) (*model.NotificationRule, error) {
	return e.registry.Get(id)
}

// ListRules returns active rules, optionally filtered by entity type.
func (e *Engine) ListRules(entityType model.EntityType) []*model.NotificationRule {
	return e.registry.List("", entityType)
}

// DeactivateRule logically deletes a rule and cancels its pending
// instances so a deactivated rule never delivers.
func (e *Engine) DeactivateRule(ctx context.Context, id string) error {
	if err := e.registry.Deactivate(id); err != nil {
		return err
	}
	cancelled := e.dispatcher.CancelRule(ctx, id)
	if cancelled > 0 {
		e.logger.Info("Cancelled pending instances of deactivated rule",
			zap.String("rule_id", id),
			zap.Int("cancelled", cancelled))
	}
	return nil
}

// NotifyAssignment triggers assignment rules for an entity.
func (e *Engine) NotifyAssignment(ctx context.Context, entity model.Entity, actor string) error {
	extras := map[string]interface{}{"actor": actor}
	if assignable, ok := entity.(model.Assignable); ok {
		extras["assignee"] = assignable.Assignee()
	}
	return e.trigger(ctx, model.TriggerAssignment, entity, extras)
}

// NotifyStatusChange triggers status-change rules for an entity. The
// entity is fetched fresh so conditions see its current state. When the
// new state is terminal, pending sends for the entity are cancelled
// first; a resolved entity must not receive stale reminders.
func (e *Engine) NotifyStatusChange(ctx context.Context, entityType model.EntityType, entityID, oldStatus, newStatus, actor string) error {
	entity, err := e.source.Get(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity: %w", err)
	}

	if resolvable, ok := entity.(model.Resolvable); ok && resolvable.IsResolved() {
		cancelled := e.dispatcher.CancelEntity(ctx, entityType, entityID)
		if cancelled > 0 {
			e.logger.Info("Cancelled pending instances of resolved entity",
				zap.String("entity_id", entityID),
				zap.Int("cancelled", cancelled))
		}
	}

	extras := map[string]interface{}{
		"old_status": oldStatus,
		"new_status": newStatus,
		"actor":      actor,
	}
	return e.trigger(ctx, model.TriggerStatusChange, entity, extras)
}

// trigger matches active rules for the trigger against the entity
// snapshot plus event extras, and dispatches each rule whose conditions
// hold.
func (e *Engine) trigger(ctx context.Context, triggerType model.TriggerType, entity model.Entity, extras map[string]interface{}) error {
	snapshot := model.Snapshot(entity)
	for k, v := range extras {
		snapshot[k] = v
	}

	var firstErr error
	for _, r := range e.registry.List(triggerType, entity.EntityType()) {
		if !rule.EvaluateConditions(r.Conditions, snapshot) {
			continue
		}
		if _, err := e.dispatcher.Dispatch(ctx, r, entity, snapshot); err != nil {
			e.logger.Error("Failed to dispatch rule",
				zap.String("rule_id", r.ID),
				zap.String("entity_id", entity.EntityID()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CheckDeadlines runs one deadline scan and starts escalation chains
// for unacknowledged alerts matched by rules carrying an escalation
// policy. The caller owns the cadence; cron in production, direct calls
// in tests.
func (e *Engine) CheckDeadlines(ctx context.Context) ([]*model.DeadlineAlert, error) {
	live, err := e.scanner.CheckDeadlines(ctx)
	if err != nil {
		return nil, err
	}

	for _, alert := range live {
		if alert.IsAcknowledged {
			continue
		}
		e.publishAlertEvent("created", alert)
		e.beginEscalation(ctx, alert)
	}
	return live, nil
}

func (e *Engine) beginEscalation(ctx context.Context, alert *model.DeadlineAlert) {
	triggers := []model.TriggerType{model.TriggerDeadline}
	if alert.TimeUntilDue < 0 {
		triggers = append(triggers, model.TriggerOverdue)
	}

	var entity model.Entity
	for _, trigger := range triggers {
		for _, r := range e.registry.List(trigger, alert.EntityType) {
			if r.Escalation == nil || len(r.Escalation.Steps) == 0 {
				continue
			}
			if entity == nil {
				var err error
				entity, err = e.source.Get(ctx, alert.EntityType, alert.EntityID)
				if err != nil {
					e.logger.Error("Failed to load entity for escalation",
						zap.String("entity_id", alert.EntityID),
						zap.Error(err))
					return
				}
			}
			snapshot := alert.Snapshot()
			snapshot["entity"] = model.Snapshot(entity)
			if !rule.EvaluateConditions(r.Conditions, snapshot) {
				continue
			}
			e.escalator.Begin(alert, entity, r)
		}
	}
}

// ActiveAlerts returns live deadline alerts, optionally filtered by
// assignee.
func (e *Engine) ActiveAlerts(userID string) []*model.DeadlineAlert {
	return e.alerts.Active(userID)
}

// AcknowledgeAlert marks an alert acknowledged and halts its escalation
// chain. Acknowledging an unknown alert is a no-op.
func (e *Engine) AcknowledgeAlert(alertID, userID string) *model.DeadlineAlert {
	alert := e.alerts.Acknowledge(alertID, userID)
	e.escalator.Cancel(alertID)
	if alert != nil && alert.IsAcknowledged {
		e.publishAlertEvent("acknowledged", alert)
	}
	return alert
}

func (e *Engine) publishAlertEvent(event string, alert *model.DeadlineAlert) {
	if e.js == nil {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		e.logger.Error("Failed to marshal alert event", zap.Error(err))
		return
	}
	if _, err := e.js.Publish("notify.alert."+event, data); err != nil {
		e.logger.Error("Failed to publish alert event",
			zap.String("event", event),
			zap.Error(err))
	}
}

// Instance returns a live notification instance by ID.
func (e *Engine) Instance(instanceID string) (*model.NotificationInstance, bool) {
	return e.dispatcher.Instance(instanceID)
}

// History returns the persistent instance store for queries.
func (e *Engine) History() store.InstanceHistory {
	return e.history
}

// PendingCount reports live instances awaiting delivery.
func (e *Engine) PendingCount() int {
	return e.dispatcher.PendingCount()
}

// EscalatingCount reports alerts currently moving through escalation
// chains.
func (e *Engine) EscalatingCount() int {
	return e.escalator.ActiveCount()
}

// AlertCount reports the number of live deadline alerts.
func (e *Engine) AlertCount() int {
	return len(e.alerts.Active(""))
}

// FailedObligations returns deliveries that exhausted their retries.
func (e *Engine) FailedObligations() []*model.NotificationInstance {
	return e.escalator.FailedObligations()
}

// ProcessTick advances the dispatch queue and escalation chains once.
// Production uses the background loops; tests drive time manually.
func (e *Engine) ProcessTick(ctx context.Context) {
	e.escalator.Process(ctx)
	e.dispatcher.ProcessDue(ctx)
}
