// Package escalate drives timed re-notification of unacknowledged
// alerts through a widening recipient chain, ending in a terminal
// action once the chain is exhausted.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/dispatch"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/rule"
	"github.com/biztrack/notifier/internal/store"
)

const defaultTick = time.Second

// escalation tracks one alert moving through its chain.
type escalation struct {
	alert    *model.DeadlineAlert
	entity   model.Entity
	baseRule *model.NotificationRule
	policy   model.EscalationRule
	stepIdx  int
	attempts int
	nextFire time.Time
}

// Manager owns the per-alert escalation timers. Each wait is independent
// and cancelled the moment its alert is acknowledged, so a stale
// escalation can never fire after resolution.
type Manager struct {
	logger     *zap.Logger
	js         nats.JetStreamContext
	clock      clock.Clock
	dispatcher *dispatch.Dispatcher
	alerts     *store.AlertStore
	tick       time.Duration

	mu        sync.Mutex
	active    map[string]*escalation
	finalized map[string]model.FinalAction
	failed    []*model.NotificationInstance

	stop chan struct{}
}

// NewManager creates an escalation manager. js may be nil when final
// action events are not wanted (tests).
func NewManager(logger *zap.Logger, js nats.JetStreamContext, clk clock.Clock, dispatcher *dispatch.Dispatcher, alerts *store.AlertStore) *Manager {
	return &Manager{
		logger:     logger.Named("escalation-manager"),
		js:         js,
		clock:      clk,
		dispatcher: dispatcher,
		alerts:     alerts,
		tick:       defaultTick,
		active:     make(map[string]*escalation),
		finalized:  make(map[string]model.FinalAction),
		stop:       make(chan struct{}),
	}
}

// Start runs the step loop until the context is cancelled or Stop is
// called.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting escalation manager")
	go m.stepLoop(ctx)
	return nil
}

// Stop stops the step loop.
func (m *Manager) Stop() {
	m.logger.Info("Stopping escalation manager")
	close(m.stop)
}

func (m *Manager) stepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Process(ctx)
		}
	}
}

// Begin starts escalating an alert under the rule's escalation policy.
// Beginning an alert that is already escalating or already finalized is
// a no-op.
func (m *Manager) Begin(alert *model.DeadlineAlert, entity model.Entity, baseRule *model.NotificationRule) {
	if baseRule.Escalation == nil || len(baseRule.Escalation.Steps) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[alert.ID]; ok {
		return
	}
	if _, ok := m.finalized[alert.ID]; ok {
		return
	}

	policy := *baseRule.Escalation
	first := policy.Steps[0]
	m.active[alert.ID] = &escalation{
		alert:    alert,
		entity:   entity,
		baseRule: baseRule,
		policy:   policy,
		nextFire: m.clock.Now().Add(hours(first.DelayHours)),
	}

	m.logger.Info("Escalation started",
		zap.String("alert_id", alert.ID),
		zap.Int("steps", len(policy.Steps)),
		zap.String("final_action", string(policy.FinalAction)))
}

// Cancel halts escalation for an alert. Called on acknowledgement;
// cancelling an unknown alert is a no-op.
func (m *Manager) Cancel(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[alertID]; ok {
		delete(m.active, alertID)
		m.logger.Info("Escalation cancelled", zap.String("alert_id", alertID))
	}
}

// ActiveCount reports how many alerts are currently escalating.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Process advances every escalation whose wait has elapsed. The step
// loop calls this on each tick; tests call it directly with a manual
// clock.
func (m *Manager) Process(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	var due []*escalation
	for id, esc := range m.active {
		live, ok := m.alerts.Get(esc.alert.ID)
		if !ok {
			// The alert was superseded or its entity resolved; the
			// obligation is gone.
			delete(m.active, id)
			m.logger.Info("Escalation dropped, alert no longer live", zap.String("alert_id", id))
			continue
		}
		if live.IsAcknowledged {
			delete(m.active, id)
			m.logger.Info("Escalation halted by acknowledgement", zap.String("alert_id", id))
			continue
		}
		if !esc.nextFire.After(now) {
			due = append(due, esc)
		}
	}
	m.mu.Unlock()

	for _, esc := range due {
		m.advance(ctx, esc)
	}
}

func (m *Manager) advance(ctx context.Context, esc *escalation) {
	step := esc.policy.Steps[esc.stepIdx]

	fire := true
	if step.Condition != nil {
		snapshot := esc.alert.Snapshot()
		snapshot["entity"] = model.Snapshot(esc.entity)
		fire = rule.EvaluateConditions([]model.Condition{*step.Condition}, snapshot)
	}

	if fire {
		if _, err := m.dispatcher.Dispatch(ctx, m.stepRule(esc, step), esc.entity, m.stepVars(esc)); err != nil {
			m.logger.Error("Failed to dispatch escalation step",
				zap.String("alert_id", esc.alert.ID),
				zap.Int("step", esc.stepIdx+1),
				zap.Error(err))
		}
		esc.attempts++
	} else {
		m.logger.Debug("Escalation step skipped by condition",
			zap.String("alert_id", esc.alert.ID),
			zap.Int("step", esc.stepIdx+1))
	}

	esc.stepIdx++

	maxAttempts := esc.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(esc.policy.Steps)
	}

	if esc.stepIdx >= len(esc.policy.Steps) || esc.attempts >= maxAttempts {
		m.finish(esc)
		return
	}

	esc.nextFire = esc.nextFire.Add(hours(esc.policy.Steps[esc.stepIdx].DelayHours))
}

// stepRule synthesizes the dispatch rule for one escalation step. The
// step's own recipients and template win over the base rule's.
func (m *Manager) stepRule(esc *escalation, step model.EscalationStep) *model.NotificationRule {
	recipients := step.Recipients
	if len(recipients) == 0 {
		recipients = esc.baseRule.Recipients
	}
	tpl := esc.baseRule.Template
	if step.Template != nil {
		tpl = *step.Template
	}

	return &model.NotificationRule{
		ID:          fmt.Sprintf("%s#esc-%d", esc.baseRule.ID, esc.stepIdx+1),
		Name:        fmt.Sprintf("%s (escalation step %d)", esc.baseRule.Name, esc.stepIdx+1),
		IsActive:    true,
		TriggerType: model.TriggerEscalation,
		EntityType:  esc.alert.EntityType,
		Recipients:  recipients,
		Channels:    esc.baseRule.Channels,
		Template:    tpl,
		Timing:      model.Timing{Trigger: model.TimingImmediate},
	}
}

func (m *Manager) stepVars(esc *escalation) map[string]interface{} {
	vars := model.Snapshot(esc.entity)
	for k, v := range esc.alert.Snapshot() {
		vars[k] = v
	}
	vars["escalation_step"] = esc.stepIdx + 1
	return vars
}

// finish applies the terminal action exactly once and retires the
// escalation. Re-applying a terminal action is a no-op.
func (m *Manager) finish(esc *escalation) {
	m.mu.Lock()
	if _, done := m.finalized[esc.alert.ID]; done {
		delete(m.active, esc.alert.ID)
		m.mu.Unlock()
		return
	}
	m.finalized[esc.alert.ID] = esc.policy.FinalAction
	delete(m.active, esc.alert.ID)
	m.mu.Unlock()

	m.applyFinalAction(esc)
}

func (m *Manager) applyFinalAction(esc *escalation) {
	action := esc.policy.FinalAction

	m.logger.Info("Escalation exhausted, applying final action",
		zap.String("alert_id", esc.alert.ID),
		zap.String("final_action", string(action)))

	switch action {
	case model.FinalActionMarkCritical:
		// The only entity state the engine owns is its own alert.
		m.alerts.SetSeverity(esc.alert.ID, model.AlertSeverityCritical)
	case model.FinalActionAssignManager, model.FinalActionAutoApprove:
		// Entity mutations belong to the owning module; hand it an event.
		m.publishAction(action, esc.alert)
	case model.FinalActionIgnore:
	}
}

func (m *Manager) publishAction(action model.FinalAction, alert *model.DeadlineAlert) {
	if m.js == nil {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal final action event", zap.Error(err))
		return
	}
	if _, err := m.js.Publish("notify.action."+string(action), data); err != nil {
		m.logger.Error("Failed to publish final action event",
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// NoteFailedInstance records a terminally failed delivery as an unmet
// obligation. Wired to the dispatcher's exhaustion callback.
func (m *Manager) NoteFailedInstance(instance *model.NotificationInstance) {
	m.mu.Lock()
	m.failed = append(m.failed, instance)
	m.mu.Unlock()

	m.logger.Warn("Delivery obligation unmet",
		zap.String("instance_id", instance.ID),
		zap.String("rule_id", instance.RuleID),
		zap.String("entity_id", instance.EntityID),
		zap.String("reason", instance.FailureReason))
}

// FailedObligations returns the instances that failed terminally.
func (m *Manager) FailedObligations() []*model.NotificationInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.NotificationInstance(nil), m.failed...)
}

// FinalizedAction reports the final action applied for an alert, if any.
func (m *Manager) FinalizedAction(alertID string) (model.FinalAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.finalized[alertID]
	return action, ok
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
