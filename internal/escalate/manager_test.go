package escalate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/dispatch"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/store"
	"github.com/biztrack/notifier/internal/testutil"
)

type countingSender struct {
	mu    sync.Mutex
	calls []model.Content
}

func (s *countingSender) Send(_ context.Context, _ model.Channel, _ []model.Recipient, content model.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, content)
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	manager    *Manager
	dispatcher *dispatch.Dispatcher
	alerts     *store.AlertStore
	clk        *clock.Manual
	sender     *countingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	sender := &countingSender{}
	senders := map[model.ChannelType]dispatch.Sender{model.ChannelInApp: sender}
	dispatcher := dispatch.NewDispatcher(logger, nil, clk, testutil.NewMemoryHistory(), senders, dispatch.Config{})
	alerts := store.NewAlertStore(logger, clk)
	return &fixture{
		manager:    NewManager(logger, nil, clk, dispatcher, alerts),
		dispatcher: dispatcher,
		alerts:     alerts,
		clk:        clk,
		sender:     sender,
	}
}

func escalatingRule(steps []model.EscalationStep, final model.FinalAction) *model.NotificationRule {
	return &model.NotificationRule{
		ID:          "base-rule",
		Name:        "deadline watch",
		IsActive:    true,
		TriggerType: model.TriggerDeadline,
		EntityType:  model.EntityTypeTask,
		Recipients:  []model.Recipient{{Type: model.RecipientUser, Identifier: "alice"}},
		Channels:    []model.Channel{{Type: model.ChannelInApp, Priority: 1}},
		Template:    model.Template{Subject: "Deadline", Body: "{{description}}"},
		Timing:      model.Timing{Trigger: model.TimingImmediate},
		Escalation:  &model.EscalationRule{Steps: steps, FinalAction: final},
	}
}

func liveAlert(f *fixture, id string) *model.DeadlineAlert {
	alert := &model.DeadlineAlert{
		ID:         id,
		Type:       model.AlertTaskOverdue,
		Severity:   model.AlertSeverityCritical,
		EntityType: model.EntityTypeTask,
		EntityID:   "task-1",
		Assignee:   "alice",
		DueDate:    f.clk.Now().Add(-time.Hour),
	}
	f.alerts.Replace([]*model.DeadlineAlert{alert})
	return alert
}

func entity() *model.Task {
	return &model.Task{ID: "task-1", Title: "Audit", Status: "in_progress", Prio: model.PriorityHigh, AssignedTo: "alice"}
}

func (f *fixture) tick(ctx context.Context) {
	f.manager.Process(ctx)
	f.dispatcher.ProcessDue(ctx)
}

func TestManager_StepsFireInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []model.EscalationStep{
		{DelayHours: 1, Recipients: []model.Recipient{{Type: model.RecipientUser, Identifier: "manager"}}},
		{DelayHours: 2, Recipients: []model.Recipient{{Type: model.RecipientDepartment, Identifier: "ops"}}},
	}
	f.manager.Begin(liveAlert(f, "alert-1"), entity(), escalatingRule(steps, model.FinalActionIgnore))

	f.tick(ctx)
	assert.Equal(t, 0, f.sender.count())

	// Step 1 fires after its delay.
	f.clk.Advance(time.Hour)
	f.tick(ctx)
	assert.Equal(t, 1, f.sender.count())

	// Step 2 waits another two hours from step 1.
	f.clk.Advance(time.Hour)
	f.tick(ctx)
	assert.Equal(t, 1, f.sender.count())

	f.clk.Advance(time.Hour)
	f.tick(ctx)
	assert.Equal(t, 2, f.sender.count())

	// Chain exhausted.
	assert.Equal(t, 0, f.manager.ActiveCount())
	_, finalized := f.manager.FinalizedAction("alert-1")
	assert.True(t, finalized)
}

func TestManager_AcknowledgeHaltsEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []model.EscalationStep{
		{DelayHours: 1},
		{DelayHours: 1},
	}
	f.manager.Begin(liveAlert(f, "alert-1"), entity(), escalatingRule(steps, model.FinalActionMarkCritical))

	f.clk.Advance(time.Hour)
	f.tick(ctx)
	require.Equal(t, 1, f.sender.count())

	// Acknowledged before step 2's delay elapses: step 2 never fires.
	f.alerts.Acknowledge("alert-1", "bob")
	f.clk.Advance(2 * time.Hour)
	f.tick(ctx)

	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, 0, f.manager.ActiveCount())
	_, finalized := f.manager.FinalizedAction("alert-1")
	assert.False(t, finalized)
}

func TestManager_CancelStopsTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Begin(liveAlert(f, "alert-1"), entity(), escalatingRule([]model.EscalationStep{{DelayHours: 1}}, model.FinalActionIgnore))
	f.manager.Cancel("alert-1")

	f.clk.Advance(2 * time.Hour)
	f.tick(ctx)
	assert.Equal(t, 0, f.sender.count())

	// Cancelling again is a no-op.
	f.manager.Cancel("alert-1")
}

func TestManager_DroppedAlertStopsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.manager.Begin(liveAlert(f, "alert-1"), entity(), escalatingRule([]model.EscalationStep{{DelayHours: 1}}, model.FinalActionIgnore))
	require.Equal(t, 1, f.manager.ActiveCount())

	// The entity resolves: the next scan removes its alert, and the
	// chain must die with it.
	f.alerts.Replace(nil)

	f.clk.Advance(2 * time.Hour)
	f.tick(ctx)

	assert.Equal(t, 0, f.sender.count())
	assert.Equal(t, 0, f.manager.ActiveCount())
	_, finalized := f.manager.FinalizedAction("alert-1")
	assert.False(t, finalized)
}

func TestManager_StepConditionSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []model.EscalationStep{
		{
			DelayHours: 1,
			Condition:  &model.Condition{Field: "severity", Operator: model.OperatorEquals, Value: "info"},
		},
		{DelayHours: 1},
	}
	f.manager.Begin(liveAlert(f, "alert-1"), entity(), escalatingRule(steps, model.FinalActionIgnore))

	// Step 1's condition is false for a critical alert: skipped, no send.
	f.clk.Advance(time.Hour)
	f.tick(ctx)
	assert.Equal(t, 0, f.sender.count())

	// Step 2 still fires on its own schedule.
	f.clk.Advance(time.Hour)
	f.tick(ctx)
	assert.Equal(t, 1, f.sender.count())
}

func TestManager_FinalActionMarkCritical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alert := liveAlert(f, "alert-1")
	alert.Severity = model.AlertSeverityWarning

	f.manager.Begin(alert, entity(), escalatingRule([]model.EscalationStep{{DelayHours: 1}}, model.FinalActionMarkCritical))

	f.clk.Advance(time.Hour)
	f.tick(ctx)

	got, ok := f.alerts.Get("alert-1")
	require.True(t, ok)
	assert.Equal(t, model.AlertSeverityCritical, got.Severity)

	action, ok := f.manager.FinalizedAction("alert-1")
	require.True(t, ok)
	assert.Equal(t, model.FinalActionMarkCritical, action)

	// Re-beginning a finalized alert is a no-op.
	f.manager.Begin(alert, entity(), escalatingRule([]model.EscalationStep{{DelayHours: 1}}, model.FinalActionMarkCritical))
	assert.Equal(t, 0, f.manager.ActiveCount())
}

func TestManager_MaxAttemptsCapsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	steps := []model.EscalationStep{
		{DelayHours: 1},
		{DelayHours: 1},
		{DelayHours: 1},
	}
	r := escalatingRule(steps, model.FinalActionIgnore)
	r.Escalation.MaxAttempts = 2

	f.manager.Begin(liveAlert(f, "alert-1"), entity(), r)

	for i := 0; i < 5; i++ {
		f.clk.Advance(time.Hour)
		f.tick(ctx)
	}

	assert.Equal(t, 2, f.sender.count())
	assert.Equal(t, 0, f.manager.ActiveCount())
}

func TestManager_NoteFailedInstance(t *testing.T) {
	f := newFixture(t)

	f.manager.NoteFailedInstance(&model.NotificationInstance{
		ID:            "i-1",
		RuleID:        "r-1",
		EntityID:      "task-1",
		Status:        model.InstanceFailed,
		FailureReason: "smtp down",
	})

	obligations := f.manager.FailedObligations()
	require.Len(t, obligations, 1)
	assert.Equal(t, "i-1", obligations[0].ID)
}
