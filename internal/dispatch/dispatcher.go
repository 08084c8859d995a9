package dispatch

import (
	"container/heap"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/store"
	"github.com/biztrack/notifier/internal/template"
)

const (
	defaultMaxRetries  = 3
	defaultSendTimeout = 10 * time.Second
	defaultTick        = 500 * time.Millisecond
)

type dispatchKey struct {
	ruleID      string
	entityID    string
	triggerType model.TriggerType
}

// Config tunes the dispatcher. Zero values fall back to defaults.
type Config struct {
	MaxRetries  int
	SendTimeout time.Duration
	Tick        time.Duration
	Strategy    RetryStrategy
}

// Dispatcher builds notification instances from matched rules, holds
// scheduled sends in a time-ordered queue, delivers through channel
// senders with a bounded timeout, and retries failures with backoff.
// Instance creation is serialized per (rule, entity, trigger) key so
// concurrent events collapse to at most one live instance.
type Dispatcher struct {
	logger      *zap.Logger
	js          nats.JetStreamContext
	clock       clock.Clock
	history     store.InstanceHistory
	senders     map[model.ChannelType]Sender
	strategy    RetryStrategy
	maxRetries  int
	sendTimeout time.Duration
	tick        time.Duration

	mu        sync.Mutex
	queue     sendQueue
	seq       uint64
	inflight  map[dispatchKey]*model.NotificationInstance
	instances map[string]*model.NotificationInstance

	// sentChannels records which channel slots of an instance already
	// accepted the message, so a retry after a mid-list failure never
	// re-delivers through them.
	sentChannels map[string]map[int]bool

	// onExhausted is invoked when an instance fails terminally, so the
	// escalation manager can treat it as an unmet obligation.
	onExhausted func(*model.NotificationInstance)

	stop chan struct{}
}

// NewDispatcher creates a dispatcher. js may be nil when lifecycle events
// are not wanted (tests).
func NewDispatcher(logger *zap.Logger, js nats.JetStreamContext, clk clock.Clock, history store.InstanceHistory, senders map[model.ChannelType]Sender, cfg Config) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Tick == 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Strategy == nil {
		cfg.Strategy = DefaultBackoff()
	}

	return &Dispatcher{
		logger:       logger.Named("dispatcher"),
		js:           js,
		clock:        clk,
		history:      history,
		senders:      senders,
		strategy:     cfg.Strategy,
		maxRetries:   cfg.MaxRetries,
		sendTimeout:  cfg.SendTimeout,
		tick:         cfg.Tick,
		inflight:     make(map[dispatchKey]*model.NotificationInstance),
		instances:    make(map[string]*model.NotificationInstance),
		sentChannels: make(map[string]map[int]bool),
		stop:         make(chan struct{}),
	}
}

// OnExhausted registers the callback fired when an instance exhausts its
// retries. Must be called before Start.
func (d *Dispatcher) OnExhausted(fn func(*model.NotificationInstance)) {
	d.onExhausted = fn
}

// Start runs the send loop until the context is cancelled or Stop is
// called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting dispatcher",
		zap.Duration("tick", d.tick),
		zap.Int("max_retries", d.maxRetries))

	go d.sendLoop(ctx)
	return nil
}

// Stop stops the send loop. Pending sends stay queued in memory only and
// are lost; persisted instances remain queryable.
func (d *Dispatcher) Stop() {
	d.logger.Info("Stopping dispatcher")
	close(d.stop)
}

func (d *Dispatcher) sendLoop(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.ProcessDue(ctx)
		}
	}
}

// Dispatch builds and schedules a notification instance for a rule that
// has already passed condition evaluation. If a non-terminal instance
// already exists for the same (rule, entity, trigger) key, that instance
// is returned instead of creating a duplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, r *model.NotificationRule, entity model.Entity, vars map[string]interface{}) (*model.NotificationInstance, error) {
	key := dispatchKey{ruleID: r.ID, entityID: entity.EntityID(), triggerType: r.TriggerType}

	d.mu.Lock()
	if existing, ok := d.inflight[key]; ok && !existing.IsTerminal() {
		d.mu.Unlock()
		d.logger.Debug("Duplicate dispatch collapsed",
			zap.String("rule_id", r.ID),
			zap.String("entity_id", entity.EntityID()),
			zap.String("instance_id", existing.ID))
		return existing, nil
	}

	now := d.clock.Now()
	instance := &model.NotificationInstance{
		ID:          uuid.New().String(),
		RuleID:      r.ID,
		EntityType:  entity.EntityType(),
		EntityID:    entity.EntityID(),
		TriggerType: r.TriggerType,
		Status:      model.InstancePending,
		Priority:    derivePriority(r, entity),
		Recipients:  resolveRecipients(r.Recipients, vars),
		Channels:    append([]model.Channel(nil), r.Channels...),
		Content:     template.RenderContent(r.Template, vars),
		ScheduledAt: scheduleTime(r.Timing, now),
		MaxRetries:  d.maxRetries,
		CreatedAt:   now,
	}

	d.inflight[key] = instance
	d.instances[instance.ID] = instance
	d.enqueueLocked(instance)
	d.mu.Unlock()

	if err := d.history.Store(ctx, instance); err != nil {
		d.logger.Error("Failed to persist instance",
			zap.String("instance_id", instance.ID),
			zap.Error(err))
	}

	d.logger.Info("Instance scheduled",
		zap.String("instance_id", instance.ID),
		zap.String("rule_id", r.ID),
		zap.String("entity_id", entity.EntityID()),
		zap.String("priority", string(instance.Priority)),
		zap.Time("scheduled_at", instance.ScheduledAt))

	return instance, nil
}

// derivePriority maps entity priority first, then trigger type.
func derivePriority(r *model.NotificationRule, entity model.Entity) model.Priority {
	if p, ok := entity.(model.Prioritized); ok {
		switch p.Priority() {
		case model.PriorityUrgent:
			return model.PriorityUrgent
		case model.PriorityHigh:
			return model.PriorityHigh
		}
	}
	switch r.TriggerType {
	case model.TriggerDeadline, model.TriggerOverdue:
		return model.PriorityHigh
	}
	return model.PriorityMedium
}

// scheduleTime computes the send time from the rule's timing policy. A
// result in the past is accepted; the queue treats it as due now.
// Recurring rules fall through to immediate: each firing of the trigger
// produces one send, and the interval fields on Timing stay unread.
func scheduleTime(timing model.Timing, now time.Time) time.Time {
	switch timing.Trigger {
	case model.TimingScheduled:
		if timing.ScheduleTime != nil {
			return *timing.ScheduleTime
		}
		return now
	case model.TimingBeforeDue, model.TimingAfterDue:
		return now.Add(time.Duration(timing.OffsetHours * float64(time.Hour)))
	default:
		return now
	}
}

// resolveRecipients renders {{placeholders}} in recipient identifiers
// against the dispatch variables.
func resolveRecipients(recipients []model.Recipient, vars map[string]interface{}) []model.Recipient {
	out := make([]model.Recipient, len(recipients))
	for i, r := range recipients {
		r.Identifier = template.Render(r.Identifier, vars)
		out[i] = r
	}
	return out
}

func (d *Dispatcher) enqueueLocked(instance *model.NotificationInstance) {
	d.seq++
	heap.Push(&d.queue, &queuedSend{
		instanceID: instance.ID,
		at:         instance.ScheduledAt,
		seq:        d.seq,
	})
}

// ProcessDue delivers every queued instance whose scheduled time has
// arrived. The send loop calls this on each tick; tests call it directly
// with a manual clock.
func (d *Dispatcher) ProcessDue(ctx context.Context) {
	now := d.clock.Now()

	for {
		d.mu.Lock()
		if d.queue.Len() == 0 || d.queue[0].at.After(now) {
			d.mu.Unlock()
			return
		}
		item := heap.Pop(&d.queue).(*queuedSend)
		instance, ok := d.instances[item.instanceID]
		if !ok || instance.Status != model.InstancePending || instance.ScheduledAt.After(now) {
			// Cancelled, already handled, or re-scheduled later.
			d.mu.Unlock()
			continue
		}
		d.mu.Unlock()

		d.deliver(ctx, instance)
	}
}

// deliver attempts all channels of an instance in priority order.
func (d *Dispatcher) deliver(ctx context.Context, instance *model.NotificationInstance) {
	now := d.clock.Now()

	d.mu.Lock()
	instance.Status = model.InstanceSent
	instance.SentAt = &now
	d.mu.Unlock()

	d.persist(ctx, instance)
	d.publishEvent("sent", instance)

	order := make([]int, len(instance.Channels))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return instance.Channels[order[a]].Priority < instance.Channels[order[b]].Priority
	})

	var sendErr error
	for _, idx := range order {
		if d.channelSent(instance.ID, idx) {
			continue
		}
		channel := instance.Channels[idx]

		sender, ok := d.senders[channel.Type]
		if !ok {
			sendErr = ErrNoSender
			d.logger.Warn("No sender for channel",
				zap.String("instance_id", instance.ID),
				zap.String("channel", string(channel.Type)))
			break
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := sender.Send(sendCtx, channel, instance.Recipients, instance.Content)
		cancel()

		if err != nil {
			sendErr = err
			break
		}
		d.markChannelSent(instance.ID, idx)
	}

	if sendErr != nil {
		d.handleFailure(ctx, instance, sendErr)
		return
	}

	delivered := d.clock.Now()
	d.mu.Lock()
	instance.Status = model.InstanceDelivered
	instance.DeliveredAt = &delivered
	d.removeInflightLocked(instance)
	d.mu.Unlock()

	d.persist(ctx, instance)
	d.publishEvent("delivered", instance)

	d.logger.Info("Instance delivered",
		zap.String("instance_id", instance.ID),
		zap.String("rule_id", instance.RuleID))
}

// handleFailure records the failure and either re-enqueues with backoff
// or marks the instance terminally failed.
func (d *Dispatcher) handleFailure(ctx context.Context, instance *model.NotificationInstance, sendErr error) {
	d.mu.Lock()
	instance.FailureReason = sendErr.Error()

	if instance.RetryCount < instance.MaxRetries {
		instance.RetryCount++
		instance.Status = model.InstancePending
		instance.ScheduledAt = d.clock.Now().Add(d.strategy.NextRetry(instance.RetryCount))
		d.enqueueLocked(instance)
		d.mu.Unlock()

		d.persist(ctx, instance)
		d.logger.Warn("Delivery failed, retry scheduled",
			zap.String("instance_id", instance.ID),
			zap.Int("retry", instance.RetryCount),
			zap.Int("max_retries", instance.MaxRetries),
			zap.Time("next_attempt", instance.ScheduledAt),
			zap.Error(sendErr))
		return
	}

	instance.Status = model.InstanceFailed
	d.removeInflightLocked(instance)
	d.mu.Unlock()

	d.persist(ctx, instance)
	d.publishEvent("failed", instance)

	d.logger.Error("Delivery failed terminally",
		zap.String("instance_id", instance.ID),
		zap.String("rule_id", instance.RuleID),
		zap.Int("attempts", instance.RetryCount+1),
		zap.Error(sendErr))

	if d.onExhausted != nil {
		d.onExhausted(instance)
	}
}

// Cancel transitions a pending instance to cancelled. Sent and terminal
// instances are left untouched.
func (d *Dispatcher) Cancel(ctx context.Context, instanceID string) error {
	d.mu.Lock()
	instance, ok := d.instances[instanceID]
	if !ok {
		d.mu.Unlock()
		return ErrInstanceNotFound
	}
	if instance.Status != model.InstancePending {
		d.mu.Unlock()
		return ErrInstanceTerminal
	}
	instance.Status = model.InstanceCancelled
	d.removeInflightLocked(instance)
	d.mu.Unlock()

	d.persist(ctx, instance)
	d.publishEvent("cancelled", instance)

	d.logger.Info("Instance cancelled", zap.String("instance_id", instanceID))
	return nil
}

// CancelRule cancels every pending instance of a rule. Called on rule
// deactivation so a deactivated rule never delivers.
func (d *Dispatcher) CancelRule(ctx context.Context, ruleID string) int {
	return d.cancelWhere(ctx, func(i *model.NotificationInstance) bool {
		return i.RuleID == ruleID
	})
}

// CancelEntity cancels every pending instance targeting an entity.
// Called when the entity resolves before its sends fire.
func (d *Dispatcher) CancelEntity(ctx context.Context, entityType model.EntityType, entityID string) int {
	return d.cancelWhere(ctx, func(i *model.NotificationInstance) bool {
		return i.EntityType == entityType && i.EntityID == entityID
	})
}

func (d *Dispatcher) cancelWhere(ctx context.Context, match func(*model.NotificationInstance) bool) int {
	d.mu.Lock()
	var cancelled []*model.NotificationInstance
	for _, instance := range d.instances {
		if instance.Status == model.InstancePending && match(instance) {
			instance.Status = model.InstanceCancelled
			d.removeInflightLocked(instance)
			cancelled = append(cancelled, instance)
		}
	}
	d.mu.Unlock()

	for _, instance := range cancelled {
		d.persist(ctx, instance)
		d.publishEvent("cancelled", instance)
	}
	return len(cancelled)
}

// Instance returns a live instance by ID.
func (d *Dispatcher) Instance(instanceID string) (*model.NotificationInstance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	instance, ok := d.instances[instanceID]
	return instance, ok
}

// PendingCount reports how many live instances are awaiting delivery.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, instance := range d.instances {
		if instance.Status == model.InstancePending {
			count++
		}
	}
	return count
}

func (d *Dispatcher) channelSent(instanceID string, idx int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sentChannels[instanceID][idx]
}

func (d *Dispatcher) markChannelSent(instanceID string, idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sentChannels[instanceID]
	if !ok {
		set = make(map[int]bool)
		d.sentChannels[instanceID] = set
	}
	set[idx] = true
}

// removeInflightLocked drops the dedup entry and per-channel send state
// once its instance is terminal. Caller holds d.mu.
func (d *Dispatcher) removeInflightLocked(instance *model.NotificationInstance) {
	key := dispatchKey{
		ruleID:      instance.RuleID,
		entityID:    instance.EntityID,
		triggerType: instance.TriggerType,
	}
	if current, ok := d.inflight[key]; ok && current.ID == instance.ID {
		delete(d.inflight, key)
	}
	delete(d.sentChannels, instance.ID)
}

func (d *Dispatcher) persist(ctx context.Context, instance *model.NotificationInstance) {
	if err := d.history.Update(ctx, instance); err != nil {
		d.logger.Error("Failed to persist instance update",
			zap.String("instance_id", instance.ID),
			zap.Error(err))
	}
}

func (d *Dispatcher) publishEvent(event string, instance *model.NotificationInstance) {
	if d.js == nil {
		return
	}
	data, err := json.Marshal(instance)
	if err != nil {
		d.logger.Error("Failed to marshal instance event", zap.Error(err))
		return
	}
	if _, err := d.js.Publish("notify.instance."+event, data); err != nil {
		d.logger.Error("Failed to publish instance event",
			zap.String("event", event),
			zap.Error(err))
	}
}
