package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// AssignmentEvent is published by entity-owning modules when an entity
// is assigned or reassigned.
type AssignmentEvent struct {
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Assignee   string           `json:"assignee"`
	Actor      string           `json:"actor"`
}

// StatusEvent is published by entity-owning modules on a status
// transition.
type StatusEvent struct {
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	OldStatus  string           `json:"old_status"`
	NewStatus  string           `json:"new_status"`
	Actor      string           `json:"actor"`
}

// subscribeToEvents wires the entity event subjects to the trigger
// pipeline with durable consumers, so events published while the engine
// is down are replayed on restart.
func (e *Engine) subscribeToEvents(ctx context.Context) error {
	if _, err := e.js.Subscribe("entity.assignment", func(msg *nats.Msg) {
		var event AssignmentEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			e.logger.Error("Failed to unmarshal assignment event", zap.Error(err))
			return
		}

		entity, err := e.source.Get(ctx, event.EntityType, event.EntityID)
		if err != nil {
			e.logger.Error("Failed to load assigned entity",
				zap.String("entity_type", string(event.EntityType)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
			return
		}

		if err := e.NotifyAssignment(ctx, entity, event.Actor); err != nil {
			e.logger.Error("Failed to process assignment event",
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}, nats.Durable("notify-assignment-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to entity.assignment: %w", err)
	}

	if _, err := e.js.Subscribe("entity.status", func(msg *nats.Msg) {
		var event StatusEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			e.logger.Error("Failed to unmarshal status event", zap.Error(err))
			return
		}

		if err := e.NotifyStatusChange(ctx, event.EntityType, event.EntityID, event.OldStatus, event.NewStatus, event.Actor); err != nil {
			e.logger.Error("Failed to process status event",
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}, nats.Durable("notify-status-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to entity.status: %w", err)
	}

	return nil
}
