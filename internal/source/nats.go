// Package source provides the production EntitySource: a read-only view
// of the entity-owning modules, reached over NATS request/reply.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

const (
	querySubjectDue = "entity.query.due"
	querySubjectGet = "entity.query.get"

	defaultTimeout = 5 * time.Second
)

// Envelope wraps an entity payload with its type so the concrete struct
// can be reconstructed on the receiving side.
type Envelope struct {
	EntityType model.EntityType `json:"entity_type"`
	Data       json.RawMessage  `json:"data"`
}

// GetRequest asks an entity-owning module for one record.
type GetRequest struct {
	EntityType model.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
}

// NATSSource queries entity-owning modules over request/reply. It never
// writes; the engine treats entities as snapshots.
type NATSSource struct {
	logger  *zap.Logger
	nc      *nats.Conn
	timeout time.Duration
}

// NewNATSSource creates an entity source over a NATS connection.
func NewNATSSource(logger *zap.Logger, nc *nats.Conn) *NATSSource {
	return &NATSSource{
		logger:  logger.Named("entity-source"),
		nc:      nc,
		timeout: defaultTimeout,
	}
}

// ListDue implements scanner.EntitySource.
func (s *NATSSource) ListDue(ctx context.Context) ([]model.Entity, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, querySubjectDue, nil)
	if err != nil {
		return nil, fmt.Errorf("due entities query failed: %w", err)
	}

	var envelopes []Envelope
	if err := json.Unmarshal(msg.Data, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal due entities: %w", err)
	}

	entities := make([]model.Entity, 0, len(envelopes))
	for _, envelope := range envelopes {
		entity, err := Decode(envelope)
		if err != nil {
			s.logger.Warn("Skipping undecodable entity", zap.Error(err))
			continue
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// Get implements scanner.EntitySource.
func (s *NATSSource) Get(ctx context.Context, entityType model.EntityType, id string) (model.Entity, error) {
	data, err := json.Marshal(GetRequest{EntityType: entityType, EntityID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity query: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, querySubjectGet, data)
	if err != nil {
		return nil, fmt.Errorf("entity query failed: %w", err)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("entity not found: %s/%s", entityType, id)
	}

	var envelope Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return Decode(envelope)
}

// Decode reconstructs the concrete entity from an envelope.
func Decode(envelope Envelope) (model.Entity, error) {
	var entity model.Entity
	switch envelope.EntityType {
	case model.EntityTypeTask:
		entity = &model.Task{}
	case model.EntityTypeTender:
		entity = &model.Tender{}
	case model.EntityTypeMilestone:
		entity = &model.Milestone{}
	case model.EntityTypeApproval:
		entity = &model.Approval{}
	default:
		return nil, fmt.Errorf("unknown entity type: %s", envelope.EntityType)
	}

	if err := json.Unmarshal(envelope.Data, entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s entity: %w", envelope.EntityType, err)
	}
	return entity, nil
}

// Encode wraps an entity into an envelope. Exported for entity-owning
// modules that answer the query subjects.
func Encode(entity model.Entity) (Envelope, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal entity: %w", err)
	}
	return Envelope{EntityType: entity.EntityType(), Data: data}, nil
}
