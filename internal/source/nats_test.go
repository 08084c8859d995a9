package source

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
	"github.com/biztrack/notifier/internal/testutil"
)

func TestNATSSource_ListDue(t *testing.T) {
	nc, _, cleanup := testutil.StartNATS(t)
	defer cleanup()

	due := time.Date(2025, 7, 15, 17, 0, 0, 0, time.UTC)
	task := &model.Task{ID: "task-1", Title: "Audit", Status: "open", AssignedTo: "alice", Due: &due}
	tender := &model.Tender{ID: "tender-1", Title: "RFP 42", Status: "draft", Manager: "bob", Deadline: &due}

	sub, err := nc.Subscribe("entity.query.due", func(msg *nats.Msg) {
		var envelopes []Envelope
		for _, e := range []model.Entity{task, tender} {
			envelope, _ := Encode(e)
			envelopes = append(envelopes, envelope)
		}
		data, _ := json.Marshal(envelopes)
		msg.Respond(data)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	src := NewNATSSource(zap.NewNop(), nc)
	entities, err := src.ListDue(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)

	gotTask, ok := entities[0].(*model.Task)
	require.True(t, ok)
	assert.Equal(t, "task-1", gotTask.ID)
	gotDue, ok := gotTask.DueDate()
	require.True(t, ok)
	assert.True(t, gotDue.Equal(due))

	assert.Equal(t, model.EntityTypeTender, entities[1].EntityType())
}

func TestNATSSource_Get(t *testing.T) {
	nc, _, cleanup := testutil.StartNATS(t)
	defer cleanup()

	milestone := &model.Milestone{ID: "ms-1", Title: "Phase 1", Status: "open", Owner: "carol"}

	sub, err := nc.Subscribe("entity.query.get", func(msg *nats.Msg) {
		var req GetRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			msg.Respond(nil)
			return
		}
		if req.EntityType != model.EntityTypeMilestone || req.EntityID != "ms-1" {
			msg.Respond(nil)
			return
		}
		envelope, _ := Encode(milestone)
		data, _ := json.Marshal(envelope)
		msg.Respond(data)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	src := NewNATSSource(zap.NewNop(), nc)

	entity, err := src.Get(context.Background(), model.EntityTypeMilestone, "ms-1")
	require.NoError(t, err)
	got, ok := entity.(*model.Milestone)
	require.True(t, ok)
	assert.Equal(t, "carol", got.Owner)

	_, err = src.Get(context.Background(), model.EntityTypeMilestone, "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Envelope{EntityType: "invoice", Data: []byte("{}")})
	assert.ErrorContains(t, err, "unknown entity type")
}
