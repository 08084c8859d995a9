package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

func newHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	h, err := NewSQLiteHistory(zap.NewNop(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func newInstance(ruleID string, status model.InstanceStatus, createdAt time.Time) *model.NotificationInstance {
	return &model.NotificationInstance{
		ID:          uuid.New().String(),
		RuleID:      ruleID,
		EntityType:  model.EntityTypeTask,
		EntityID:    "task-1",
		TriggerType: model.TriggerStatusChange,
		Status:      status,
		Priority:    model.PriorityMedium,
		Recipients:  []model.Recipient{{Type: model.RecipientUser, Identifier: "alice"}},
		Channels:    []model.Channel{{Type: model.ChannelEmail, Priority: 1}},
		Content:     model.Content{Subject: "s", Body: "b"},
		ScheduledAt: createdAt,
		MaxRetries:  3,
		CreatedAt:   createdAt,
	}
}

func TestSQLiteHistory_StoreAndGet(t *testing.T) {
	h := newHistory(t)
	ctx := context.Background()

	instance := newInstance("rule-1", model.InstancePending, time.Now().UTC())
	instance.Metadata = map[string]interface{}{"actor": "bob"}
	require.NoError(t, h.Store(ctx, instance))

	got, err := h.Get(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, instance.RuleID, got.RuleID)
	assert.Equal(t, model.InstancePending, got.Status)
	assert.Equal(t, "alice", got.Recipients[0].Identifier)
	assert.Equal(t, model.ChannelEmail, got.Channels[0].Type)
	assert.Equal(t, "bob", got.Metadata["actor"])

	missing, err := h.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLiteHistory_Update(t *testing.T) {
	h := newHistory(t)
	ctx := context.Background()

	instance := newInstance("rule-1", model.InstancePending, time.Now().UTC())
	require.NoError(t, h.Store(ctx, instance))

	now := time.Now().UTC()
	instance.Status = model.InstanceFailed
	instance.SentAt = &now
	instance.FailureReason = "smtp timeout"
	instance.RetryCount = 2
	require.NoError(t, h.Update(ctx, instance))

	got, err := h.Get(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceFailed, got.Status)
	assert.Equal(t, "smtp timeout", got.FailureReason)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.SentAt)
}

func TestSQLiteHistory_ListCountDelete(t *testing.T) {
	h := newHistory(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Store(ctx, newInstance("rule-1", model.InstanceDelivered, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, h.Store(ctx, newInstance("rule-2", model.InstanceFailed, base.Add(time.Hour))))

	byRule, err := h.List(ctx, map[string]interface{}{"rule_id": "rule-1"}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, byRule, 3)

	failed, err := h.List(ctx, map[string]interface{}{"status": string(model.InstanceFailed)}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	count, err := h.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, h.DeleteBefore(ctx, base.Add(30*time.Minute)))
	count, err = h.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
