package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

func newRule(id string, trigger model.TriggerType, entity model.EntityType, active bool) *model.NotificationRule {
	return &model.NotificationRule{
		ID:          id,
		Name:        "rule-" + id,
		IsActive:    active,
		TriggerType: trigger,
		EntityType:  entity,
		Template:    model.Template{Subject: "s", Body: "b"},
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	t.Run("valid rule", func(t *testing.T) {
		r := newRule("r1", model.TriggerAssignment, model.EntityTypeTask, true)
		require.NoError(t, registry.Register(r))
		require.False(t, r.CreatedAt.IsZero())

		got, err := registry.Get("r1")
		require.NoError(t, err)
		assert.Equal(t, "rule-r1", got.Name)
	})

	t.Run("empty id rejected", func(t *testing.T) {
		r := newRule("", model.TriggerAssignment, model.EntityTypeTask, true)
		assert.ErrorIs(t, registry.Register(r), ErrEmptyRuleID)
	})

	t.Run("missing template rejected", func(t *testing.T) {
		r := newRule("r2", model.TriggerAssignment, model.EntityTypeTask, true)
		r.Template = model.Template{}
		assert.ErrorIs(t, registry.Register(r), ErrMissingTemplate)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		r := newRule("r1", model.TriggerAssignment, model.EntityTypeTask, true)
		assert.ErrorIs(t, registry.Register(r), ErrDuplicateRule)
	})
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	require.NoError(t, registry.Register(newRule("a", model.TriggerDeadline, model.EntityTypeTask, true)))
	require.NoError(t, registry.Register(newRule("b", model.TriggerDeadline, model.EntityTypeTender, true)))
	require.NoError(t, registry.Register(newRule("c", model.TriggerAssignment, model.EntityTypeTask, true)))
	require.NoError(t, registry.Register(newRule("d", model.TriggerDeadline, model.EntityTypeTask, false)))

	t.Run("filters by trigger and entity", func(t *testing.T) {
		rules := registry.List(model.TriggerDeadline, model.EntityTypeTask)
		require.Len(t, rules, 1)
		assert.Equal(t, "a", rules[0].ID)
	})

	t.Run("empty filters match all active", func(t *testing.T) {
		rules := registry.List("", "")
		require.Len(t, rules, 3)
		// Insertion order is preserved.
		assert.Equal(t, "a", rules[0].ID)
		assert.Equal(t, "b", rules[1].ID)
		assert.Equal(t, "c", rules[2].ID)
	})

	t.Run("inactive rules are never matched", func(t *testing.T) {
		for _, r := range registry.List(model.TriggerDeadline, "") {
			assert.NotEqual(t, "d", r.ID)
		}
	})
}

func TestRegistry_Deactivate(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(newRule("a", model.TriggerDeadline, model.EntityTypeTask, true)))

	require.NoError(t, registry.Deactivate("a"))
	assert.Empty(t, registry.List(model.TriggerDeadline, model.EntityTypeTask))

	assert.ErrorIs(t, registry.Deactivate("missing"), ErrRuleNotFound)
}
