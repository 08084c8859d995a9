package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/biztrack/notifier/internal/model"
)

func snapshot() map[string]interface{} {
	return map[string]interface{}{
		"status":   "in_progress",
		"priority": "high",
		"estimate": float64(16),
		"tags":     "tender urgent-review",
		"customer": map[string]interface{}{
			"segment": "enterprise",
		},
	}
}

func TestEvaluateConditions_EmptyListMatches(t *testing.T) {
	assert.True(t, EvaluateConditions(nil, snapshot()))
	assert.True(t, EvaluateConditions([]model.Condition{}, snapshot()))
}

func TestEvaluateConditions_Operators(t *testing.T) {
	tests := []struct {
		name string
		cond model.Condition
		want bool
	}{
		{"equals match", model.Condition{Field: "status", Operator: model.OperatorEquals, Value: "in_progress"}, true},
		{"equals mismatch", model.Condition{Field: "status", Operator: model.OperatorEquals, Value: "done"}, false},
		{"equals numeric across types", model.Condition{Field: "estimate", Operator: model.OperatorEquals, Value: 16}, true},
		{"not_equals", model.Condition{Field: "status", Operator: model.OperatorNotEquals, Value: "done"}, true},
		{"greater_than", model.Condition{Field: "estimate", Operator: model.OperatorGreaterThan, Value: 8}, true},
		{"less_than", model.Condition{Field: "estimate", Operator: model.OperatorLessThan, Value: 8}, false},
		{"contains", model.Condition{Field: "tags", Operator: model.OperatorContains, Value: "urgent"}, true},
		{"in_list match", model.Condition{Field: "priority", Operator: model.OperatorInList, Value: []interface{}{"high", "urgent"}}, true},
		{"in_list miss", model.Condition{Field: "priority", Operator: model.OperatorInList, Value: []interface{}{"low"}}, false},
		{"in_list non-array value", model.Condition{Field: "priority", Operator: model.OperatorInList, Value: "high"}, false},
		{"dotted path", model.Condition{Field: "customer.segment", Operator: model.OperatorEquals, Value: "enterprise"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateConditions([]model.Condition{tt.cond}, snapshot())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditions_MissingField(t *testing.T) {
	// A missing path never satisfies equals against a defined value but
	// always satisfies not_equals.
	missing := model.Condition{Field: "owner.region", Operator: model.OperatorEquals, Value: "emea"}
	assert.False(t, EvaluateConditions([]model.Condition{missing}, snapshot()))

	missing.Operator = model.OperatorNotEquals
	assert.True(t, EvaluateConditions([]model.Condition{missing}, snapshot()))

	missing.Operator = model.OperatorGreaterThan
	missing.Value = 1
	assert.False(t, EvaluateConditions([]model.Condition{missing}, snapshot()))
}

func TestEvaluateConditions_ImplicitAND(t *testing.T) {
	conds := []model.Condition{
		{Field: "status", Operator: model.OperatorEquals, Value: "in_progress"},
		// Declared OR is ignored; the list is still AND-ed.
		{Field: "priority", Operator: model.OperatorEquals, Value: "low", LogicalOperator: "OR"},
	}
	assert.False(t, EvaluateConditions(conds, snapshot()))
}

func TestEvaluateConditions_Idempotent(t *testing.T) {
	conds := []model.Condition{
		{Field: "priority", Operator: model.OperatorInList, Value: []interface{}{"high", "urgent"}},
		{Field: "estimate", Operator: model.OperatorGreaterThan, Value: 10},
	}
	snap := snapshot()

	first := EvaluateConditions(conds, snap)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, EvaluateConditions(conds, snap))
	}
}
