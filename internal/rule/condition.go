package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/biztrack/notifier/internal/model"
)

// EvaluateConditions reports whether all conditions hold against the
// snapshot. An empty condition list matches vacuously. Conditions are
// AND-ed left to right; the per-condition LogicalOperator field is
// declared data only and is not consulted.
func EvaluateConditions(conditions []model.Condition, snapshot map[string]interface{}) bool {
	for _, cond := range conditions {
		if !evaluate(cond, snapshot) {
			return false
		}
	}
	return true
}

func evaluate(cond model.Condition, snapshot map[string]interface{}) bool {
	got, ok := lookupPath(snapshot, cond.Field)

	switch cond.Operator {
	case model.OperatorEquals:
		if !ok {
			return cond.Value == nil
		}
		return looseEqual(got, cond.Value)
	case model.OperatorNotEquals:
		if !ok {
			return cond.Value != nil
		}
		return !looseEqual(got, cond.Value)
	case model.OperatorGreaterThan:
		a, aok := toFloat(got)
		b, bok := toFloat(cond.Value)
		return ok && aok && bok && a > b
	case model.OperatorLessThan:
		a, aok := toFloat(got)
		b, bok := toFloat(cond.Value)
		return ok && aok && bok && a < b
	case model.OperatorContains:
		return ok && strings.Contains(stringify(got), stringify(cond.Value))
	case model.OperatorInList:
		list, isList := cond.Value.([]interface{})
		if !ok || !isList {
			return false
		}
		for _, item := range list {
			if looseEqual(got, item) {
				return true
			}
		}
		return false
	}
	return false
}

// lookupPath resolves a dotted path against nested maps. A missing
// segment yields (nil, false) and never an error.
func lookupPath(snapshot map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = snapshot
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares scalars across JSON decoding quirks: numbers are
// compared numerically, everything else by string form.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return stringify(a) == stringify(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
