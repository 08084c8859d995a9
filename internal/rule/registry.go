package rule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// Registry holds active notification rules. Rules are registered by
// configuration and logically deleted by deactivation; the runtime never
// mutates a registered rule.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	rules  []*model.NotificationRule
	byID   map[string]*model.NotificationRule
}

// NewRegistry creates an empty rule registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("rule-registry"),
		byID:   make(map[string]*model.NotificationRule),
	}
}

// Register adds a rule. Malformed rules are rejected synchronously:
// an empty ID or a template with neither subject nor body is a
// configuration error.
func (r *Registry) Register(rule *model.NotificationRule) error {
	if rule.ID == "" {
		return ErrEmptyRuleID
	}
	if rule.Template.Subject == "" && rule.Template.Body == "" {
		return ErrMissingTemplate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[rule.ID]; ok {
		return ErrDuplicateRule
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	r.rules = append(r.rules, rule)
	r.byID[rule.ID] = rule

	r.logger.Info("Rule registered",
		zap.String("id", rule.ID),
		zap.String("name", rule.Name),
		zap.String("trigger", string(rule.TriggerType)),
		zap.String("entity_type", string(rule.EntityType)),
		zap.Bool("active", rule.IsActive))

	return nil
}

// Get returns a rule by ID, active or not.
func (r *Registry) Get(id string) (*model.NotificationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.byID[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// List returns active rules matching the optional trigger and entity
// type filters, in insertion order. Empty filter values match all.
func (r *Registry) List(trigger model.TriggerType, entityType model.EntityType) []*model.NotificationRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.NotificationRule
	for _, rule := range r.rules {
		if !rule.IsActive {
			continue
		}
		if trigger != "" && rule.TriggerType != trigger {
			continue
		}
		if entityType != "" && rule.EntityType != entityType {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Deactivate logically deletes a rule. Deactivated rules are never
// matched again.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.byID[id]
	if !ok {
		return ErrRuleNotFound
	}
	rule.IsActive = false
	rule.UpdatedAt = time.Now()

	r.logger.Info("Rule deactivated", zap.String("id", id))
	return nil
}
