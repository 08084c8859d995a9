package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/clock"
	"github.com/biztrack/notifier/internal/model"
)

// AlertStore holds the live deadline alerts. Each scan tick replaces the
// view for non-acknowledged entities; acknowledged alerts survive ticks
// verbatim until the underlying due date changes.
type AlertStore struct {
	logger *zap.Logger
	clock  clock.Clock
	mu     sync.RWMutex
	byKey  map[string]*model.DeadlineAlert // entityType/entityID -> alert
	byID   map[string]*model.DeadlineAlert
}

// NewAlertStore creates an empty alert store.
func NewAlertStore(logger *zap.Logger, clk clock.Clock) *AlertStore {
	return &AlertStore{
		logger: logger.Named("alert-store"),
		clock:  clk,
		byKey:  make(map[string]*model.DeadlineAlert),
		byID:   make(map[string]*model.DeadlineAlert),
	}
}

func alertKey(entityType model.EntityType, entityID string) string {
	return string(entityType) + "/" + entityID
}

// Replace installs the alert set produced by a scan tick and returns the
// alerts actually live afterwards. An unacknowledged alert is superseded
// but keeps its identity while the entity's due date is unchanged, so
// acknowledgement and escalation state survive scan ticks. Stale alerts
// for entities absent from the new set are dropped, and an acknowledged
// alert is kept verbatim unless its entity's due date moved.
func (s *AlertStore) Replace(alerts []*model.DeadlineAlert) []*model.DeadlineAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*model.DeadlineAlert, len(alerts))
	out := make([]*model.DeadlineAlert, 0, len(alerts))

	for _, alert := range alerts {
		key := alertKey(alert.EntityType, alert.EntityID)
		if prev, ok := s.byKey[key]; ok && prev.DueDate.Equal(alert.DueDate) {
			if prev.IsAcknowledged {
				next[key] = prev
				out = append(out, prev)
				continue
			}
			// Same obligation, refreshed classification.
			alert.ID = prev.ID
			alert.CreatedAt = prev.CreatedAt
		}
		next[key] = alert
		out = append(out, alert)
	}

	// Acknowledged alerts whose entity produced nothing this tick stay
	// visible until the entity resolves or its due date changes.
	for key, prev := range s.byKey {
		if _, ok := next[key]; !ok && prev.IsAcknowledged {
			next[key] = prev
		}
	}

	s.byKey = next
	s.byID = make(map[string]*model.DeadlineAlert, len(next))
	for _, alert := range next {
		s.byID[alert.ID] = alert
	}

	return out
}

// Get returns an alert by ID.
func (s *AlertStore) Get(id string) (*model.DeadlineAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.byID[id]
	return alert, ok
}

// Active returns live alerts, optionally filtered by assignee.
func (s *AlertStore) Active(userID string) []*model.DeadlineAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.DeadlineAlert
	for _, alert := range s.byKey {
		if userID != "" && alert.Assignee != userID {
			continue
		}
		out = append(out, alert)
	}
	return out
}

// Acknowledge marks an alert acknowledged. Acknowledging an unknown or
// already-acknowledged alert is a no-op, not an error.
func (s *AlertStore) Acknowledge(id, userID string) *model.DeadlineAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.byID[id]
	if !ok {
		return nil
	}
	if alert.IsAcknowledged {
		return alert
	}

	now := s.clock.Now()
	alert.IsAcknowledged = true
	alert.AcknowledgedBy = userID
	alert.AcknowledgedAt = &now

	s.logger.Info("Alert acknowledged",
		zap.String("alert_id", id),
		zap.String("user_id", userID))

	return alert
}

// SetSeverity raises or lowers an alert's severity. Used by the
// escalation manager's mark_critical final action.
func (s *AlertStore) SetSeverity(id string, severity model.AlertSeverity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert, ok := s.byID[id]; ok {
		alert.Severity = severity
	}
}
