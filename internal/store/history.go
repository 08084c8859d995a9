package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// InstanceHistory defines the persistence interface for notification
// instances. The dispatcher writes every instance here and updates it on
// each status transition, so failed deliveries stay queryable.
type InstanceHistory interface {
	// Store persists a freshly built instance.
	Store(ctx context.Context, instance *model.NotificationInstance) error

	// Update persists a status transition.
	Update(ctx context.Context, instance *model.NotificationInstance) error

	// Get retrieves an instance by ID.
	Get(ctx context.Context, id string) (*model.NotificationInstance, error)

	// List retrieves instances with field filters and pagination.
	List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.NotificationInstance, error)

	// Count returns the number of instances matching the filters.
	Count(ctx context.Context, filters map[string]interface{}) (int, error)

	// DeleteBefore removes instances created before the given time.
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteHistory implements InstanceHistory using SQLite.
type SQLiteHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteHistory opens (or creates) the history database at dbPath.
func NewSQLiteHistory(logger *zap.Logger, dbPath string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &SQLiteHistory{
		logger: logger.Named("instance-history"),
		db:     db,
	}

	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return h, nil
}

func (h *SQLiteHistory) initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS notification_history (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			trigger_type TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			recipients TEXT,
			channels TEXT,
			content TEXT,
			scheduled_at DATETIME NOT NULL,
			sent_at DATETIME,
			delivered_at DATETIME,
			failure_reason TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notification_history_rule ON notification_history(rule_id);
		CREATE INDEX IF NOT EXISTS idx_notification_history_entity ON notification_history(entity_type, entity_id);
		CREATE INDEX IF NOT EXISTS idx_notification_history_status ON notification_history(status);
		CREATE INDEX IF NOT EXISTS idx_notification_history_created ON notification_history(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func marshalField(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store implements InstanceHistory.Store.
func (h *SQLiteHistory) Store(ctx context.Context, instance *model.NotificationInstance) error {
	recipients, err := marshalField(instance.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	channels, err := marshalField(instance.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}
	content, err := marshalField(instance.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	var metadata string
	if len(instance.Metadata) > 0 {
		if metadata, err = marshalField(instance.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err = h.db.ExecContext(ctx, `
		INSERT INTO notification_history (
			id, rule_id, entity_type, entity_id, trigger_type, status, priority,
			recipients, channels, content, scheduled_at, retry_count, max_retries,
			metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID,
		instance.RuleID,
		instance.EntityType,
		instance.EntityID,
		instance.TriggerType,
		instance.Status,
		instance.Priority,
		recipients,
		channels,
		content,
		instance.ScheduledAt,
		instance.RetryCount,
		instance.MaxRetries,
		sql.NullString{String: metadata, Valid: metadata != ""},
		instance.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store instance: %w", err)
	}
	return nil
}

// Update implements InstanceHistory.Update.
func (h *SQLiteHistory) Update(ctx context.Context, instance *model.NotificationInstance) error {
	var sentAt, deliveredAt sql.NullTime
	if instance.SentAt != nil {
		sentAt = sql.NullTime{Time: *instance.SentAt, Valid: true}
	}
	if instance.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *instance.DeliveredAt, Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		UPDATE notification_history SET
			status = ?,
			sent_at = ?,
			delivered_at = ?,
			failure_reason = ?,
			retry_count = ?,
			scheduled_at = ?
		WHERE id = ?`,
		instance.Status,
		sentAt,
		deliveredAt,
		sql.NullString{String: instance.FailureReason, Valid: instance.FailureReason != ""},
		instance.RetryCount,
		instance.ScheduledAt,
		instance.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

func (h *SQLiteHistory) scanInstance(scan func(dest ...interface{}) error) (*model.NotificationInstance, error) {
	instance := &model.NotificationInstance{}
	var recipients, channels, content, failureReason, metadata sql.NullString
	var sentAt, deliveredAt sql.NullTime

	err := scan(
		&instance.ID,
		&instance.RuleID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.TriggerType,
		&instance.Status,
		&instance.Priority,
		&recipients,
		&channels,
		&content,
		&instance.ScheduledAt,
		&sentAt,
		&deliveredAt,
		&failureReason,
		&instance.RetryCount,
		&instance.MaxRetries,
		&metadata,
		&instance.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if recipients.Valid && recipients.String != "" {
		if err := json.Unmarshal([]byte(recipients.String), &instance.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
	}
	if channels.Valid && channels.String != "" {
		if err := json.Unmarshal([]byte(channels.String), &instance.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
	}
	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &instance.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &instance.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if failureReason.Valid {
		instance.FailureReason = failureReason.String
	}
	if sentAt.Valid {
		instance.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		instance.DeliveredAt = &deliveredAt.Time
	}

	return instance, nil
}

const instanceColumns = `id, rule_id, entity_type, entity_id, trigger_type, status, priority,
	recipients, channels, content, scheduled_at, sent_at, delivered_at,
	failure_reason, retry_count, max_retries, metadata, created_at`

// Get implements InstanceHistory.Get.
func (h *SQLiteHistory) Get(ctx context.Context, id string) (*model.NotificationInstance, error) {
	row := h.db.QueryRowContext(ctx,
		"SELECT "+instanceColumns+" FROM notification_history WHERE id = ?", id)

	instance, err := h.scanInstance(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	return instance, nil
}

func buildWhere(filters map[string]interface{}) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}
	clause := " WHERE"
	args := make([]interface{}, 0, len(filters))
	first := true
	for key, value := range filters {
		if !first {
			clause += " AND"
		}
		clause += fmt.Sprintf(" %s = ?", key)
		args = append(args, value)
		first = false
	}
	return clause, args
}

// List implements InstanceHistory.List.
func (h *SQLiteHistory) List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*model.NotificationInstance, error) {
	where, args := buildWhere(filters)
	query := "SELECT " + instanceColumns + " FROM notification_history" + where +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*model.NotificationInstance
	for rows.Next() {
		instance, err := h.scanInstance(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return instances, nil
}

// Count implements InstanceHistory.Count.
func (h *SQLiteHistory) Count(ctx context.Context, filters map[string]interface{}) (int, error) {
	where, args := buildWhere(filters)
	var count int
	err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notification_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

// DeleteBefore implements InstanceHistory.DeleteBefore.
func (h *SQLiteHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx,
		"DELETE FROM notification_history WHERE created_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete instances: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	h.logger.Info("Deleted old notification history",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection.
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}
