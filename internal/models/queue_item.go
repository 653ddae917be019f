// Package models provides data model definitions for the PantrySync engine.
package models

import (
	"encoding/json"
	"time"
)

// QueueStatus represents the delivery state of a queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusDelivering QueueStatus = "delivering"
	QueueStatusFailed     QueueStatus = "failed" // terminal, retry ceiling exceeded
	QueueStatusDelivered  QueueStatus = "delivered"
)

// QueueItem is one accepted change entry awaiting acknowledgment by one
// specific target device. Exactly one item exists per
// (change entry, target device) pair; it is marked delivered only after
// the target acknowledges, and parks in a terminal failed state once the
// retry ceiling is exceeded.
type QueueItem struct {
	ID             UUID            `db:"id" json:"id"`
	ChangeEntryID  UUID            `db:"change_entry_id" json:"change_entry_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	TargetDeviceID UUID            `db:"target_device_id" json:"target_device_id"`
	EntityType     string          `db:"entity_type" json:"entity_type"`
	EntityID       string          `db:"entity_id" json:"entity_id"`
	Operation      Operation       `db:"operation" json:"operation"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Version        int             `db:"version" json:"version"`
	Priority       int             `db:"priority" json:"priority"`
	Status         QueueStatus     `db:"status" json:"status"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	ErrorMessage   string          `db:"error_message" json:"error_message,omitempty"`
	QueuedAt       int64           `db:"queued_at" json:"queued_at"`
	UpdatedAt      int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue"
}

// QueuedAtTime returns the QueuedAt as time.Time.
func (q *QueueItem) QueuedAtTime() time.Time {
	return time.Unix(q.QueuedAt, 0)
}
