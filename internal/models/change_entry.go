// Package models provides data model definitions for the PantrySync engine.
package models

import (
	"encoding/json"
	"time"
)

// Operation identifies the kind of mutation a change entry carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Priority returns the delivery priority for the operation.
// Deletes propagate first so other devices don't serve stale reads
// for an entity that no longer exists.
func (o Operation) Priority() int {
	switch o {
	case OpDelete:
		return 3
	case OpUpdate:
		return 2
	default:
		return 1
	}
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ChangeEntry is one versioned mutation to one entity, recorded in the
// change log. Entries are immutable once appended and are never deleted.
// For a fixed (user_id, entity_type, entity_id) the version values form a
// strictly increasing, gapless sequence.
type ChangeEntry struct {
	ID              UUID            `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	OriginDeviceID  UUID            `db:"origin_device_id" json:"origin_device_id"`
	EntityType      string          `db:"entity_type" json:"entity_type"` // e.g. "Recipe", "InventoryItem"
	EntityID        string          `db:"entity_id" json:"entity_id"`
	Version         int             `db:"version" json:"version"`
	Operation       Operation       `db:"operation" json:"operation"`
	Payload         json.RawMessage `db:"payload" json:"payload"` // opaque entity snapshot
	ClientTimestamp int64           `db:"client_timestamp" json:"client_timestamp"`
	ServerTimestamp int64           `db:"server_timestamp" json:"server_timestamp"`
	Synced          bool            `db:"synced" json:"synced"` // legacy per-origin flag
}

// TableName returns the table name for ChangeEntry.
func (ChangeEntry) TableName() string {
	return "change_log"
}

// ServerTime returns the ServerTimestamp as time.Time.
func (c *ChangeEntry) ServerTime() time.Time {
	return time.Unix(c.ServerTimestamp, 0)
}

// ClientTime returns the ClientTimestamp as time.Time.
func (c *ChangeEntry) ClientTime() time.Time {
	return time.Unix(c.ClientTimestamp, 0)
}
