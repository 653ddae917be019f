// Package models provides data model definitions for the PantrySync engine.
package models

import (
	"encoding/json"
	"time"
)

// ConflictStatus represents the lifecycle state of a conflict.
type ConflictStatus string

const (
	ConflictUnresolved ConflictStatus = "unresolved"
	ConflictResolved   ConflictStatus = "resolved"
)

// Conflict records two concurrent edits to the same entity from different
// devices, neither of which observed the other's version. Created on
// detection, mutated exactly once by a resolution action, never deleted.
type Conflict struct {
	ID           UUID            `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"user_id"`
	EntityType   string          `db:"entity_type" json:"entity_type"`
	EntityID     string          `db:"entity_id" json:"entity_id"`
	Device1ID    UUID            `db:"device1_id" json:"device1_id"`
	Device2ID    UUID            `db:"device2_id" json:"device2_id"`
	ServerData   json.RawMessage `db:"server_data" json:"server_data"`   // payload committed to the change log
	Device1Data  json.RawMessage `db:"device1_data" json:"device1_data"` // committed device's payload
	Device2Data  json.RawMessage `db:"device2_data" json:"device2_data"` // rejected device's payload
	Status       ConflictStatus  `db:"status" json:"status"`
	Resolution   string          `db:"resolution" json:"resolution,omitempty"` // policy name
	ResolvedData json.RawMessage `db:"resolved_data" json:"resolved_data,omitempty"`
	DetectedAt   int64           `db:"detected_at" json:"detected_at"`
	ResolvedAt   int64           `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy   string          `db:"resolved_by" json:"resolved_by,omitempty"`
}

// TableName returns the table name for Conflict.
func (Conflict) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *Conflict) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
