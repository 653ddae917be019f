// Package models provides data model definitions for the PantrySync engine.
package models

import "time"

// DeviceRegistration tracks one client device belonging to a user.
// Unregistering is a soft delete: is_active flips to false but the row is
// kept, since queue items and change entries reference it.
type DeviceRegistration struct {
	ID           UUID   `db:"id" json:"id"`
	UserID       string `db:"user_id" json:"user_id"`
	DeviceName   string `db:"device_name" json:"device_name"`
	DeviceType   string `db:"device_type" json:"device_type"` // mobile, desktop
	OSVersion    string `db:"os_version" json:"os_version,omitempty"`
	AppVersion   string `db:"app_version" json:"app_version,omitempty"`
	RegisteredAt int64  `db:"registered_at" json:"registered_at"`
	LastSyncAt   int64  `db:"last_sync_at" json:"last_sync_at,omitempty"`
	IsActive     bool   `db:"is_active" json:"is_active"`
}

// TableName returns the table name for DeviceRegistration.
func (DeviceRegistration) TableName() string {
	return "device_registrations"
}

// RegisteredAtTime returns the RegisteredAt as time.Time.
func (d *DeviceRegistration) RegisteredAtTime() time.Time {
	return time.Unix(d.RegisteredAt, 0)
}

// LastSyncAtTime returns the LastSyncAt as time.Time.
func (d *DeviceRegistration) LastSyncAtTime() time.Time {
	return time.Unix(d.LastSyncAt, 0)
}
