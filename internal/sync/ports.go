// Package sync implements the multi-device synchronization engine: version
// ordering, conflict detection, per-device fan-out, and pull/acknowledge
// delivery.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pantryware/pantrysync/internal/models"
)

// ChangeLog is the append-only, per-entity versioned history port.
type ChangeLog interface {
	// AppendChange assigns the next version for the entry's entity key and
	// appends it. Returns a VERSION_CONFLICT error when a concurrent append
	// for the same key raced past the version read; the caller retries the
	// whole push, not just the version step.
	AppendChange(ctx context.Context, entry *models.ChangeEntry) error

	// GetLatestVersion returns the highest-version entry for the entity
	// key, or nil if the entity has never been seen.
	GetLatestVersion(ctx context.Context, userID, entityType, entityID string) (*models.ChangeEntry, error)

	// GetHistory returns the entity's entries ascending by version.
	GetHistory(ctx context.Context, userID, entityType, entityID string) ([]*models.ChangeEntry, error)

	// GetChangesSince is the catch-up path for devices that missed queue
	// fan-out: all of the user's entries after since, excluding those the
	// device itself originated.
	GetChangesSince(ctx context.Context, userID, excludeDeviceID string, since int64) ([]*models.ChangeEntry, error)
}

// ConflictStore persists detected conflicts until resolved.
type ConflictStore interface {
	RecordConflict(ctx context.Context, c *models.Conflict) error
	GetConflict(ctx context.Context, id string) (*models.Conflict, error)
	ListUnresolvedConflicts(ctx context.Context, userID string) ([]*models.Conflict, error)

	// ResolveConflict is single-shot: resolving an unknown or already
	// resolved conflict yields NOT_FOUND.
	ResolveConflict(ctx context.Context, id, resolution string, resolvedData json.RawMessage, resolvedBy string) error
}

// SyncQueue is the per-device outbound delivery queue port.
type SyncQueue interface {
	EnqueueItems(ctx context.Context, items []*models.QueueItem) error

	// Drain returns up to limit queued items for the device in
	// (priority desc, queued_at asc) order without mutating them.
	Drain(ctx context.Context, userID, deviceID string, limit int) ([]*models.QueueItem, error)

	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)

	// AcknowledgeItem is idempotent; a second acknowledge is a no-op.
	AcknowledgeItem(ctx context.Context, id string) error

	// ReportFailure increments the retry count; past maxRetries the item
	// parks in the terminal failed state. The bool reports whether the
	// item just became a poison item.
	ReportFailure(ctx context.Context, id, errorMessage string, maxRetries int) (bool, error)

	ListFailedItems(ctx context.Context, userID string) ([]*models.QueueItem, error)
	RequeueFailed(ctx context.Context, userID string) (int, error)
	QueueStats(ctx context.Context, userID string) (map[string]int, error)
	DeleteDelivered(ctx context.Context, olderThan int64) (int64, error)
}

// DeviceRegistry tracks the devices belonging to a user.
type DeviceRegistry interface {
	CreateDevice(ctx context.Context, d *models.DeviceRegistration) error
	GetDevice(ctx context.Context, id string) (*models.DeviceRegistration, error)

	// DeactivateDevice is a soft delete; queue items targeting the device
	// stay in storage but stop being drained.
	DeactivateDevice(ctx context.Context, id string) error

	ListActiveDevices(ctx context.Context, userID string) ([]*models.DeviceRegistration, error)
	TouchLastSync(ctx context.Context, id string, ts time.Time) error
}

// Store combines the four persistence ports with transactional execution.
// Detection, append, and fan-out for a push run inside one Transact call so
// partial application (log updated, queue not fanned out) cannot survive.
type Store interface {
	ChangeLog
	ConflictStore
	SyncQueue
	DeviceRegistry

	// Transact runs fn against a transaction-bound view of the store,
	// committing only if fn returns nil.
	Transact(ctx context.Context, fn func(Store) error) error
}

// ChangeSummary is the best-effort payload handed to the notifier after
// fan-out so connected devices can pull immediately instead of polling.
type ChangeSummary struct {
	QueueItemID models.UUID      `json:"queue_item_id"`
	EntityType  string           `json:"entity_type"`
	EntityID    string           `json:"entity_id"`
	Operation   models.Operation `json:"operation"`
	Version     int              `json:"version"`
}

// Notifier is the push-notification port. Implementations must not block
// the push path; failures are logged and swallowed since the queue is the
// durable source of truth.
type Notifier interface {
	Notify(deviceID string, summary ChangeSummary)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(string, ChangeSummary) {}
