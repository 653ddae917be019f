// Package db provides the raw-SQL repository implementing the sync store ports.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/models"
	syncports "github.com/pantryware/pantrysync/internal/sync"
	"github.com/pantryware/pantrysync/internal/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repository methods
// run identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides the persistent store behind the change log, conflict
// store, sync queue, and device registry. All mutation goes through it; the
// coordinator never caches sync state.
type Repository struct {
	db *sql.DB
	tx *sql.Tx

	// Prepared statement cache for hot read paths (drain, latest-version).
	// Only used outside transactions; tx-bound repositories go straight
	// through the transaction.
	stmtCache *sync.Map
}

// Repository implements the full store port set.
var _ syncports.Store = (*Repository)(nil)

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, stmtCache: &sync.Map{}}
}

// Transact runs fn against a transaction-bound view of the repository.
// The transaction commits only if fn returns nil; any error (including
// context cancellation) rolls back every write fn performed.
func (r *Repository) Transact(ctx context.Context, fn func(syncports.Store) error) error {
	if r.tx != nil {
		// Already inside a transaction; nesting joins it.
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("failed to begin transaction", err)
	}

	txRepo := &Repository{db: r.db, tx: tx, stmtCache: r.stmtCache}
	if err := fn(txRepo); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("failed to commit transaction", err)
	}
	return nil
}

// q returns the active querier: the bound transaction if any, else the pool.
func (r *Repository) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// prepareStmt gets or creates a prepared statement from the cache.
// Returns nil when the repository is transaction-bound.
func (r *Repository) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if r.tx != nil {
		return nil, nil
	}
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusy reports whether err is SQLite writer contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// wrapStoreErr classifies a storage error as transient or plain database failure.
func wrapStoreErr(message string, err error) error {
	if isBusy(err) {
		return apperrors.Wrap(apperrors.ErrTransientStore, message, err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, message, err)
}

// =====================================================
// ChangeLog Operations
// =====================================================

// AppendChange appends a change entry, assigning the next version for its
// (user, entity type, entity id) key. The caller is expected to hold the
// per-entity serialization; the unique index on
// (user_id, entity_type, entity_id, version) is the backstop: a racing
// append surfaces as VERSION_CONFLICT and the whole push is retried.
func (r *Repository) AppendChange(ctx context.Context, entry *models.ChangeEntry) error {
	var current sql.NullInt64
	err := r.q().QueryRowContext(ctx,
		`SELECT MAX(version) FROM change_log WHERE user_id = ? AND entity_type = ? AND entity_id = ?`,
		entry.UserID, entry.EntityType, entry.EntityID,
	).Scan(&current)
	if err != nil {
		return wrapStoreErr("failed to read current version", err)
	}

	entry.ID = models.UUID(uuid.New())
	entry.Version = int(current.Int64) + 1
	entry.ServerTimestamp = time.Now().Unix()
	if entry.Payload == nil {
		entry.Payload = json.RawMessage("{}")
	}

	query := `
	INSERT INTO change_log (id, user_id, origin_device_id, entity_type, entity_id,
		version, operation, payload, client_timestamp, server_timestamp, synced)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.q().ExecContext(ctx, query, entry.ID, entry.UserID, entry.OriginDeviceID,
		entry.EntityType, entry.EntityID, entry.Version, entry.Operation,
		string(entry.Payload), entry.ClientTimestamp, entry.ServerTimestamp, entry.Synced)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(apperrors.ErrVersionConflict,
				"concurrent append raced past version check", err)
		}
		return wrapStoreErr("failed to append change entry", err)
	}
	return nil
}

const changeEntryColumns = `id, user_id, origin_device_id, entity_type, entity_id,
		version, operation, payload, client_timestamp, server_timestamp, synced`

// scanChangeEntry scans one change entry row.
func scanChangeEntry(scan func(...interface{}) error) (*models.ChangeEntry, error) {
	var entry models.ChangeEntry
	var payload string
	err := scan(&entry.ID, &entry.UserID, &entry.OriginDeviceID, &entry.EntityType,
		&entry.EntityID, &entry.Version, &entry.Operation, &payload,
		&entry.ClientTimestamp, &entry.ServerTimestamp, &entry.Synced)
	if err != nil {
		return nil, err
	}
	entry.Payload = json.RawMessage(payload)
	return &entry, nil
}

// GetLatestVersion returns the change entry with the highest version for
// the entity key, or nil if the entity has never been seen.
func (r *Repository) GetLatestVersion(ctx context.Context, userID, entityType, entityID string) (*models.ChangeEntry, error) {
	query := `
	SELECT ` + changeEntryColumns + `
	FROM change_log
	WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	ORDER BY version DESC
	LIMIT 1
	`
	row, err := r.queryRow(ctx, query, userID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	entry, err := scanChangeEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr("failed to read latest version", err)
	}
	return entry, nil
}

// queryRow runs a single-row query through the statement cache when possible.
func (r *Repository) queryRow(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	stmt, err := r.prepareStmt(ctx, query)
	if err != nil {
		return nil, wrapStoreErr("failed to prepare query", err)
	}
	if stmt != nil {
		return stmt.QueryRowContext(ctx, args...), nil
	}
	return r.q().QueryRowContext(ctx, query, args...), nil
}

// GetHistory returns the full ordered history for an entity, ascending by
// version. The sequence is strictly increasing with no gaps.
func (r *Repository) GetHistory(ctx context.Context, userID, entityType, entityID string) ([]*models.ChangeEntry, error) {
	query := `
	SELECT ` + changeEntryColumns + `
	FROM change_log
	WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	ORDER BY version ASC
	`
	rows, err := r.q().QueryContext(ctx, query, userID, entityType, entityID)
	if err != nil {
		return nil, wrapStoreErr("failed to read history", err)
	}
	defer rows.Close()

	var entries []*models.ChangeEntry
	for rows.Next() {
		entry, err := scanChangeEntry(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan change entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetChangesSince returns all change entries for a user after the given
// server timestamp, excluding those originated by excludeDeviceID. This is
// the catch-up path for a device that missed queue fan-out, e.g. one that
// registered after the changes were accepted.
func (r *Repository) GetChangesSince(ctx context.Context, userID, excludeDeviceID string, since int64) ([]*models.ChangeEntry, error) {
	query := `
	SELECT ` + changeEntryColumns + `
	FROM change_log
	WHERE user_id = ? AND origin_device_id != ? AND server_timestamp > ?
	ORDER BY server_timestamp ASC, version ASC
	`
	rows, err := r.q().QueryContext(ctx, query, userID, excludeDeviceID, since)
	if err != nil {
		return nil, wrapStoreErr("failed to read changes since timestamp", err)
	}
	defer rows.Close()

	var entries []*models.ChangeEntry
	for rows.Next() {
		entry, err := scanChangeEntry(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan change entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =====================================================
// ConflictStore Operations
// =====================================================

// RecordConflict persists a detected conflict.
func (r *Repository) RecordConflict(ctx context.Context, c *models.Conflict) error {
	c.ID = models.UUID(uuid.New())
	c.Status = models.ConflictUnresolved
	c.DetectedAt = time.Now().Unix()

	query := `
	INSERT INTO conflict_log (id, user_id, entity_type, entity_id, device1_id, device2_id,
		server_data, device1_data, device2_data, status, resolution, resolved_data,
		detected_at, resolved_at, resolved_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, 0, '')
	`
	_, err := r.q().ExecContext(ctx, query, c.ID, c.UserID, c.EntityType, c.EntityID,
		c.Device1ID, c.Device2ID, string(c.ServerData), string(c.Device1Data),
		string(c.Device2Data), c.Status, c.DetectedAt)
	if err != nil {
		return wrapStoreErr("failed to record conflict", err)
	}
	return nil
}

const conflictColumns = `id, user_id, entity_type, entity_id, device1_id, device2_id,
		server_data, device1_data, device2_data, status, resolution, resolved_data,
		detected_at, resolved_at, resolved_by`

// scanConflict scans one conflict row.
func scanConflict(scan func(...interface{}) error) (*models.Conflict, error) {
	var c models.Conflict
	var serverData, d1Data, d2Data, resolvedData string
	err := scan(&c.ID, &c.UserID, &c.EntityType, &c.EntityID, &c.Device1ID, &c.Device2ID,
		&serverData, &d1Data, &d2Data, &c.Status, &c.Resolution, &resolvedData,
		&c.DetectedAt, &c.ResolvedAt, &c.ResolvedBy)
	if err != nil {
		return nil, err
	}
	c.ServerData = json.RawMessage(serverData)
	c.Device1Data = json.RawMessage(d1Data)
	c.Device2Data = json.RawMessage(d2Data)
	if resolvedData != "" {
		c.ResolvedData = json.RawMessage(resolvedData)
	}
	return &c, nil
}

// GetConflict retrieves a conflict by ID.
func (r *Repository) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_log WHERE id = ?`
	c, err := scanConflict(r.q().QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "conflict %s not found", id)
	}
	if err != nil {
		return nil, wrapStoreErr("failed to read conflict", err)
	}
	return c, nil
}

// ListUnresolvedConflicts returns all unresolved conflicts for a user,
// oldest first.
func (r *Repository) ListUnresolvedConflicts(ctx context.Context, userID string) ([]*models.Conflict, error) {
	query := `
	SELECT ` + conflictColumns + `
	FROM conflict_log
	WHERE user_id = ? AND status = ?
	ORDER BY detected_at ASC
	`
	rows, err := r.q().QueryContext(ctx, query, userID, models.ConflictUnresolved)
	if err != nil {
		return nil, wrapStoreErr("failed to list unresolved conflicts", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan conflict", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// ResolveConflict marks a conflict resolved. Resolution is single-shot: an
// already-resolved or unknown conflict yields NOT_FOUND, keeping the audit
// trail immutable. A correction requires a new change entry, not a rewrite.
func (r *Repository) ResolveConflict(ctx context.Context, id, resolution string, resolvedData json.RawMessage, resolvedBy string) error {
	query := `
	UPDATE conflict_log
	SET status = ?, resolution = ?, resolved_data = ?, resolved_at = ?, resolved_by = ?
	WHERE id = ? AND status = ?
	`
	res, err := r.q().ExecContext(ctx, query, models.ConflictResolved, resolution,
		string(resolvedData), time.Now().Unix(), resolvedBy, id, models.ConflictUnresolved)
	if err != nil {
		return wrapStoreErr("failed to resolve conflict", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("failed to resolve conflict", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "conflict %s not found or already resolved", id)
	}
	return nil
}

// =====================================================
// SyncQueue Operations
// =====================================================

// EnqueueItems inserts one queue item per target device for an accepted
// change entry. The unique index on (change_entry_id, target_device_id)
// makes duplicate fan-out impossible.
func (r *Repository) EnqueueItems(ctx context.Context, items []*models.QueueItem) error {
	query := `
	INSERT INTO sync_queue (id, change_entry_id, user_id, target_device_id, entity_type,
		entity_id, operation, payload, version, priority, status, retry_count,
		error_message, queued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)
	`
	now := time.Now().Unix()
	for _, item := range items {
		item.ID = models.UUID(uuid.New())
		item.Status = models.QueueStatusQueued
		item.QueuedAt = now
		item.UpdatedAt = now
		if item.Payload == nil {
			item.Payload = json.RawMessage("{}")
		}

		_, err := r.q().ExecContext(ctx, query, item.ID, item.ChangeEntryID, item.UserID,
			item.TargetDeviceID, item.EntityType, item.EntityID, item.Operation,
			string(item.Payload), item.Version, item.Priority, item.Status, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.Wrap(apperrors.ErrDuplicate,
					"queue item already exists for change entry and target device", err)
			}
			return wrapStoreErr("failed to enqueue item", err)
		}
	}
	return nil
}

const queueItemColumns = `id, change_entry_id, user_id, target_device_id, entity_type,
		entity_id, operation, payload, version, priority, status, retry_count,
		error_message, queued_at, updated_at`

// scanQueueItem scans one queue item row.
func scanQueueItem(scan func(...interface{}) error) (*models.QueueItem, error) {
	var item models.QueueItem
	var payload string
	err := scan(&item.ID, &item.ChangeEntryID, &item.UserID, &item.TargetDeviceID,
		&item.EntityType, &item.EntityID, &item.Operation, &payload, &item.Version,
		&item.Priority, &item.Status, &item.RetryCount, &item.ErrorMessage,
		&item.QueuedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Payload = json.RawMessage(payload)
	return &item, nil
}

// Drain returns up to limit queued items for a device, ordered by
// (priority desc, queued_at asc). It is read-only: pull is read-then-ack,
// so a client that crashes mid-apply re-pulls the same items. Items
// targeting an inactive device are not returned.
func (r *Repository) Drain(ctx context.Context, userID, deviceID string, limit int) ([]*models.QueueItem, error) {
	query := `
	SELECT ` + prefixColumns("q", queueItemColumns) + `
	FROM sync_queue q
	JOIN device_registrations d ON d.id = q.target_device_id
	WHERE q.user_id = ? AND q.target_device_id = ? AND q.status = ? AND d.is_active = 1
	ORDER BY q.priority DESC, q.queued_at ASC
	LIMIT ?
	`
	rows, err := r.q().QueryContext(ctx, query, userID, deviceID, models.QueueStatusQueued, limit)
	if err != nil {
		return nil, wrapStoreErr("failed to drain queue", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan queue item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// GetQueueItem retrieves a queue item by ID.
func (r *Repository) GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue WHERE id = ?`
	item, err := scanQueueItem(r.q().QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", id)
	}
	if err != nil {
		return nil, wrapStoreErr("failed to read queue item", err)
	}
	return item, nil
}

// AcknowledgeItem marks a queue item delivered. Idempotent: acknowledging
// an already-delivered item is a no-op, not an error.
func (r *Repository) AcknowledgeItem(ctx context.Context, id string) error {
	item, err := r.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status == models.QueueStatusDelivered {
		return nil
	}

	query := `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ?`
	_, err = r.q().ExecContext(ctx, query, models.QueueStatusDelivered, time.Now().Unix(), id)
	if err != nil {
		return wrapStoreErr("failed to acknowledge queue item", err)
	}
	return nil
}

// ReportFailure records a failed delivery attempt. Once retryCount exceeds
// maxRetries the item transitions to the terminal failed state and stops
// being returned by Drain; it stays queryable for operator recovery.
// The returned bool reports whether the item just became a poison item.
func (r *Repository) ReportFailure(ctx context.Context, id, errorMessage string, maxRetries int) (bool, error) {
	item, err := r.GetQueueItem(ctx, id)
	if err != nil {
		return false, err
	}
	if item.Status == models.QueueStatusFailed {
		return false, apperrors.Newf(apperrors.ErrDeliveryExhausted,
			"queue item %s already exhausted its retry budget", id)
	}

	retryCount := item.RetryCount + 1
	status := models.QueueStatusQueued
	exhausted := retryCount > maxRetries
	if exhausted {
		status = models.QueueStatusFailed
	}

	query := `UPDATE sync_queue SET status = ?, retry_count = ?, error_message = ?, updated_at = ? WHERE id = ?`
	_, err = r.q().ExecContext(ctx, query, status, retryCount, errorMessage, time.Now().Unix(), id)
	if err != nil {
		return false, wrapStoreErr("failed to report queue item failure", err)
	}
	return exhausted, nil
}

// ListFailedItems returns poison items for a user, for diagnostics.
func (r *Repository) ListFailedItems(ctx context.Context, userID string) ([]*models.QueueItem, error) {
	query := `
	SELECT ` + queueItemColumns + `
	FROM sync_queue
	WHERE user_id = ? AND status = ?
	ORDER BY updated_at ASC
	`
	rows, err := r.q().QueryContext(ctx, query, userID, models.QueueStatusFailed)
	if err != nil {
		return nil, wrapStoreErr("failed to list failed queue items", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan queue item", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RequeueFailed resets all failed items for a user back to queued with a
// fresh retry budget. Operator recovery path.
func (r *Repository) RequeueFailed(ctx context.Context, userID string) (int, error) {
	query := `
	UPDATE sync_queue
	SET status = ?, retry_count = 0, error_message = '', updated_at = ?
	WHERE user_id = ? AND status = ?
	`
	res, err := r.q().ExecContext(ctx, query, models.QueueStatusQueued, time.Now().Unix(),
		userID, models.QueueStatusFailed)
	if err != nil {
		return 0, wrapStoreErr("failed to requeue failed items", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("failed to requeue failed items", err)
	}
	return int(affected), nil
}

// QueueStats returns per-status counts for a user's queue.
func (r *Repository) QueueStats(ctx context.Context, userID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM sync_queue WHERE user_id = ? GROUP BY status`
	rows, err := r.q().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapStoreErr("failed to read queue stats", err)
	}
	defer rows.Close()

	stats := map[string]int{
		"queued":     0,
		"delivering": 0,
		"failed":     0,
		"delivered":  0,
	}
	total := 0
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, wrapStoreErr("failed to scan queue stats", err)
		}
		stats[status] = count
		total += count
	}
	stats["total"] = total
	return stats, rows.Err()
}

// DeleteDelivered removes acknowledged queue items older than the cutoff.
// Used by the archiver; the change log itself is never pruned.
func (r *Repository) DeleteDelivered(ctx context.Context, olderThan int64) (int64, error) {
	query := `DELETE FROM sync_queue WHERE status = ? AND updated_at < ?`
	res, err := r.q().ExecContext(ctx, query, models.QueueStatusDelivered, olderThan)
	if err != nil {
		return 0, wrapStoreErr("failed to delete delivered items", err)
	}
	return res.RowsAffected()
}

// =====================================================
// DeviceRegistry Operations
// =====================================================

// CreateDevice registers a new device.
func (r *Repository) CreateDevice(ctx context.Context, d *models.DeviceRegistration) error {
	d.ID = models.UUID(uuid.New())
	d.RegisteredAt = time.Now().Unix()
	d.IsActive = true

	query := `
	INSERT INTO device_registrations (id, user_id, device_name, device_type,
		os_version, app_version, registered_at, last_sync_at, is_active)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1)
	`
	_, err := r.q().ExecContext(ctx, query, d.ID, d.UserID, d.DeviceName, d.DeviceType,
		d.OSVersion, d.AppVersion, d.RegisteredAt)
	if err != nil {
		return wrapStoreErr("failed to register device", err)
	}
	return nil
}

const deviceColumns = `id, user_id, device_name, device_type, os_version, app_version,
		registered_at, last_sync_at, is_active`

// scanDevice scans one device registration row.
func scanDevice(scan func(...interface{}) error) (*models.DeviceRegistration, error) {
	var d models.DeviceRegistration
	err := scan(&d.ID, &d.UserID, &d.DeviceName, &d.DeviceType, &d.OSVersion,
		&d.AppVersion, &d.RegisteredAt, &d.LastSyncAt, &d.IsActive)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice retrieves a device registration by ID.
func (r *Repository) GetDevice(ctx context.Context, id string) (*models.DeviceRegistration, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_registrations WHERE id = ?`
	d, err := scanDevice(r.q().QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "device %s not found", id)
	}
	if err != nil {
		return nil, wrapStoreErr("failed to read device", err)
	}
	return d, nil
}

// DeactivateDevice soft-deletes a device. Its existing queue items remain
// in storage but Drain stops returning them.
func (r *Repository) DeactivateDevice(ctx context.Context, id string) error {
	query := `UPDATE device_registrations SET is_active = 0 WHERE id = ?`
	res, err := r.q().ExecContext(ctx, query, id)
	if err != nil {
		return wrapStoreErr("failed to deactivate device", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("failed to deactivate device", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "device %s not found", id)
	}
	return nil
}

// ListActiveDevices returns all active devices for a user.
func (r *Repository) ListActiveDevices(ctx context.Context, userID string) ([]*models.DeviceRegistration, error) {
	query := `
	SELECT ` + deviceColumns + `
	FROM device_registrations
	WHERE user_id = ? AND is_active = 1
	ORDER BY registered_at ASC
	`
	rows, err := r.q().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapStoreErr("failed to list active devices", err)
	}
	defer rows.Close()

	var devices []*models.DeviceRegistration
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, wrapStoreErr("failed to scan device", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// TouchLastSync records a successful pull for a device.
func (r *Repository) TouchLastSync(ctx context.Context, id string, ts time.Time) error {
	query := `UPDATE device_registrations SET last_sync_at = ? WHERE id = ?`
	res, err := r.q().ExecContext(ctx, query, ts.Unix(), id)
	if err != nil {
		return wrapStoreErr("failed to touch last sync", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("failed to touch last sync", err)
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "device %s not found", id)
	}
	return nil
}
