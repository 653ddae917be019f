// Package sync implements the multi-device synchronization engine.
package sync

import (
	"context"
	"encoding/json"
	gosync "sync"
	"time"

	apperrors "github.com/pantryware/pantrysync/internal/errors"
	"github.com/pantryware/pantrysync/internal/logging"
	"github.com/pantryware/pantrysync/internal/models"
	"github.com/pantryware/pantrysync/internal/sync/conflict"
)

// PushStatus is the terminal state of one push.
type PushStatus string

const (
	PushAccepted   PushStatus = "accepted"
	PushConflicted PushStatus = "conflicted"
)

// PushResult reports the outcome of a push to the caller.
type PushResult struct {
	Status     PushStatus  `json:"status"`
	Version    int         `json:"version,omitempty"`
	ConflictID models.UUID `json:"conflict_id,omitempty"`
}

// CoordinatorConfig tunes push retry and drain behavior.
type CoordinatorConfig struct {
	// MaxPushRetries bounds internal retries when a version race or
	// transient store error interrupts a push.
	MaxPushRetries int
	// QueueMaxRetries is the delivery retry ceiling for queue items.
	QueueMaxRetries int
	// DefaultDrainLimit caps a pull when the caller passes no limit.
	DefaultDrainLimit int
}

// DefaultCoordinatorConfig returns the default tuning.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxPushRetries:    3,
		QueueMaxRetries:   5,
		DefaultDrainLimit: 100,
	}
}

// Coordinator orchestrates push (ingest, detect, append, fan out) and pull
// (drain since checkpoint, acknowledge) cycles. All sync state lives in the
// store; the coordinator holds no cache, so any number of instances can run
// against the same store. The in-process key locks are an optimization and
// the store's unique version index is the cross-instance backstop.
type Coordinator struct {
	store    Store
	detector *Detector
	policies *conflict.Registry
	notifier Notifier
	cfg      CoordinatorConfig

	keys keyedMutex

	mu        gosync.Mutex
	lastPush  time.Time
	accepted  uint64
	conflicts uint64
	replays   uint64
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store Store, notifier Notifier, cfg CoordinatorConfig) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.MaxPushRetries < 1 {
		cfg.MaxPushRetries = DefaultCoordinatorConfig().MaxPushRetries
	}
	if cfg.QueueMaxRetries < 1 {
		cfg.QueueMaxRetries = DefaultCoordinatorConfig().QueueMaxRetries
	}
	if cfg.DefaultDrainLimit < 1 {
		cfg.DefaultDrainLimit = DefaultCoordinatorConfig().DefaultDrainLimit
	}
	return &Coordinator{
		store:    store,
		detector: NewDetector(),
		policies: conflict.NewRegistry(),
		notifier: notifier,
		cfg:      cfg,
	}
}

// Policies exposes the resolution policy registry so callers can install
// custom policies before serving traffic.
func (c *Coordinator) Policies() *conflict.Registry {
	return c.policies
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	LastPush  time.Time `json:"last_push"`
	Accepted  uint64    `json:"accepted"`
	Conflicts uint64    `json:"conflicts"`
	Replays   uint64    `json:"replays"`
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		LastPush:  c.lastPush,
		Accepted:  c.accepted,
		Conflicts: c.conflicts,
		Replays:   c.replays,
	}
}

// Push ingests one change from a device. Detection, append, conflict
// recording, and fan-out run inside one store transaction per attempt, so
// a push either fully commits or leaves no trace. A version race during
// append is retried with backoff up to MaxPushRetries before surfacing as
// a transient VERSION_CONFLICT failure the client should re-push.
func (c *Coordinator) Push(ctx context.Context, incoming *PendingChange) (*PushResult, error) {
	if err := c.validatePush(ctx, incoming); err != nil {
		return nil, err
	}

	// Serialize per entity key: detection and append must be atomic
	// relative to each other for the same key. Unrelated entities sync
	// in parallel.
	unlock := c.keys.lock(incoming.UserID + "\x00" + incoming.EntityType + "\x00" + incoming.EntityID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxPushRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, notify, err := c.pushOnce(ctx, incoming)
		if err == nil {
			c.record(result)
			for _, n := range notify {
				c.notify(n.deviceID, n.summary)
			}
			return result, nil
		}

		if apperrors.Is(err, apperrors.ErrVersionConflict) || apperrors.Is(err, apperrors.ErrTransientStore) {
			lastErr = err
			logging.Warn("Push attempt failed, retrying",
				map[string]interface{}{
					"attempt":     attempt + 1,
					"entity_type": incoming.EntityType,
					"entity_id":   incoming.EntityID,
					"code":        apperrors.CodeOf(err),
				})
			continue
		}
		return nil, err
	}

	return nil, apperrors.Wrap(apperrors.ErrVersionConflict,
		"push retries exhausted, client should re-push", lastErr)
}

// pendingNotify defers notifier calls until after the transaction commits.
type pendingNotify struct {
	deviceID string
	summary  ChangeSummary
}

// pushOnce runs one transactional push attempt.
func (c *Coordinator) pushOnce(ctx context.Context, incoming *PendingChange) (*PushResult, []pendingNotify, error) {
	var result *PushResult
	var notify []pendingNotify

	err := c.store.Transact(ctx, func(s Store) error {
		check, err := c.detector.Check(ctx, s, incoming)
		if err != nil {
			return err
		}

		switch check.Outcome {
		case OutcomeReplay:
			// Already committed; acknowledge with the original version.
			result = &PushResult{Status: PushAccepted, Version: check.Latest.Version}
			return nil

		case OutcomeConflict:
			conflictRec := &models.Conflict{
				UserID:      incoming.UserID,
				EntityType:  incoming.EntityType,
				EntityID:    incoming.EntityID,
				Device1ID:   check.Latest.OriginDeviceID,
				Device2ID:   incoming.DeviceID,
				ServerData:  check.Latest.Payload,
				Device1Data: check.Latest.Payload,
				Device2Data: incoming.Payload,
			}
			if err := s.RecordConflict(ctx, conflictRec); err != nil {
				return err
			}
			result = &PushResult{Status: PushConflicted, ConflictID: conflictRec.ID}
			return nil

		default:
			entry := &models.ChangeEntry{
				UserID:          incoming.UserID,
				OriginDeviceID:  incoming.DeviceID,
				EntityType:      incoming.EntityType,
				EntityID:        incoming.EntityID,
				Operation:       incoming.Operation,
				Payload:         incoming.Payload,
				ClientTimestamp: incoming.ClientTimestamp,
			}
			if err := s.AppendChange(ctx, entry); err != nil {
				return err
			}

			notify, err = c.fanOut(ctx, s, entry)
			if err != nil {
				return err
			}

			result = &PushResult{Status: PushAccepted, Version: entry.Version}
			return nil
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return result, notify, nil
}

// fanOut creates one queue item per active device of the user, excluding
// the origin device.
func (c *Coordinator) fanOut(ctx context.Context, s Store, entry *models.ChangeEntry) ([]pendingNotify, error) {
	devices, err := s.ListActiveDevices(ctx, entry.UserID)
	if err != nil {
		return nil, err
	}

	var items []*models.QueueItem
	for _, d := range devices {
		if d.ID == entry.OriginDeviceID {
			continue
		}
		items = append(items, &models.QueueItem{
			ChangeEntryID:  entry.ID,
			UserID:         entry.UserID,
			TargetDeviceID: d.ID,
			EntityType:     entry.EntityType,
			EntityID:       entry.EntityID,
			Operation:      entry.Operation,
			Payload:        entry.Payload,
			Version:        entry.Version,
			Priority:       entry.Operation.Priority(),
		})
	}

	if len(items) > 0 {
		if err := s.EnqueueItems(ctx, items); err != nil {
			return nil, err
		}
	}

	notify := make([]pendingNotify, 0, len(items))
	for _, item := range items {
		notify = append(notify, pendingNotify{
			deviceID: item.TargetDeviceID.String(),
			summary: ChangeSummary{
				QueueItemID: item.ID,
				EntityType:  item.EntityType,
				EntityID:    item.EntityID,
				Operation:   item.Operation,
				Version:     item.Version,
			},
		})
	}
	return notify, nil
}

// notify delivers a best-effort wake-up. A panicking or failing notifier
// must never fail the push, so it runs isolated here.
func (c *Coordinator) notify(deviceID string, summary ChangeSummary) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Notifier panicked", nil,
				map[string]interface{}{"device_id": deviceID, "panic": r})
		}
	}()
	c.notifier.Notify(deviceID, summary)
}

// validatePush rejects malformed pushes and unknown or inactive devices.
func (c *Coordinator) validatePush(ctx context.Context, incoming *PendingChange) error {
	if incoming.UserID == "" || incoming.EntityType == "" || incoming.EntityID == "" {
		return apperrors.New(apperrors.ErrValidation, "user_id, entity_type and entity_id are required")
	}
	if !incoming.Operation.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown operation %q", incoming.Operation)
	}
	if incoming.KnownBaseVersion < 0 {
		return apperrors.New(apperrors.ErrValidation, "known_base_version must not be negative")
	}

	device, err := c.store.GetDevice(ctx, incoming.DeviceID.String())
	if err != nil {
		return err
	}
	if !device.IsActive {
		return apperrors.Newf(apperrors.ErrDeviceInactive, "device %s is unregistered", incoming.DeviceID)
	}
	if device.UserID != incoming.UserID {
		return apperrors.Newf(apperrors.ErrValidation, "device %s does not belong to user", incoming.DeviceID)
	}
	return nil
}

// record updates the coordinator counters after a finished push.
func (c *Coordinator) record(result *PushResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPush = time.Now()
	switch result.Status {
	case PushConflicted:
		c.conflicts++
	default:
		c.accepted++
	}
}

// Pull drains up to limit queue items for the device and records the sync
// checkpoint. Pull does not mutate queue state: the client acknowledges
// each item after applying it locally.
func (c *Coordinator) Pull(ctx context.Context, userID, deviceID string, limit int) ([]*models.QueueItem, error) {
	if limit < 1 {
		limit = c.cfg.DefaultDrainLimit
	}

	device, err := c.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.IsActive {
		// Unregistered devices keep their stored queue items but drain nothing.
		return nil, nil
	}

	items, err := c.store.Drain(ctx, userID, deviceID, limit)
	if err != nil {
		return nil, err
	}

	if err := c.store.TouchLastSync(ctx, deviceID, time.Now()); err != nil {
		logging.Warn("Failed to record sync checkpoint",
			map[string]interface{}{"device_id": deviceID, "error": err.Error()})
	}
	return items, nil
}

// Ack marks a queue item delivered. Idempotent.
func (c *Coordinator) Ack(ctx context.Context, queueItemID string) error {
	return c.store.AcknowledgeItem(ctx, queueItemID)
}

// ReportDeliveryFailure records a failed delivery attempt for a queue item
// and logs when the item crosses into the terminal failed state.
func (c *Coordinator) ReportDeliveryFailure(ctx context.Context, queueItemID, errorMessage string) error {
	exhausted, err := c.store.ReportFailure(ctx, queueItemID, errorMessage, c.cfg.QueueMaxRetries)
	if err != nil {
		return err
	}
	if exhausted {
		logging.Error("Queue item exhausted its retry budget",
			apperrors.Newf(apperrors.ErrDeliveryExhausted, "queue item %s parked as poison item", queueItemID),
			map[string]interface{}{"queue_item_id": queueItemID})
	}
	return nil
}

// ResolveConflict applies a named policy (or caller-supplied payload) to an
// unresolved conflict. Manual resolution requires resolvedData; automatic
// policies compute it from the recorded payloads.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictID, resolution string, resolvedData json.RawMessage, resolvedBy string) error {
	policy := c.policies.Get(resolution)
	if policy == nil {
		return apperrors.Newf(apperrors.ErrValidation, "unknown resolution policy %q", resolution)
	}

	if len(resolvedData) == 0 {
		rec, err := c.store.GetConflict(ctx, conflictID)
		if err != nil {
			return err
		}
		resolvedData, err = policy.Resolve(rec)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "policy could not resolve conflict", err)
		}
	}

	return c.store.ResolveConflict(ctx, conflictID, resolution, resolvedData, resolvedBy)
}

// ChangesSince is the catch-up path for a device that missed fan-out.
func (c *Coordinator) ChangesSince(ctx context.Context, userID, deviceID string, since int64) ([]*models.ChangeEntry, error) {
	return c.store.GetChangesSince(ctx, userID, deviceID, since)
}

// retryBackoff is the exponential backoff between push attempts.
// 2^attempt * 50ms, capped at one second.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
	if backoff > time.Second {
		backoff = time.Second
	}
	return backoff
}

// keyedMutex serializes callers per string key without a global lock.
type keyedMutex struct {
	mu    gosync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   gosync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
