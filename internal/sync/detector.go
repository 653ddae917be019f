// Package sync implements the multi-device synchronization engine.
package sync

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pantryware/pantrysync/internal/logging"
	"github.com/pantryware/pantrysync/internal/models"
)

// PendingChange is an incoming push before it has been accepted into the
// change log. KnownBaseVersion is the last version the device observed for
// the entity; zero means the device believes the entity is new.
type PendingChange struct {
	UserID           string
	DeviceID         models.UUID
	EntityType       string
	EntityID         string
	Operation        models.Operation
	Payload          json.RawMessage
	ClientTimestamp  int64
	KnownBaseVersion int
}

// CheckOutcome classifies an incoming change against the change log.
type CheckOutcome int

const (
	// OutcomeAccept means the change builds on the current latest version
	// (or the entity is new) and may be appended.
	OutcomeAccept CheckOutcome = iota
	// OutcomeReplay means the device is re-submitting a change the log
	// already holds; the committed entry is returned instead of appending
	// a duplicate.
	OutcomeReplay
	// OutcomeConflict means another device committed a version the
	// incoming change never observed.
	OutcomeConflict
)

// CheckResult carries the outcome plus the competing or committed entry.
type CheckResult struct {
	Outcome CheckOutcome
	// Latest is the current head entry for the entity key. Nil only when
	// the entity has never been seen.
	Latest *models.ChangeEntry
}

// Detector decides whether an incoming change conflicts with another
// device's committed change. It must run against the same transactional
// view the append uses, so the check and the append are atomic for the
// entity key.
type Detector struct{}

// NewDetector creates a new Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Check compares the incoming change's declared base version against the
// change log head for its entity key.
//
// Rules:
//   - No head: accept (first write wins the name).
//   - Head version equals the declared base: accept.
//   - Head originated from the same device: not divergence. If the payload
//     matches the head it is an idempotent replay of an already-committed
//     push; otherwise the device is simply ahead of its declared base and
//     the change is accepted on top.
//   - Otherwise two devices built on a common earlier version: conflict.
func (d *Detector) Check(ctx context.Context, log ChangeLog, incoming *PendingChange) (*CheckResult, error) {
	latest, err := log.GetLatestVersion(ctx, incoming.UserID, incoming.EntityType, incoming.EntityID)
	if err != nil {
		return nil, err
	}

	if latest == nil {
		return &CheckResult{Outcome: OutcomeAccept}, nil
	}

	if latest.Version == incoming.KnownBaseVersion {
		return &CheckResult{Outcome: OutcomeAccept, Latest: latest}, nil
	}

	if latest.OriginDeviceID == incoming.DeviceID {
		if bytes.Equal(normalizePayload(latest.Payload), normalizePayload(incoming.Payload)) &&
			latest.Operation == incoming.Operation {
			logging.Debug("Same-origin re-submission treated as replay",
				map[string]interface{}{
					"user_id":     incoming.UserID,
					"device_id":   incoming.DeviceID,
					"entity_type": incoming.EntityType,
					"entity_id":   incoming.EntityID,
					"version":     latest.Version,
				})
			return &CheckResult{Outcome: OutcomeReplay, Latest: latest}, nil
		}
		// The device's own write is the head; a stale declared base from
		// the same writer is not divergence.
		return &CheckResult{Outcome: OutcomeAccept, Latest: latest}, nil
	}

	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"user_id":            incoming.UserID,
			"entity_type":        incoming.EntityType,
			"entity_id":          incoming.EntityID,
			"known_base_version": incoming.KnownBaseVersion,
			"head_version":       latest.Version,
			"head_device_id":     latest.OriginDeviceID,
			"incoming_device_id": incoming.DeviceID,
		})
	return &CheckResult{Outcome: OutcomeConflict, Latest: latest}, nil
}

// normalizePayload treats nil and empty-object payloads as equal.
func normalizePayload(p json.RawMessage) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return p
}
