// Package conflict provides resolution policies for multi-device sync
// conflicts. Policies are pluggable; the engine only requires that a policy
// be deterministic given the two competing payloads and idempotent if
// re-run.
package conflict

import (
	"encoding/json"

	"github.com/pantryware/pantrysync/internal/logging"
	"github.com/pantryware/pantrysync/internal/models"
)

// Policy names.
const (
	PolicyLastWriteWins = "last_write_wins"
	PolicyManual        = "manual"
)

// Policy resolves a recorded conflict into the payload that should win.
type Policy interface {
	// Name is the policy identifier stored on the resolved conflict.
	Name() string

	// Resolve returns the winning payload for the conflict. It must be a
	// pure function of the conflict record.
	Resolve(c *models.Conflict) (json.RawMessage, error)
}

// Errors
var (
	ErrInvalidConflict  = &Error{Message: "invalid conflict: both competing payloads must be present"}
	ErrManualDataNeeded = &Error{Message: "manual resolution requires resolved data"}
)

// Error represents a conflict resolution error.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// LastWriteWins selects the later server-observed write. Server order is
// the only clock compared: device1 is the entry the coordinator committed
// first, device2 the one it observed second, so device2's payload wins and
// device1's is preserved verbatim on the conflict record for manual
// override.
type LastWriteWins struct{}

// NewLastWriteWins creates the default policy.
func NewLastWriteWins() *LastWriteWins {
	return &LastWriteWins{}
}

// Name implements Policy.
func (*LastWriteWins) Name() string {
	return PolicyLastWriteWins
}

// Resolve implements Policy.
func (*LastWriteWins) Resolve(c *models.Conflict) (json.RawMessage, error) {
	if len(c.Device1Data) == 0 || len(c.Device2Data) == 0 {
		return nil, ErrInvalidConflict
	}

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"conflict_id": c.ID,
			"entity_type": c.EntityType,
			"entity_id":   c.EntityID,
			"winner":      "device2",
			"loser":       "device1",
		})

	return c.Device2Data, nil
}

// Manual never resolves automatically: the caller must supply the merged
// payload. Resolve exists so the policy registry can validate the name.
type Manual struct{}

// NewManual creates the manual policy.
func NewManual() *Manual {
	return &Manual{}
}

// Name implements Policy.
func (*Manual) Name() string {
	return PolicyManual
}

// Resolve implements Policy. It always fails; manual resolution carries
// its payload in the resolve request.
func (*Manual) Resolve(c *models.Conflict) (json.RawMessage, error) {
	return nil, ErrManualDataNeeded
}

// Registry maps policy names to implementations.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry creates a registry with the default policies installed.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]Policy)}
	r.Register(NewLastWriteWins())
	r.Register(NewManual())
	return r
}

// Register installs or replaces a policy.
func (r *Registry) Register(p Policy) {
	r.policies[p.Name()] = p
}

// Get returns the named policy, or nil if unknown.
func (r *Registry) Get(name string) Policy {
	return r.policies[name]
}
