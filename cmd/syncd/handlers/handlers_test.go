// Package handlers tests for the sync REST API endpoints.
// These tests verify HTTP request handling, status codes, and responses.
package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/pantryware/pantrysync/internal/db"
	"github.com/pantryware/pantrysync/internal/models"
	syncpkg "github.com/pantryware/pantrysync/internal/sync"
)

// testEnv bundles the handlers over an in-memory store.
type testEnv struct {
	repo      *db.Repository
	coord     *syncpkg.Coordinator
	sync      *SyncHandler
	devices   *DeviceHandler
	conflicts *ConflictHandler
}

// setupTestEnv creates an in-memory database with the sync schema and the
// handler set wired over it.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	testDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	testDB.SetMaxOpenConns(1)
	t.Cleanup(func() { testDB.Close() })

	_, err = testDB.Exec(`
		CREATE TABLE device_registrations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_name TEXT NOT NULL,
			device_type TEXT NOT NULL,
			os_version TEXT NOT NULL DEFAULT '',
			app_version TEXT NOT NULL DEFAULT '',
			registered_at INTEGER NOT NULL,
			last_sync_at INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE change_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			origin_device_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			client_timestamp INTEGER NOT NULL,
			server_timestamp INTEGER NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		);

		CREATE UNIQUE INDEX idx_change_log_entity_version
			ON change_log(user_id, entity_type, entity_id, version);

		CREATE TABLE conflict_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			device1_id TEXT NOT NULL,
			device2_id TEXT NOT NULL,
			server_data TEXT NOT NULL DEFAULT '',
			device1_data TEXT NOT NULL DEFAULT '',
			device2_data TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'unresolved',
			resolution TEXT NOT NULL DEFAULT '',
			resolved_data TEXT NOT NULL DEFAULT '',
			detected_at INTEGER NOT NULL,
			resolved_at INTEGER NOT NULL DEFAULT 0,
			resolved_by TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE sync_queue (
			id TEXT PRIMARY KEY,
			change_entry_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			target_device_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'queued',
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			queued_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX idx_sync_queue_entry_target
			ON sync_queue(change_entry_id, target_device_id);
	`)
	if err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	repo := db.NewRepository(testDB)
	t.Cleanup(func() { repo.Close() })

	coord := syncpkg.NewCoordinator(repo, nil, syncpkg.DefaultCoordinatorConfig())

	return &testEnv{
		repo:      repo,
		coord:     coord,
		sync:      NewSyncHandler(coord, repo),
		devices:   NewDeviceHandler(repo),
		conflicts: NewConflictHandler(coord, repo),
	}
}

// registerDevice registers a device through the handler and returns it.
func registerDevice(t *testing.T, env *testEnv, userID, name string) *models.DeviceRegistration {
	t.Helper()
	body := fmt.Sprintf(`{"user_id":%q,"device_name":%q,"device_type":"mobile"}`, userID, name)
	req := httptest.NewRequest(http.MethodPost, "/sync/devices/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	env.devices.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var device models.DeviceRegistration
	if err := json.NewDecoder(w.Body).Decode(&device); err != nil {
		t.Fatalf("Failed to decode device: %v", err)
	}
	return &device
}

// doPush pushes a change through the handler.
func doPush(t *testing.T, env *testEnv, deviceID models.UUID, entityID string, base int, payload string) (*httptest.ResponseRecorder, *syncpkg.PushResult) {
	t.Helper()
	body := fmt.Sprintf(`{
		"user_id": "user-1",
		"device_id": %q,
		"entity_type": "pantry_item",
		"entity_id": %q,
		"operation": "update",
		"payload": %s,
		"client_timestamp": 1700000000,
		"known_base_version": %d
	}`, deviceID, entityID, payload, base)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	env.sync.Push(w, req)

	if w.Code != http.StatusOK {
		return w, nil
	}
	var result syncpkg.PushResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode push result: %v", err)
	}
	return w, &result
}

func TestPushAccepted(t *testing.T) {
	env := setupTestEnv(t)
	device := registerDevice(t, env, "user-1", "phone")

	w, result := doPush(t, env, device.ID, "item-1", 0, `{"qty":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result.Status != syncpkg.PushAccepted || result.Version != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestPushConflicted(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	laptop := registerDevice(t, env, "user-1", "laptop")

	if _, result := doPush(t, env, phone.ID, "item-1", 0, `{"qty":2}`); result == nil {
		t.Fatal("First push failed")
	}

	w, result := doPush(t, env, laptop.ID, "item-1", 0, `{"qty":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if result.Status != syncpkg.PushConflicted || result.ConflictID == "" {
		t.Errorf("Expected conflicted result with ID, got %+v", result)
	}
}

func TestPushInvalidBody(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	env.sync.Push(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestPushUnknownDevice(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := doPush(t, env, "ghost-device", "item-1", 0, `{}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown device, got %d: %s", w.Code, w.Body.String())
	}

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Code != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND code, got %q", body.Code)
	}
}

func TestPullAndAck(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	laptop := registerDevice(t, env, "user-1", "laptop")

	doPush(t, env, phone.ID, "item-1", 0, `{"qty":1}`)

	url := fmt.Sprintf("/sync/pull?user_id=user-1&device_id=%s", laptop.ID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	env.sync.Pull(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Pull: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var items []*models.QueueItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("Failed to decode items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	ackBody := fmt.Sprintf(`{"queue_item_id":%q}`, items[0].ID)
	req = httptest.NewRequest(http.MethodPost, "/sync/ack", bytes.NewBufferString(ackBody))
	w = httptest.NewRecorder()
	env.sync.Ack(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Ack: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Queue is empty now; the response must be an empty array, not null.
	req = httptest.NewRequest(http.MethodGet, url, nil)
	w = httptest.NewRecorder()
	env.sync.Pull(w, req)
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("Expected empty JSON array, got %q", got)
	}
}

func TestPullMissingParams(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/sync/pull?user_id=user-1", nil)
	w := httptest.NewRecorder()
	env.sync.Pull(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without device_id, got %d", w.Code)
	}
}

func TestAckUnknownItem(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/sync/ack",
		bytes.NewBufferString(`{"queue_item_id":"no-such-item"}`))
	w := httptest.NewRecorder()
	env.sync.Ack(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestChangesEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	laptop := registerDevice(t, env, "user-1", "laptop")

	doPush(t, env, phone.ID, "item-1", 0, `{"qty":1}`)

	url := fmt.Sprintf("/sync/changes?user_id=user-1&device_id=%s&since=0", laptop.ID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	env.sync.Changes(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var entries []*models.ChangeEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode entries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}

	// The origin device's own changes are excluded.
	url = fmt.Sprintf("/sync/changes?user_id=user-1&device_id=%s&since=0", phone.ID)
	req = httptest.NewRequest(http.MethodGet, url, nil)
	w = httptest.NewRecorder()
	env.sync.Changes(w, req)
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("Expected empty array for origin device, got %q", got)
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	registerDevice(t, env, "user-1", "laptop")

	doPush(t, env, phone.ID, "item-1", 0, `{"qty":1}`)

	req := httptest.NewRequest(http.MethodGet, "/sync/queue/stats?user_id=user-1", nil)
	w := httptest.NewRecorder()
	env.sync.QueueStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var stats map[string]int
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats["queued"] != 1 || stats["total"] != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

func TestDeviceRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"user_id":"user-1","device_type":"mobile"}`},
		{"bad type", `{"user_id":"user-1","device_name":"tv","device_type":"toaster"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync/devices/register",
				bytes.NewBufferString(tc.body))
			w := httptest.NewRecorder()
			env.devices.Register(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestDeviceUnregisterAndList(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	registerDevice(t, env, "user-1", "laptop")

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/sync/devices/%s/unregister", phone.ID), nil)
	req.SetPathValue("id", phone.ID.String())
	w := httptest.NewRecorder()
	env.devices.Unregister(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Unregister: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/sync/devices?user_id=user-1", nil)
	w = httptest.NewRecorder()
	env.devices.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("List: expected 200, got %d", w.Code)
	}
	var devices []*models.DeviceRegistration
	if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
		t.Fatalf("Failed to decode devices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("Expected 1 active device, got %d", len(devices))
	}
	if len(devices) == 1 && devices[0].DeviceName != "laptop" {
		t.Errorf("Expected laptop, got %s", devices[0].DeviceName)
	}
}

func TestConflictListAndResolve(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	laptop := registerDevice(t, env, "user-1", "laptop")

	doPush(t, env, phone.ID, "item-1", 0, `{"qty":2}`)
	_, result := doPush(t, env, laptop.ID, "item-1", 0, `{"qty":5}`)
	if result == nil || result.Status != syncpkg.PushConflicted {
		t.Fatalf("Expected conflicted push, got %+v", result)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync/conflicts?user_id=user-1", nil)
	w := httptest.NewRecorder()
	env.conflicts.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("List: expected 200, got %d", w.Code)
	}
	var conflicts []*models.Conflict
	if err := json.NewDecoder(w.Body).Decode(&conflicts); err != nil {
		t.Fatalf("Failed to decode conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
	}

	resolveBody := `{"resolution":"last_write_wins","resolved_by":"user-1"}`
	req = httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/sync/conflicts/%s/resolve", result.ConflictID),
		bytes.NewBufferString(resolveBody))
	req.SetPathValue("id", result.ConflictID.String())
	w = httptest.NewRecorder()
	env.conflicts.Resolve(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Resolve: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	// Single-shot: a second resolve is 404.
	req = httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/sync/conflicts/%s/resolve", result.ConflictID),
		bytes.NewBufferString(resolveBody))
	req.SetPathValue("id", result.ConflictID.String())
	w = httptest.NewRecorder()
	env.conflicts.Resolve(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second resolve, got %d", w.Code)
	}
}

func TestRequeueFailedEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	phone := registerDevice(t, env, "user-1", "phone")
	laptop := registerDevice(t, env, "user-1", "laptop")

	doPush(t, env, phone.ID, "item-1", 0, `{"qty":1}`)

	// Drain the item and fail it past the ceiling.
	url := fmt.Sprintf("/sync/pull?user_id=user-1&device_id=%s", laptop.ID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	env.sync.Pull(w, req)
	var items []*models.QueueItem
	if err := json.NewDecoder(w.Body).Decode(&items); err != nil {
		t.Fatalf("Failed to decode items: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	failBody := fmt.Sprintf(`{"queue_item_id":%q,"error_message":"apply failed"}`, items[0].ID)
	for i := 0; i <= 5; i++ {
		req = httptest.NewRequest(http.MethodPost, "/sync/fail", bytes.NewBufferString(failBody))
		w = httptest.NewRecorder()
		env.sync.Fail(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("Fail %d: expected 204, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	req = httptest.NewRequest(http.MethodPost, "/sync/queue/requeue-failed",
		bytes.NewBufferString(`{"user_id":"user-1"}`))
	w = httptest.NewRecorder()
	env.sync.RequeueFailed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Requeue: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]int
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result["requeued"] != 1 {
		t.Errorf("Expected 1 requeued, got %d", result["requeued"])
	}
}
