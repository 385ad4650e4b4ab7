package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gundcab/shipsync/internal/hub"
	"github.com/gundcab/shipsync/internal/models"
)

// recordingBus captures fan-out events so tests can assert on them without a
// running hub.
type recordingBus struct {
	events []hub.Event
}

func (b *recordingBus) Broadcast(ev hub.Event) { b.events = append(b.events, ev) }

func setupStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Shipment{}, &models.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	return New(setupStoreTestDB(t), bus), bus
}

var testActor = Actor{ID: 1, Username: "alice"}

func mustCreate(t *testing.T, s *Store, jobNumber string) models.Shipment {
	t.Helper()
	rec, err := s.Create(context.Background(), CreateInput{
		JobNumber: jobNumber,
		JobName:   "Test Job",
		Status:    models.StatusPartialRelease,
	}, testActor)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func TestCreateStartsAtVersionOne(t *testing.T) {
	s, bus := newTestStore(t)
	rec := mustCreate(t, s, "38465")
	if rec.Version != 1 {
		t.Fatalf("expected version 1 got %d", rec.Version)
	}
	if rec.JobNumber != "38465" {
		t.Fatalf("expected requested job number, got %s", rec.JobNumber)
	}
	if rec.CreatedBy != testActor.ID || rec.LastModifiedBy != testActor.ID {
		t.Fatalf("actor not stamped: %+v", rec)
	}
	if len(bus.events) != 1 || bus.events[0].Type != hub.EventCreated {
		t.Fatalf("expected one created event, got %#v", bus.events)
	}
}

func TestApplyIncrementsVersionByOne(t *testing.T) {
	s, _ := newTestStore(t)
	rec := mustCreate(t, s, "100")

	for i := 0; i < 5; i++ {
		updated, err := s.Apply(context.Background(), rec.ID, rec.Version, Delta{"week": fmt.Sprintf("W%d", i)}, testActor)
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if updated.Version != rec.Version+1 {
			t.Fatalf("expected version %d got %d", rec.Version+1, updated.Version)
		}
		rec = updated
	}
	if rec.Version != 6 { // 1 + 5 successful updates
		t.Fatalf("expected version 6 got %d", rec.Version)
	}
}

func TestApplyStaleVersionConflicts(t *testing.T) {
	s, bus := newTestStore(t)
	rec := mustCreate(t, s, "200")

	// First writer wins.
	won, err := s.Apply(context.Background(), rec.ID, 1, Delta{"status": models.StatusFinalRelease}, testActor)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	// Second writer still holds version 1; must get a conflict carrying the
	// state the first write produced, with no mutation.
	_, err = s.Apply(context.Background(), rec.ID, 1, Delta{"invoice_number": "INV-100"}, Actor{ID: 2, Username: "bob"})
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentVersion != won.Version {
		t.Fatalf("expected current version %d got %d", won.Version, conflict.CurrentVersion)
	}
	if conflict.Current.Status != models.StatusFinalRelease {
		t.Fatalf("conflict should carry winner's state, got %+v", conflict.Current)
	}

	cur, err := s.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.InvoiceNumber != "" || cur.Version != 2 {
		t.Fatalf("losing write must not mutate: %+v", cur)
	}
	// create + winning update only
	if len(bus.events) != 2 {
		t.Fatalf("expected 2 events got %d", len(bus.events))
	}
}

func TestApplyNotFoundAndBadDeltas(t *testing.T) {
	s, _ := newTestStore(t)
	rec := mustCreate(t, s, "300")

	if _, err := s.Apply(context.Background(), 9999, 1, Delta{"week": "W1"}, testActor); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := s.Apply(context.Background(), rec.ID, 1, Delta{}, testActor); err != ErrEmptyDelta {
		t.Fatalf("expected ErrEmptyDelta got %v", err)
	}
	if _, err := s.Apply(context.Background(), rec.ID, 1, Delta{"job_number": "999"}, testActor); err == nil {
		t.Fatal("job_number must be immutable through apply")
	}
	if _, err := s.Apply(context.Background(), rec.ID, 1, Delta{"nonsense": "x"}, testActor); err == nil {
		t.Fatal("unknown fields must be rejected")
	}
}

func TestMergeRetryAfterDisjointConflict(t *testing.T) {
	// The worked two-editor scenario: A changes status, B (stale) changes
	// invoice_number; after resolving with the authoritative version, the
	// final state holds both edits.
	s, _ := newTestStore(t)
	rec := mustCreate(t, s, "7")

	a, err := s.Apply(context.Background(), rec.ID, 1, Delta{"status": models.StatusFinalRelease}, testActor)
	if err != nil {
		t.Fatalf("A's apply: %v", err)
	}

	_, err = s.Apply(context.Background(), rec.ID, 1, Delta{"invoice_number": "INV-100"}, Actor{ID: 2, Username: "bob"})
	conflict, ok := err.(*ConflictError)
	if !ok {
		t.Fatalf("expected conflict, got %v", err)
	}

	final, err := s.Apply(context.Background(), rec.ID, conflict.CurrentVersion, Delta{"invoice_number": "INV-100"}, Actor{ID: 2, Username: "bob"})
	if err != nil {
		t.Fatalf("retry with fresh version: %v", err)
	}
	if final.Version != a.Version+1 {
		t.Fatalf("expected version %d got %d", a.Version+1, final.Version)
	}
	if final.Status != models.StatusFinalRelease || final.InvoiceNumber != "INV-100" {
		t.Fatalf("final state must hold both edits: %+v", final)
	}
}

func TestAuditTrailReconstructsTransitions(t *testing.T) {
	s, _ := newTestStore(t)
	db := s.db
	if err := db.Create(&models.User{Username: "alice", Email: "a@x", HashedPassword: "h", Role: "write"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rec := mustCreate(t, s, "400")
	if _, err := s.Apply(context.Background(), rec.ID, 1, Delta{"status": models.StatusRejected}, testActor); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := s.Delete(context.Background(), rec.ID, testActor); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var logs []models.AuditLog
	if err := db.Order("id").Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected exactly one audit entry per mutation, got %d", len(logs))
	}

	if logs[0].Action != "create" || logs[1].Action != "update" || logs[2].Action != "delete" {
		t.Fatalf("unexpected actions: %+v", logs)
	}

	// Update payload carries old -> new per field.
	var transition map[string]map[string]string
	if err := json.Unmarshal([]byte(logs[1].Changes), &transition); err != nil {
		t.Fatalf("decode update payload: %v", err)
	}
	if transition["status"]["old"] != models.StatusPartialRelease || transition["status"]["new"] != models.StatusRejected {
		t.Fatalf("transition not reconstructable: %#v", transition)
	}

	// Delete payload is a full snapshot.
	var snapshot map[string]string
	if err := json.Unmarshal([]byte(logs[2].Changes), &snapshot); err != nil {
		t.Fatalf("decode delete payload: %v", err)
	}
	if snapshot["job_number"] != "400" || snapshot["status"] != models.StatusRejected {
		t.Fatalf("delete snapshot incomplete: %#v", snapshot)
	}

	entries, err := s.ListAudit(context.Background(), 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries got %d", len(entries))
	}
	// Newest first, with the actor resolved to a username.
	if entries[0].Action != "delete" || entries[0].User != "alice" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestDeleteNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Delete(context.Background(), 42, testActor); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestUpdateEventCarriesDeltaAndActor(t *testing.T) {
	s, bus := newTestStore(t)
	rec := mustCreate(t, s, "500")

	if _, err := s.Apply(context.Background(), rec.ID, 1, Delta{"shipping_notes": "dock 4"}, Actor{ID: 7, Username: "carol"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ev := bus.events[len(bus.events)-1]
	if ev.Type != hub.EventUpdated {
		t.Fatalf("expected updated event got %s", ev.Type)
	}
	if ev.Data.ActionBy != "carol" || ev.Data.Changes["shipping_notes"] != "dock 4" || ev.Data.Version != 2 {
		t.Fatalf("event payload incomplete: %+v", ev.Data)
	}
}
