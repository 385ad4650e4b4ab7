// Package store owns every mutation of shipment records. All writes go
// through the compare-and-swap path: a write is accepted only if the caller's
// expected version still matches the row at commit time, and the audit entry
// is written inside the same transaction as the mutation it documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gundcab/shipsync/internal/hub"
	"github.com/gundcab/shipsync/internal/models"
)

// ErrNotFound reports that the target record does not exist (possibly
// deleted concurrently).
var ErrNotFound = errors.New("shipment not found")

// ErrAllocationExhausted reports that job number allocation could not find a
// free candidate within the retry budget. The record is never partially
// created.
var ErrAllocationExhausted = errors.New("job number allocation exhausted")

// ErrEmptyDelta rejects an update that names no fields.
var ErrEmptyDelta = errors.New("update contains no fields")

// ConflictError is the structured version-mismatch result. It carries the
// authoritative state so the caller can resolve without a second round trip.
// No data is mutated when this is returned.
type ConflictError struct {
	CurrentVersion int
	Current        models.Shipment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: current version is %d", e.CurrentVersion)
}

// Delta is a partial set of field assignments keyed by JSON field name.
// Unspecified fields are untouched.
type Delta map[string]string

// updatableFields are the business attributes an update may change. The job
// number is assigned at creation and immutable afterwards.
var updatableFields = map[string]bool{
	"job_name":       true,
	"week":           true,
	"description":    true,
	"status":         true,
	"qc_release":     true,
	"qc_notes":       true,
	"created":        true,
	"ship_plan":      true,
	"shipped":        true,
	"invoice_number": true,
	"shipping_notes": true,
}

// Actor identifies who performed a mutation, for audit and fan-out.
type Actor struct {
	ID       uint
	Username string
}

// Broadcaster receives one event per accepted mutation. A failed or dropped
// broadcast never affects the committed write.
type Broadcaster interface {
	Broadcast(ev hub.Event)
}

type Store struct {
	db  *gorm.DB
	bus Broadcaster

	// invoked between allocation and insert inside the create transaction;
	// lets tests provoke the allocation race deterministically
	allocHook func(tx *gorm.DB, candidate string)
}

func New(db *gorm.DB, bus Broadcaster) *Store {
	return &Store{db: db, bus: bus}
}

// CreateInput carries the caller-supplied fields for a new record.
type CreateInput struct {
	JobNumber     string `json:"job_number"`
	JobName       string `json:"job_name"`
	Week          string `json:"week"`
	Description   string `json:"description"`
	Status        string `json:"status"`
	QCRelease     string `json:"qc_release"`
	QCNotes       string `json:"qc_notes"`
	Created       string `json:"created"`
	ShipPlan      string `json:"ship_plan"`
	Shipped       string `json:"shipped"`
	InvoiceNumber string `json:"invoice_number"`
	ShippingNotes string `json:"shipping_notes"`
}

// Apply executes a compare-and-swap update. Inside one transaction it
// re-reads the record, distinguishes missing id from stale version, applies
// the delta, increments the version by exactly 1, stamps the modifier, and
// appends the audit entry. On success the accepted delta is fanned out.
func (s *Store) Apply(ctx context.Context, id uint, expectedVersion int, delta Delta, actor Actor) (models.Shipment, error) {
	if len(delta) == 0 {
		return models.Shipment{}, ErrEmptyDelta
	}
	for field := range delta {
		if !updatableFields[field] {
			return models.Shipment{}, fmt.Errorf("unknown field %q", field)
		}
	}

	var updated models.Shipment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.Shipment
		if err := tx.First(&cur, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if cur.Version != expectedVersion {
			return &ConflictError{CurrentVersion: cur.Version, Current: cur}
		}

		assignments := map[string]any{}
		transition := map[string]map[string]string{}
		for field, value := range delta {
			assignments[field] = value
			transition[field] = map[string]string{"old": cur.Field(field), "new": value}
		}
		assignments["version"] = cur.Version + 1
		assignments["last_modified_by"] = actor.ID
		assignments["updated_at"] = time.Now()

		res := tx.Model(&models.Shipment{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(assignments)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			// Row moved under us between the read and the write.
			var latest models.Shipment
			if err := tx.First(&latest, id).Error; err != nil {
				return ErrNotFound
			}
			return &ConflictError{CurrentVersion: latest.Version, Current: latest}
		}
		if err := tx.First(&updated, id).Error; err != nil {
			return err
		}
		return s.appendAudit(tx, actor.ID, "update", id, transition)
	})
	if err != nil {
		return models.Shipment{}, err
	}

	s.notify(hub.Event{Type: hub.EventUpdated, Data: hub.EventData{
		ID:        updated.ID,
		JobNumber: updated.JobNumber,
		Version:   updated.Version,
		Changes:   map[string]string(delta),
		ActionBy:  actor.Username,
	}})
	return updated, nil
}

// Delete captures a full snapshot into the audit trail before removing the
// row, then fans out a deletion notice.
func (s *Store) Delete(ctx context.Context, id uint, actor Actor) error {
	var removed models.Shipment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&removed, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Delete(&models.Shipment{}, id).Error; err != nil {
			return err
		}
		return s.appendAudit(tx, actor.ID, "delete", id, removed.Snapshot())
	})
	if err != nil {
		return err
	}

	s.notify(hub.Event{Type: hub.EventDeleted, Data: hub.EventData{
		ID:        removed.ID,
		JobNumber: removed.JobNumber,
		ActionBy:  actor.Username,
	}})
	return nil
}

// Get returns a single record by id.
func (s *Store) Get(ctx context.Context, id uint) (models.Shipment, error) {
	var rec models.Shipment
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Shipment{}, ErrNotFound
		}
		return models.Shipment{}, err
	}
	return rec, nil
}

// List returns all current records, used by clients for full reloads.
func (s *Store) List(ctx context.Context) ([]models.Shipment, error) {
	var recs []models.Shipment
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// AuditEntry is the read-only view of one audit row.
type AuditEntry struct {
	User      string    `json:"user"`
	Action    string    `json:"action"`
	TableName string    `json:"table_name"`
	RecordID  uint      `json:"record_id"`
	Changes   string    `json:"changes"`
	Timestamp time.Time `json:"timestamp"`
}

// ListAudit returns entries newest-first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []models.AuditLog
	if err := s.db.WithContext(ctx).Order("timestamp desc, id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}

	usernames := map[uint]string{}
	entries := make([]AuditEntry, 0, len(logs))
	for _, l := range logs {
		name, ok := usernames[l.UserID]
		if !ok {
			var u models.User
			if err := s.db.WithContext(ctx).First(&u, l.UserID).Error; err == nil {
				name = u.Username
			} else {
				name = "Unknown"
			}
			usernames[l.UserID] = name
		}
		entries = append(entries, AuditEntry{
			User:      name,
			Action:    l.Action,
			TableName: l.TableName,
			RecordID:  l.RecordID,
			Changes:   l.Changes,
			Timestamp: l.Timestamp,
		})
	}
	return entries, nil
}

func (s *Store) appendAudit(tx *gorm.DB, userID uint, action string, recordID uint, payload any) error {
	changes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&models.AuditLog{
		UserID:    userID,
		Action:    action,
		TableName: "shipments",
		RecordID:  recordID,
		Changes:   string(changes),
		Timestamp: time.Now(),
	}).Error
}

func (s *Store) notify(ev hub.Event) {
	if s.bus != nil {
		s.bus.Broadcast(ev)
	}
}
