package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/gundcab/shipsync/internal/hub"
	"github.com/gundcab/shipsync/internal/models"
)

// Allocation is read-then-decide, not atomic-increment: two concurrent
// creations can compute the same candidate. The uniqueness index catches the
// loser at commit, and the explicit retry loop below re-reads and tries
// again with a short backoff instead of surfacing the raw storage error.
const (
	allocMaxAttempts = 3
	allocBackoffStep = 50 * time.Millisecond
)

type allocOutcome int

const (
	allocCommitted allocOutcome = iota
	allocRetryable
	allocGivenUp
)

// allocateJobNumber returns the requested identifier if free, otherwise the
// requested identifier with the next numeric ".N" suffix. Runs inside the
// creation transaction so the reads see committed state.
func allocateJobNumber(tx *gorm.DB, requested string) (string, error) {
	var existing []string
	err := tx.Model(&models.Shipment{}).
		Where("job_number = ? OR job_number LIKE ?", requested, requested+".%").
		Pluck("job_number", &existing).Error
	if err != nil {
		return "", err
	}

	baseTaken := false
	maxSuffix := 0
	for _, jn := range existing {
		if jn == requested {
			baseTaken = true
			continue
		}
		suffix := strings.TrimPrefix(jn, requested+".")
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSuffix {
			maxSuffix = n
		}
	}
	if !baseTaken {
		return requested, nil
	}
	return fmt.Sprintf("%s.%d", requested, maxSuffix+1), nil
}

// Create allocates a unique job number and inserts the record with version 1,
// writing the audit entry in the same transaction. On an allocation race it
// retries with fresh reads up to the attempt budget before giving up.
func (s *Store) Create(ctx context.Context, in CreateInput, actor Actor) (models.Shipment, error) {
	var created models.Shipment
	for attempt := 1; attempt <= allocMaxAttempts; attempt++ {
		outcome, err := s.tryCreate(ctx, in, actor, &created)
		switch outcome {
		case allocCommitted:
			s.notify(hub.Event{Type: hub.EventCreated, Data: hub.EventData{
				ID:        created.ID,
				JobNumber: created.JobNumber,
				Version:   created.Version,
				ActionBy:  actor.Username,
			}})
			return created, nil
		case allocRetryable:
			select {
			case <-time.After(time.Duration(attempt) * allocBackoffStep):
			case <-ctx.Done():
				return models.Shipment{}, ctx.Err()
			}
		default:
			return models.Shipment{}, err
		}
	}
	return models.Shipment{}, ErrAllocationExhausted
}

func (s *Store) tryCreate(ctx context.Context, in CreateInput, actor Actor, out *models.Shipment) (allocOutcome, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobNumber, err := allocateJobNumber(tx, strings.TrimSpace(in.JobNumber))
		if err != nil {
			return err
		}
		if s.allocHook != nil {
			s.allocHook(tx, jobNumber)
		}
		rec := models.Shipment{
			JobNumber:      jobNumber,
			JobName:        in.JobName,
			Week:           in.Week,
			Description:    in.Description,
			Status:         in.Status,
			QCRelease:      in.QCRelease,
			QCNotes:        in.QCNotes,
			Created:        in.Created,
			ShipPlan:       in.ShipPlan,
			Shipped:        in.Shipped,
			InvoiceNumber:  in.InvoiceNumber,
			ShippingNotes:  in.ShippingNotes,
			CreatedBy:      actor.ID,
			LastModifiedBy: actor.ID,
			Version:        1,
		}
		if rec.Status == "" {
			rec.Status = models.StatusPartialRelease
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		*out = rec
		return s.appendAudit(tx, actor.ID, "create", rec.ID, rec.Snapshot())
	})
	if err == nil {
		return allocCommitted, nil
	}
	if isDuplicateKey(err) {
		return allocRetryable, err
	}
	return allocGivenUp, err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
