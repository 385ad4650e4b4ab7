package store

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/gundcab/shipsync/internal/models"
)

func seedJobNumbers(t *testing.T, db *gorm.DB, jobNumbers ...string) {
	t.Helper()
	for _, jn := range jobNumbers {
		rec := models.Shipment{JobNumber: jn, JobName: "seed", Status: models.StatusPartialRelease, Version: 1}
		if err := db.Create(&rec).Error; err != nil {
			t.Fatalf("seed %s: %v", jn, err)
		}
	}
}

func TestAllocateJobNumber(t *testing.T) {
	cases := []struct {
		name      string
		existing  []string
		requested string
		want      string
	}{
		{"free identifier returned unchanged", nil, "38465", "38465"},
		{"taken base gets first suffix", []string{"38465"}, "38465", "38465.1"},
		{"suffix continues from max", []string{"38465", "38465.1", "38465.3"}, "38465", "38465.4"},
		{"free base wins even with stray suffixes", []string{"38465.2"}, "38465", "38465"},
		{"unrelated prefixes ignored", []string{"384650", "3846"}, "38465", "38465"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := setupStoreTestDB(t)
			seedJobNumbers(t, db, tc.existing...)
			got, err := allocateJobNumber(db, tc.requested)
			if err != nil {
				t.Fatalf("allocate: %v", err)
			}
			if got != tc.want {
				t.Fatalf("want %s got %s", tc.want, got)
			}
		})
	}
}

func TestCreateAssignsDistinctJobNumbers(t *testing.T) {
	// K creations with the same requested id: one unsuffixed, the rest
	// suffixed .1..(K-1), all distinct.
	s, _ := newTestStore(t)
	const k = 4
	seen := map[string]bool{}
	for i := 0; i < k; i++ {
		rec := mustCreate(t, s, "9000")
		if seen[rec.JobNumber] {
			t.Fatalf("duplicate job number %s", rec.JobNumber)
		}
		seen[rec.JobNumber] = true
	}
	for _, want := range []string{"9000", "9000.1", "9000.2", "9000.3"} {
		if !seen[want] {
			t.Fatalf("missing expected job number %s, got %v", want, seen)
		}
	}
}

func TestCreateRetriesOnceAfterAllocationRace(t *testing.T) {
	s, _ := newTestStore(t)
	attempts := 0
	s.allocHook = func(tx *gorm.DB, candidate string) {
		attempts++
		if attempts > 1 {
			return
		}
		// First attempt only: a competing creation claims the candidate
		// between the read and the insert.
		competitor := models.Shipment{JobNumber: candidate, JobName: "rival", Status: models.StatusPartialRelease, Version: 1}
		if err := tx.Create(&competitor).Error; err != nil {
			t.Fatalf("competing insert: %v", err)
		}
	}

	rec, err := s.Create(context.Background(), CreateInput{JobNumber: "777", JobName: "Racer"}, testActor)
	if err != nil {
		t.Fatalf("create should succeed after one retry: %v", err)
	}
	if rec.JobNumber != "777" {
		t.Fatalf("retry re-reads fresh state, expected 777 got %s", rec.JobNumber)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly one retry, saw %d attempts", attempts)
	}
}

func TestCreateGivesUpAfterRetryBudget(t *testing.T) {
	s, _ := newTestStore(t)
	s.allocHook = func(tx *gorm.DB, candidate string) {
		competitor := models.Shipment{JobNumber: candidate, JobName: "rival", Status: models.StatusPartialRelease, Version: 1}
		if err := tx.Create(&competitor).Error; err != nil {
			t.Fatalf("competing insert: %v", err)
		}
	}

	_, err := s.Create(context.Background(), CreateInput{JobNumber: "888", JobName: "Unlucky"}, testActor)
	if err != ErrAllocationExhausted {
		t.Fatalf("expected ErrAllocationExhausted got %v", err)
	}
	// The record is never partially created.
	var count int64
	if err := s.db.Model(&models.Shipment{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows after exhaustion, got %d", count)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if !isDuplicateKey(gorm.ErrDuplicatedKey) {
		t.Fatal("gorm duplicated key must be retryable")
	}
	if isDuplicateKey(gorm.ErrInvalidTransaction) {
		t.Fatal("unrelated storage errors must not be treated as allocation races")
	}
}
