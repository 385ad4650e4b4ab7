package client

import (
	"context"
	"errors"

	"github.com/gundcab/shipsync/internal/models"
)

// ErrConflictAgain means the single automatic merge-retry also hit a version
// conflict. The edit is not retried further; the caller must re-issue it
// against fresh state.
var ErrConflictAgain = errors.New("conflict persisted after retry")

type Decision int

const (
	// KeepMine overwrites the remote value with the local edit.
	KeepMine Decision = iota
	// TakeTheirs discards the local edit and adopts the remote value.
	TakeTheirs
)

// FieldConflict is shown to the human when the exact field being edited was
// also changed by someone else.
type FieldConflict struct {
	Field  string
	Mine   string
	Theirs string
	Record models.Shipment
}

// Chooser asks the human actor to pick a side of a field conflict.
type Chooser interface {
	Choose(ctx context.Context, c FieldConflict) Decision
}

// ChooserFunc adapts a function to the Chooser interface.
type ChooserFunc func(ctx context.Context, c FieldConflict) Decision

func (f ChooserFunc) Choose(ctx context.Context, c FieldConflict) Decision { return f(ctx, c) }

type ResolutionPath string

const (
	// PathCommitted: the first attempt succeeded, no conflict.
	PathCommitted ResolutionPath = "committed"
	// PathMerged: the conflict touched other fields only; the edit was
	// re-applied on top of the authoritative state.
	PathMerged ResolutionPath = "merged"
	// PathOverwrote: the human chose to keep the local value over the
	// competing remote one.
	PathOverwrote ResolutionPath = "overwrote"
	// PathKeptTheirs: the human discarded the local edit.
	PathKeptTheirs ResolutionPath = "kept_theirs"
)

// Outcome reports how an edit landed. Record is the final authoritative
// state either way, so the caller can refresh its view from it.
type Outcome struct {
	Record models.Shipment
	Path   ResolutionPath
}

// Resolver implements the caller side of the optimistic-concurrency
// protocol: try the edit, and on conflict merge or ask before retrying once.
// An edit is never silently lost — it either commits, or the human sees the
// competing value first.
type Resolver struct {
	API     *Client
	Chooser Chooser
}

func NewResolver(api *Client, chooser Chooser) *Resolver {
	return &Resolver{API: api, Chooser: chooser}
}

// Save applies a single-field edit to the record the caller last observed.
//
// On a version conflict it takes the authoritative state carried by the
// conflict response and checks whether the edited field itself changed:
// if not, it merges (keeps the edit, adopts everything else) and retries once
// with the refreshed version; if it did, the Chooser decides. A retry that
// conflicts again returns ErrConflictAgain rather than looping.
func (r *Resolver) Save(ctx context.Context, local models.Shipment, field, value string) (Outcome, error) {
	lastKnown := local.Field(field)

	rec, err := r.API.UpdateShipment(ctx, local.ID, local.Version, map[string]string{field: value})
	if err == nil {
		return Outcome{Record: rec, Path: PathCommitted}, nil
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		return Outcome{}, err
	}

	authoritative := conflict.Current
	if authoritative.ID == 0 {
		// Conflict response without state (older server); fetch explicitly.
		authoritative, err = r.API.GetShipment(ctx, local.ID)
		if err != nil {
			return Outcome{}, err
		}
	}

	path := PathMerged
	if authoritative.Field(field) != lastKnown {
		if r.Chooser == nil {
			return Outcome{Record: authoritative}, &FieldConflictError{Conflict: FieldConflict{
				Field: field, Mine: value, Theirs: authoritative.Field(field), Record: authoritative,
			}}
		}
		decision := r.Chooser.Choose(ctx, FieldConflict{
			Field:  field,
			Mine:   value,
			Theirs: authoritative.Field(field),
			Record: authoritative,
		})
		if decision == TakeTheirs {
			return Outcome{Record: authoritative, Path: PathKeptTheirs}, nil
		}
		path = PathOverwrote
	}

	rec, err = r.API.UpdateShipment(ctx, local.ID, authoritative.Version, map[string]string{field: value})
	if err != nil {
		if errors.As(err, &conflict) {
			return Outcome{}, ErrConflictAgain
		}
		return Outcome{}, err
	}
	return Outcome{Record: rec, Path: path}, nil
}

// FieldConflictError is returned when no Chooser is configured and the human
// must be consulted by the caller itself.
type FieldConflictError struct {
	Conflict FieldConflict
}

func (e *FieldConflictError) Error() string {
	return "field " + e.Conflict.Field + " was modified by another user"
}

// RecoverTimeout decides what happened after an apply call timed out. The
// write may have committed after the timeout fired, so the record is
// re-fetched and the edited field compared before any retry.
func (r *Resolver) RecoverTimeout(ctx context.Context, id uint, field, wanted string) (landed bool, current models.Shipment, err error) {
	current, err = r.API.GetShipment(ctx, id)
	if err != nil {
		return false, models.Shipment{}, err
	}
	return current.Field(field) == wanted, current, nil
}
