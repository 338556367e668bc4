// Package split moves pages of one check into a new sibling check and keeps the family's
// suffixes consistent across both writes.
package split

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
)

type Request struct {
	CheckID     string `json:"check_id"`
	PageIndices []int  `json:"page_indices"`
	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64 `json:"expected_version"`
}

type Result struct {
	Original   *models.Check     `json:"original"`
	New        *models.Check     `json:"new"`
	Transition naming.Transition `json:"-"`
}

type Options struct {
	// InitialStatus is given to checks created by a split. Defaults to pending.
	InitialStatus models.Status
}

const maxPlanAttempts = 3

type Coordinator struct {
	store   records.Store
	initial models.Status
}

func New(store records.Store, opts Options) *Coordinator {
	if opts.InitialStatus == "" {
		opts.InitialStatus = models.StatusPending
	}
	return &Coordinator{store: store, initial: opts.InitialStatus}
}

// partition returns the selected pages and the rest, both in their original order.
func partition(pages []models.Page, indices []int) (moved, kept []models.Page, err error) {
	n := len(pages)
	if n < 2 {
		return nil, nil, fmt.Errorf("check has %d page(s); at least 2 are needed to split", n)
	}
	if len(indices) == 0 {
		return nil, nil, errors.New("no pages selected")
	}
	selected := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n {
			return nil, nil, fmt.Errorf("page index %d outside [0,%d)", i, n)
		}
		if selected[i] {
			return nil, nil, fmt.Errorf("page index %d selected twice", i)
		}
		selected[i] = true
	}
	if len(selected) == n {
		return nil, nil, errors.New("cannot move every page; at least one must stay")
	}
	for i, p := range pages {
		if selected[i] {
			moved = append(moved, p)
		} else {
			kept = append(kept, p)
		}
	}
	return moved, kept, nil
}

func containsID(cs []*models.Check, id string) bool {
	for _, c := range cs {
		if c.ID == id {
			return true
		}
	}
	return false
}

func loadErr(op, id string, err error) error {
	if errors.Is(err, records.ErrNotFound) {
		return apperr.NotFound(op, "check "+id, err)
	}
	return apperr.Internal(op, "load check", err)
}

// Split moves the selected pages of a check into a new check of the same family. The new
// check is inserted first; if updating the original then fails the insert is undone, and a
// failed undo is reported as an integrity error naming the orphaned record.
func (c *Coordinator) Split(ctx context.Context, req Request) (*Result, error) {
	const op = "split"
	orig, err := c.store.GetCheck(ctx, req.CheckID)
	if err != nil {
		return nil, loadErr(op, req.CheckID, err)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != orig.Version {
		metrics.IncSplit("conflict")
		return nil, apperr.Conflict(op, fmt.Sprintf("check %s is at version %d, not %d", orig.ID, orig.Version, req.ExpectedVersion), records.ErrConflict)
	}
	if orig.Status == models.StatusApproved {
		metrics.IncSplit("invalid")
		return nil, apperr.Input(op, "check %s is approved; undo the approval first", orig.ID)
	}

	moved, kept, err := partition(orig.Pages, req.PageIndices)
	if err != nil {
		metrics.IncSplit("invalid")
		return nil, apperr.Input(op, "%s", err.Error())
	}

	logger := log.With().Str("check_id", orig.ID).Str("family", orig.Name().Family()).Logger()

	var (
		tr      naming.Transition
		created *models.Check
		tx      txLog
	)
	for attempt := 1; ; attempt++ {
		active, family, err := records.Family(ctx, c.store, orig.BatchNumber, orig.CheckNumber)
		if err != nil {
			return nil, apperr.Internal(op, "list family", err)
		}
		if !containsID(active, orig.ID) {
			metrics.IncSplit("invalid")
			return nil, apperr.Input(op, "check %s was reopened and is kept as history; split the review copy", orig.ID)
		}
		tr = naming.PlanSplit(orig.Suffix, family, orig.BatchNumber, orig.CheckNumber)
		created = &models.Check{
			ID:          uuid.NewString(),
			BatchNumber: orig.BatchNumber,
			CheckNumber: orig.CheckNumber,
			Suffix:      tr.New,
			Status:      c.initial,
			Pages:       moved,
			Payee:       orig.Payee,
			FolderID:    orig.FolderID,
			SyncEnabled: orig.SyncEnabled,
		}
		err = tx.run(ctx, step{
			name:    "insert_new_check",
			created: created.ID,
			do:      func(ctx context.Context) error { return c.store.InsertCheck(ctx, created) },
			undo:    func(ctx context.Context) error { return c.store.DeleteCheck(ctx, created.ID) },
		})
		if err == nil {
			break
		}
		// A sibling split took the planned name between listing and inserting.
		if errors.Is(err, records.ErrNameTaken) && attempt < maxPlanAttempts {
			logger.Debug().Str("name", created.FileName()).Int("attempt", attempt).Msg("planned name taken; replanning")
			continue
		}
		if errors.Is(err, records.ErrNameTaken) {
			metrics.IncSplit("conflict")
			return nil, apperr.Conflict(op, "family changed while splitting", err)
		}
		metrics.IncSplit("failed")
		return nil, apperr.Internal(op, "insert new check", err)
	}

	updated := orig.Clone()
	updated.Pages = kept
	updated.Suffix = tr.Original
	updated.Amount = nil
	updated.Metadata = nil
	updated.MergedURL = ""

	err = tx.run(ctx, step{
		name: "update_original",
		do:   func(ctx context.Context) error { return c.store.UpdateCheck(ctx, updated) },
	})
	if err != nil {
		orphaned, rbErr := tx.rollback(ctx)
		if rbErr != nil {
			metrics.IncSplit("orphaned")
			metrics.IncOrphaned(len(orphaned))
			logger.Error().Err(err).Bool("orphaned_record", true).Strs("orphaned_ids", orphaned).
				Msg("split rollback failed; record store needs repair")
			return nil, apperr.Integrity(op, "update of original failed and new check could not be removed",
				errors.Join(err, rbErr), orphaned...)
		}
		switch {
		case errors.Is(err, records.ErrConflict), errors.Is(err, records.ErrNameTaken):
			metrics.IncSplit("conflict")
			return nil, apperr.Conflict(op, "check changed while splitting", err)
		case errors.Is(err, records.ErrNotFound):
			metrics.IncSplit("failed")
			return nil, apperr.NotFound(op, "check "+orig.ID, err)
		default:
			metrics.IncSplit("failed")
			return nil, apperr.Internal(op, "update original", err)
		}
	}

	metrics.IncSplit("success")
	logger.Info().Str("original", updated.FileName()).Str("new", created.FileName()).
		Int("moved", len(moved)).Int("kept", len(kept)).Msg("check split")
	return &Result{Original: updated, New: created, Transition: tr}, nil
}

// UndoApproval reopens an approved check by inserting a review copy of it with sync
// disabled. The approved record itself is not modified. A check can be reopened once.
func (c *Coordinator) UndoApproval(ctx context.Context, checkID string) (*models.Check, error) {
	const op = "undo_approval"
	orig, err := c.store.GetCheck(ctx, checkID)
	if err != nil {
		return nil, loadErr(op, checkID, err)
	}
	if orig.Status != models.StatusApproved {
		return nil, apperr.Input(op, "check %s is %s, not approved", orig.ID, orig.Status)
	}
	siblings, err := c.store.ListChecks(ctx, records.Filter{BatchNumber: orig.BatchNumber, CheckNumber: orig.CheckNumber})
	if err != nil {
		return nil, apperr.Internal(op, "list family", err)
	}
	for _, other := range siblings {
		if other.SupersedesID == orig.ID {
			return nil, apperr.Conflict(op, fmt.Sprintf("check %s already reopened as %s", orig.ID, other.ID), nil)
		}
	}
	dup := orig.Clone()
	dup.ID = ""
	dup.Status = models.StatusNeedsReview
	dup.SyncEnabled = false
	dup.ValidatedAt = nil
	dup.ValidatedBy = ""
	dup.SupersedesID = orig.ID
	dup.CreatedAt = time.Time{}
	if err := c.store.InsertCheck(ctx, dup); err != nil {
		if errors.Is(err, records.ErrNameTaken) {
			return nil, apperr.Conflict(op, fmt.Sprintf("check %s was reopened concurrently", orig.ID), err)
		}
		return nil, apperr.Internal(op, "insert review copy", err)
	}
	log.Info().Str("check_id", orig.ID).Str("copy_id", dup.ID).Str("file", dup.FileName()).Msg("approval undone")
	return dup, nil
}
