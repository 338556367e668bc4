// Package review moves checks through the reviewer workflow: approval, which hands a merged
// PDF downstream, and flagging for a second look.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/merge"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
)

const (
	UnknownReviewer = "unknown"
	ReasonKey       = "review_reason"
)

type ApproveRequest struct {
	ValidatedBy     string         `json:"validated_by"`
	Amount          *float64       `json:"amount,omitempty"`
	Payee           *string        `json:"payee,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type ApproveResult struct {
	Check *models.Check `json:"check"`
	Merge *merge.Result `json:"merge,omitempty"`
}

// SaveRequest carries reviewer edits that are stored without approving the check.
type SaveRequest struct {
	ReviewedBy      string         `json:"reviewed_by"`
	Amount          *float64       `json:"amount,omitempty"`
	Payee           *string        `json:"payee,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type FlagRequest struct {
	Reason          string `json:"reason"`
	By              string `json:"by"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type Options struct {
	// MergeOnApprove builds the downstream PDF before the status flips to approved.
	MergeOnApprove bool
}

type Service struct {
	store  records.Store
	merger *merge.Merger
	opts   Options
	now    func() time.Time
}

func New(store records.Store, merger *merge.Merger, opts Options) *Service {
	return &Service{store: store, merger: merger, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) load(ctx context.Context, op, id string, expected int64) (*models.Check, error) {
	c, err := s.store.GetCheck(ctx, id)
	if errors.Is(err, records.ErrNotFound) {
		return nil, apperr.NotFound(op, "check "+id, err)
	}
	if err != nil {
		return nil, apperr.Internal(op, "load check", err)
	}
	if expected != 0 && expected != c.Version {
		return nil, apperr.Conflict(op, "check was modified by someone else", records.ErrConflict)
	}
	return c, nil
}

func (s *Service) save(ctx context.Context, op string, c *models.Check) error {
	err := s.store.UpdateCheck(ctx, c)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, records.ErrConflict):
		return apperr.Conflict(op, "check was modified by someone else", err)
	case errors.Is(err, records.ErrNotFound):
		return apperr.NotFound(op, "check "+c.ID, err)
	default:
		return apperr.Internal(op, "save check", err)
	}
}

// Approve merges the check's pages (when enabled), applies the reviewer's field edits and
// marks it approved. A failed merge leaves the check unapproved.
func (s *Service) Approve(ctx context.Context, id string, req ApproveRequest) (*ApproveResult, error) {
	const op = "approve"
	c, err := s.load(ctx, op, id, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusApproved {
		return nil, apperr.Input(op, "check %s is already approved", id)
	}

	out := &ApproveResult{}
	if s.opts.MergeOnApprove && s.merger != nil {
		mr, err := s.merger.MergeForDownstream(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(mr.Failed) > 0 {
			log.Warn().Str("check_id", id).Int("skipped_pages", len(mr.Failed)).Msg("approved with incomplete merge")
		}
		out.Merge = mr
	}

	applyEdits(c, req.Amount, req.Payee, req.Metadata)
	by := req.ValidatedBy
	if by == "" {
		by = UnknownReviewer
	}
	at := s.now()
	c.Status = models.StatusApproved
	c.ValidatedAt = &at
	c.ValidatedBy = by
	delete(c.Metadata, ReasonKey)

	if err := s.save(ctx, op, c); err != nil {
		return nil, err
	}
	log.Info().Str("check_id", id).Str("file", c.FileName()).Str("validated_by", by).Msg("check approved")
	out.Check = c
	return out, nil
}

func applyEdits(c *models.Check, amount *float64, payee *string, meta map[string]any) {
	if amount != nil {
		a := *amount
		c.Amount = &a
	}
	if payee != nil {
		c.Payee = *payee
	}
	if len(meta) > 0 {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		for k, v := range meta {
			c.Metadata[k] = v
		}
	}
}

// Save stores reviewer edits and who made them. The status and the validation stamp are
// left alone, so a check can be worked on over several sittings before it is approved.
func (s *Service) Save(ctx context.Context, id string, req SaveRequest) (*models.Check, error) {
	const op = "save"
	if req.Amount == nil && req.Payee == nil && len(req.Metadata) == 0 {
		return nil, apperr.Input(op, "no fields to save")
	}
	c, err := s.load(ctx, op, id, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusApproved {
		return nil, apperr.Input(op, "check %s is approved; undo the approval to edit it", id)
	}
	applyEdits(c, req.Amount, req.Payee, req.Metadata)
	by := req.ReviewedBy
	if by == "" {
		by = UnknownReviewer
	}
	at := s.now()
	c.ReviewedAt = &at
	c.ReviewedBy = by
	if err := s.save(ctx, op, c); err != nil {
		return nil, err
	}
	log.Info().Str("check_id", id).Str("reviewed_by", by).Msg("check saved")
	return c, nil
}

// NeedsReview flags a check for another look and records the reason in its metadata.
func (s *Service) NeedsReview(ctx context.Context, id string, req FlagRequest) (*models.Check, error) {
	const op = "needs_review"
	c, err := s.load(ctx, op, id, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if c.Status == models.StatusApproved {
		return nil, apperr.Input(op, "check %s is approved; undo the approval instead", id)
	}
	reason := req.Reason
	if reason == "" {
		reason = "No reason provided"
	}
	c.Status = models.StatusNeedsReview
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[ReasonKey] = reason
	if err := s.save(ctx, op, c); err != nil {
		return nil, err
	}
	log.Info().Str("check_id", id).Str("by", req.By).Str("reason", reason).Msg("check flagged for review")
	return c, nil
}
