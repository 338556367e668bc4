// Package records persists Batch and Check rows. Every backend enforces the same optimistic
// version guard on check updates.
package records

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the stored version moved since the caller read it.
	ErrConflict = errors.New("record version conflict")
	ErrExists   = errors.New("record already exists")
	// ErrNameTaken means another record of the family already holds the check's file name.
	ErrNameTaken = errors.New("check file name already taken")
)

// Filter selects checks. Empty fields match everything.
type Filter struct {
	BatchNumber string
	CheckNumber string
	Status      models.Status
}

func (f Filter) Match(c *models.Check) bool {
	if f.BatchNumber != "" && c.BatchNumber != f.BatchNumber {
		return false
	}
	if f.CheckNumber != "" && c.CheckNumber != f.CheckNumber {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

// Store is the record-store capability the core depends on.
type Store interface {
	GetCheck(ctx context.Context, id string) (*models.Check, error)
	// InsertCheck assigns an ID when empty and sets Version to 1. Inserts and updates fail
	// with ErrNameTaken when another record has the same nameKey in the family.
	InsertCheck(ctx context.Context, c *models.Check) error
	// UpdateCheck succeeds only if c.Version equals the stored version. On success c.Version
	// is incremented and UpdatedAt refreshed.
	UpdateCheck(ctx context.Context, c *models.Check) error
	DeleteCheck(ctx context.Context, id string) error
	ListChecks(ctx context.Context, f Filter) ([]*models.Check, error)

	GetBatch(ctx context.Context, number string) (*models.Batch, error)
	// SaveBatch inserts a batch; ErrExists if the number is taken.
	SaveBatch(ctx context.Context, b *models.Batch) error
}

// nameKey is unique within a (batch, check) family. An undo copy shares its file name with
// the record it supersedes, so the superseded ID is part of the key. Placeholders get none.
func nameKey(c *models.Check) (string, bool) {
	if c.Suffix.Kind == naming.KindPlaceholder {
		return "", false
	}
	return c.Suffix.Token() + "|" + c.SupersedesID, true
}

var now = func() time.Time { return time.Now().UTC() }

func prepareInsert(c *models.Check) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	t := now()
	c.Version = 1
	c.CreatedAt = t
	c.UpdatedAt = t
}

// sortChecks orders by family, then creation time.
func sortChecks(cs []*models.Check) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.BatchNumber != b.BatchNumber {
			return a.BatchNumber < b.BatchNumber
		}
		if a.CheckNumber != b.CheckNumber {
			return a.CheckNumber < b.CheckNumber
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Family returns the file names of all active members of a (batch, check) family. Records
// superseded by an undo copy are history and are left out.
func Family(ctx context.Context, s Store, batch, check string) ([]*models.Check, []string, error) {
	cs, err := s.ListChecks(ctx, Filter{BatchNumber: batch, CheckNumber: check})
	if err != nil {
		return nil, nil, err
	}
	superseded := map[string]bool{}
	for _, c := range cs {
		if c.SupersedesID != "" {
			superseded[c.SupersedesID] = true
		}
	}
	active := cs[:0:0]
	names := make([]string, 0, len(cs))
	for _, c := range cs {
		if superseded[c.ID] {
			continue
		}
		active = append(active, c)
		names = append(names, c.FileName())
	}
	return active, names, nil
}

// Stats counts checks per status.
func Stats(ctx context.Context, s Store, f Filter) (map[models.Status]int, error) {
	cs, err := s.ListChecks(ctx, f)
	if err != nil {
		return nil, err
	}
	out := map[models.Status]int{
		models.StatusPending:     0,
		models.StatusNeedsReview: 0,
		models.StatusApproved:    0,
	}
	for _, c := range cs {
		out[c.Status]++
	}
	return out, nil
}
