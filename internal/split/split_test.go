package split

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
)

func pages(n int) []models.Page {
	out := make([]models.Page, n)
	for i := range out {
		out[i] = models.Page{SourceIndex: 10 + i, FileName: fmt.Sprintf("156-B-%d.pdf", i+1), URL: fmt.Sprintf("mem://p%d", i)}
	}
	return out
}

func seed(t *testing.T, s records.Store, sfx naming.Suffix, n int) *models.Check {
	t.Helper()
	amt := 99.5
	c := &models.Check{
		BatchNumber: "156",
		CheckNumber: "002",
		Suffix:      sfx,
		Status:      models.StatusPending,
		Pages:       pages(n),
		Amount:      &amt,
		Payee:       "Acme Insurance",
		Metadata:    map[string]any{"memo": "x"},
		FolderID:    "folder-b",
		MergedURL:   "mem://merged",
		SyncEnabled: true,
	}
	require.NoError(t, s.InsertCheck(context.Background(), c))
	return c
}

func sourceIndices(ps []models.Page) []int {
	out := make([]int, len(ps))
	for i, p := range ps {
		out[i] = p.SourceIndex
	}
	return out
}

func TestSplitFreshCheck(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)

	res, err := New(s, Options{}).Split(ctx, Request{CheckID: orig.ID, PageIndices: []int{2}})
	require.NoError(t, err)

	assert.Equal(t, "156-002-main.pdf", res.Original.FileName())
	assert.Equal(t, "156-002-2.pdf", res.New.FileName())
	assert.Equal(t, []int{10, 11}, sourceIndices(res.Original.Pages))
	assert.Equal(t, []int{12}, sourceIndices(res.New.Pages))

	stored, err := s.GetCheck(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, naming.Main, stored.Suffix)
	assert.Nil(t, stored.Amount)
	assert.Nil(t, stored.Metadata)
	assert.Empty(t, stored.MergedURL)
	assert.EqualValues(t, 2, stored.Version)

	created, err := s.GetCheck(ctx, res.New.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "folder-b", created.FolderID)
	assert.Equal(t, "Acme Insurance", created.Payee)
	assert.Nil(t, created.Amount)
}

func TestRepeatedSplitsAllocateIncreasingSuffixes(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 4)
	co := New(s, Options{})

	var names []string
	for i := 0; i < 3; i++ {
		res, err := co.Split(ctx, Request{CheckID: orig.ID, PageIndices: []int{0}})
		require.NoError(t, err)
		names = append(names, res.New.FileName())
	}
	assert.Equal(t, []string{"156-002-2.pdf", "156-002-3.pdf", "156-002-4.pdf"}, names)

	_, family, err := records.Family(ctx, s, "156", "002")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"156-002-main.pdf", "156-002-2.pdf", "156-002-3.pdf", "156-002-4.pdf"}, family)

	stored, err := s.GetCheck(ctx, orig.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Pages, 1)
}

func TestSplitNumberedSiblingKeepsItsSuffix(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	seed(t, s, naming.Main, 2)
	two := seed(t, s, naming.Numeric(2), 3)
	seed(t, s, naming.Numeric(5), 2)

	res, err := New(s, Options{}).Split(ctx, Request{CheckID: two.ID, PageIndices: []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "156-002-2.pdf", res.Original.FileName())
	assert.Equal(t, "156-002-6.pdf", res.New.FileName())
	assert.Equal(t, []int{11, 12}, sourceIndices(res.New.Pages))
}

func TestSplitLegacyOneBehavesAsUnsplit(t *testing.T) {
	s := records.NewMemory()
	orig := seed(t, s, naming.Numeric(1), 2)
	res, err := New(s, Options{}).Split(context.Background(), Request{CheckID: orig.ID, PageIndices: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, naming.Main, res.Original.Suffix)
	assert.Equal(t, naming.Numeric(2), res.New.Suffix)
}

func TestSplitPlaceholderOnUnreadableSuffix(t *testing.T) {
	s := records.NewMemory()
	orig := seed(t, s, naming.ResolveSuffix("x-7"), 2)
	res, err := New(s, Options{}).Split(context.Background(), Request{CheckID: orig.ID, PageIndices: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, naming.Placeholder, res.New.Suffix)
	assert.Equal(t, "156-002-SPLIT.pdf", res.New.FileName())
	assert.Equal(t, naming.Placeholder, res.Original.Suffix)
}

func TestSplitRejectsBadSelections(t *testing.T) {
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)
	single := seed(t, s, naming.Numeric(2), 1)
	co := New(s, Options{})

	cases := []struct {
		name    string
		id      string
		indices []int
	}{
		{"empty", orig.ID, nil},
		{"duplicate", orig.ID, []int{1, 1}},
		{"negative", orig.ID, []int{-1}},
		{"past end", orig.ID, []int{3}},
		{"all pages", orig.ID, []int{0, 1, 2}},
		{"single page check", single.ID, []int{0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := co.Split(context.Background(), Request{CheckID: tc.id, PageIndices: tc.indices})
			require.Error(t, err)
			assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
		})
	}

	all, err := s.ListChecks(context.Background(), records.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "nothing inserted")
	stored, _ := s.GetCheck(context.Background(), orig.ID)
	assert.EqualValues(t, 1, stored.Version, "nothing updated")
}

func TestSplitUnknownCheck(t *testing.T) {
	_, err := New(records.NewMemory(), Options{}).Split(context.Background(), Request{CheckID: "missing", PageIndices: []int{0}})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSplitStaleExpectedVersion(t *testing.T) {
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)
	_, err := New(s, Options{}).Split(context.Background(), Request{CheckID: orig.ID, PageIndices: []int{0}, ExpectedVersion: 7})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestSplitRollsBackWhenOriginalUpdateFails(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)
	s.UpdateHook = func(*models.Check) error { return fmt.Errorf("concurrent edit: %w", records.ErrConflict) }

	_, err := New(s, Options{}).Split(ctx, Request{CheckID: orig.ID, PageIndices: []int{2}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.False(t, apperr.IsAlert(err))

	all, err := s.ListChecks(ctx, records.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1, "new check removed")
	assert.Equal(t, orig.ID, all[0].ID)
	assert.Equal(t, naming.None, all[0].Suffix)
	assert.Len(t, all[0].Pages, 3)
}

func TestSplitReportsOrphanWhenRollbackFails(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)
	s.UpdateHook = func(*models.Check) error { return errors.New("connection reset") }
	s.DeleteHook = func(string) error { return errors.New("connection reset") }

	_, err := New(s, Options{}).Split(ctx, Request{CheckID: orig.ID, PageIndices: []int{0}})
	require.Error(t, err)
	assert.True(t, apperr.IsAlert(err))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIntegrity, ae.Kind)
	require.Len(t, ae.Orphaned, 1)
	assert.NotEqual(t, orig.ID, ae.Orphaned[0])

	orphan, err := s.GetCheck(ctx, ae.Orphaned[0])
	require.NoError(t, err)
	assert.Equal(t, "156-002-2.pdf", orphan.FileName())
}

func TestSplitInitialStatusIsConfigurable(t *testing.T) {
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 2)
	res, err := New(s, Options{InitialStatus: models.StatusNeedsReview}).Split(context.Background(), Request{CheckID: orig.ID, PageIndices: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, res.New.Status)
}

func TestUndoApproval(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.Main, 2)
	at := time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)
	orig.Status = models.StatusApproved
	orig.ValidatedAt = &at
	orig.ValidatedBy = "reviewer@example.com"
	require.NoError(t, s.UpdateCheck(ctx, orig))

	co := New(s, Options{})
	dup, err := co.UndoApproval(ctx, orig.ID)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, models.StatusNeedsReview, dup.Status)
	assert.False(t, dup.SyncEnabled)
	assert.Nil(t, dup.ValidatedAt)
	assert.Empty(t, dup.ValidatedBy)
	assert.Equal(t, orig.ID, dup.SupersedesID)
	assert.Equal(t, orig.FileName(), dup.FileName())

	stored, err := s.GetCheck(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.True(t, stored.SyncEnabled)
	assert.Equal(t, orig.Version, stored.Version)

	_, err = co.UndoApproval(ctx, orig.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = co.UndoApproval(ctx, dup.ID)
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err), "copy is not approved")
}

func TestPartitionKeepsOrder(t *testing.T) {
	moved, kept, err := partition(pages(5), []int{3, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 13}, sourceIndices(moved))
	assert.Equal(t, []int{11, 12, 14}, sourceIndices(kept))
}

func TestSplitRejectsApprovedCheck(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	orig := seed(t, s, naming.None, 3)
	at := time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)
	orig.Status = models.StatusApproved
	orig.ValidatedAt = &at
	require.NoError(t, s.UpdateCheck(ctx, orig))

	_, err := New(s, Options{}).Split(ctx, Request{CheckID: orig.ID, PageIndices: []int{2}})
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "undo the approval first")

	stored, err := s.GetCheck(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, naming.None, stored.Suffix)
	assert.Len(t, stored.Pages, 3)
	assert.NotNil(t, stored.Amount)
	assert.Equal(t, orig.Version, stored.Version)

	all, err := s.ListChecks(ctx, records.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSplitRejectsSupersededRecord(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	hist := seed(t, s, naming.None, 3)
	cp := hist.Clone()
	cp.ID = ""
	cp.SupersedesID = hist.ID
	require.NoError(t, s.InsertCheck(ctx, cp))

	co := New(s, Options{})
	_, err := co.Split(ctx, Request{CheckID: hist.ID, PageIndices: []int{0}})
	assert.Equal(t, apperr.KindInput, apperr.KindOf(err))

	stored, err := s.GetCheck(ctx, hist.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Pages, 3)

	res, err := co.Split(ctx, Request{CheckID: cp.ID, PageIndices: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, "156-002-main.pdf", res.Original.FileName())
	assert.Equal(t, "156-002-2.pdf", res.New.FileName())
}

func TestSplitReplansWhenSiblingTakesName(t *testing.T) {
	ctx := context.Background()
	s := records.NewMemory()
	main := seed(t, s, naming.Main, 3)
	two := seed(t, s, naming.Numeric(2), 2)
	co := New(s, Options{})

	nested := false
	s.InsertHook = func(*models.Check) error {
		if nested {
			return nil
		}
		nested = true
		_, err := co.Split(ctx, Request{CheckID: two.ID, PageIndices: []int{1}})
		return err
	}

	res, err := co.Split(ctx, Request{CheckID: main.ID, PageIndices: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, "156-002-4.pdf", res.New.FileName())

	_, names, err := records.Family(ctx, s, "156", "002")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"156-002-main.pdf", "156-002-2.pdf", "156-002-3.pdf", "156-002-4.pdf"}, names)
}
