package models

import (
	"fmt"
	"time"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusNeedsReview Status = "needs_review"
	StatusApproved    Status = "approved"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusNeedsReview, StatusApproved:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Batch is one physical scan run.
type Batch struct {
	Number     string    `json:"batch_number"`
	Date       string    `json:"batch_date"`
	TotalPages int       `json:"total_pages"`
	FolderID   string    `json:"folder_id"`
	FolderName string    `json:"folder_name"`
	CheckIDs   []string  `json:"check_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Page is one single-page PDF cut from a batch.
type Page struct {
	SourceIndex int    `json:"source_index"`
	FileName    string `json:"file_name"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
}

// Check is one logical check and the ordered pages that belong to it.
type Check struct {
	ID           string         `json:"id"`
	BatchNumber  string         `json:"batch_number"`
	CheckNumber  string         `json:"check_number"`
	Suffix       naming.Suffix  `json:"suffix"`
	Status       Status         `json:"status"`
	Pages        []Page         `json:"pages"`
	Amount       *float64       `json:"amount"`
	Payee        string         `json:"payee,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	FolderID     string         `json:"folder_id"`
	MergedURL    string         `json:"merged_pdf_url,omitempty"`
	SyncEnabled  bool           `json:"sync_enabled"`
	ValidatedAt  *time.Time     `json:"validated_at,omitempty"`
	ValidatedBy  string         `json:"validated_by,omitempty"`
	ReviewedAt   *time.Time     `json:"reviewed_at,omitempty"`
	ReviewedBy   string         `json:"reviewed_by,omitempty"`
	SupersedesID string         `json:"supersedes_id,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (c *Check) Name() naming.Name {
	return naming.Name{Batch: c.BatchNumber, CheckNumber: c.CheckNumber, Suffix: c.Suffix}
}

func (c *Check) FileName() string { return c.Name().FileName() }

func (c *Check) PageCount() int { return len(c.Pages) }

// Clone returns a deep copy.
func (c *Check) Clone() *Check {
	out := *c
	out.Pages = append([]Page(nil), c.Pages...)
	if c.Amount != nil {
		a := *c.Amount
		out.Amount = &a
	}
	if c.ValidatedAt != nil {
		v := *c.ValidatedAt
		out.ValidatedAt = &v
	}
	if c.ReviewedAt != nil {
		r := *c.ReviewedAt
		out.ReviewedAt = &r
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
