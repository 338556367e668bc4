package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
)

type checkRow struct {
	ID           string  `gorm:"primaryKey"`
	BatchNumber  string  `gorm:"index:idx_family;uniqueIndex:idx_family_name,priority:1"`
	CheckNumber  string  `gorm:"index:idx_family;uniqueIndex:idx_family_name,priority:2"`
	NameKey      *string `gorm:"uniqueIndex:idx_family_name,priority:3"`
	Suffix       string
	FileName     string
	Status       string `gorm:"index"`
	PageCount    int
	Pages        datatypes.JSON
	Amount       *float64
	Payee        string
	Metadata     datatypes.JSON
	FolderID     string
	MergedPDFURL string `gorm:"column:merged_pdf_url"`
	SyncEnabled  bool
	ValidatedAt  *time.Time
	ValidatedBy  string
	ReviewedAt   *time.Time
	ReviewedBy   string
	SupersedesID string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (checkRow) TableName() string { return "checks" }

type batchRow struct {
	Number     string `gorm:"primaryKey"`
	Date       string
	TotalPages int
	FolderID   string
	FolderName string
	CheckIDs   datatypes.JSON
	CreatedAt  time.Time
}

func (batchRow) TableName() string { return "batches" }

func toRow(c *models.Check) (checkRow, error) {
	pages, err := json.Marshal(c.Pages)
	if err != nil {
		return checkRow{}, err
	}
	meta := []byte("null")
	if c.Metadata != nil {
		if meta, err = json.Marshal(c.Metadata); err != nil {
			return checkRow{}, err
		}
	}
	// NULL keys are distinct in the unique index, which leaves placeholders unconstrained.
	var key *string
	if k, ok := nameKey(c); ok {
		key = &k
	}
	return checkRow{
		ID:           c.ID,
		NameKey:      key,
		BatchNumber:  c.BatchNumber,
		CheckNumber:  c.CheckNumber,
		Suffix:       c.Suffix.Token(),
		FileName:     c.FileName(),
		Status:       string(c.Status),
		PageCount:    c.PageCount(),
		Pages:        datatypes.JSON(pages),
		Amount:       c.Amount,
		Payee:        c.Payee,
		Metadata:     datatypes.JSON(meta),
		FolderID:     c.FolderID,
		MergedPDFURL: c.MergedURL,
		SyncEnabled:  c.SyncEnabled,
		ValidatedAt:  c.ValidatedAt,
		ValidatedBy:  c.ValidatedBy,
		ReviewedAt:   c.ReviewedAt,
		ReviewedBy:   c.ReviewedBy,
		SupersedesID: c.SupersedesID,
		Version:      c.Version,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

func fromRow(r checkRow) (*models.Check, error) {
	c := &models.Check{
		ID:           r.ID,
		BatchNumber:  r.BatchNumber,
		CheckNumber:  r.CheckNumber,
		Suffix:       naming.ResolveSuffix(r.Suffix),
		Status:       models.Status(r.Status),
		Amount:       r.Amount,
		Payee:        r.Payee,
		FolderID:     r.FolderID,
		MergedURL:    r.MergedPDFURL,
		SyncEnabled:  r.SyncEnabled,
		ValidatedAt:  r.ValidatedAt,
		ValidatedBy:  r.ValidatedBy,
		ReviewedAt:   r.ReviewedAt,
		ReviewedBy:   r.ReviewedBy,
		SupersedesID: r.SupersedesID,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.Pages) > 0 {
		if err := json.Unmarshal(r.Pages, &c.Pages); err != nil {
			return nil, fmt.Errorf("decode pages of %s: %w", r.ID, err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
	}
	return c, nil
}

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to Postgres and migrates the checks and batches tables.
func OpenGorm(dsn string, debug bool) (*GormStore, error) {
	return openGorm(postgres.Open(dsn), debug)
}

func openGorm(dialector gorm.Dialector, debug bool) (*GormStore, error) {
	cfg := &gorm.Config{TranslateError: true, Logger: logger.Default.LogMode(logger.Silent)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	s := NewGormStore(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&checkRow{}, &batchRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) GetCheck(ctx context.Context, id string) (*models.Check, error) {
	var r checkRow
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return fromRow(r)
}

func (s *GormStore) InsertCheck(ctx context.Context, c *models.Check) error {
	row := c.Clone()
	prepareInsert(row)
	r, err := toRow(row)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(&r).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var n int64
		if cerr := s.db.WithContext(ctx).Model(&checkRow{}).Where("id = ?", row.ID).Count(&n).Error; cerr != nil {
			return cerr
		}
		if n > 0 {
			return fmt.Errorf("check %s: %w", row.ID, ErrExists)
		}
		return fmt.Errorf("%s: %w", row.FileName(), ErrNameTaken)
	}
	if err != nil {
		return err
	}
	c.ID, c.Version, c.CreatedAt, c.UpdatedAt = row.ID, row.Version, row.CreatedAt, row.UpdatedAt
	return nil
}

// UpdateCheck is a single conditional UPDATE; zero rows affected means the row is gone or
// its version moved.
func (s *GormStore) UpdateCheck(ctx context.Context, c *models.Check) error {
	next := c.Clone()
	next.Version = c.Version + 1
	next.UpdatedAt = now()
	r, err := toRow(next)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&checkRow{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Omit("id", "created_at").
		Select("*").
		Updates(&r)
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", next.FileName(), ErrNameTaken)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&checkRow{}).Where("id = ?", c.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("check %s: %w", c.ID, ErrNotFound)
		}
		return fmt.Errorf("check %s moved past version %d: %w", c.ID, c.Version, ErrConflict)
	}
	c.Version, c.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (s *GormStore) DeleteCheck(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&checkRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("check %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) ListChecks(ctx context.Context, f Filter) ([]*models.Check, error) {
	q := s.db.WithContext(ctx).Model(&checkRow{})
	if f.BatchNumber != "" {
		q = q.Where("batch_number = ?", f.BatchNumber)
	}
	if f.CheckNumber != "" {
		q = q.Where("check_number = ?", f.CheckNumber)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	var rows []checkRow
	if err := q.Order("batch_number, check_number, created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Check, 0, len(rows))
	for _, r := range rows {
		c, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *GormStore) GetBatch(ctx context.Context, number string) (*models.Batch, error) {
	var r batchRow
	err := s.db.WithContext(ctx).First(&r, "number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("batch %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b := &models.Batch{
		Number:     r.Number,
		Date:       r.Date,
		TotalPages: r.TotalPages,
		FolderID:   r.FolderID,
		FolderName: r.FolderName,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.CheckIDs) > 0 {
		if err := json.Unmarshal(r.CheckIDs, &b.CheckIDs); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", number, err)
		}
	}
	return b, nil
}

func (s *GormStore) SaveBatch(ctx context.Context, b *models.Batch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	ids, err := json.Marshal(b.CheckIDs)
	if err != nil {
		return err
	}
	r := batchRow{
		Number:     b.Number,
		Date:       b.Date,
		TotalPages: b.TotalPages,
		FolderID:   b.FolderID,
		FolderName: b.FolderName,
		CheckIDs:   datatypes.JSON(ids),
		CreatedAt:  b.CreatedAt,
	}
	err = s.db.WithContext(ctx).Create(&r).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("batch %s: %w", b.Number, ErrExists)
	}
	return err
}
