// Package app assembles the service's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/classifier"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/config"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/extract"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/ingest"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/merge"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/review"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/segment"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/split"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/statuscheck"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/upload"
)

// App holds the wired services.
type App struct {
	Config  config.Config
	Records records.Store
	Objects storage.ObjectStore
	Pool    *upload.Pool
	Merger  *merge.Merger
	Splits  *split.Coordinator
	Review  *review.Service
	Ingest  *ingest.Pipeline
	Status  *statuscheck.Checker

	closers []func() error
}

// Overrides replaces configured backends, mostly for tests and the CLI.
type Overrides struct {
	Records records.Store
	Objects storage.ObjectStore
	Opener  pdfdoc.Opener
}

// New connects the configured backends and builds every service.
func New(ctx context.Context, cfg config.Config, ov Overrides) (*App, error) {
	a := &App{Config: cfg}

	recs := ov.Records
	if recs == nil {
		r, closer, err := OpenRecords(cfg.Records)
		if err != nil {
			return nil, err
		}
		recs = r
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	objects := ov.Objects
	if objects == nil {
		o, err := OpenObjects(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		objects = o
	}
	opener := ov.Opener
	if opener == nil {
		opener = pdfdoc.FitzOpener{}
	}

	classifiers, err := BuildClassifiers(cfg.Classifier)
	if err != nil {
		a.Close()
		return nil, err
	}
	seg, err := segment.New(segment.Policy(cfg.Segment.Policy), segment.LabelStyle(cfg.Segment.Labels))
	if err != nil {
		a.Close()
		return nil, err
	}
	initial, err := models.ParseStatus(cfg.Review.SplitInitialStatus)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("SPLIT_INITIAL_STATUS: %w", err)
	}

	a.Records = recs
	a.Objects = objects
	a.Pool = upload.NewPool(objects, cfg.Upload.Workers, upload.RetryPolicy{
		MaxAttempts: cfg.Upload.MaxAttempts,
		BaseDelay:   cfg.Upload.BaseDelay,
		Factor:      cfg.Upload.Factor,
		MaxDelay:    cfg.Upload.MaxDelay,
		Jitter:      cfg.Upload.Jitter,
	})
	a.Merger = merge.New(objects, recs, a.Pool, cfg.Merge.Workers)
	a.Splits = split.New(recs, split.Options{InitialStatus: initial})
	a.Review = review.New(recs, a.Merger, review.Options{MergeOnApprove: cfg.Review.MergeOnApprove})
	a.Ingest, err = ingest.New(ingest.Deps{
		Opener:         opener,
		Classifiers:    classifiers,
		Workers:        cfg.Classifier.Workers,
		Segmenter:      seg,
		Extractor:      extract.New(),
		Objects:        objects,
		Records:        recs,
		Pool:           a.Pool,
		BatchWidth:     cfg.Ingest.BatchNumberWidth,
		ParentFolderID: cfg.Ingest.ParentFolderID,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Status = statuscheck.New(statuscheck.Options{
		Records: pinger(recs),
		Objects: pinger(objects),
		Opener:  opener,
	})

	log.Info().
		Str("records", cfg.Records.Backend).
		Str("storage", cfg.Storage.Backend).
		Str("classifier", string(classifiers.Strategy)).
		Str("separator_policy", cfg.Segment.Policy).
		Msg("services wired")
	return a, nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func pinger(v any) statuscheck.Pinger {
	if p, ok := v.(statuscheck.Pinger); ok {
		return p
	}
	return nil
}

// BuildClassifiers constructs the keyword and pixel classifiers, applying the optional
// YAML profile on top of the environment settings.
func BuildClassifiers(cfg config.ClassifierConfig) (classifier.Set, error) {
	strategy, err := classifier.ParseStrategy(cfg.Strategy)
	if err != nil {
		return classifier.Set{}, err
	}
	kw := classifier.DefaultKeywords()
	if cfg.LooseKeywords {
		kw = classifier.LooseKeywords()
	}
	if cfg.KeywordThreshold > 0 {
		kw.Threshold = cfg.KeywordThreshold
	}
	px := classifier.PixelConfig{
		Band: classifier.PinkBand{
			RedMin:   clampByte(cfg.PinkRedMin),
			GreenMax: clampByte(cfg.PinkGreenMax),
			BlueMax:  clampByte(cfg.PinkBlueMax),
		},
		Coverage: cfg.PinkCoverage,
		DPI:      cfg.RenderDPI,
		Stride:   cfg.SampleStride,
	}
	if cfg.Profile != "" {
		kw, px, err = classifier.LoadProfile(cfg.Profile, kw, px)
		if err != nil {
			return classifier.Set{}, err
		}
	}
	k, err := classifier.NewKeyword(kw)
	if err != nil {
		return classifier.Set{}, err
	}
	p, err := classifier.NewPixel(px)
	if err != nil {
		return classifier.Set{}, err
	}
	return classifier.Set{Strategy: strategy, Keyword: k, Pixel: p, TextThreshold: cfg.TextThreshold}, nil
}

func clampByte(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}

// OpenRecords connects the configured record store. The returned closer may be nil.
func OpenRecords(cfg config.RecordsConfig) (records.Store, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return records.NewMemory(), nil, nil
	case "redis", "":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		s := records.NewRedisStoreWithClient(client, cfg.KeyNamespace)
		return s, s.Close, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, errors.New("RECORDS_BACKEND=postgres needs DATABASE_URL")
		}
		s, err := records.OpenGorm(cfg.PostgresDSN, cfg.Debug)
		if err != nil {
			return nil, nil, err
		}
		closer := func() error {
			sqlDB, err := s.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}
		return s, closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown RECORDS_BACKEND %q", cfg.Backend)
	}
}

// OpenObjects builds the configured object store.
func OpenObjects(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "local", "":
		return storage.NewLocal(cfg.LocalRoot)
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:             cfg.Bucket,
			Region:             cfg.Region,
			Endpoint:           cfg.Endpoint,
			AccessKey:          cfg.AccessKey,
			SecretKey:          cfg.SecretKey,
			UsePathStyle:       cfg.UsePathStyle,
			Prefix:             cfg.Prefix,
			EncryptionPassword: cfg.EncryptionPassword,
		})
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend)
	}
}
