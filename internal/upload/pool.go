package upload

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
)

// File is one upload job.
type File struct {
	ParentID string
	Name     string
	Data     []byte
}

// Uploaded pairs a job with the metadata the store returned.
type Uploaded struct {
	Name string           `json:"name"`
	Meta storage.FileMeta `json:"meta"`
}

type Failure struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Result partitions the jobs. Both lists keep the input order.
type Result struct {
	Successful []Uploaded `json:"successful"`
	Failed     []Failure  `json:"failed"`
}

func (r Result) OK() bool { return len(r.Failed) == 0 }

// RetryPolicy bounds per-file attempts. The wait before attempt n+1 is
// BaseDelay*Factor^(n-1), capped at MaxDelay, plus up to Jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Factor: 2, MaxDelay: 30 * time.Second, Jitter: 200 * time.Millisecond}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
	}
	delay := time.Duration(d)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}

// Pool uploads independent files with bounded concurrency.
type Pool struct {
	store   storage.ObjectStore
	workers int
	retry   RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewPool(store storage.ObjectStore, workers int, retry RetryPolicy) *Pool {
	if workers <= 0 {
		workers = 15
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Factor < 1 {
		retry.Factor = 1
	}
	return &Pool{store: store, workers: workers, retry: retry, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UploadFilesParallel uploads every file and reports which succeeded. It never fails as a
// whole: a file that exhausts its retries lands in Failed.
func (p *Pool) UploadFilesParallel(ctx context.Context, files []File) Result {
	type slot struct {
		meta     storage.FileMeta
		err      error
		attempts int
	}
	slots := make([]slot, len(files))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range files {
		i := i
		g.Go(func() error {
			meta, attempts, err := p.uploadWithRetry(ctx, files[i])
			slots[i] = slot{meta: meta, err: err, attempts: attempts}
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for i, s := range slots {
		if s.err != nil {
			metrics.IncUpload("failed")
			res.Failed = append(res.Failed, Failure{Name: files[i].Name, ParentID: files[i].ParentID, Attempts: s.attempts, Error: s.err.Error()})
			continue
		}
		metrics.IncUpload("success")
		res.Successful = append(res.Successful, Uploaded{Name: files[i].Name, Meta: s.meta})
	}
	log.Info().Int("files", len(files)).Int("successful", len(res.Successful)).Int("failed", len(res.Failed)).Msg("parallel upload complete")
	return res
}

func (p *Pool) uploadWithRetry(ctx context.Context, f File) (storage.FileMeta, int, error) {
	var lastErr error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		meta, err := p.store.UploadFile(ctx, f.ParentID, f.Name, f.Data)
		if err == nil {
			return meta, attempt, nil
		}
		lastErr = err
		if attempt == p.retry.MaxAttempts {
			return storage.FileMeta{}, attempt, lastErr
		}
		wait := p.retry.backoff(attempt)
		log.Warn().Err(err).Str("file", f.Name).Int("attempt", attempt).Dur("backoff", wait).Msg("upload failed; retrying")
		metrics.IncUploadRetry()
		if err := p.sleep(ctx, wait); err != nil {
			return storage.FileMeta{}, attempt, err
		}
	}
	return storage.FileMeta{}, p.retry.MaxAttempts, lastErr
}
