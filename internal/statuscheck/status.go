package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdftest"
)

// Pinger models the minimal capability we need from a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker aggregates health checks for the service's dependencies.
type Checker struct {
	records Pinger
	objects Pinger
	opener  pdfdoc.Opener
	timeout time.Duration
}

type Options struct {
	Records Pinger
	Objects Pinger
	// Opener is probed by rendering a one-page document.
	Opener  pdfdoc.Opener
	Timeout time.Duration
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Summary struct {
	Records Status `json:"records"`
	Storage Status `json:"storage"`
	MuPDF   Status `json:"mupdf"`
}

func (s Summary) Healthy() bool { return s.Records.OK && s.Storage.OK && s.MuPDF.OK }

func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	return &Checker{records: opts.Records, objects: opts.Objects, opener: opts.Opener, timeout: opts.Timeout}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Records: c.ping(ctx, c.records),
		Storage: c.ping(ctx, c.objects),
		MuPDF:   c.checkMuPDF(),
	}
}

func (c *Checker) ping(ctx context.Context, p Pinger) Status {
	if p == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

var probePDF = pdftest.Build("probe")

func (c *Checker) checkMuPDF() Status {
	doc, err := pdfdoc.Open(c.opener, probePDF)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer doc.Close()
	if n := doc.NumPage(); n != 1 {
		return Status{OK: false, Message: fmt.Sprintf("probe opened with %d pages", n)}
	}
	if _, err := doc.Image(0, 18); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
