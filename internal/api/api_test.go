package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/app"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/config"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/ingest"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdftest"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
)

const sep = "AUTOMATIC SEPARATOR SORT INDEX FOUNDATION"

var batchTexts = []string{"check one front", "check one back", sep, sep, "check two", sep, "check three front", "check three back"}

type textDoc struct{ texts []string }

func (d textDoc) NumPage() int               { return len(d.texts) }
func (d textDoc) Text(i int) (string, error) { return d.texts[i], nil }
func (d textDoc) Image(int, float64) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}
func (d textDoc) Close() error { return nil }

// textOpener serves batchTexts for batch uploads and a single page for anything else.
type textOpener struct{}

func (textOpener) Open(data []byte) (pdfdoc.Doc, error) {
	ids, err := pdftest.PageIDs(data)
	if err != nil {
		return nil, err
	}
	if len(ids) == len(batchTexts) {
		return textDoc{texts: batchTexts}, nil
	}
	return textDoc{texts: make([]string, len(ids))}, nil
}

type env struct {
	srv     *httptest.Server
	app     *app.App
	objects *storage.Memory
}

func newEnv(t *testing.T) env {
	t.Helper()
	t.Setenv("RECORDS_BACKEND", "memory")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("CLASSIFIER_STRATEGY", "keyword")
	t.Setenv("UPLOAD_MAX_ATTEMPTS", "1")
	objects := storage.NewMemory()
	a, err := app.New(context.Background(), config.FromEnv(), app.Overrides{Objects: objects, Opener: textOpener{}})
	require.NoError(t, err)
	s := New(Dependencies{
		Ingest:  a.Ingest,
		Records: a.Records,
		Splits:  a.Splits,
		Review:  a.Review,
		Merger:  a.Merger,
		Status:  a.Status,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return env{srv: srv, app: a, objects: objects}
}

func upload(t *testing.T, url string, pdf []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("pdf_file", "scan.pdf")
	require.NoError(t, err)
	_, err = fw.Write(pdf)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type checkJSON struct {
	ID           string         `json:"id"`
	FileName     string         `json:"file_name"`
	PageCount    int            `json:"page_count"`
	Status       string         `json:"status"`
	Version      int64          `json:"version"`
	MergedURL    string         `json:"merged_pdf_url"`
	ValidatedBy  string         `json:"validated_by"`
	ReviewedBy   string         `json:"reviewed_by"`
	Amount       *float64       `json:"amount"`
	SupersedesID string         `json:"supersedes_id"`
	Metadata     map[string]any `json:"metadata"`
}

type errorJSON struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Alert   bool   `json:"alert"`
	} `json:"error"`
}

func ingestBatch(t *testing.T, e env) ingest.Result {
	t.Helper()
	resp := upload(t, e.srv.URL+"/api/batches", pdftest.Build(batchTexts...), map[string]string{"batch_number": "156", "batch_date": "2025-10-01"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var res ingest.Result
	decode(t, resp, &res)
	require.Len(t, res.Checks, 3)
	return res
}

func TestIngestAndList(t *testing.T) {
	e := newEnv(t)
	res := ingestBatch(t, e)
	assert.Equal(t, ingest.StatusSuccess, res.Status)

	var list struct {
		BatchNumber string      `json:"batch_number"`
		Checks      []checkJSON `json:"checks"`
	}
	decode(t, get(t, e.srv.URL+"/api/batches/156/checks"), &list)
	assert.Equal(t, "0000156", list.BatchNumber)
	require.Len(t, list.Checks, 3)
	assert.Equal(t, "0000156-001.pdf", list.Checks[0].FileName)
	assert.Equal(t, 2, list.Checks[0].PageCount)

	again := upload(t, e.srv.URL+"/api/batches", pdftest.Build(batchTexts...), map[string]string{"batch_number": "0156", "batch_date": "2025-10-01"})
	var existing ingest.Result
	decode(t, again, &existing)
	assert.Equal(t, http.StatusOK, again.StatusCode)
	assert.True(t, existing.Existing)
}

func TestIngestPartialFailure(t *testing.T) {
	e := newEnv(t)
	e.objects.UploadHook = func(_, name string) error {
		if strings.HasSuffix(name, "-B-1.pdf") {
			return assert.AnError
		}
		return nil
	}
	resp := upload(t, e.srv.URL+"/api/batches", pdftest.Build(batchTexts...), map[string]string{"batch_number": "7", "batch_date": "2025-10-01"})
	var res ingest.Result
	decode(t, resp, &res)
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Equal(t, ingest.StatusPartial, res.Status)
	assert.Len(t, res.Checks, 2)
}

func TestIngestRejectsNonPDF(t *testing.T) {
	e := newEnv(t)
	resp := upload(t, e.srv.URL+"/api/batches", []byte("hello"), map[string]string{"batch_number": "1", "batch_date": "2025-10-01"})
	var body errorJSON
	decode(t, resp, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "input", body.Error.Kind)
	assert.False(t, body.Error.Alert)
	assert.Empty(t, e.objects.Files())
}

func TestAnalyze(t *testing.T) {
	e := newEnv(t)
	resp := upload(t, e.srv.URL+"/api/batches/analyze", pdftest.Build(batchTexts...), nil)
	var an ingest.Analysis
	decode(t, resp, &an)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int{2, 3, 5}, an.Separators)
	assert.Len(t, an.Ranges, 3)
	assert.Empty(t, e.objects.Files())
}

func TestSplitApproveUndo(t *testing.T) {
	e := newEnv(t)
	res := ingestBatch(t, e)
	c3 := res.Checks[2].ID

	resp := postJSON(t, e.srv.URL+"/api/checks/"+c3+"/split", map[string]any{"page_indices": []int{1}})
	var split struct {
		Original checkJSON `json:"original"`
		New      checkJSON `json:"new"`
	}
	decode(t, resp, &split)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "0000156-003-main.pdf", split.Original.FileName)
	assert.Equal(t, "0000156-003-2.pdf", split.New.FileName)
	assert.Equal(t, 1, split.New.PageCount)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+split.New.ID+"/approve", map[string]any{"validated_by": "reviewer@example.com"})
	var approved struct {
		Check checkJSON `json:"check"`
		Merge struct {
			Reused bool `json:"reused"`
		} `json:"merge"`
	}
	decode(t, resp, &approved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", approved.Check.Status)
	assert.Equal(t, "reviewer@example.com", approved.Check.ValidatedBy)
	assert.True(t, approved.Merge.Reused)
	assert.NotEmpty(t, approved.Check.MergedURL)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+split.New.ID+"/undo-approval", nil)
	var reopened checkJSON
	decode(t, resp, &reopened)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "needs_review", reopened.Status)
	assert.Equal(t, split.New.ID, reopened.SupersedesID)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+split.New.ID+"/undo-approval", nil)
	var conflict errorJSON
	decode(t, resp, &conflict)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", conflict.Error.Kind)
}

func TestSaveThenApproveSplitCheck(t *testing.T) {
	e := newEnv(t)
	res := ingestBatch(t, e)
	c1 := res.Checks[0].ID

	resp := postJSON(t, e.srv.URL+"/api/checks/"+c1+"/split", map[string]any{"page_indices": []int{1}})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+c1+"/save", map[string]any{"reviewed_by": "clerk@example.com", "amount": 88.4})
	var saved checkJSON
	decode(t, resp, &saved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", saved.Status)
	assert.Equal(t, "clerk@example.com", saved.ReviewedBy)
	require.NotNil(t, saved.Amount)
	assert.Equal(t, 88.4, *saved.Amount)
	assert.Empty(t, saved.ValidatedBy)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+c1+"/approve", map[string]any{"validated_by": "lead@example.com"})
	var approved struct {
		Check checkJSON `json:"check"`
	}
	decode(t, resp, &approved)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, approved.Check.Amount)
	assert.Equal(t, 88.4, *approved.Check.Amount)

	for _, route := range []string{"/save", "/split"} {
		resp = postJSON(t, e.srv.URL+"/api/checks/"+c1+route, map[string]any{"payee": "x", "page_indices": []int{0}})
		var body errorJSON
		decode(t, resp, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, route)
		assert.Equal(t, "input", body.Error.Kind, route)
	}
}

func TestSplitErrors(t *testing.T) {
	e := newEnv(t)
	res := ingestBatch(t, e)
	c1 := res.Checks[0].ID

	cases := []struct {
		name   string
		id     string
		body   any
		status int
		kind   string
	}{
		{"stale version", c1, map[string]any{"page_indices": []int{1}, "expected_version": 5}, http.StatusConflict, "conflict"},
		{"all pages", c1, map[string]any{"page_indices": []int{0, 1}}, http.StatusBadRequest, "input"},
		{"unknown check", "nope", map[string]any{"page_indices": []int{0}}, http.StatusNotFound, "not_found"},
		{"bad json", c1, "{", http.StatusBadRequest, "input"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp *http.Response
			if s, ok := tc.body.(string); ok {
				r, err := http.Post(e.srv.URL+"/api/checks/"+tc.id+"/split", "application/json", strings.NewReader(s))
				require.NoError(t, err)
				resp = r
			} else {
				resp = postJSON(t, e.srv.URL+"/api/checks/"+tc.id+"/split", tc.body)
			}
			var body errorJSON
			decode(t, resp, &body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.kind, body.Error.Kind)
		})
	}
}

func TestMergeNeedsReviewAndStats(t *testing.T) {
	e := newEnv(t)
	res := ingestBatch(t, e)

	resp := postJSON(t, e.srv.URL+"/api/checks/"+res.Checks[0].ID+"/merge", nil)
	var merged struct {
		Check checkJSON `json:"check"`
		Merge struct {
			Pages    int    `json:"pages"`
			Location string `json:"location"`
		} `json:"merge"`
	}
	decode(t, resp, &merged)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, merged.Merge.Pages)
	assert.Equal(t, merged.Merge.Location, merged.Check.MergedURL)

	resp = postJSON(t, e.srv.URL+"/api/checks/"+res.Checks[1].ID+"/needs-review", map[string]any{"reason": "amount unreadable"})
	var flagged checkJSON
	decode(t, resp, &flagged)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "needs_review", flagged.Status)
	assert.Equal(t, "amount unreadable", flagged.Metadata["review_reason"])

	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	decode(t, get(t, e.srv.URL+"/api/stats?batch_number=156"), &stats)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"pending": 2, "needs_review": 1, "approved": 0}, stats.ByStatus)

	resp = get(t, e.srv.URL+"/api/stats?status=archived")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMigrateLegacyRoute(t *testing.T) {
	e := newEnv(t)
	resp := postJSON(t, e.srv.URL+"/api/batches/156/migrate-legacy", nil)
	var out struct {
		BatchNumber string `json:"batch_number"`
	}
	decode(t, resp, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0000156", out.BatchNumber)

	resp = postJSON(t, e.srv.URL+"/api/batches/abc/migrate-legacy", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := get(t, e.srv.URL+"/health")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var detail map[string]struct {
		OK bool `json:"ok"`
	}
	resp = get(t, e.srv.URL+"/health/detail")
	decode(t, resp, &detail)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, detail["records"].OK)
	assert.True(t, detail["mupdf"].OK)

	resp = get(t, e.srv.URL+"/api/checks/missing")
	var body errorJSON
	decode(t, resp, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body.Error.Kind)
}

func TestErrorStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusMultiStatus, statusFor("partial_failure"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("integrity"))
	assert.Equal(t, http.StatusInternalServerError, statusFor("internal"))
}
