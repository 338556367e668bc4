// Package api exposes ingestion, review and split operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/ingest"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/merge"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/review"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/split"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/statuscheck"
)

type Dependencies struct {
	Ingest  *ingest.Pipeline
	Records records.Store
	Splits  *split.Coordinator
	Review  *review.Service
	Merger  *merge.Merger
	Status  *statuscheck.Checker
	// MaxUploadBytes caps multipart bodies. Zero means 200 MiB.
	MaxUploadBytes int64
	BatchWidth     int
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 200 << 20
	}
	if deps.BatchWidth <= 0 {
		deps.BatchWidth = 7
	}
	return &Server{deps: deps}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /health/detail", s.handleHealthDetail)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/batches", s.handleIngest)
	mux.HandleFunc("POST /api/batches/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/batches/{batch}/checks", s.handleBatchChecks)
	mux.HandleFunc("POST /api/batches/{batch}/migrate-legacy", s.handleMigrateLegacy)
	mux.HandleFunc("GET /api/checks/{id}", s.handleGetCheck)
	mux.HandleFunc("POST /api/checks/{id}/split", s.handleSplit)
	mux.HandleFunc("POST /api/checks/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/checks/{id}/save", s.handleSave)
	mux.HandleFunc("POST /api/checks/{id}/needs-review", s.handleNeedsReview)
	mux.HandleFunc("POST /api/checks/{id}/undo-approval", s.handleUndoApproval)
	mux.HandleFunc("POST /api/checks/{id}/merge", s.handleMerge)
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

// Handler returns the routes wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	h := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		ev := hlog.FromRequest(r).Info()
		if status >= 500 {
			ev = hlog.FromRequest(r).Error()
		}
		ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("duration", d).Msg("request")
	})(mux)
	return hlog.NewHandler(log.Logger)(h)
}

// checkView adds the derived name fields to a check.
type checkView struct {
	*models.Check
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
}

func view(c *models.Check) *checkView {
	if c == nil {
		return nil
	}
	return &checkView{Check: c, FileName: c.FileName(), PageCount: c.PageCount()}
}

func views(cs []*models.Check) []*checkView {
	out := make([]*checkView, 0, len(cs))
	for _, c := range cs {
		out = append(out, view(c))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind     apperr.Kind      `json:"kind"`
	Message  string           `json:"message"`
	Alert    bool             `json:"alert"`
	Failed   []apperr.Failure `json:"failed,omitempty"`
	Orphaned []string         `json:"orphaned_ids,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	body := errorBody{Kind: kind, Message: err.Error(), Alert: apperr.IsAlert(err)}
	if e, ok := apperr.As(err); ok {
		body.Failed = e.Failed
		body.Orphaned = e.Orphaned
		if e.Message != "" && kind != apperr.KindInternal {
			body.Message = e.Message
		}
	}
	status := statusFor(kind)
	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = hlog.FromRequest(r).Error()
	default:
		ev = hlog.FromRequest(r).Warn()
	}
	ev.Err(err).Str("kind", string(kind)).Bool("alert", body.Alert).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// decodeJSON reads an optional JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Input("decode", "invalid json: %v", err)
	}
	return nil
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		return nil, "", apperr.Input("upload", "invalid multipart form: %v", err)
	}
	file, hdr, err := r.FormFile("pdf_file")
	if err != nil {
		return nil, "", apperr.Input("upload", "missing pdf_file")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", apperr.Input("upload", "read pdf_file: %v", err)
	}
	return data, hdr.Filename, nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, name, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Ingest.Process(r.Context(), ingest.Request{
		PDF:            data,
		FileName:       name,
		BatchNumber:    r.FormValue("batch_number"),
		BatchDate:      r.FormValue("batch_date"),
		ParentFolderID: r.FormValue("parent_folder_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	switch {
	case res.Existing:
		status = http.StatusOK
	case res.Status == ingest.StatusPartial:
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	an, err := s.deps.Ingest.Analyze(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

func (s *Server) batchParam(r *http.Request) (string, error) {
	b, err := ingest.NormalizeBatchNumber(r.PathValue("batch"), s.deps.BatchWidth)
	if err != nil {
		return "", apperr.Input("batch", "%s", err.Error())
	}
	return b, nil
}

func (s *Server) filter(r *http.Request) (records.Filter, error) {
	f := records.Filter{CheckNumber: r.URL.Query().Get("check_number")}
	if st := r.URL.Query().Get("status"); st != "" {
		parsed, err := models.ParseStatus(st)
		if err != nil {
			return f, apperr.Input("filter", "%s", err.Error())
		}
		f.Status = parsed
	}
	return f, nil
}

func (s *Server) handleBatchChecks(w http.ResponseWriter, r *http.Request) {
	batch, err := s.batchParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.filter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f.BatchNumber = batch
	cs, err := s.deps.Records.ListChecks(r.Context(), f)
	if err != nil {
		writeError(w, r, apperr.Internal("list_checks", "list checks", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_number": batch, "checks": views(cs)})
}

func (s *Server) handleMigrateLegacy(w http.ResponseWriter, r *http.Request) {
	batch, err := s.batchParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	renamed, err := s.deps.Splits.MigrateLegacy(r.Context(), batch)
	if err != nil && apperr.KindOf(err) != apperr.KindPartial {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"batch_number": batch, "renamed": renamed})
}

func (s *Server) loadCheck(r *http.Request) (*models.Check, error) {
	id := r.PathValue("id")
	c, err := s.deps.Records.GetCheck(r.Context(), id)
	switch {
	case errors.Is(err, records.ErrNotFound):
		return nil, apperr.NotFound("get_check", "check "+id, err)
	case err != nil:
		return nil, apperr.Internal("get_check", "load check "+id, err)
	}
	return c, nil
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	c, err := s.loadCheck(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(c))
}

type splitReq struct {
	PageIndices     []int `json:"page_indices"`
	ExpectedVersion int64 `json:"expected_version"`
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	var req splitReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Splits.Split(r.Context(), split.Request{
		CheckID:         r.PathValue("id"),
		PageIndices:     req.PageIndices,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"original": view(res.Original),
		"new":      view(res.New),
		"message":  fmt.Sprintf("moved %d page(s) to %s", res.New.PageCount(), res.New.FileName()),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req review.ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Review.Approve(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"check": view(res.Check), "merge": res.Merge})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req review.SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.deps.Review.Save(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(c))
}

func (s *Server) handleNeedsReview(w http.ResponseWriter, r *http.Request) {
	var req review.FlagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.deps.Review.NeedsReview(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(c))
}

func (s *Server) handleUndoApproval(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Splits.UndoApproval(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view(c))
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	c, err := s.loadCheck(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Merger.MergeForDownstream(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{"check": view(c), "merge": res})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	f, err := s.filter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if b := r.URL.Query().Get("batch_number"); b != "" {
		if f.BatchNumber, err = ingest.NormalizeBatchNumber(b, s.deps.BatchWidth); err != nil {
			writeError(w, r, apperr.Input("stats", "%s", err.Error()))
			return
		}
	}
	counts, err := records.Stats(r.Context(), s.deps.Records, f)
	if err != nil {
		writeError(w, r, apperr.Internal("stats", "count checks", err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_number": f.BatchNumber, "total": total, "by_status": counts})
}

func (s *Server) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unknown"})
		return
	}
	sum := s.deps.Status.Summary(r.Context())
	status := http.StatusOK
	if !sum.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sum)
}
