// Package httpadapter exposes the scan lifecycle over a small JSON API.
package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"argus/internal/domain"
	"argus/internal/ports"
	"argus/internal/services/scanner"
)

type Server struct {
	scanner ports.Scanner
	log     *slog.Logger
}

func New(svc ports.Scanner, log *slog.Logger) *Server {
	return &Server{scanner: svc, log: log}
}

// Routes returns the API router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Post("/scans", s.handleSubmit)
	r.Get("/scans/{id}", s.handleStatus)
	r.Get("/scans/{id}/report", s.handleReport)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	URL string `json:"url"`
}

type scanResponse struct {
	ScanID     string         `json:"scan_id"`
	Input      string         `json:"input"`
	TargetType string         `json:"target_type"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Cached     bool           `json:"cached,omitempty"`
	Score      *int           `json:"score,omitempty"`
	Label      *string        `json:"label,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

type reportResponse struct {
	scanResponse
	Issues []issueResponse `json:"issues"`
}

type issueResponse struct {
	Key         string   `json:"key"`
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Remediation string   `json:"remediation,omitempty"`
	References  []string `json:"references,omitempty"`
}

func toScanResponse(scan domain.Scan, cached bool) scanResponse {
	return scanResponse{
		ScanID:     scan.ID,
		Input:      scan.NormalizedInput,
		TargetType: string(scan.TargetType),
		Status:     string(scan.Status),
		Progress:   scan.Progress,
		Cached:     cached,
		Score:      scan.Score,
		Label:      scan.Label,
		Summary:    scan.Summary,
		Meta:       scan.Meta,
		CreatedAt:  scan.CreatedAt,
		FinishedAt: scan.FinishedAt,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	scan, cached, err := s.scanner.Submit(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, scanner.ErrInvalidTarget) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	status := http.StatusAccepted
	if cached {
		status = http.StatusOK
	}
	writeJSON(w, status, toScanResponse(scan, cached))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scan, err := s.scanner.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, scanner.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.log.Error("status lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(scan, false))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	scan, issues, err := s.scanner.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, scanner.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.log.Error("report lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if scan.Status != domain.ScanDone {
		writeError(w, http.StatusConflict, "scan not finished")
		return
	}
	resp := reportResponse{scanResponse: toScanResponse(scan, false), Issues: make([]issueResponse, 0, len(issues))}
	for _, is := range issues {
		resp.Issues = append(resp.Issues, issueResponse{
			Key:         is.Key,
			Severity:    string(is.Severity),
			Category:    is.Category,
			Title:       is.Title,
			Summary:     is.Summary,
			Remediation: is.Remediation,
			References:  is.References,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
