package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/claimgraph/engine/domain"
	"github.com/WessleyAI/claimgraph/engine/graph"
	"github.com/WessleyAI/claimgraph/engine/ingest"
	"github.com/WessleyAI/claimgraph/engine/report"
)

// maxBody caps request bodies (fixtures included).
const maxBody = 32 << 20

// api bundles what the HTTP handlers need.
type api struct {
	store    graph.Store
	importer *ingest.Importer
	engine   *report.Engine
	catalog  *report.Catalog
	gauges   *graph.StatsGauges
	log      *slog.Logger
}

// ReportEntry is one element of GET /api/reports.
type ReportEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/reports", a.handleListReports)
	mux.HandleFunc("POST /api/reports", a.handleRunSpec)
	mux.HandleFunc("POST /api/reports/{name}", a.handleRunNamed)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("POST /api/admin/drop", a.handleDrop)
	mux.HandleFunc("POST /api/import", a.handleImport)
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.Stats(r.Context()); err != nil {
		a.log.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleListReports(w http.ResponseWriter, _ *http.Request) {
	specs := a.catalog.List()
	out := make([]ReportEntry, len(specs))
	for i, s := range specs {
		out[i] = ReportEntry{Name: s.Name, Description: s.Description}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleRunNamed(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	spec, ok := a.catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown report "+name)
		return
	}
	a.runReport(w, r, spec)
}

func (a *api) handleRunSpec(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	spec, err := report.ParseSpec(body)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.runReport(w, r, spec)
}

func (a *api) runReport(w http.ResponseWriter, r *http.Request, spec report.Spec) {
	res, err := a.engine.Run(r.Context(), spec)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	var (
		st  graph.Stats
		err error
	)
	if a.gauges != nil {
		st, err = a.gauges.Refresh(r.Context(), a.store)
	} else {
		st, err = a.store.Stats(r.Context())
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) handleDrop(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DropAll(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	a.log.Warn("graph dropped", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

func (a *api) handleImport(w http.ResponseWriter, r *http.Request) {
	fx, err := domain.DecodeFixture(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := a.importer.ImportAll(r.Context(), fx)
	if err != nil {
		// Batches written before the failure stay in the graph; report them.
		writeJSON(w, a.status(err), importFailure{Error: err.Error(), Report: rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type importFailure struct {
	Error  string        `json:"error"`
	Report ingest.Report `json:"report"`
}

// fail maps domain errors to status codes.
func (a *api) fail(w http.ResponseWriter, err error) {
	writeError(w, a.status(err), err.Error())
}

func (a *api) status(err error) int {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		a.log.Error("request failed", "error", err)
	}
	return code
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidReportSpec), errors.Is(err, domain.ErrMalformedRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
