package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/formsense/formsense/internal/diag"
	"github.com/formsense/formsense/internal/engine"
	"github.com/formsense/formsense/internal/ingest"
	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/report"
)

const (
	// maxFrameBytes bounds a POST /frames body.
	maxFrameBytes = 1 << 20

	defaultTail = 50
	maxTail     = 1000
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	eng      *engine.Engine
	lib      *library.Holder
	rec      *diag.Recorder
	onReport func(*report.Report)
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes. onReport, when non-nil,
// receives every report produced through POST /frames so it reaches the same
// outputs as streamed input.
func New(eng *engine.Engine, lib *library.Holder, rec *diag.Recorder, onReport func(*report.Report)) http.Handler {
	h := &Handler{eng: eng, lib: lib, rec: rec, onReport: onReport, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/exercises", h.listExercises)
	h.mux.HandleFunc("/api/v1/exercises/", h.getExercise) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/frames", h.frames)
	h.mux.HandleFunc("/api/v1/diagnostics", h.diagnostics)
	h.mux.HandleFunc("/api/v1/diagnostics/counts", h.counts)
	h.mux.HandleFunc("/api/v1/sessions/", h.session)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Metrics returns a handler serving rec's counters in Prometheus text format.
func Metrics(rec *diag.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if err := rec.WriteMetrics(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		Status:       "ok",
		SessionCount: h.eng.Sessions(),
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if lib := h.lib.Load(); lib != nil {
		resp.LibraryVersion = lib.Version
		resp.ExerciseCount = len(lib.Exercises())
		resp.SelectableCount = len(lib.Selectable())
	} else {
		resp.Status = "no_library"
	}
	for _, c := range h.rec.Counts() {
		resp.EventCount += c.Total
	}
	jsonResp(w, http.StatusOK, resp)
}

// listExercises returns GET /api/v1/exercises.
func (h *Handler) listExercises(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	lib := h.lib.Load()
	if lib == nil {
		jsonResp(w, http.StatusOK, []ExerciseResponse{})
		return
	}
	exercises := lib.Exercises()
	out := make([]ExerciseResponse, 0, len(exercises))
	for _, ex := range exercises {
		resp := toExerciseResponse(ex)
		resp.Criteria = nil
		out = append(out, resp)
	}
	jsonResp(w, http.StatusOK, out)
}

// getExercise returns GET /api/v1/exercises/{id}.
func (h *Handler) getExercise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/exercises/")
	if id == "" {
		h.listExercises(w, r)
		return
	}
	lib := h.lib.Load()
	if lib == nil {
		jsonErr(w, http.StatusNotFound, "exercise not found")
		return
	}
	ex, ok := lib.Exercise(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "exercise not found")
		return
	}
	jsonResp(w, http.StatusOK, toExerciseResponse(ex))
}

// frames handles POST /api/v1/frames: one frame in, one report out.
func (h *Handler) frames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonErr(w, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	f, err := ingest.Decode(body, engine.DefaultSession)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "decode frame: "+err.Error())
		return
	}

	rep := h.eng.Process(f)
	if h.onReport != nil {
		h.onReport(rep)
	}
	jsonResp(w, http.StatusOK, rep)
}

// diagnostics returns GET /api/v1/diagnostics?session=&n=.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	n := defaultTail
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			jsonErr(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(parsed, maxTail)
	}

	var events []diag.Event
	if session := r.URL.Query().Get("session"); session != "" {
		events = h.rec.TailSession(session, n)
	} else {
		events = h.rec.Tail(n)
	}
	if events == nil {
		events = []diag.Event{}
	}
	jsonResp(w, http.StatusOK, events)
}

// counts returns GET /api/v1/diagnostics/counts.
func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.rec.Counts())
}

// session handles DELETE /api/v1/sessions/{id}.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	if id == "" {
		jsonErr(w, http.StatusBadRequest, "session id required")
		return
	}
	if !h.eng.ResetSession(id) {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toExerciseResponse maps a library exercise to its JSON representation.
func toExerciseResponse(ex *library.Exercise) ExerciseResponse {
	resp := ExerciseResponse{
		ID:          ex.ID,
		Family:      ex.Family,
		Equipment:   ex.Equipment,
		DisplayName: ex.DisplayName,
		Selectable:  ex.Selectable,
		Critical:    append([]string{}, ex.Critical...),
	}
	if resp.DisplayName == "" {
		resp.DisplayName = ex.ID
	}
	for _, c := range ex.Criteria {
		resp.Criteria = append(resp.Criteria, CriterionResponse{
			Name:     c.Name,
			Requires: append([]string{}, c.Requires...),
			Weight:   c.Weight,
			Critical: ex.IsCritical(c.Name),
		})
	}
	return resp
}
