package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/progress/sinks"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// ProgressSource reads tracked runs.
type ProgressSource interface {
	Runs() []sinks.Run
	Run(id uuid.UUID) (sinks.Run, bool)
}

// ProgressHandler exposes read-only run progress.
type ProgressHandler struct {
	source ProgressSource
	logger *zap.Logger
}

// NewProgressHandler wires the source and logger.
func NewProgressHandler(source ProgressSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{source: source, logger: logger}
}

// ListRuns handles GET /v1/progress?pass=&status=&limit=. It returns
// {"runs": [...]}, most recent first.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking unavailable")
		return
	}
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status sinks.RunStatus
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if status, err = parseStatus(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	pass := strings.TrimSpace(q.Get("pass"))

	out := make([]runDTO, 0, limit)
	for _, run := range h.source.Runs() {
		if len(out) == limit {
			break
		}
		if pass != "" && run.Pass != pass {
			continue
		}
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/progress/{run_id}.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking unavailable")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	run, ok := h.source.Run(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRunLimit, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxRunLimit {
		val = maxRunLimit
	}
	return val, nil
}

func parseStatus(input string) (sinks.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return sinks.RunRunning, nil
	case "success":
		return sinks.RunSuccess, nil
	case "error", "failed", "failure":
		return sinks.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

type runDTO struct {
	RunID        string           `json:"run_id"`
	Pass         string           `json:"pass"`
	Status       string           `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	LastUpdate   time.Time        `json:"last_update"`
	Error        string           `json:"error,omitempty"`
	Outcomes     map[string]int64 `json:"outcomes"`
	BytesTotal   int64            `json:"bytes_total"`
	LastCategory string           `json:"last_category,omitempty"`
}

func toRunDTO(run sinks.Run) runDTO {
	return runDTO{
		RunID:        run.RunID.String(),
		Pass:         run.Pass,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		LastUpdate:   run.LastUpdate,
		Error:        run.Error,
		Outcomes:     run.Outcomes,
		BytesTotal:   run.BytesTotal,
		LastCategory: run.LastCategory,
	}
}
