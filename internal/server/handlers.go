package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/abacus-exp/abacus/internal/health"
	"github.com/abacus-exp/abacus/internal/recommendations"
	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxSnapshotBytes = 10 << 20

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

type ExperimentListItem struct {
	ExperimentID  int64            `json:"experiment_id"`
	Name          string           `json:"name"`
	Platform      schemas.Platform `json:"platform"`
	Status        schemas.Status   `json:"status"`
	StartDatetime time.Time        `json:"start_datetime"`
	EndDatetime   time.Time        `json:"end_datetime"`
}

type RecommendationRow struct {
	MetricAssignmentID int64                            `json:"metric_assignment_id"`
	MetricName         string                           `json:"metric_name"`
	IsPrimary          bool                             `json:"is_primary"`
	VariationDiffKey   string                           `json:"variation_diff_key"`
	Diff               *schemas.DistributionStats       `json:"diff,omitempty"`
	AnalysisDatetime   *time.Time                       `json:"analysis_datetime,omitempty"`
	Recommendations    []recommendations.Recommendation `json:"recommendations"`
	Aggregate          recommendations.Recommendation   `json:"aggregate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountExperiments(r.Context())
	if err != nil {
		slog.Error("health check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: count,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		slog.Error("failed to list experiments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list experiments")
		return
	}

	// Return empty array instead of null
	items := make([]ExperimentListItem, 0, len(experiments))
	for _, e := range experiments {
		items = append(items, ExperimentListItem{
			ExperimentID:  e.ExperimentID,
			Name:          e.Name,
			Platform:      e.Platform,
			Status:        e.Status,
			StartDatetime: e.StartDatetime,
			EndDatetime:   e.EndDatetime,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// experimentID parses the {id} URL param, writing a 400 when it is not a
// positive integer.
func experimentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid experiment id")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "experiment not found")
		return
	}
	slog.Error("store request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	e, err := s.store.GetExperiment(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExperimentHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	snap, err := s.store.GetSnapshot(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health.Assess(&snap.Experiment, snap.Analyses, s.now()))
}

func (s *Server) handleExperimentRecommendations(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	snap, err := s.store.GetSnapshot(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}

	summaries, err := recommendations.SummarizeExperiment(&snap.Experiment, snap.Metrics, snap.Analyses, s.now())
	if err != nil {
		if errors.Is(err, recommendations.ErrInvalidMetricEstimates) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("failed to summarize experiment", "experiment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to summarize experiment")
		return
	}

	rows := make([]RecommendationRow, 0, len(summaries))
	for _, sum := range summaries {
		row := RecommendationRow{
			MetricAssignmentID: sum.MetricAssignment.MetricAssignmentID,
			MetricName:         sum.Metric.Name,
			IsPrimary:          sum.MetricAssignment.IsPrimary,
			VariationDiffKey:   sum.VariationDiffKey,
			Diff:               sum.Diff,
			Recommendations:    sum.Recommendations,
			Aggregate:          sum.Aggregate,
		}
		if !sum.AnalysisDatetime.IsZero() {
			at := sum.AnalysisDatetime
			row.AnalysisDatetime = &at
		}
		if row.Recommendations == nil {
			row.Recommendations = []recommendations.Recommendation{}
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := schemas.DecodeSnapshotJSON(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := snap.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.SaveSnapshot(r.Context(), snap); err != nil {
		slog.Error("failed to save snapshot", "experiment_id", snap.Experiment.ExperimentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}

	slog.Info("imported snapshot",
		"experiment_id", snap.Experiment.ExperimentID,
		"analyses", len(snap.Analyses),
	)
	writeJSON(w, http.StatusCreated, snap.Experiment)
}
