package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abacus-exp/abacus/internal/health"
	"github.com/abacus-exp/abacus/internal/recommendations"
	"github.com/abacus-exp/abacus/internal/schemas"
	"github.com/abacus-exp/abacus/internal/server"
	"github.com/abacus-exp/abacus/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *server.Server {
	t.Helper()
	s := testutil.SetupTestStore(t)
	require.NoError(t, s.SaveSnapshot(context.Background(), testutil.Snapshot()))

	srv := server.New(s, 0, "")
	srv.SetClock(func() time.Time { return testutil.ExperimentStart.AddDate(0, 0, 20) })
	return srv
}

func authed(srv *server.Server, method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+srv.Token())
	return req
}

func serve(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp server.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.ExperimentsCount)
}

func TestAuth(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/api/experiments", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/experiments", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(srv, req).Code)

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/experiments?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A valid query token sets the cookie for later requests.
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/api/experiments?token="+srv.Token(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)

	req = httptest.NewRequest(http.MethodGet, "/api/experiments", nil)
	req.AddCookie(cookies[0])
	assert.Equal(t, http.StatusOK, serve(srv, req).Code)
}

func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return &buf
}

func TestRequestLogging(t *testing.T) {
	srv := setupServer(t)

	logs := captureLogs(t, slog.LevelInfo)
	serve(srv, httptest.NewRequest(http.MethodGet, "/api/experiments?token="+srv.Token(), nil))

	out := logs.String()
	assert.Contains(t, out, "msg=request")
	assert.Contains(t, out, "method=GET")
	assert.Contains(t, out, "path=/api/experiments")
	assert.Contains(t, out, "status=200")
	assert.NotContains(t, out, srv.Token())

	quiet := captureLogs(t, slog.LevelWarn)
	serve(srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, quiet.String())
}

func TestListExperiments(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, authed(srv, http.MethodGet, "/api/experiments", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var items []server.ExperimentListItem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "explat_test", items[0].Name)
	assert.Equal(t, schemas.StatusRunning, items[0].Status)
}

func TestGetExperiment(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, authed(srv, http.MethodGet, "/api/experiments/1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var e schemas.Experiment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	assert.Equal(t, *testutil.Experiment(), e)

	assert.Equal(t, http.StatusNotFound, serve(srv, authed(srv, http.MethodGet, "/api/experiments/42", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(srv, authed(srv, http.MethodGet, "/api/experiments/abc", nil)).Code)
}

func TestExperimentHealth(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, authed(srv, http.MethodGet, "/api/experiments/1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		ExperimentIndicators []struct {
			Name       string            `json:"name"`
			Value      schemas.Real      `json:"value"`
			Indication health.Indication `json:"indication"`
		} `json:"experiment_indicators"`
		ParticipantIndicators []struct {
			Name       string            `json:"name"`
			Indication health.Indication `json:"indication"`
		} `json:"participant_indicators"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))

	require.Len(t, body.ExperimentIndicators, 1)
	assert.Equal(t, "Experiment run time", body.ExperimentIndicators[0].Name)
	assert.Equal(t, 20.0, float64(body.ExperimentIndicators[0].Value))
	assert.NotEmpty(t, body.ParticipantIndicators)
	for _, ind := range body.ParticipantIndicators {
		assert.Equal(t, health.CodeNominal, ind.Indication.Code, ind.Name)
	}

	assert.Equal(t, http.StatusNotFound, serve(srv, authed(srv, http.MethodGet, "/api/experiments/42/health", nil)).Code)
}

func TestExperimentRecommendations(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, authed(srv, http.MethodGet, "/api/experiments/1/recommendations", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var rows []server.RecommendationRow
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rows))
	require.Len(t, rows, 2)

	primary := rows[0]
	assert.True(t, primary.IsPrimary)
	assert.Equal(t, "signup_conversion", primary.MetricName)
	assert.Len(t, primary.Recommendations, 5)
	assert.Equal(t, recommendations.DecisionVariantWins, primary.Aggregate.Decision)
	require.NotNil(t, primary.Aggregate.ChosenVariationID)
	assert.Equal(t, testutil.TreatmentVariationID, *primary.Aggregate.ChosenVariationID)
	require.NotNil(t, primary.AnalysisDatetime)

	secondary := rows[1]
	assert.Empty(t, secondary.Recommendations)
	assert.Nil(t, secondary.AnalysisDatetime)
	assert.Equal(t, recommendations.DecisionMissingAnalysis, secondary.Aggregate.Decision)
}

func TestImportSnapshot(t *testing.T) {
	srv := setupServer(t)

	snap := testutil.Snapshot()
	snap.Experiment.ExperimentID = 2
	snap.Experiment.Name = "explat_imported"
	body, err := json.Marshal(snap)
	require.NoError(t, err)

	w := serve(srv, authed(srv, http.MethodPost, "/api/experiments", body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(srv, authed(srv, http.MethodGet, "/api/experiments/2", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestImportSnapshot_Invalid(t *testing.T) {
	srv := setupServer(t)

	w := serve(srv, authed(srv, http.MethodPost, "/api/experiments", []byte(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	snap := testutil.Snapshot()
	snap.Experiment.Variations[1].AllocatedPercentage = 90
	body, err := json.Marshal(snap)
	require.NoError(t, err)

	w = serve(srv, authed(srv, http.MethodPost, "/api/experiments", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "max_total_allocation")
}

func TestExperimentRecommendations_InvalidEstimates(t *testing.T) {
	srv := setupServer(t)

	snap := testutil.Snapshot()
	snap.Experiment.ExperimentID = 3
	snap.Experiment.Name = "explat_broken"
	snap.Analyses[0].MetricEstimates = testutil.Estimates(0.05, 0.02)
	body, err := json.Marshal(snap)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, serve(srv, authed(srv, http.MethodPost, "/api/experiments", body)).Code)

	w := serve(srv, authed(srv, http.MethodGet, "/api/experiments/3/recommendations", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
