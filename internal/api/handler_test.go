package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/domain"
	"github.com/ignite/conversion-sync/internal/service/pipeline"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, req pipeline.RunRequest) (*domain.PipelineReport, error) {
	args := m.Called(ctx, req)
	rep, _ := args.Get(0).(*domain.PipelineReport)
	return rep, args.Error(1)
}

func (m *mockRunner) Get(ctx context.Context, id string) (*domain.PipelineReport, error) {
	args := m.Called(ctx, id)
	rep, _ := args.Get(0).(*domain.PipelineReport)
	return rep, args.Error(1)
}

func (m *mockRunner) List(ctx context.Context, limit int) ([]domain.PipelineReport, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]domain.PipelineReport)
	return runs, args.Error(1)
}

func newServer(t *testing.T, runner Runner) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(SetupRoutes(NewHandler(runner), []string{"http://localhost:5173"}))
	t.Cleanup(srv.Close)
	return srv
}

func sampleReport(id string) *domain.PipelineReport {
	started := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	return &domain.PipelineReport{
		RunID:         id,
		Source:        "analytics.ads.conv",
		Target:        "1234567890",
		Status:        domain.RunCompleted,
		Rows:          2,
		AcceptedCount: 2,
		Errors:        []domain.RecordError{},
		Chunks:        1,
		StartedAt:     started,
		FinishedAt:    started.Add(2 * time.Second),
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func postRun(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHandleRunSuccess(t *testing.T) {
	runner := &mockRunner{}
	req := pipeline.RunRequest{ProjectID: "analytics", DatasetID: "ads", TableName: "conv"}
	runner.On("Run", mock.Anything, req).Return(sampleReport("run-1"), nil)

	resp := postRun(t, newServer(t, runner), `{"project_id":"analytics","dataset_id":"ads","table_name":"conv"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(2000), body["duration_ms"])
	runner.AssertExpectations(t)
}

func TestHandleRunErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		report     *domain.PipelineReport
		wantStatus int
		wantCode   string
	}{
		{"invalid", fmt.Errorf("%w: missing table_name", pipeline.ErrInvalidRequest), nil, http.StatusBadRequest, "invalid_request"},
		{"configuration", fmt.Errorf("chunking: %w", conversions.ErrConfiguration), sampleReport("r"), http.StatusBadRequest, "invalid_configuration"},
		{"in progress", pipeline.ErrRunInProgress, nil, http.StatusConflict, "run_in_progress"},
		{"empty", fmt.Errorf("reading a.b.c: %w", pipeline.ErrNoRows), sampleReport("r"), http.StatusUnprocessableEntity, "empty_source"},
		{"transport", fmt.Errorf("uploading: %w", &conversions.TransportError{Status: 503}), sampleReport("r"), http.StatusBadGateway, "upload_failed"},
		{"internal", errors.New("pq: connection refused"), nil, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			runner.On("Run", mock.Anything, mock.Anything).Return(tt.report, tt.err)

			resp := postRun(t, newServer(t, runner), `{"project_id":"a","dataset_id":"b","table_name":"c"}`)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decodeBody(t, resp)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["error"])
			}
			if tt.report != nil {
				details, ok := body["details"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "r", details["run_id"])
			}
		})
	}
}

func TestHandleRunRejectsUnknownFields(t *testing.T) {
	runner := &mockRunner{}
	resp := postRun(t, newServer(t, runner), `{"project_id":"a","table":"c"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestHandleGetRun(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Get", mock.Anything, "run-1").Return(sampleReport("run-1"), nil)
	runner.On("Get", mock.Anything, "missing").Return(nil, pipeline.ErrNotFound)
	srv := newServer(t, runner)

	resp, err := http.Get(srv.URL + "/v1/runs/run-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1234567890", decodeBody(t, resp)["target"])

	resp, err = http.Get(srv.URL + "/v1/runs/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleListRuns(t *testing.T) {
	runner := &mockRunner{}
	runner.On("List", mock.Anything, 5).Return([]domain.PipelineReport{*sampleReport("a"), *sampleReport("b")}, nil)
	runner.On("List", mock.Anything, 0).Return([]domain.PipelineReport{}, nil)
	srv := newServer(t, runner)

	resp, err := http.Get(srv.URL + "/v1/runs?limit=5")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["count"])

	resp, err = http.Get(srv.URL + "/v1/runs")
	require.NoError(t, err)
	assert.Equal(t, float64(0), decodeBody(t, resp)["count"])

	resp, err = http.Get(srv.URL + "/v1/runs?limit=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	runner.AssertExpectations(t)
}

func TestHealthAndCORS(t *testing.T) {
	srv := newServer(t, &mockRunner{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])
}
