package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/effort-cli/internal/config"
	"github.com/sells-group/effort-cli/internal/store"
)

func testServer(t *testing.T, withStore bool) (*Server, store.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Model.Iterations = 20
	var st store.Store
	if withStore {
		var err error
		st, err = store.Open(context.Background(), config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "api.db"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() }) //nolint:errcheck
	}
	return NewServer(cfg, st, nil), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func trainingTable(n int) TableRequest {
	req := TableRequest{Columns: []string{"effortExpense", "effortDate", "msg_JobTitle"}}
	titles := []string{"Engineer", "Analyst", "Manager"}
	for i := 0; i < n; i++ {
		req.Rows = append(req.Rows, []string{
			fmt.Sprint(4 + (i%3)*6 + i%4),
			fmt.Sprintf("2024-%02d-%02d", 1+i%12, 1+i%27),
			titles[i%3],
		})
	}
	return req
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, false)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProcess_Fallback(t *testing.T) {
	s, _ := testServer(t, false)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/process", TableRequest{
		Columns: []string{"effortExpense", "msg_JobTitle"},
		Rows:    [][]string{{"20", "A"}, {"", "A"}, {"35", "B"}, {"18", "B"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 4)
	assert.Equal(t, "imputed_missing", string(resp.Results[1].Status))
	assert.InDelta(t, 20, *resp.Results[1].FinalValue, 1e-9)
	assert.InDelta(t, 30, *resp.Results[2].FinalValue, 0)
	assert.Equal(t, 2, resp.Summary.NotificationCount)
	assert.Zero(t, resp.Sent)
}

func TestProcess_InsufficientData(t *testing.T) {
	s, _ := testServer(t, false)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/process", TableRequest{
		Columns: []string{"effortExpense"},
		Rows:    [][]string{{""}, {"-2"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "row 0")
}

func TestProcess_BadRequests(t *testing.T) {
	s, _ := testServer(t, false)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/process", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/process", TableRequest{Columns: []string{"other"}, Rows: [][]string{{"1"}}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "effortExpense")
}

func TestModels_NoStore(t *testing.T) {
	s, _ := testServer(t, false)
	rec := do(t, s.Handler(), http.MethodGet, "/v1/models", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTrainThenProcessWithActiveModel(t *testing.T) {
	s, st := testServer(t, true)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/models/active/importance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := trainingTable(40)
	body.Name = "api-model"
	rec = do(t, h, http.MethodPost, "/v1/train", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var tr TrainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.NotEmpty(t, tr.ModelID)
	assert.Equal(t, "api-model", tr.Name)
	assert.True(t, tr.Active)

	models, err := st.ListModels(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, models, 1)

	rec = do(t, h, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tr.ModelID)

	rec = do(t, h, http.MethodGet, "/v1/models/active/importance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "importance")

	proc := trainingTable(6)
	proc.Rows[2][0] = ""
	rec = do(t, h, http.MethodPost, "/v1/process", proc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pr ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	assert.Equal(t, tr.ModelID, pr.Summary.ModelID)
	assert.Equal(t, "model", string(pr.Results[2].Source))
	assert.LessOrEqual(t, *pr.Results[2].FinalValue, 30.0)
}

func TestTrain_InsufficientData(t *testing.T) {
	s, _ := testServer(t, true)
	rec := do(t, s.Handler(), http.MethodPost, "/v1/train", trainingTable(5))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := testServer(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/v1/process", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
