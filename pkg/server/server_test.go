package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/bookrnn/pkg/beam"
	"github.com/samogod/bookrnn/pkg/orchestrator"
)

type fakeGenerator struct {
	calls []orchestrator.GenerateOptions
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, opts orchestrator.GenerateOptions) (*orchestrator.RunResult, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &orchestrator.RunResult{
		RunID: "run-1",
		Level: "word",
		Text:  "the boy ran to the river",
		Prob:  0.25,
	}, nil
}

func setupTestRouter(gen Generator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, gen, nil)
	return router
}

func post(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := setupTestRouter(&fakeGenerator{})

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestGenerateHandler(t *testing.T) {
	gen := &fakeGenerator{}
	router := setupTestRouter(gen)

	w := post(router, `{"words": 20, "diversity": 0.5, "beam_width": 4, "seed": 9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "the boy ran to the river", resp.Text)
	assert.Equal(t, 0.25, resp.Prob)

	require.Len(t, gen.calls, 1)
	assert.Equal(t, orchestrator.GenerateOptions{Words: 20, Diversity: 0.5, BeamWidth: 4, Seed: 9}, gen.calls[0])
}

func TestGenerateHandlerEmptyBodyUsesDefaults(t *testing.T) {
	gen := &fakeGenerator{}
	router := setupTestRouter(gen)

	w := post(router, `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orchestrator.GenerateOptions{}, gen.calls[0])
}

func TestGenerateHandlerErrors(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		genErr         error
		expectedStatus int
		expectedCode   ErrorCode
	}{
		{"malformed json", `{"words":`, nil, http.StatusBadRequest, ErrorCodeInvalidJSON},
		{"negative words", `{"words": -1}`, nil, http.StatusBadRequest, ErrorCodeValidationFailed},
		{"too many words", fmt.Sprintf(`{"words": %d}`, MaxWords+1), nil, http.StatusBadRequest, ErrorCodeValidationFailed},
		{"negative diversity", `{"diversity": -0.5}`, nil, http.StatusBadRequest, ErrorCodeValidationFailed},
		{"negative beam width", `{"beam_width": -2}`, nil, http.StatusBadRequest, ErrorCodeValidationFailed},
		{"invalid options", `{}`, fmt.Errorf("beam search failed: %w", beam.ErrInvalidOptions), http.StatusBadRequest, ErrorCodeValidationFailed},
		{"backend failure", `{}`, errors.New("backend exited"), http.StatusInternalServerError, ErrorCodeGenerationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(&fakeGenerator{err: tt.genErr})

			w := post(router, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var apiErr APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
			assert.Equal(t, tt.expectedCode, apiErr.Code)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, "127.0.0.1:0", &fakeGenerator{}, nil)
	}()
	cancel()
	assert.NoError(t, <-done)
}
