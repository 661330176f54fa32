package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/samogod/bookrnn/pkg/beam"
	"github.com/samogod/bookrnn/pkg/orchestrator"
)

var DebugLog func(string, ...interface{})

// MaxWords caps the length a single request may ask for.
const MaxWords = 5000

// Generator produces one sample per call.
type Generator interface {
	Generate(ctx context.Context, opts orchestrator.GenerateOptions) (*orchestrator.RunResult, error)
}

type ErrorCode string

const (
	ErrorCodeInvalidJSON      ErrorCode = "INVALID_JSON"
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
)

type APIError struct {
	Error     string    `json:"error"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GenerateRequest is the body of POST /generate. Omitted fields use the
// server configuration.
type GenerateRequest struct {
	Words     int     `json:"words"`
	Diversity float64 `json:"diversity"`
	BeamWidth int     `json:"beam_width"`
	Seed      uint64  `json:"seed"`
}

type GenerateResponse struct {
	RunID      string  `json:"run_id"`
	Level      string  `json:"level"`
	Text       string  `json:"text"`
	Prob       float64 `json:"prob"`
	DurationMs int64   `json:"duration_ms"`
}

type API struct {
	gen    Generator
	logger *logrus.Logger
}

func NewAPI(gen Generator, logger *logrus.Logger) *API {
	if logger == nil {
		logger = logrus.New()
	}
	return &API{gen: gen, logger: logger}
}

// SetupRoutes registers the generation API on router.
func SetupRoutes(router *gin.Engine, gen Generator, logger *logrus.Logger) {
	api := NewAPI(gen, logger)

	router.GET("/healthz", api.HealthCheckHandler)
	router.POST("/generate", api.GenerateHandler)
}

// NewRouter returns a gin engine with recovery and the API routes.
func NewRouter(gen Generator, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, gen, logger)
	return router
}

// Run serves on addr until ctx is done.
func Run(ctx context.Context, addr string, gen Generator, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(gen, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (api *API) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "bookrnn",
		"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
	})
}

// GenerateHandler runs one beam search.
// Request Body: GenerateRequest
func (api *API) GenerateHandler(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, ErrorCodeInvalidJSON, "Invalid JSON in request body: "+err.Error())
		return
	}
	if msg := validate(req); msg != "" {
		sendError(c, http.StatusBadRequest, ErrorCodeValidationFailed, msg)
		return
	}

	if DebugLog != nil {
		DebugLog("generate request: words=%d diversity=%.2f beam_width=%d seed=%d", req.Words, req.Diversity, req.BeamWidth, req.Seed)
	}

	start := time.Now()
	res, err := api.gen.Generate(c.Request.Context(), orchestrator.GenerateOptions{
		Words:     req.Words,
		Diversity: req.Diversity,
		BeamWidth: req.BeamWidth,
		Seed:      req.Seed,
	})
	if err != nil {
		switch {
		case c.Request.Context().Err() != nil:
			sendError(c, http.StatusServiceUnavailable, ErrorCodeTimeout, "Request cancelled: "+err.Error())
		case errors.Is(err, beam.ErrInvalidOptions):
			sendError(c, http.StatusBadRequest, ErrorCodeValidationFailed, err.Error())
		default:
			api.logger.Errorf("Generation failed: %v", err)
			sendError(c, http.StatusInternalServerError, ErrorCodeGenerationFailed, "Generation failed: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, GenerateResponse{
		RunID:      res.RunID,
		Level:      res.Level,
		Text:       res.Text,
		Prob:       res.Prob,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

func validate(req GenerateRequest) string {
	switch {
	case req.Words < 0 || req.Words > MaxWords:
		return fmt.Sprintf("words must be between 0 and %d", MaxWords)
	case req.Diversity < 0:
		return "diversity must not be negative"
	case req.BeamWidth < 0:
		return "beam_width must not be negative"
	}
	return ""
}

func sendError(c *gin.Context, status int, code ErrorCode, message string) {
	c.JSON(status, &APIError{
		Error:     "Request failed",
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
