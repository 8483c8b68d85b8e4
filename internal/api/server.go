// Package api exposes the service operations over HTTP with echo.
package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/medaiml/internal/logger"
	"github.com/samcharles93/medaiml/internal/metrics"
	"github.com/samcharles93/medaiml/internal/state"
)

// DefaultMaxBodyBytes bounds a single request body, and therefore a single
// artifact chunk.
const DefaultMaxBodyBytes int64 = 64 << 20

type Options struct {
	Logger  logger.Logger
	Metrics *metrics.Metrics
	// MaxBodyBytes limits request bodies; zero means DefaultMaxBodyBytes and
	// a negative value disables the limit.
	MaxBodyBytes int64
}

type Server struct {
	proc         *state.Process
	log          logger.Logger
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

func NewServer(proc *state.Process, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	limit := opts.MaxBodyBytes
	if limit == 0 {
		limit = DefaultMaxBodyBytes
	}
	return &Server{
		proc:         proc,
		log:          logger.Component(log, "api"),
		metrics:      opts.Metrics,
		maxBodyBytes: limit,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Artifact store
	e.GET("/v1/artifacts", s.handleListArtifacts)
	e.POST("/v1/artifacts/:key", s.handleAppendArtifact)
	e.PUT("/v1/artifacts/:key", s.handleStoreArtifact)
	e.GET("/v1/artifacts/:key", s.handleGetArtifact)
	e.DELETE("/v1/artifacts/:key", s.handleClearArtifact)
	e.GET("/v1/artifacts/:key/stat", s.handleStatArtifact)
	e.POST("/v1/artifacts/:key/commit", s.handleCommitArtifact)
	e.POST("/v1/models/:name/chunks", s.handleAppendModelChunk)

	// Images and classification
	e.POST("/v1/uploads", s.handleUpload)
	e.POST("/v1/images/inspect", s.handleInspectImage)
	e.POST("/v1/images/tensor", s.handleImageTensor)
	e.POST("/v1/predict", s.handlePredict)

	// Text generation
	e.POST("/v1/text-model/init", s.handleInitTextModel)
	e.GET("/v1/text-model", s.handleGetTextModel)
	e.POST("/v1/generate", s.handleGenerate)

	// Federated aggregation
	e.POST("/v1/federated/updates", s.handleFederatedUpdate)
	e.GET("/v1/federated/model", s.handleFederatedModel)
}

// RequestID tags every request and response with an X-Request-Id,
// generating one when the client did not send it.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
				c.Request().Header.Set(echo.HeaderXRequestID, id)
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"text_model": s.proc.Text() != nil,
	})
}
