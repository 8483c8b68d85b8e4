package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/imaging"
	"github.com/samcharles93/medaiml/internal/inference"
)

func (s *Server) handleUpload(c *echo.Context) error {
	b, err := s.readBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	echoed := s.proc.UploadFile(b)
	return c.JSON(http.StatusOK, UploadResponse{Size: len(echoed), Data: echoed})
}

func (s *Server) handleInspectImage(c *echo.Context) error {
	b, err := s.imageBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	ds, err := s.proc.ReadImageData(b)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, imageInspectResponse(ds))
}

func (s *Server) handleImageTensor(c *echo.Context) error {
	b, err := s.imageBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	ds, err := s.proc.ReadImageData(b)
	if err != nil {
		return writeServiceError(c, err)
	}
	data, err := s.proc.DatasetToTensors(ds)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, ImageTensorResponse{
		Shape: []int{len(data), imaging.Channels, imaging.InputSize, imaging.InputSize},
		Data:  data,
	})
}

func (s *Server) handlePredict(c *echo.Context) error {
	b, err := s.imageBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	pred, err := s.proc.LoadAndPredict(c.Request().Context(), b)
	if err != nil {
		s.log.Warn("prediction failed", "error", err)
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, PredictResponse{
		ID:          "pred_" + uuid.NewString(),
		ClassIndex:  pred.ClassIndex,
		Label:       pred.Label,
		Probability: pred.Probability,
	})
}

// imageBody returns the request body, falling back to the upload slot when
// the body is empty.
func (s *Server) imageBody(c *echo.Context) ([]byte, error) {
	b, err := s.readBody(c)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		b = s.proc.Bytes(artifact.UploadSlot)
	}
	return b, nil
}

func (s *Server) handleInitTextModel(c *echo.Context) error {
	tm, err := s.proc.InitTextModel(c.Request().Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, textModelResponse(tm.Config))
}

func (s *Server) handleGetTextModel(c *echo.Context) error {
	tm := s.proc.Text()
	if tm == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "text model not initialized", "", "not_initialized")
	}
	return c.JSON(http.StatusOK, textModelResponse(tm.Config))
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := readJSON[GenerateRequest](s, c)
	if err != nil {
		return writeServiceError(c, err)
	}
	if req.MaxNewTokens == nil {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "max_new_tokens is required", "max_new_tokens", "")
	}
	if req.Stream {
		return s.handleGenerateStream(c, req)
	}

	res, err := s.proc.GenerateResponse(c.Request().Context(), req.Prompt, *req.MaxNewTokens, nil)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, generateResponse(res))
}

func (s *Server) handleGenerateStream(c *echo.Context, req GenerateRequest) error {
	if s.proc.Text() == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "text model not initialized", "", "not_initialized")
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	id := "gen_" + uuid.NewString()
	result, err := s.proc.GenerateResponse(c.Request().Context(), req.Prompt, *req.MaxNewTokens, func(piece string) {
		_ = sendSSEChunk(res, GenerateChunk{ID: id, Object: "generation.chunk", Delta: piece})
		flusher.Flush()
	})
	switch {
	case err == nil:
		final := generateResponse(result)
		final.ID = id
		_ = sendSSEChunk(res, final)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug("generation stream canceled", "id", id)
	default:
		status, errType, code := classify(err)
		s.log.Warn("generation stream failed", "id", id, "status", status, "error", err)
		_ = sendSSEChunk(res, map[string]any{
			"error": ResponseError{Message: err.Error(), Type: errType, Code: code},
		})
	}
	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

func generateResponse(res *inference.Result) GenerateResponse {
	tokens := res.Tokens
	if tokens == nil {
		tokens = []int{}
	}
	return GenerateResponse{
		ID:         "gen_" + res.ID,
		Object:     "generation",
		Text:       res.Text,
		Tokens:     tokens,
		StopReason: string(res.Reason),
		Usage: GenerateUsage{
			GeneratedTokens: res.Stats.TokensGenerated,
			Steps:           res.Steps,
			DurationMS:      float64(res.Stats.Duration.Microseconds()) / 1000,
			TokensPerSecond: res.Stats.TPS,
		},
	}
}

func sendSSEChunk(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
