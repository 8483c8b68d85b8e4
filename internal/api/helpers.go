package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/medaiml/internal/errs"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(c *echo.Context, err error) error {
	status, errType, code := classify(err)
	return writeError(c, status, errType, err.Error(), "", code)
}

// statusClientClosedRequest is the non-standard status logged when the
// client goes away before the response is written.
const statusClientClosedRequest = 499

func classify(err error) (status int, errType, code string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "invalid_request_error", "body_too_large"
	case errs.IsDeserialization(err):
		return http.StatusBadRequest, "invalid_request_error", "deserialization"
	case errs.IsShapeMismatch(err):
		return http.StatusBadRequest, "invalid_request_error", "shape_mismatch"
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request_error", "invalid_input"
	case errs.IsMissingArtifact(err):
		return http.StatusNotFound, "not_found_error", "missing_artifact"
	case errs.IsImageDecode(err):
		return http.StatusUnprocessableEntity, "invalid_request_error", "image_decode"
	case errs.IsNotInitialized(err):
		return http.StatusServiceUnavailable, "server_error", "not_initialized"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "server_error", "timeout"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "server_error", "canceled"
	case errors.Is(err, errs.ErrSealed):
		return http.StatusConflict, "conflict_error", "sealed"
	case errors.Is(err, errs.ErrAlreadyInitialized):
		return http.StatusConflict, "conflict_error", "already_initialized"
	default:
		return http.StatusInternalServerError, "server_error", ""
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// readBody reads the request body up to the configured limit.
func (s *Server) readBody(c *echo.Context) ([]byte, error) {
	body := c.Request().Body
	if s.maxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Response(), body, s.maxBodyBytes)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return b, nil
}

// readJSON decodes a size-limited JSON body into T.
func readJSON[T any](s *Server, c *echo.Context) (T, error) {
	var zero T
	b, err := s.readBody(c)
	if err != nil {
		return zero, err
	}
	out, err := decodeJSON[T](bytes.NewReader(b))
	if err != nil {
		return zero, errs.NewDeserialization("request body", err)
	}
	return out, nil
}
