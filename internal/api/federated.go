package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/federated"
)

// handleFederatedUpdate accepts either a JSON {weights, num_samples} body or
// a binary weight payload with the sample count in ?num_samples=.
func (s *Server) handleFederatedUpdate(c *echo.Context) error {
	var (
		agg federated.Aggregate
		err error
	)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		agg, err = s.mergeJSON(c)
	} else {
		agg, err = s.mergeBinary(c)
	}
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, federatedModelResponse(agg))
}

func (s *Server) mergeJSON(c *echo.Context) (federated.Aggregate, error) {
	req, err := readJSON[FederatedUpdateRequest](s, c)
	if err != nil {
		return federated.Aggregate{}, err
	}
	if req.Weights == nil {
		return federated.Aggregate{}, fmt.Errorf("weights are required: %w", errs.ErrInvalidInput)
	}
	return s.proc.MergeWeights(req.Weights, req.NumSamples)
}

func (s *Server) mergeBinary(c *echo.Context) (federated.Aggregate, error) {
	raw := c.QueryParam("num_samples")
	if raw == "" {
		return federated.Aggregate{}, fmt.Errorf("num_samples query parameter is required: %w", errs.ErrInvalidInput)
	}
	samples, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return federated.Aggregate{}, fmt.Errorf("num_samples %q: %w", raw, errs.ErrInvalidInput)
	}
	b, err := s.readBody(c)
	if err != nil {
		return federated.Aggregate{}, err
	}
	return s.proc.UpdateAggregatedModel(b, samples)
}

func (s *Server) handleFederatedModel(c *echo.Context) error {
	agg, ok := s.proc.GetAggregatedModel()
	if !ok {
		return writeNotFound(c, "no aggregated model yet")
	}
	if c.QueryParam("format") == "binary" {
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, federated.EncodeWeights(agg.Weights))
	}
	return c.JSON(http.StatusOK, federatedModelResponse(agg))
}

func federatedModelResponse(agg federated.Aggregate) FederatedModelResponse {
	return FederatedModelResponse{
		Object:        "federated.model",
		Weights:       agg.Weights,
		NumSamples:    agg.Samples,
		Contributions: agg.Contributions,
		Version:       agg.Version,
		UpdatedAt:     agg.UpdatedAt.Unix(),
	}
}
