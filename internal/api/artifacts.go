package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/medaiml/internal/artifact"
	"github.com/samcharles93/medaiml/internal/errs"
	"github.com/samcharles93/medaiml/internal/state"
)

type modelArtifact struct {
	key      string
	appendTo func(*state.Process, []byte) error
}

// modelArtifacts maps the model chunk routes onto their artifacts.
var modelArtifacts = map[string]modelArtifact{
	"classifier":        {artifact.ClassifierWeights, (*state.Process).AppendClassifierWeights},
	"classifier-config": {artifact.ClassifierConfig, (*state.Process).AppendClassifierConfig},
	"text":              {artifact.TextModelWeights, (*state.Process).AppendTextModelWeights},
	"text-config":       {artifact.TextModelConfig, (*state.Process).AppendTextModelConfig},
}

func (s *Server) handleListArtifacts(c *echo.Context) error {
	keys := s.proc.Keys()
	out := ArtifactListResponse{Object: "list", Data: make([]artifact.Info, 0, len(keys))}
	for _, k := range keys {
		if info, ok := s.proc.Stat(k); ok {
			out.Data = append(out.Data, info)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAppendArtifact(c *echo.Context) error {
	key := c.Param("key")
	return s.appendChunk(c, key, func(b []byte) error {
		return s.proc.AppendBytes(key, b)
	})
}

func (s *Server) handleAppendModelChunk(c *echo.Context) error {
	m, ok := modelArtifacts[c.Param("name")]
	if !ok {
		return writeNotFound(c, "unknown model artifact "+c.Param("name"))
	}
	return s.appendChunk(c, m.key, func(b []byte) error {
		return m.appendTo(s.proc, b)
	})
}

func (s *Server) appendChunk(c *echo.Context, key string, appendFn func([]byte) error) error {
	if key == "" {
		return writeBadRequest(c, "artifact key is required")
	}
	b, err := s.readBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	if err := appendFn(b); err != nil {
		return writeServiceError(c, err)
	}
	return s.writeArtifact(c, key, len(b))
}

func (s *Server) handleStoreArtifact(c *echo.Context) error {
	key := c.Param("key")
	b, err := s.readBody(c)
	if err != nil {
		return writeServiceError(c, err)
	}
	s.proc.StoreBytes(key, b)
	return s.writeArtifact(c, key, len(b))
}

func (s *Server) writeArtifact(c *echo.Context, key string, written int) error {
	info, _ := s.proc.Stat(key)
	return c.JSON(http.StatusOK, ArtifactWriteResponse{
		Key:     key,
		Written: written,
		Size:    info.Size,
		Chunks:  info.Chunks,
	})
}

func (s *Server) handleGetArtifact(c *echo.Context) error {
	key := c.Param("key")
	if _, ok := s.proc.Stat(key); !ok {
		return writeServiceError(c, errs.NewMissingArtifact(key))
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, s.proc.Bytes(key))
}

func (s *Server) handleStatArtifact(c *echo.Context) error {
	key := c.Param("key")
	info, ok := s.proc.Stat(key)
	if !ok {
		return writeServiceError(c, errs.NewMissingArtifact(key))
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleClearArtifact(c *echo.Context) error {
	s.proc.ClearBytes(c.Param("key"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCommitArtifact(c *echo.Context) error {
	info, err := s.proc.Commit(c.Param("key"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}
