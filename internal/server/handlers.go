// Route handlers translating HTTP shapes to service calls
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/query"
)

// --- Containers ---

type createContainerRequest struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

func (s *Server) handleCreateContainer(c *gin.Context) {
	var req createContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validation("malformed request body: %v", err))
		return
	}
	meta, err := s.svc.CreateContainer(c.Request.Context(), principal(c), req.Name, req.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

func (s *Server) handleGetContainer(c *gin.Context) {
	meta, err := s.svc.GetContainer(c.Request.Context(), principal(c), c.Param("container"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleDeleteContainer(c *gin.Context) {
	if err := s.svc.DeleteContainer(c.Request.Context(), principal(c), c.Param("container")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Annotations ---

func (s *Server) handleCreateAnnotation(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Validation("malformed annotation body: %v", err))
		return
	}
	// Slug proposes an annotation name; a taken name is regenerated, never
	// rejected.
	a, err := s.svc.CreateAnnotation(c.Request.Context(), principal(c), c.Param("container"), c.GetHeader("Slug"), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", a.Token)
	c.JSON(http.StatusCreated, a)
}

func (s *Server) handleGetAnnotation(c *gin.Context) {
	a, err := s.svc.GetAnnotation(c.Request.Context(), principal(c), c.Param("container"), c.Param("anno"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", a.Token)
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleReplaceAnnotation(c *gin.Context) {
	token := c.GetHeader("If-Match")
	if token == "" {
		writeError(c, errs.Validation("replace requires the current token in If-Match"))
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.Validation("malformed annotation body: %v", err))
		return
	}
	a, err := s.svc.ReplaceAnnotation(c.Request.Context(), principal(c), c.Param("container"), c.Param("anno"), token, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("ETag", a.Token)
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleDeleteAnnotation(c *gin.Context) {
	if err := s.svc.DeleteAnnotation(c.Request.Context(), principal(c), c.Param("container"), c.Param("anno")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Search ---

func (s *Server) handleCreateSearch(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, errs.Validation("unreadable request body: %v", err))
		return
	}
	q, err := query.Parse(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	id, total, err := s.svc.CreateSearch(c.Request.Context(), principal(c), c.Param("container"), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "total": total})
}

func (s *Server) handleGetPage(c *gin.Context) {
	page := 0
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, errs.Validation("page must be an integer, got %q", raw))
			return
		}
		page = n
	}
	pg, err := s.svc.GetPage(c.Request.Context(), principal(c), c.Param("container"), c.Param("id"), page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pg)
}

func (s *Server) handleGetSearchInfo(c *gin.Context) {
	info, err := s.svc.GetSearchInfo(c.Request.Context(), principal(c), c.Param("container"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// --- Indexes ---

type indexRequest struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
}

func (s *Server) handleAddIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validation("malformed request body: %v", err))
		return
	}
	st, err := s.svc.AddIndex(c.Request.Context(), principal(c), c.Param("container"), req.Field, model.IndexKind(req.Kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (s *Server) handleListIndexes(c *gin.Context) {
	configs, err := s.svc.ListIndexes(c.Request.Context(), principal(c), c.Param("container"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

func (s *Server) handleGetIndexStatus(c *gin.Context) {
	st, err := s.svc.GetIndexStatus(c.Request.Context(), principal(c), c.Param("container"),
		c.Query("field"), model.IndexKind(c.Query("kind")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleDeleteIndex(c *gin.Context) {
	err := s.svc.DeleteIndex(c.Request.Context(), principal(c), c.Param("container"),
		c.Query("field"), model.IndexKind(c.Query("kind")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Roles ---

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleSetRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Validation("malformed request body: %v", err))
		return
	}
	err := s.svc.SetRole(c.Request.Context(), principal(c), c.Param("container"),
		c.Param("user"), model.Role(req.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveRole(c *gin.Context) {
	if err := s.svc.RemoveRole(c.Request.Context(), principal(c), c.Param("container"), c.Param("user")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRoles(c *gin.Context) {
	assignments, err := s.svc.ListContainerRoles(c.Request.Context(), principal(c), c.Param("container"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

// --- Tasks ---

func (s *Server) handleMultiSearch(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, errs.Validation("unreadable request body: %v", err))
		return
	}
	containers, q, err := parseMultiSearch(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := s.svc.StartMultiSearch(c.Request.Context(), principal(c), containers, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// parseMultiSearch splits {"containers": [...], "query": {...}}, keeping
// the query's field order intact.
func parseMultiSearch(raw []byte) ([]string, query.Query, error) {
	var envelope struct {
		Containers []string        `json:"containers"`
		Query      json.RawMessage `json:"query"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, query.Query{}, errs.Validation("malformed request body: %v", err)
	}
	if len(envelope.Query) == 0 {
		return nil, query.Query{}, errs.Validation("multi-container search requires a query")
	}
	q, err := query.Parse(envelope.Query)
	if err != nil {
		return nil, query.Query{}, err
	}
	return envelope.Containers, q, nil
}

func (s *Server) handleGetTask(c *gin.Context) {
	st, err := s.svc.GetTask(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
