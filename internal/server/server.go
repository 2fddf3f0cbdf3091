// Package server implements the HTTP front of the annotation store
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/annoserv/annostore/internal/metrics"
	"github.com/annoserv/annostore/pkg/errs"
	"github.com/annoserv/annostore/pkg/model"
	"github.com/annoserv/annostore/pkg/service"
)

// Principal headers. Authentication happens upstream (reverse proxy or
// gateway); this adapter only translates the authenticated identity it is
// handed into a principal for the access gate.
const (
	userHeader  = "X-Annostore-User"
	superHeader = "X-Annostore-Superuser"
)

// Server is the HTTP front of the service façade.
type Server struct {
	svc  *service.Service
	log  zerolog.Logger
	met  *metrics.Metrics
	http *http.Server
}

// New builds the server and its routes. reg is the metrics registry exposed
// on /metrics.
func New(addr string, svc *service.Service, log zerolog.Logger, met *metrics.Metrics, reg *prometheus.Registry) *Server {
	s := &Server{
		svc: svc,
		log: log.With().Str("component", "http").Logger(),
		met: met,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", metricsHandler(reg))

	router.POST("/containers", s.handleCreateContainer)
	router.GET("/containers/:container", s.handleGetContainer)
	router.DELETE("/containers/:container", s.handleDeleteContainer)

	router.POST("/containers/:container/annotations", s.handleCreateAnnotation)
	router.GET("/containers/:container/annotations/:anno", s.handleGetAnnotation)
	router.PUT("/containers/:container/annotations/:anno", s.handleReplaceAnnotation)
	router.DELETE("/containers/:container/annotations/:anno", s.handleDeleteAnnotation)

	router.POST("/containers/:container/search", s.handleCreateSearch)
	router.GET("/containers/:container/search/:id", s.handleGetPage)
	router.GET("/containers/:container/search/:id/info", s.handleGetSearchInfo)

	router.POST("/containers/:container/indexes", s.handleAddIndex)
	router.GET("/containers/:container/indexes", s.handleListIndexes)
	router.GET("/containers/:container/indexes/status", s.handleGetIndexStatus)
	router.DELETE("/containers/:container/indexes", s.handleDeleteIndex)

	router.PUT("/containers/:container/roles/:user", s.handleSetRole)
	router.DELETE("/containers/:container/roles/:user", s.handleRemoveRole)
	router.GET("/containers/:container/roles", s.handleListRoles)

	router.POST("/search", s.handleMultiSearch)
	router.GET("/tasks/:id", s.handleGetTask)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// principal translates the identity headers into a principal. No headers
// means an anonymous caller.
func principal(c *gin.Context) model.Principal {
	if c.GetHeader(superHeader) == "true" {
		return model.Superuser{}
	}
	if user := c.GetHeader(userHeader); user != "" {
		return model.NamedUser{Name: user}
	}
	return nil
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotAuthorized):
		status = http.StatusForbidden
		if principal(c) == nil {
			status = http.StatusUnauthorized
		}
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
