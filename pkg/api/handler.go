package api

import (
	"github.com/labstack/echo"
	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol"
	"github.com/memovia/callkeeper/pkg/store"
)

// Handler contains all properties to serve the API
type Handler struct {
	store    store.Interface
	registry *callcontrol.Registry
}

// NewHandler create a new API handler
func NewHandler(st store.Interface, registry *callcontrol.Registry) *Handler {
	return &Handler{
		store:    st,
		registry: registry,
	}
}

// RegisterRoutes attaches the handlers to the echo web server
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	log.Debug("Register API routes")
	api := e.Group("/api/v1")
	api.GET("/sessions", h.handleFetchSessions)
	api.GET("/sessions/:sessionKey", h.handleGetSessionByKey)
	api.DELETE("/sessions/:sessionKey", h.handleDeleteSession)

	api.GET("/stats", h.handleGetStats)
}
