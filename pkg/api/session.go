package api

import (
	"net/http"

	"github.com/labstack/echo"

	"github.com/memovia/callkeeper/pkg/api/resource"
	"github.com/memovia/callkeeper/pkg/store"
)

func (h *Handler) handleFetchSessions(c echo.Context) error {
	sessions, err := h.store.ListActive(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, resource.NewSessionList(sessions, h.store.TTL()))
}

func (h *Handler) handleGetSessionByKey(c echo.Context) error {
	sess, err := h.store.Get(c.Request().Context(), c.Param("sessionKey"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, resource.NewSession(sess, h.store.TTL()))
}

func (h *Handler) handleDeleteSession(c echo.Context) error {
	err := h.store.Delete(c.Request().Context(), c.Param("sessionKey"))
	if err == store.ErrNotFound {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	} else if err != nil {
		return c.JSON(http.StatusInternalServerError, err)
	}

	return c.NoContent(http.StatusNoContent)
}
