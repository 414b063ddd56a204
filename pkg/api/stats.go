package api

import (
	"net/http"

	"github.com/labstack/echo"
)

type statsResource struct {
	TotalSessions     int            `json:"totalSessions"`
	ConnectedSessions int            `json:"connectedSessions"`
	LiveConnections   int            `json:"liveConnections"`
	ByState           map[string]int `json:"byState"`
	Drift             bool           `json:"drift"`
}

func (h *Handler) handleGetStats(c echo.Context) error {
	sessions, err := h.store.ListActive(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, err)
	}

	out := &statsResource{
		TotalSessions: len(sessions),
		ByState:       make(map[string]int),
	}
	for i := range sessions {
		if sessions[i].Connected() {
			out.ConnectedSessions++
		}
		out.ByState[sessions[i].FlowState.String()]++
	}

	out.LiveConnections = h.registry.Count()
	out.Drift = out.LiveConnections != out.ConnectedSessions

	return c.JSON(http.StatusOK, out)
}
