package callcontrol

import (
	"net/http"

	"github.com/gobwas/ws"
	"github.com/labstack/echo"
	log "github.com/sirupsen/logrus"

	"github.com/memovia/callkeeper/pkg/callcontrol/websocket"
)

// NewSessionKeyword in the connection path asks for a brand-new session
// instead of addressing an existing one.
const NewSessionKeyword = "new"

// Handler contains all properties to serve the call control endpoint
type Handler struct {
	ctrl *Controller
}

// NewHandler create a new call control handler
func NewHandler(ctrl *Controller) *Handler {
	return &Handler{
		ctrl: ctrl,
	}
}

// RegisterRoutes attaches the handlers to the echo web server
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	log.Debug("Register callcontrol routes")
	api := e.Group("/callcontrol")
	api.Any("/v1/:sessionKey", h.callChannelHandler())
}

func (h *Handler) callChannelHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		// The session key is part of the connection addressing. Refuse
		// the upgrade outright when it is missing; no session is created.
		sessionKey := c.Param("sessionKey")
		if sessionKey == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing session key")
		}
		if sessionKey == NewSessionKeyword {
			sessionKey = ""
		}

		conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
		if err != nil {
			return err
		}
		defer conn.Close()

		terminateCh := make(chan struct{})
		driver := websocket.NewDriver(conn, terminateCh)
		driver.Start()
		defer driver.Close()

		cc := h.ctrl.NewCallChannel(conn, driver, sessionKey)
		defer cc.Close()

		<-terminateCh

		h.ctrl.ReleaseChannel(cc, driver.ClosedGracefully())

		log.Debug("handler exit call channel handler func")
		return nil
	}
}
