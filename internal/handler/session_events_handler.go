package handler

import (
	"regnxt-workbook-be/internal/dto"
	"regnxt-workbook-be/internal/pkg/logger"
	"regnxt-workbook-be/internal/pkg/serverutils"
	"regnxt-workbook-be/internal/service"
	internalWS "regnxt-workbook-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SessionEventsHandler streams session events (loads, saves, conflicts) to the
// editor that owns the session.
type SessionEventsHandler struct {
	service   service.IWorkbookService
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewSessionEventsHandler(service service.IWorkbookService, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *SessionEventsHandler {
	return &SessionEventsHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

func (h *SessionEventsHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/ws/sessions/:id", h.ServeWs)
}

// ServeWs authenticates the handshake and upgrades the connection.
func (h *SessionEventsHandler) ServeWs(c *fiber.Ctx) error {
	// Browsers cannot set headers on a websocket handshake, so the query wins.
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c.Get("Authorization"))
	}
	if tokenStr == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token (Query 'token' or Header 'Authorization')"})
	}

	userID, err := serverutils.ParseToken(h.jwtSecret, tokenStr)
	if err != nil {
		h.logger.Warn("SessionEventsHandler", "Invalid Token in WS Handshake", map[string]interface{}{"error": err.Error()})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID := c.Params("id")
	ref := dto.SessionRef{SessionId: sessionID, UserId: userID}
	if _, err := h.service.GetSession(c.UserContext(), ref, false); err != nil {
		return err
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("SessionEventsHandler", "Starting WebSocket session", map[string]interface{}{"session_id": sessionID, "user_id": userID})
		internalWS.ServeWs(h.hub, conn, sessionID)
		h.logger.Info("SessionEventsHandler", "WebSocket session ended", map[string]interface{}{"session_id": sessionID})
	})(c)
}
