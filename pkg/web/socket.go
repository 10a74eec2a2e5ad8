package web

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-volt/pkg/session"
)

const sessionKey = "session"

func (s *Server) registerSocketRoutes(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", s.openSession, websocket.New(s.handleSocket))
	app.Get("/ws/:session", s.openSession, websocket.New(s.handleSocket))
}

// openSession resolves the session before the upgrade so a bad id is
// rejected with a plain HTTP error.
func (s *Server) openSession(c *fiber.Ctx) error {
	sess, err := s.sessions.Open(c.Params("session"))
	if err != nil {
		return err
	}
	c.Locals(sessionKey, sess)
	return c.Next()
}

func (s *Server) handleSocket(conn *websocket.Conn) {
	sess, ok := conn.Locals(sessionKey).(*session.Session)
	if !ok {
		conn.Close()
		return
	}
	if err := sess.Attach(conn); err != nil {
		s.logger.Debug("socket closed", "session", sess.ID, "error", err)
	}
}
