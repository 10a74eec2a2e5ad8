package web

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-volt/pkg/geofence"
	"github.com/teslashibe/go-volt/pkg/protocol"
)

// BaselineRequest is the body of PUT /api/sessions/:id/baseline.
type BaselineRequest struct {
	BaselineHRV float64 `json:"baseline_hrv" validate:"gt=0,lte=300"`
}

func (s *Server) registerAPIRoutes(app *fiber.App) {
	// Poll-based variant of the socket
	app.Post("/update", s.handleUpdate)

	sessions := app.Group("/api/sessions")
	sessions.Get("/", s.handleListSessions)
	sessions.Get("/:id/state", s.handleState)
	sessions.Put("/:id/home", s.handleSetHome)
	sessions.Put("/:id/baseline", s.handleSetBaseline)
	sessions.Post("/:id/reset", s.handleReset)
	sessions.Delete("/:id", s.handleClose) // ?purge=true also deletes the profile
}

func (s *Server) handleUpdate(c *fiber.Ctx) error {
	// Malformed members are dropped, only a non-object body is refused
	req, err := protocol.ParseUpdateRequest(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sess, err := s.sessions.Open(c.Query("session"))
	if err != nil {
		return err
	}
	resp, err := sess.Update(req.Reading())
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	infos := s.sessions.List()
	return c.JSON(fiber.Map{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sess.Snapshot())
}

// handleSetHome opens the session if needed so a home can be configured
// before the first connection.
func (s *Server) handleSetHome(c *fiber.Ctx) error {
	var req protocol.HomeLocation
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	sess, err := s.sessions.Open(c.Params("id"))
	if err != nil {
		return err
	}
	home := geofence.NewHomeLocation(req.Latitude, req.Longitude, req.RadiusMeters)
	st, err := sess.SetHome(c.UserContext(), home)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleSetBaseline(c *fiber.Ctx) error {
	var req BaselineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	sess, err := s.sessions.Open(c.Params("id"))
	if err != nil {
		return err
	}
	if err := sess.SetBaseline(c.UserContext(), req.BaselineHRV); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"baseline_hrv": req.BaselineHRV})
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	sess, err := s.sessions.Get(c.Params("id"))
	if err != nil {
		return err
	}
	st, err := sess.Reset()
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	id := c.Params("id")
	if c.QueryBool("purge") {
		if err := s.sessions.Purge(c.UserContext(), id); err != nil {
			return err
		}
		s.logger.Info("session purged via api", "session", id)
		return c.JSON(fiber.Map{"status": fmt.Sprintf("purged %s", id)})
	}
	if err := s.sessions.Close(id); err != nil {
		return err
	}
	s.logger.Info("session closed via api", "session", id)
	return c.JSON(fiber.Map{"status": fmt.Sprintf("closed %s", id)})
}
