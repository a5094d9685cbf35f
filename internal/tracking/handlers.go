package tracking

import (
	"github.com/gofiber/fiber/v2"
)

type startRequest struct {
	TakeoffSite string      `json:"takeoff_site"`
	Position    *TrackPoint `json:"position"`
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

// ConnectivitySetter accepts network state pushed by the host platform.
type ConnectivitySetter interface {
	Set(online bool)
}

func RegisterRoutes(r fiber.Router, svc *Tracker, conn ConnectivitySetter, authMiddleware fiber.Handler) {
	r.Get("/status", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(svc.Status())
	})

	r.Post("/start", authMiddleware, func(c *fiber.Ctx) error {
		var req startRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if req.Position != nil {
			if err := req.Position.Validate(); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		svc.StartTracking(req.TakeoffSite, req.Position)
		return c.JSON(svc.Status())
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		svc.StopTracking()
		return c.JSON(svc.Status())
	})

	r.Post("/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req TrackPoint
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := req.Validate(); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		svc.ProcessPosition(req)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Put("/enabled", authMiddleware, func(c *fiber.Ctx) error {
		var req enabledRequest
		if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
			return fiber.NewError(fiber.StatusBadRequest, "enabled required")
		}
		svc.SetEnabled(*req.Enabled)
		return c.JSON(svc.Status())
	})

	r.Put("/profile", authMiddleware, func(c *fiber.Ctx) error {
		var req Profile
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.UID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "uid required")
		}
		svc.UpdateProfile(&req)
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/profile", authMiddleware, func(c *fiber.Ctx) error {
		svc.UpdateProfile(nil)
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/sync", authMiddleware, func(c *fiber.Ctx) error {
		synced, err := svc.SyncAll(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(fiber.Map{"synced": synced, "pending": svc.Status().PendingCount})
	})

	r.Get("/pending", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(svc.PendingUpdates())
	})

	r.Delete("/session", authMiddleware, func(c *fiber.Ctx) error {
		svc.Reset()
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Put("/connectivity", authMiddleware, func(c *fiber.Ctx) error {
		if conn == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "connectivity is checked internally")
		}
		var req connectivityRequest
		if err := c.BodyParser(&req); err != nil || req.Online == nil {
			return fiber.NewError(fiber.StatusBadRequest, "online required")
		}
		conn.Set(*req.Online)
		return c.SendStatus(fiber.StatusNoContent)
	})
}
