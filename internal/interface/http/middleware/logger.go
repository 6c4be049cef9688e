package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// Logger writes one debug entry per request.
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Method(),
			"path":       c.Path(),
			"latency":    time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Debug("http request failed")
			return err
		}
		entry.WithField("status", c.Response().StatusCode()).Debug("http request")
		return nil
	}
}
