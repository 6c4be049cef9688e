package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	storeTimeout = 2 * time.Second
)

// Idempotency replays the stored response of an unsafe request already served with the same
// Idempotency-Key header. Requests without the header go through untouched.
func Idempotency(store ports.IdempotencyStore, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(IdempotencyKeyHeader)
		if key == "" {
			return c.Next()
		}
		logger := log.WithField("idempotency_key", key)

		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		stored, err := store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ports.ErrRequestInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			logger.WithError(err).Error("idempotency lookup failed")
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if stored != nil {
			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) {
					continue
				}
				c.Set(header, value)
			}
			return c.Status(stored.Status).SendString(stored.Body)
		}

		ok, err := store.Reserve(ctx, key, ttl)
		if err != nil {
			logger.WithError(err).Error("idempotency reservation failed")
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !ok {
			return fiber.NewError(fiber.StatusConflict, ports.ErrRequestInProgress.Error())
		}

		if err := c.Next(); err != nil {
			release(store, key)
			return err
		}

		// Failed requests are not cached, the client is free to retry them.
		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			release(store, key)
			return nil
		}

		resp := ports.StoredResponse{
			Status:  status,
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			resp.Headers[string(k)] = string(v)
		})

		persistCtx, persistCancel := context.WithTimeout(context.Background(), storeTimeout)
		defer persistCancel()

		if err := store.Store(persistCtx, key, resp, ttl); err != nil {
			logger.WithError(err).Error("failed to persist idempotent response")
			release(store, key)
		}
		return nil
	}
}

func release(store ports.IdempotencyStore, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := store.Release(ctx, key); err != nil {
		log.WithError(err).WithField("idempotency_key", key).
			Warn("failed to release idempotency key")
	}
}
