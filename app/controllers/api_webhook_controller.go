package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/database"
	"github.com/VisageAI/visage/internal/pkg/env"
	"github.com/VisageAI/visage/internal/pkg/events"
	"github.com/VisageAI/visage/internal/pkg/mail"
	"github.com/VisageAI/visage/internal/pkg/webhook"
)

// HandleGenerationWebhook receives provider job callbacks. The route is
// unauthenticated; the HMAC signature is the trust boundary. Deliveries are
// at-least-once and possibly out of order, so every non-error outcome
// answers 200 to stop the provider from retrying.
func HandleGenerationWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	eventType := strings.TrimSpace(c.Get("X-Visage-Event"))
	eventID := firstHeaderValue(c, "X-Visage-Delivery", "X-Visage-Event-ID")
	signature := strings.TrimSpace(c.Get("X-Visage-Signature"))
	secret := env.GetEnv("PROVIDER_WEBHOOK_SECRET", "")

	if !webhook.VerifySignature(rawBody, signature, secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sink := mail.NewCompletionNotifier(database.GetDB(), events.LogSink{})
	reconciler := webhook.NewReconcilerFromDB(database.GetDB(), sink)
	result, err := reconciler.Apply(ctx, webhook.ApplyInput{
		Provider:       models.GenerationProviderFlux,
		EventID:        eventID,
		EventType:      eventType,
		RawBody:        rawBody,
		SignatureValid: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_apply_failed"})
	}

	switch result {
	case webhook.ResultDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case webhook.ResultStale:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	case webhook.ResultUnknownGeneration:
		// Answer 200 anyway; retrying will not make the job known.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	}
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
