// Package http contains the inbound HTTP handlers.
package http

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"pilot_server/core/port/in"
	"pilot_server/pkg/logger"
	"pilot_server/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// WebhookMetrics tracks webhook processing counters.
type WebhookMetrics struct {
	Received   int64
	Duplicates int64
	Processed  int64
	Errors     int64
}

// WebhookHandler receives provider push notifications. Providers retry on
// non-2xx responses, so malformed or unresolvable payloads are still
// acknowledged; retrying them would never succeed.
type WebhookHandler struct {
	watch     in.WatchService
	redis     *redis.Client
	dedupeTTL time.Duration
	metrics   WebhookMetrics
	log       *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(watch in.WatchService, redisClient *redis.Client, dedupeTTL time.Duration) *WebhookHandler {
	return &WebhookHandler{
		watch:     watch,
		redis:     redisClient,
		dedupeTTL: dedupeTTL,
		log:       logger.WithField("component", "webhook_handler"),
	}
}

// Register registers webhook routes. Both singular and plural prefixes are
// kept because provider consoles were configured with either over time.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhook/gmail", h.GmailWebhook)
	app.Post("/webhooks/gmail", h.GmailWebhook)

	app.Get("/webhook/outlook", h.OutlookValidation)
	app.Post("/webhook/outlook", h.OutlookWebhook)
	app.Get("/webhooks/outlook", h.OutlookValidation)
	app.Post("/webhooks/outlook", h.OutlookWebhook)

	app.Get("/webhook/metrics", h.Metrics)
}

// GmailPushNotification is the Pub/Sub push envelope.
type GmailPushNotification struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotificationData is the decoded Pub/Sub message payload.
type GmailNotificationData struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// GmailWebhook handles Gmail Pub/Sub push notifications.
func (h *WebhookHandler) GmailWebhook(c *fiber.Ctx) error {
	atomic.AddInt64(&h.metrics.Received, 1)

	var notification GmailPushNotification
	if err := c.BodyParser(&notification); err != nil {
		h.log.WithError(err).Warn("failed to parse gmail push envelope")
		return c.SendStatus(fiber.StatusOK)
	}

	decoded, err := base64.StdEncoding.DecodeString(notification.Message.Data)
	if err != nil {
		h.log.WithError(err).Warn("failed to decode gmail push data")
		return c.SendStatus(fiber.StatusOK)
	}

	var data GmailNotificationData
	if err := json.Unmarshal(decoded, &data); err != nil {
		h.log.WithError(err).Warn("failed to unmarshal gmail push data")
		return c.SendStatus(fiber.StatusOK)
	}

	if data.EmailAddress == "" {
		h.log.Warn("gmail push without email address, dropping")
		return c.SendStatus(fiber.StatusOK)
	}

	ctx := c.Context()
	if h.isDuplicate(ctx, fmt.Sprintf("gmail:%s:%d", data.EmailAddress, data.HistoryID)) {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return c.SendStatus(fiber.StatusOK)
	}

	if err := h.watch.HandleGmailNotification(ctx, data.EmailAddress, data.HistoryID); err != nil {
		atomic.AddInt64(&h.metrics.Errors, 1)
		h.log.WithError(err).WithField("email", data.EmailAddress).Error("gmail notification handling failed")
		return c.SendStatus(fiber.StatusOK)
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	return c.SendStatus(fiber.StatusOK)
}

// OutlookValidation answers the Graph endpoint validation handshake: the
// token must be echoed back as plain text within ten seconds.
func (h *WebhookHandler) OutlookValidation(c *fiber.Ctx) error {
	token := c.Query("validationToken")
	if token == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(token)
}

// outlookNotification is the Graph change notification batch.
type outlookNotification struct {
	Value []in.OutlookChange `json:"value"`
}

// OutlookWebhook handles Graph change and lifecycle notifications.
func (h *WebhookHandler) OutlookWebhook(c *fiber.Ctx) error {
	// Graph re-validates over POST when a subscription is created.
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(token)
	}

	atomic.AddInt64(&h.metrics.Received, 1)

	var notification outlookNotification
	if err := c.BodyParser(&notification); err != nil {
		h.log.WithError(err).Warn("failed to parse outlook notification")
		return response.Accepted(c)
	}

	ctx := c.Context()
	for i := range notification.Value {
		change := &notification.Value[i]

		key := fmt.Sprintf("outlook:%s:%s:%s", change.SubscriptionID, change.LifecycleEvent, change.Resource)
		if h.isDuplicate(ctx, key) {
			atomic.AddInt64(&h.metrics.Duplicates, 1)
			continue
		}

		if err := h.watch.HandleOutlookChange(ctx, change); err != nil {
			atomic.AddInt64(&h.metrics.Errors, 1)
			h.log.WithError(err).WithField("subscription", change.SubscriptionID).
				Error("outlook notification handling failed")
			continue
		}
		atomic.AddInt64(&h.metrics.Processed, 1)
	}

	return response.Accepted(c)
}

// Metrics exposes the webhook counters for debugging.
func (h *WebhookHandler) Metrics(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"received":   atomic.LoadInt64(&h.metrics.Received),
		"duplicates": atomic.LoadInt64(&h.metrics.Duplicates),
		"processed":  atomic.LoadInt64(&h.metrics.Processed),
		"errors":     atomic.LoadInt64(&h.metrics.Errors),
	})
}

// isDuplicate marks a notification as seen via SetNX. Redis being down must
// not block delivery, so errors count as first sight.
func (h *WebhookHandler) isDuplicate(ctx context.Context, key string) bool {
	if h.redis == nil {
		return false
	}

	set, err := h.redis.SetNX(ctx, "webhook:dedupe:"+key, "1", h.dedupeTTL).Result()
	if err != nil {
		h.log.WithError(err).Debug("webhook dedupe check failed")
		return false
	}
	return !set
}
