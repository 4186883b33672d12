package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/sync"
	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// SyncRunner defines the sync operations needed by the handler.
type SyncRunner interface {
	RunSync(ctx context.Context, scope sync.Scope, limitPerRun int) (*sync.SyncReport, error)
}

// HistoryReader exposes the read side: current state and change history.
type HistoryReader interface {
	ListEvents(ctx context.Context, offerID, accountID string, limit int) ([]model.OfferEvent, error)
	GetCachedState(ctx context.Context, accountID, offerID string) (*model.Offer, error)
}

// Handler handles admin HTTP requests for sync runs and offer history.
type Handler struct {
	logger *zap.Logger
	runner SyncRunner
	reader HistoryReader
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, runner SyncRunner, reader HistoryReader) *Handler {
	return &Handler{
		logger: logger,
		runner: runner,
		reader: reader,
	}
}

// TriggerSyncHandler runs a sync pass for one account or all active accounts.
// POST /api/v1/sync
func (h *Handler) TriggerSyncHandler(c *fiber.Ctx) error {
	var req SyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	h.logger.Info("api.sync_triggered",
		zap.String("account", req.AccountID),
		zap.Int("limit", req.Limit))

	report, err := h.runner.RunSync(c.Context(), sync.Scope{AccountID: req.AccountID}, req.Limit)
	if err != nil {
		h.logger.Error("api.sync_failed",
			zap.String("account", req.AccountID),
			zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(report)
}

// ListEventsHandler returns an offer's change history, most recent first.
// GET /api/v1/offers/:offerId/events?accountId=...&limit=...
func (h *Handler) ListEventsHandler(c *fiber.Ctx) error {
	offerID := c.Params("offerId")
	if offerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "offerId is required"})
	}
	accountID := c.Query("accountId")
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be between 1 and 500"})
	}

	events, err := h.reader.ListEvents(c.Context(), offerID, accountID, limit)
	if err != nil {
		h.logger.Error("api.list_events_failed",
			zap.String("offer", offerID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(EventListResponse{
		OfferID: offerID,
		Count:   len(events),
		Events:  events,
	})
}

// GetOfferHandler returns the current-state row for one offer.
// GET /api/v1/accounts/:accountId/offers/:offerId
func (h *Handler) GetOfferHandler(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	offerID := c.Params("offerId")
	if accountID == "" || offerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "accountId and offerId are required"})
	}

	offer, err := h.reader.GetCachedState(c.Context(), accountID, offerID)
	if err != nil {
		h.logger.Error("api.get_offer_failed",
			zap.String("account", accountID),
			zap.String("offer", offerID),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if offer == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "offer not found"})
	}

	return c.Status(fiber.StatusOK).JSON(offer)
}
