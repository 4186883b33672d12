package api

import "github.com/Checker-Finance/offer-sync/pkg/model"

// EventListResponse wraps an offer's history for the timeline UI.
type EventListResponse struct {
	OfferID string             `json:"offer_id"`
	Count   int                `json:"count"`
	Events  []model.OfferEvent `json:"events"`
}
