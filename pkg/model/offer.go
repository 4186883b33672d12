package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType classifies the dominant change captured by an OfferEvent.
// When several tracked fields move in the same sync pass, exactly one
// type is recorded, resolved by fixed precedence (see sync.Classify).
type EventType string

const (
	EventCreated      EventType = "created"
	EventPriceChange  EventType = "price_change"
	EventQtyChange    EventType = "qty_change"
	EventStatusChange EventType = "status_change"
	EventPolicyChange EventType = "policy_change"
	EventSnapshot     EventType = "snapshot"
)

// Offer is the current-state row for a marketplace sell listing.
// Exactly one row exists per (account_id, offer_id); it is overwritten
// on every sync pass and LastSeenAt always advances, whether or not a
// history event was emitted. The flattened price/quantity/status columns
// are read conveniences; LastPayload is the authoritative snapshot the
// reconciler re-extracts from.
type Offer struct {
	AccountID     string          `json:"account_id"`
	OfferID       string          `json:"offer_id"`
	SKU           string          `json:"sku"`
	Status        string          `json:"status"`
	ListingStatus string          `json:"listing_status"`
	PriceValue    decimal.Decimal `json:"price_value"`
	PriceCurrency string          `json:"price_currency"`
	AvailableQty  int64           `json:"available_qty"`
	SoldQty       int64           `json:"sold_qty"`
	LastPayload   json.RawMessage `json:"last_payload,omitempty"`
	LastSeenAt    time.Time       `json:"last_seen_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FieldDelta records one changed tracked field inside an OfferEvent diff.
// Values are the canonical string renderings used for signatures, so the
// diff is directly comparable across extractor versions.
type FieldDelta struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// OfferEvent is one immutable row of the append-only change history.
// Events carry their own full payload snapshot, so they stay meaningful
// even if the current-state row is later rebuilt.
type OfferEvent struct {
	ID        uuid.UUID             `json:"id"`
	AccountID string                `json:"account_id"`
	OfferID   string                `json:"offer_id"`
	SKU       string                `json:"sku"`
	Type      EventType             `json:"type"`
	Signature string                `json:"signature"`
	Diff      map[string]FieldDelta `json:"diff,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
	Source    string                `json:"source"`
	FetchedAt time.Time             `json:"fetched_at"`
}
