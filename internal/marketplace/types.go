package marketplace

import (
	"context"
	"encoding/json"
)

// AccountConfig holds per-account marketplace API configuration resolved
// from AWS Secrets Manager.
// Secret format: {"api_key": "...", "base_url": "https://...", "marketplace_id": "EBAY_US"}
type AccountConfig struct {
	AccountID     string // selling account identifier
	BaseURL       string // marketplace API base URL
	APIKey        string // API key for the x-api-key header
	MarketplaceID string // marketplace site the account sells on
}

// rateLimitKey isolates rate limits per API endpoint so one account's burst
// cannot starve accounts on a different marketplace host.
func (c *AccountConfig) rateLimitKey() string {
	return "marketplace_api:" + c.BaseURL
}

// AccountResolver resolves per-account marketplace configuration.
type AccountResolver interface {
	// Resolve fetches the AccountConfig for an account ID, using cache when available.
	Resolve(ctx context.Context, accountID string) (*AccountConfig, error)

	// DiscoverAccounts lists all account IDs that have marketplace secrets configured.
	DiscoverAccounts(ctx context.Context) ([]string, error)
}

// RawOffer is one offer item as returned by the marketplace, with its
// identity peeked out and the untouched payload preserved for the reconciler.
type RawOffer struct {
	OfferID string
	SKU     string
	Payload json.RawMessage
}

// OfferPage is one page of a lazy, restartable offer listing.
// An empty NextCursor means the sequence is exhausted.
type OfferPage struct {
	Items      []RawOffer
	NextCursor string
	Total      int
}

// offerListResponse mirrors the marketplace's GET /sell/inventory/v1/offer
// response. Items are kept raw so no field is lost between API versions.
type offerListResponse struct {
	Offers []json.RawMessage `json:"offers"`
	Next   string            `json:"next"`
	Total  int               `json:"total"`
}

// offerIdentity is the minimal decode used to address an offer item.
type offerIdentity struct {
	OfferID string `json:"offerId"`
	SKU     string `json:"sku"`
}

// marketplaceErrorResponse is the error body the marketplace returns on 4xx.
type marketplaceErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
