package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/httpclient"
	"github.com/Checker-Finance/offer-sync/internal/metrics"
	"github.com/Checker-Finance/offer-sync/internal/rate"
)

// DefaultPageSize is the offer page size requested from the marketplace.
const DefaultPageSize = 100

// Client wraps low-level HTTP communication with the marketplace sell API.
// Configuration (base URL, API key) is supplied per request via AccountConfig
// so a single Client instance serves every selling account.
type Client struct {
	logger   *zap.Logger
	exec     *httpclient.Executor
	pageSize int
}

// NewClient constructs a marketplace HTTP client.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	exec := httpclient.New(logger, rateMgr, httpClient, 2, "marketplace", func(status int, body []byte) error {
		var errResp marketplaceErrorResponse
		_ = json.Unmarshal(body, &errResp)

		logger.Warn("marketplace.client_error",
			zap.Int("status", status),
			zap.String("error", errResp.Error),
			zap.String("message", errResp.Message))

		errMsg := errResp.Message
		if errMsg == "" {
			errMsg = errResp.Error
		}
		if errMsg == "" {
			errMsg = string(body)
		}
		return fmt.Errorf("marketplace returned %d: %s", status, errMsg)
	})
	return &Client{
		logger:   logger,
		exec:     exec,
		pageSize: DefaultPageSize,
	}
}

// FetchOffers retrieves one page of the account's offers.
// GET /sell/inventory/v1/offer?limit=N&cursor=...
// Pass the returned NextCursor to continue; an empty cursor starts over.
func (c *Client) FetchOffers(ctx context.Context, cfg *AccountConfig, cursor string) (*OfferPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if cfg.MarketplaceID != "" {
		q.Set("marketplace_id", cfg.MarketplaceID)
	}

	endpoint := fmt.Sprintf("%s/sell/inventory/v1/offer?%s", cfg.BaseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, cfg.APIKey)

	start := time.Now()
	var resp offerListResponse
	if err := c.exec.DoJSON(ctx, req, cfg.rateLimitKey(), &resp); err != nil {
		metrics.IncMarketplaceRequest("/sell/inventory/v1/offer", http.MethodGet, "error")
		return nil, fmt.Errorf("fetch offers for account %q: %w", cfg.AccountID, err)
	}
	metrics.IncMarketplaceRequest("/sell/inventory/v1/offer", http.MethodGet, "ok")
	metrics.ObserveDuration(metrics.MarketplaceRequestDuration, start, "/sell/inventory/v1/offer", http.MethodGet)

	page := &OfferPage{
		Items:      make([]RawOffer, 0, len(resp.Offers)),
		NextCursor: resp.Next,
		Total:      resp.Total,
	}
	for _, item := range resp.Offers {
		var id offerIdentity
		// Identity failures are left to the reconciler's malformed-payload
		// handling; the item is still carried so it shows up in the report.
		_ = json.Unmarshal(item, &id)
		page.Items = append(page.Items, RawOffer{
			OfferID: id.OfferID,
			SKU:     id.SKU,
			Payload: item,
		})
	}

	c.logger.Debug("marketplace.offers_page",
		zap.String("account", cfg.AccountID),
		zap.Int("items", len(page.Items)),
		zap.Bool("has_next", page.NextCursor != ""))

	return page, nil
}

// setHeaders sets the required headers for marketplace API requests.
func setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Accept", "application/json")
}
