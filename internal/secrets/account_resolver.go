package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/marketplace"
	pkgsecrets "github.com/Checker-Finance/offer-sync/pkg/secrets"
)

// AccountConfigResolver resolves per-account marketplace API credentials.
// It is a thin wrapper over the generic AWSResolver[marketplace.AccountConfig]
// and satisfies marketplace.AccountResolver.
//
// Secret naming convention: {env}/{accountID}/{marketplace}
// Secret JSON format:       {"api_key": "...", "base_url": "https://...", "marketplace_id": "EBAY_US"}
type AccountConfigResolver struct {
	inner *AWSResolver[marketplace.AccountConfig]
}

// NewAccountConfigResolver constructs a marketplace account resolver backed
// by AWS Secrets Manager and a local TTL cache.
func NewAccountConfigResolver(
	logger *zap.Logger,
	env string,
	marketplaceName string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[marketplace.AccountConfig],
) *AccountConfigResolver {
	inner := NewAWSResolver(logger, env, marketplaceName, provider, cache)
	return &AccountConfigResolver{inner: inner}
}

// Resolve fetches or caches the AccountConfig for a given account ID.
func (r *AccountConfigResolver) Resolve(ctx context.Context, accountID string) (*marketplace.AccountConfig, error) {
	cfg, err := r.inner.Resolve(ctx, accountID, parseAccountConfig(accountID))
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DiscoverAccounts lists all account IDs with marketplace secrets configured.
func (r *AccountConfigResolver) DiscoverAccounts(ctx context.Context) ([]string, error) {
	return r.inner.DiscoverAccounts(ctx)
}

// parseAccountConfig extracts an AccountConfig from the raw AWS secret map.
func parseAccountConfig(accountID string) func(map[string]string) (marketplace.AccountConfig, error) {
	return func(m map[string]string) (marketplace.AccountConfig, error) {
		cfg := marketplace.AccountConfig{
			AccountID:     accountID,
			APIKey:        m["api_key"],
			BaseURL:       m["base_url"],
			MarketplaceID: m["marketplace_id"],
		}
		if cfg.APIKey == "" {
			return marketplace.AccountConfig{}, fmt.Errorf("missing required field 'api_key'")
		}
		if cfg.BaseURL == "" {
			return marketplace.AccountConfig{}, fmt.Errorf("missing required field 'base_url'")
		}
		return cfg, nil
	}
}
