package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/offer-sync/pkg/secrets"
)

// AWSResolver resolves per-account configuration from AWS Secrets Manager,
// caching results locally to reduce API calls. It is generic over the
// resolved config type T so the same core logic can serve any marketplace.
//
// Secret naming convention: {env}/{accountID}/{marketplace}
type AWSResolver[T any] struct {
	logger      *zap.Logger
	env         string
	marketplace string
	provider    pkgsecrets.Provider
	cache       *pkgsecrets.Cache[T]
}

// NewAWSResolver constructs a generic multi-account config resolver.
func NewAWSResolver[T any](
	logger *zap.Logger,
	env string,
	marketplace string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *AWSResolver[T] {
	return &AWSResolver[T]{
		logger:      logger,
		env:         env,
		marketplace: marketplace,
		provider:    provider,
		cache:       cache,
	}
}

// cacheKey builds the in-memory cache key for an account.
func (r *AWSResolver[T]) cacheKey(accountID string) string {
	return strings.ToLower(fmt.Sprintf("%s|%s", accountID, r.marketplace))
}

// secretName builds the AWS Secrets Manager key for an account.
// Pattern: {env}/{accountID}/{marketplace}
func (r *AWSResolver[T]) secretName(accountID string) string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", r.env, accountID, r.marketplace))
}

// Resolve fetches or caches config T for a given account ID.
// parse extracts T from the raw secret map; it should validate required fields.
func (r *AWSResolver[T]) Resolve(ctx context.Context, accountID string, parse func(map[string]string) (T, error)) (T, error) {
	key := r.cacheKey(accountID)

	if cfg, ok := r.cache.Get(key); ok {
		metrics.IncCacheHit("hit")
		return cfg, nil
	}
	metrics.IncCacheHit("miss")

	secretName := r.secretName(accountID)
	secretMap, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", secretName),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve account config for %q: %w", accountID, err)
	}

	cfg, err := parse(secretMap)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", secretName, err)
	}

	r.cache.Put(key, cfg)

	r.logger.Info("aws.account_config_resolved",
		zap.String("account", accountID),
		zap.String("marketplace", r.marketplace),
	)
	return cfg, nil
}

// DiscoverAccounts lists all account IDs that have secrets configured in AWS
// Secrets Manager. It searches for secrets matching the prefix "{env}/" and
// ending with "/{marketplace}", then extracts account IDs from the middle
// segment. This listing is what defines the "all active accounts" sync scope.
func (r *AWSResolver[T]) DiscoverAccounts(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(fmt.Sprintf("%s/", r.env))
	suffix := "/" + r.marketplace

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover accounts: %w", err)
	}

	var accounts []string
	for _, name := range names {
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, suffix) {
			continue
		}
		trimmed := strings.TrimPrefix(lower, prefix)
		trimmed = strings.TrimSuffix(trimmed, suffix)
		if trimmed != "" && !strings.Contains(trimmed, "/") {
			accounts = append(accounts, trimmed)
		}
	}

	r.logger.Info("aws.accounts_discovered",
		zap.Int("count", len(accounts)),
		zap.Strings("accounts", accounts),
	)
	return accounts, nil
}
