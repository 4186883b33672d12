package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// ErrDuplicateOffer is returned by InsertCurrentState when a current-state
// row already exists for the (account, offer) pair. Callers recover by
// switching to the update-path reconciliation.
var ErrDuplicateOffer = errors.New("offer current-state row already exists")

// Store defines the contract for persisting offer state and change history.
type Store interface {
	GetCurrentState(ctx context.Context, accountID, offerID string) (*model.Offer, error)
	InsertCurrentState(ctx context.Context, offer model.Offer) error
	UpdateCurrentState(ctx context.Context, offer model.Offer) error
	TouchCurrentState(ctx context.Context, accountID, offerID string, seenAt time.Time) error
	AppendEvent(ctx context.Context, ev model.OfferEvent) error
	ListEvents(ctx context.Context, offerID, accountID string, limit int) ([]model.OfferEvent, error)
	GetCachedState(ctx context.Context, accountID, offerID string) (*model.Offer, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is Postgres-authoritative with a Redis read-through cache of
// current-state rows. The reconciler always reads Postgres; the cache only
// serves the admin read endpoints.
type HybridStore struct {
	redis    *redis.Client
	PG       *pgxpool.Pool
	logger   *zap.Logger
	cacheTTL time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-cached, Postgres-backed store.
func NewHybrid(redisAddr string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, cacheTTL time.Duration, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger, cacheTTL: cacheTTL}, nil
}

// GetCurrentState returns the current-state row, or nil when the offer has
// never been seen. Always reads Postgres — this is the reconciler's view.
func (s *HybridStore) GetCurrentState(ctx context.Context, accountID, offerID string) (*model.Offer, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	row := s.PG.QueryRow(ctx, `
		SELECT account_id, offer_id, sku, status, listing_status,
		       price_value, price_currency, available_qty, sold_qty,
		       last_payload, last_seen_at, created_at
		FROM marketplace.offer_state
		WHERE account_id = $1 AND offer_id = $2;
	`, accountID, offerID)

	var o model.Offer
	if err := row.Scan(&o.AccountID, &o.OfferID, &o.SKU, &o.Status, &o.ListingStatus,
		&o.PriceValue, &o.PriceCurrency, &o.AvailableQty, &o.SoldQty,
		&o.LastPayload, &o.LastSeenAt, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("GetCurrentState scan failed: %w", err)
	}
	return &o, nil
}

// InsertCurrentState inserts a brand-new current-state row. The insert is
// conflict-checked against the UNIQUE(account_id, offer_id) constraint:
// zero rows affected means a concurrent writer won and ErrDuplicateOffer
// is returned.
func (s *HybridStore) InsertCurrentState(ctx context.Context, offer model.Offer) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	tag, err := s.PG.Exec(ctx, `
		INSERT INTO marketplace.offer_state (
			account_id, offer_id, sku, status, listing_status,
			price_value, price_currency, available_qty, sold_qty,
			last_payload, last_seen_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (account_id, offer_id) DO NOTHING;
	`, offer.AccountID, offer.OfferID, offer.SKU, offer.Status, offer.ListingStatus,
		offer.PriceValue, offer.PriceCurrency, offer.AvailableQty, offer.SoldQty,
		offer.LastPayload, offer.LastSeenAt, offer.CreatedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_state_failed", zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateOffer
	}
	s.cacheState(ctx, offer)
	return nil
}

// UpdateCurrentState overwrites the mutable columns of an existing row.
func (s *HybridStore) UpdateCurrentState(ctx context.Context, offer model.Offer) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	_, err := s.PG.Exec(ctx, `
		UPDATE marketplace.offer_state SET
			sku = $3,
			status = $4,
			listing_status = $5,
			price_value = $6,
			price_currency = $7,
			available_qty = $8,
			sold_qty = $9,
			last_payload = $10,
			last_seen_at = $11
		WHERE account_id = $1 AND offer_id = $2;
	`, offer.AccountID, offer.OfferID, offer.SKU, offer.Status, offer.ListingStatus,
		offer.PriceValue, offer.PriceCurrency, offer.AvailableQty, offer.SoldQty,
		offer.LastPayload, offer.LastSeenAt)
	if err != nil {
		s.logger.Error("store.pg.update_state_failed", zap.Error(err))
		return err
	}
	s.cacheState(ctx, offer)
	return nil
}

// TouchCurrentState advances last_seen_at without rewriting the row. Used on
// the no-op reconciliation path.
func (s *HybridStore) TouchCurrentState(ctx context.Context, accountID, offerID string, seenAt time.Time) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	_, err := s.PG.Exec(ctx, `
		UPDATE marketplace.offer_state
		SET last_seen_at = $3
		WHERE account_id = $1 AND offer_id = $2;
	`, accountID, offerID, seenAt)
	if err != nil {
		s.logger.Error("store.pg.touch_state_failed", zap.Error(err))
	}
	return err
}

// AppendEvent inserts an immutable row into marketplace.offer_event.
func (s *HybridStore) AppendEvent(ctx context.Context, ev model.OfferEvent) error {
	if s.PG == nil {
		return fmt.Errorf("postgres unavailable")
	}
	diff, err := json.Marshal(ev.Diff)
	if err != nil {
		return fmt.Errorf("marshal event diff: %w", err)
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO marketplace.offer_event (
			id, account_id, offer_id, sku, event_type,
			signature, diff, payload, source, fetched_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`, ev.ID, ev.AccountID, ev.OfferID, ev.SKU, string(ev.Type),
		ev.Signature, diff, ev.Payload, ev.Source, ev.FetchedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_event_failed", zap.Error(err))
	}
	return err
}

// ListEvents returns an offer's history, most recent first. accountID is an
// optional filter (empty matches all accounts).
func (s *HybridStore) ListEvents(ctx context.Context, offerID, accountID string, limit int) ([]model.OfferEvent, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.PG.Query(ctx, `
		SELECT id, account_id, offer_id, sku, event_type,
		       signature, diff, payload, source, fetched_at
		FROM marketplace.offer_event
		WHERE offer_id = $1
		  AND ($2 = '' OR account_id = $2)
		ORDER BY fetched_at DESC, id DESC
		LIMIT $3;
	`, offerID, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OfferEvent
	for rows.Next() {
		var (
			ev      model.OfferEvent
			evType  string
			rawDiff []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.OfferID, &ev.SKU, &evType,
			&ev.Signature, &rawDiff, &ev.Payload, &ev.Source, &ev.FetchedAt); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(evType)
		if len(rawDiff) > 0 {
			if err := json.Unmarshal(rawDiff, &ev.Diff); err != nil {
				return nil, fmt.Errorf("decode event diff: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetCachedState serves admin reads: Redis first, falling back to Postgres
// (and refilling the cache) on a miss.
func (s *HybridStore) GetCachedState(ctx context.Context, accountID, offerID string) (*model.Offer, error) {
	data, err := s.redis.Get(ctx, stateKey(accountID, offerID)).Bytes()
	if err == nil {
		var o model.Offer
		if uerr := json.Unmarshal(data, &o); uerr == nil {
			return &o, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("store.redis.get_state_failed", zap.Error(err))
	}

	o, err := s.GetCurrentState(ctx, accountID, offerID)
	if err != nil || o == nil {
		return o, err
	}
	s.cacheState(ctx, *o)
	return o, nil
}

// cacheState writes a current-state row to Redis, best effort.
func (s *HybridStore) cacheState(ctx context.Context, offer model.Offer) {
	if err := s.SetJSON(ctx, stateKey(offer.AccountID, offer.OfferID), offer, s.cacheTTL); err != nil {
		s.logger.Warn("store.redis.cache_state_failed",
			zap.String("account", offer.AccountID),
			zap.String("offer", offer.OfferID),
			zap.Error(err))
	}
}

func stateKey(accountID, offerID string) string {
	return fmt.Sprintf("offer_state:%s:%s", accountID, offerID)
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
