package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/pkg/model"
)

func newTestStore(t *testing.T) (*HybridStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &HybridStore{redis: rdb, logger: zap.NewNop(), cacheTTL: time.Minute}, mr
}

func sampleOffer() model.Offer {
	return model.Offer{
		AccountID:     "acct-1",
		OfferID:       "offer-1",
		SKU:           "SKU-1",
		Status:        "PUBLISHED",
		ListingStatus: "ACTIVE",
		PriceValue:    decimal.RequireFromString("19.99"),
		PriceCurrency: "USD",
		AvailableQty:  12,
		SoldQty:       3,
		LastPayload:   json.RawMessage(`{"status": "PUBLISHED"}`),
		LastSeenAt:    time.Now().UTC().Truncate(time.Second),
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestSetAndGetJSON(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	val := map[string]string{"api_key": "abc123", "base_url": "https://api.example.com"}

	if err := st.SetJSON(ctx, "account:cfg", val, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var got map[string]string
	if err := st.GetJSON(ctx, "account:cfg", &got); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if got["api_key"] != "abc123" {
		t.Errorf("expected api_key=abc123, got %s", got["api_key"])
	}
}

func TestGetJSON_MissingKey(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	var got map[string]string
	if err := st.GetJSON(ctx, "nope", &got); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestGetCachedState_ServesFromRedis(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	offer := sampleOffer()
	st.cacheState(ctx, offer)

	got, err := st.GetCachedState(ctx, "acct-1", "offer-1")
	if err != nil {
		t.Fatalf("GetCachedState failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected offer, got nil")
	}
	if got.OfferID != "offer-1" {
		t.Errorf("expected offer_id=offer-1, got %s", got.OfferID)
	}
	if got.Status != "PUBLISHED" {
		t.Errorf("expected status=PUBLISHED, got %s", got.Status)
	}
	if !got.PriceValue.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("expected price=19.99, got %s", got.PriceValue)
	}
}

func TestCachedStateExpiration(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	offer := sampleOffer()
	st.cacheState(ctx, offer)

	mr.FastForward(2 * time.Minute)

	var got model.Offer
	if err := st.GetJSON(ctx, stateKey("acct-1", "offer-1"), &got); err == nil {
		t.Fatal("expected cached state to expire after TTL")
	}
}

func TestCachedStateKeyIsolation(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	a := sampleOffer()
	b := sampleOffer()
	b.AccountID = "acct-2"
	b.Status = "UNPUBLISHED"

	st.cacheState(ctx, a)
	st.cacheState(ctx, b)

	got, err := st.GetCachedState(ctx, "acct-2", "offer-1")
	if err != nil {
		t.Fatalf("GetCachedState failed: %v", err)
	}
	if got.Status != "UNPUBLISHED" {
		t.Errorf("expected acct-2 copy, got status=%s", got.Status)
	}
}

func TestHealthCheck_RedisOnly(t *testing.T) {
	ctx := context.Background()
	st, mr := newTestStore(t)
	defer mr.Close()

	if err := st.HealthCheck(ctx); err != nil {
		t.Fatalf("expected healthy store, got %v", err)
	}

	mr.Close()
	if err := st.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check failure after redis shutdown")
	}
}
