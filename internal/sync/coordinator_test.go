package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/marketplace"
	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// --- fakes ---

type fakeResolver struct {
	accounts    []string
	discoverErr error
	resolveErr  map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, accountID string) (*marketplace.AccountConfig, error) {
	if err, ok := f.resolveErr[accountID]; ok {
		return nil, err
	}
	return &marketplace.AccountConfig{
		AccountID: accountID,
		BaseURL:   "https://api.example.com",
		APIKey:    "k-" + accountID,
	}, nil
}

func (f *fakeResolver) DiscoverAccounts(_ context.Context) ([]string, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return f.accounts, nil
}

// fakeFetcher serves canned pages keyed by account, then by cursor.
type fakeFetcher struct {
	mu       gosync.Mutex
	pages    map[string]map[string]*marketplace.OfferPage // account -> cursor -> page
	fetchErr map[string]error                             // account -> error
	calls    int
}

func (f *fakeFetcher) FetchOffers(_ context.Context, cfg *marketplace.AccountConfig, cursor string) (*marketplace.OfferPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fetchErr[cfg.AccountID]; ok {
		return nil, err
	}
	byCursor, ok := f.pages[cfg.AccountID]
	if !ok {
		return &marketplace.OfferPage{}, nil
	}
	page, ok := byCursor[cursor]
	if !ok {
		return &marketplace.OfferPage{}, nil
	}
	return page, nil
}

type capturingPublisher struct {
	mu     gosync.Mutex
	events []*model.OfferEvent
}

func (p *capturingPublisher) PublishOfferEvent(_ context.Context, ev *model.OfferEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func offerItem(offerID string, qty int) marketplace.RawOffer {
	payload := fmt.Sprintf(`{"offerId": %q, "sku": "SKU-%s", "status": "PUBLISHED", "availableQuantity": %d}`, offerID, offerID, qty)
	return marketplace.RawOffer{
		OfferID: offerID,
		SKU:     "SKU-" + offerID,
		Payload: json.RawMessage(payload),
	}
}

func singlePage(account string, items ...marketplace.RawOffer) map[string]map[string]*marketplace.OfferPage {
	return map[string]map[string]*marketplace.OfferPage{
		account: {"": {Items: items, Total: len(items)}},
	}
}

func newTestCoordinator(st *memStore, fetcher *fakeFetcher, resolver *fakeResolver, pub EventPublisher) *Coordinator {
	rec := NewReconciler(zap.NewNop(), st, "offer-sync-test")
	return NewCoordinator(zap.NewNop(), st, fetcher, resolver, rec, pub, 2)
}

// --- tests ---

func TestRunSync_AllOffersCreatedOnFirstRun(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1",
		offerItem("o1", 1), offerItem("o2", 2), offerItem("o3", 3))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	pub := &capturingPublisher{}
	c := newTestCoordinator(st, fetcher, resolver, pub)

	report, err := c.RunSync(context.Background(), Scope{}, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 3, report.Created)
	assert.Equal(t, 0, report.Changed)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 3, report.ChangedByType[model.EventCreated])
	assert.Len(t, pub.events, 3, "every appended event reaches the bus")
}

func TestRunSync_SecondRunIsAllNoOps(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", offerItem("o1", 1), offerItem("o2", 2))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	_, err := c.RunSync(context.Background(), Scope{}, 100)
	require.NoError(t, err)

	report, err := c.RunSync(context.Background(), Scope{}, 100)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 2, report.NoOps)
	assert.Len(t, st.events, 2, "history still holds only the two created events")
}

func TestRunSync_MalformedOfferIsolatedFromBatch(t *testing.T) {
	items := make([]marketplace.RawOffer, 0, 10)
	for i := 0; i < 9; i++ {
		items = append(items, offerItem(fmt.Sprintf("o%d", i), i))
	}
	items = append(items, marketplace.RawOffer{
		OfferID: "bad",
		SKU:     "SKU-bad",
		Payload: json.RawMessage(`"not an object"`),
	})

	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", items...)}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	report, err := c.RunSync(context.Background(), Scope{}, 100)
	require.NoError(t, err, "a bad offer never fails the run")

	assert.Equal(t, 9, report.Processed)
	assert.Equal(t, 9, report.Created)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].OfferID)
	assert.Equal(t, "acct-1", report.Failures[0].AccountID)
}

func TestRunSync_PageFailureAbortsOnlyThatAccount(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{
		pages:    singlePage("acct-ok", offerItem("o1", 1)),
		fetchErr: map[string]error{"acct-down": fmt.Errorf("marketplace 503")},
	}
	resolver := &fakeResolver{accounts: []string{"acct-ok", "acct-down"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	report, err := c.RunSync(context.Background(), Scope{}, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "acct-down", report.Failures[0].AccountID)
	assert.Empty(t, report.Failures[0].OfferID, "page-level failures carry no offer id")
}

func TestRunSync_LimitBoundsOffersPerAccount(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: map[string]map[string]*marketplace.OfferPage{
		"acct-1": {
			"": {
				Items:      []marketplace.RawOffer{offerItem("o1", 1), offerItem("o2", 2)},
				NextCursor: "p2",
			},
			"p2": {
				Items: []marketplace.RawOffer{offerItem("o3", 3), offerItem("o4", 4)},
			},
		},
	}}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	report, err := c.RunSync(context.Background(), Scope{}, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed, "run budget caps offers per account")
}

func TestRunSync_ScopedToSingleAccountSkipsDiscovery(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-2", offerItem("o1", 1))}
	resolver := &fakeResolver{discoverErr: fmt.Errorf("listing should not be called")}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	report, err := c.RunSync(context.Background(), Scope{AccountID: "acct-2"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
}

func TestRunSync_RunLevelErrors(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	_, err := c.RunSync(context.Background(), Scope{}, 0)
	assert.Error(t, err, "non-positive limit is a run-level error")

	st.healthErr = fmt.Errorf("pg down")
	_, err = c.RunSync(context.Background(), Scope{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	st.healthErr = nil

	resolver.discoverErr = fmt.Errorf("aws unreachable")
	_, err = c.RunSync(context.Background(), Scope{}, 10)
	assert.Error(t, err, "discovery failure is a run-level error")
}

func TestRunSync_CanceledContextStopsBetweenOffers(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", offerItem("o1", 1), offerItem("o2", 2))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.RunSync(ctx, Scope{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)
}

func TestRunSync_ReportTimestamps(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeFetcher{pages: singlePage("acct-1", offerItem("o1", 1))}
	resolver := &fakeResolver{accounts: []string{"acct-1"}}
	c := newTestCoordinator(st, fetcher, resolver, nil)

	before := time.Now().UTC()
	report, err := c.RunSync(context.Background(), Scope{}, 10)
	require.NoError(t, err)

	assert.False(t, report.StartedAt.Before(before))
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}
