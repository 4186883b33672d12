package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/marketplace"
	"github.com/Checker-Finance/offer-sync/internal/metrics"
	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// Scope selects which accounts a sync run covers. A zero Scope means all
// active accounts discovered via the account resolver.
type Scope struct {
	AccountID string
}

// SyncFailure records one isolated failure inside a run. A page-level fetch
// failure carries an empty OfferID.
type SyncFailure struct {
	AccountID string `json:"account_id"`
	OfferID   string `json:"offer_id,omitempty"`
	Reason    string `json:"reason"`
}

// SyncReport aggregates the outcome of one sync run. Partial success is a
// normal, reportable state, not an error.
type SyncReport struct {
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    time.Time               `json:"finished_at"`
	Accounts      int                     `json:"accounts"`
	Processed     int                     `json:"processed"`
	Created       int                     `json:"created"`
	Changed       int                     `json:"changed"`
	NoOps         int                     `json:"no_ops"`
	ChangedByType map[model.EventType]int `json:"changed_by_type"`
	Failures      []SyncFailure           `json:"failures,omitempty"`
}

// OfferFetcher is the outbound marketplace surface the coordinator pages
// through. Retry behavior lives below this interface.
type OfferFetcher interface {
	FetchOffers(ctx context.Context, cfg *marketplace.AccountConfig, cursor string) (*marketplace.OfferPage, error)
}

// EventPublisher pushes appended history events onto the bus. Implementations
// must tolerate being handed events from concurrent account workers.
type EventPublisher interface {
	PublishOfferEvent(ctx context.Context, ev *model.OfferEvent) error
}

// RunStore extends the reconciler's store surface with the run-level
// availability probe.
type RunStore interface {
	StateStore
	HealthCheck(ctx context.Context) error
}

// Coordinator drives batch sync runs: it resolves the accounts in scope,
// pages offers from the marketplace, and funnels each offer through the
// reconciler. Accounts run with bounded parallelism; offers within an
// account are strictly sequential, so no two concurrent reconciliations
// ever target the same (account, offer) pair.
type Coordinator struct {
	logger      *zap.Logger
	store       RunStore
	fetcher     OfferFetcher
	resolver    marketplace.AccountResolver
	reconciler  *Reconciler
	publisher   EventPublisher // optional
	maxParallel int
}

// NewCoordinator wires a coordinator. publisher may be nil, in which case
// history events are persisted but not emitted on the bus.
func NewCoordinator(
	logger *zap.Logger,
	st RunStore,
	fetcher OfferFetcher,
	resolver marketplace.AccountResolver,
	reconciler *Reconciler,
	publisher EventPublisher,
	maxParallel int,
) *Coordinator {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Coordinator{
		logger:      logger,
		store:       st,
		fetcher:     fetcher,
		resolver:    resolver,
		reconciler:  reconciler,
		publisher:   publisher,
		maxParallel: maxParallel,
	}
}

// RunSync executes one batch pass over the accounts in scope, reconciling up
// to limitPerRun offers per account. Per-offer and per-page failures are
// recorded in the report; only run-level conditions (bad arguments, store
// unreachable, no accounts resolvable) surface as errors.
func (c *Coordinator) RunSync(ctx context.Context, scope Scope, limitPerRun int) (*SyncReport, error) {
	if limitPerRun <= 0 {
		return nil, fmt.Errorf("limitPerRun must be positive, got %d", limitPerRun)
	}

	if err := c.store.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}

	accounts, err := c.accountsInScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{
		StartedAt:     time.Now().UTC(),
		Accounts:      len(accounts),
		ChangedByType: make(map[model.EventType]int),
	}

	c.logger.Info("sync.run_started",
		zap.Int("accounts", len(accounts)),
		zap.Int("limit_per_run", limitPerRun))

	var (
		mu  gosync.Mutex
		wg  gosync.WaitGroup
		sem = make(chan struct{}, c.maxParallel)
	)
	for _, accountID := range accounts {
		wg.Add(1)
		sem <- struct{}{}
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-sem }()
			c.syncAccount(ctx, accountID, limitPerRun, report, &mu)
		}(accountID)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	metrics.SetLastSync("coordinator", report.FinishedAt)
	c.logger.Info("sync.run_complete",
		zap.Int("accounts", report.Accounts),
		zap.Int("processed", report.Processed),
		zap.Int("created", report.Created),
		zap.Int("changed", report.Changed),
		zap.Int("no_ops", report.NoOps),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

func (c *Coordinator) accountsInScope(ctx context.Context, scope Scope) ([]string, error) {
	if scope.AccountID != "" {
		return []string{scope.AccountID}, nil
	}
	accounts, err := c.resolver.DiscoverAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover active accounts: %w", err)
	}
	return accounts, nil
}

// syncAccount pages through one account's offers up to the run limit. A page
// fetch failure aborts the remaining pages for this account only; a bad offer
// is recorded and skipped.
func (c *Coordinator) syncAccount(ctx context.Context, accountID string, limit int, report *SyncReport, mu *gosync.Mutex) {
	cfg, err := c.resolver.Resolve(ctx, accountID)
	if err != nil {
		c.recordFailure(report, mu, accountID, "", fmt.Sprintf("resolve account config: %v", err))
		return
	}

	cursor := ""
	remaining := limit
	for remaining > 0 {
		page, err := c.fetcher.FetchOffers(ctx, cfg, cursor)
		if err != nil {
			c.recordFailure(report, mu, accountID, "", fmt.Sprintf("fetch offers page: %v", err))
			metrics.IncError("coordinator", "fetch_page_failed")
			return
		}

		for _, item := range page.Items {
			if remaining == 0 {
				break
			}
			// Cooperative cancellation between offers; an offer already in
			// reconciliation runs to completion.
			if ctx.Err() != nil {
				c.logger.Warn("sync.run_cancelled", zap.String("account", accountID))
				return
			}
			remaining--
			c.syncOffer(ctx, cfg, accountID, item, report, mu)
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
}

func (c *Coordinator) syncOffer(ctx context.Context, cfg *marketplace.AccountConfig, accountID string, item marketplace.RawOffer, report *SyncReport, mu *gosync.Mutex) {
	fetchedAt := time.Now().UTC()
	outcome, err := c.reconciler.Reconcile(ctx, accountID, item.OfferID, item.SKU, item.Payload, fetchedAt)

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		report.Failures = append(report.Failures, SyncFailure{
			AccountID: accountID,
			OfferID:   item.OfferID,
			Reason:    err.Error(),
		})
		return
	}

	report.Processed++
	switch outcome.Result {
	case ResultCreated:
		report.Created++
		report.ChangedByType[model.EventCreated]++
	case ResultChanged:
		report.Changed++
		report.ChangedByType[outcome.EventType]++
	case ResultNoOp:
		report.NoOps++
	}

	if c.publisher != nil && outcome.Event != nil {
		if perr := c.publisher.PublishOfferEvent(ctx, outcome.Event); perr != nil {
			// History is durable; bus delivery is best effort.
			c.logger.Warn("sync.publish_failed",
				zap.String("account", accountID),
				zap.String("offer", item.OfferID),
				zap.Error(perr))
		}
	}
}

func (c *Coordinator) recordFailure(report *SyncReport, mu *gosync.Mutex, accountID, offerID, reason string) {
	c.logger.Warn("sync.account_failed",
		zap.String("account", accountID),
		zap.String("reason", reason))
	mu.Lock()
	report.Failures = append(report.Failures, SyncFailure{
		AccountID: accountID,
		OfferID:   offerID,
		Reason:    reason,
	})
	mu.Unlock()
}
