package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/offer-sync/internal/metrics"
	"github.com/Checker-Finance/offer-sync/internal/store"
	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// ResultKind reports which reconciliation path was taken for an offer.
type ResultKind string

const (
	ResultNoOp    ResultKind = "no_op"
	ResultCreated ResultKind = "created"
	ResultChanged ResultKind = "changed"
)

// Outcome is the per-offer result of a reconciliation pass.
type Outcome struct {
	Result    ResultKind
	EventType model.EventType // empty on the no-op path
	Diff      map[string]model.FieldDelta
	Event     *model.OfferEvent // the appended history row, nil on no-op
}

// StateStore is the narrow persistence surface the reconciler writes through.
// The reconciler is the only component that mutates either table.
type StateStore interface {
	GetCurrentState(ctx context.Context, accountID, offerID string) (*model.Offer, error)
	InsertCurrentState(ctx context.Context, offer model.Offer) error
	UpdateCurrentState(ctx context.Context, offer model.Offer) error
	TouchCurrentState(ctx context.Context, accountID, offerID string, seenAt time.Time) error
	AppendEvent(ctx context.Context, ev model.OfferEvent) error
}

// Reconciler compares freshly fetched offer state against the stored
// current-state row and appends at most one history event per real change.
// Reconcile is idempotent: running it twice on byte-identical input emits
// the event once and takes the no-op path the second time.
type Reconciler struct {
	logger *zap.Logger
	store  StateStore
	source string
}

// NewReconciler constructs a reconciler. source tags every emitted event
// (e.g. "offer-sync") so history rows are attributable.
func NewReconciler(logger *zap.Logger, st StateStore, source string) *Reconciler {
	return &Reconciler{
		logger: logger,
		store:  st,
		source: source,
	}
}

// Reconcile runs the read / extract / sign / compare / write sequence for a
// single offer. The stored row's signature is recomputed from its persisted
// payload rather than cached, so extractor changes reclassify cleanly on the
// next pass.
func (r *Reconciler) Reconcile(ctx context.Context, accountID, offerID, sku string, raw json.RawMessage, fetchedAt time.Time) (Outcome, error) {
	fields, err := Extract(raw)
	if err != nil {
		return Outcome{}, err
	}
	sig := Signature(fields)

	current, err := r.store.GetCurrentState(ctx, accountID, offerID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load current state: %w", err)
	}

	if current == nil {
		return r.reconcileCreate(ctx, accountID, offerID, sku, raw, fields, sig, fetchedAt)
	}
	return r.reconcileExisting(ctx, current, accountID, offerID, sku, raw, fields, sig, fetchedAt)
}

// reconcileCreate handles a previously unseen (account, offer) pair. The
// current-state insert goes first and is conflict-checked: if a concurrent
// run already inserted the row, this writer lost the race and retries once
// as an update-path reconciliation instead, so the created event is never
// double-emitted.
func (r *Reconciler) reconcileCreate(ctx context.Context, accountID, offerID, sku string, raw json.RawMessage, fields InterestingFields, sig string, fetchedAt time.Time) (Outcome, error) {
	offer := buildOffer(accountID, offerID, sku, raw, fields, fetchedAt)
	offer.CreatedAt = fetchedAt

	if err := r.store.InsertCurrentState(ctx, offer); err != nil {
		if errors.Is(err, store.ErrDuplicateOffer) {
			r.logger.Debug("sync.insert_conflict",
				zap.String("account", accountID),
				zap.String("offer", offerID))
			current, rerr := r.store.GetCurrentState(ctx, accountID, offerID)
			if rerr != nil || current == nil {
				return Outcome{}, fmt.Errorf("reload after insert conflict: %w", rerr)
			}
			return r.reconcileExisting(ctx, current, accountID, offerID, sku, raw, fields, sig, fetchedAt)
		}
		return Outcome{}, fmt.Errorf("insert current state: %w", err)
	}

	ev := r.newEvent(accountID, offerID, sku, model.EventCreated, sig, nil, raw, fetchedAt)
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return Outcome{}, fmt.Errorf("append created event: %w", err)
	}

	r.logger.Info("sync.offer_created",
		zap.String("account", accountID),
		zap.String("offer", offerID),
		zap.String("sku", sku))
	metrics.IncReconcileOutcome(string(ResultCreated), string(model.EventCreated))

	return Outcome{Result: ResultCreated, EventType: model.EventCreated, Event: &ev}, nil
}

func (r *Reconciler) reconcileExisting(ctx context.Context, current *model.Offer, accountID, offerID, sku string, raw json.RawMessage, fields InterestingFields, sig string, fetchedAt time.Time) (Outcome, error) {
	storedFields, err := Extract(current.LastPayload)
	if err != nil {
		// A stored payload that no longer extracts is treated as empty so the
		// next write repairs it rather than wedging the offer.
		r.logger.Warn("sync.stored_payload_unreadable",
			zap.String("account", accountID),
			zap.String("offer", offerID),
			zap.Error(err))
		storedFields = InterestingFields{}
	}

	if Signature(storedFields) == sig {
		if err := r.store.TouchCurrentState(ctx, accountID, offerID, fetchedAt); err != nil {
			return Outcome{}, fmt.Errorf("touch current state: %w", err)
		}
		metrics.IncReconcileOutcome(string(ResultNoOp), "")
		return Outcome{Result: ResultNoOp}, nil
	}

	changed := Diff(storedFields, fields)
	eventType := Classify(changed)

	ev := r.newEvent(accountID, offerID, sku, eventType, sig, changed, raw, fetchedAt)
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return Outcome{}, fmt.Errorf("append %s event: %w", eventType, err)
	}

	offer := buildOffer(accountID, offerID, sku, raw, fields, fetchedAt)
	offer.CreatedAt = current.CreatedAt
	if err := r.store.UpdateCurrentState(ctx, offer); err != nil {
		// The event is already durable; a rerun recomputes the same signature
		// and retries this write.
		return Outcome{}, fmt.Errorf("update current state: %w", err)
	}

	r.logger.Info("sync.offer_changed",
		zap.String("account", accountID),
		zap.String("offer", offerID),
		zap.String("event_type", string(eventType)),
		zap.Int("fields_changed", len(changed)))
	metrics.IncReconcileOutcome(string(ResultChanged), string(eventType))

	return Outcome{Result: ResultChanged, EventType: eventType, Diff: changed, Event: &ev}, nil
}

func (r *Reconciler) newEvent(accountID, offerID, sku string, typ model.EventType, sig string, diff map[string]model.FieldDelta, raw json.RawMessage, fetchedAt time.Time) model.OfferEvent {
	return model.OfferEvent{
		ID:        uuid.New(),
		AccountID: accountID,
		OfferID:   offerID,
		SKU:       sku,
		Type:      typ,
		Signature: sig,
		Diff:      diff,
		Payload:   raw,
		Source:    r.source,
		FetchedAt: fetchedAt,
	}
}

// buildOffer flattens the extracted fields onto a current-state row.
func buildOffer(accountID, offerID, sku string, raw json.RawMessage, fields InterestingFields, fetchedAt time.Time) model.Offer {
	o := model.Offer{
		AccountID:   accountID,
		OfferID:     offerID,
		SKU:         sku,
		SoldQty:     ExtractSoldQty(raw),
		LastPayload: raw,
		LastSeenAt:  fetchedAt,
	}
	if fields.Status != nil {
		o.Status = *fields.Status
	}
	if fields.ListingStatus != nil {
		o.ListingStatus = *fields.ListingStatus
	}
	if fields.PriceValue != nil {
		o.PriceValue = *fields.PriceValue
	}
	if fields.PriceCurrency != nil {
		o.PriceCurrency = *fields.PriceCurrency
	}
	if fields.AvailableQty != nil {
		o.AvailableQty = *fields.AvailableQty
	}
	return o
}
