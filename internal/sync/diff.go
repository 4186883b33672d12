package sync

import (
	"github.com/Checker-Finance/offer-sync/pkg/model"
)

// Diff compares two tracked field sets and returns the changed fields keyed
// by field name, with old and new canonical values. Unchanged fields are
// omitted; an empty map means the sets are equivalent.
func Diff(oldFields, newFields InterestingFields) map[string]model.FieldDelta {
	oldC := oldFields.Canonical()
	newC := newFields.Canonical()

	changed := make(map[string]model.FieldDelta)
	for _, name := range trackedFields {
		if oldC[name] != newC[name] {
			changed[name] = model.FieldDelta{Old: oldC[name], New: newC[name]}
		}
	}
	return changed
}

// classificationOrder maps each event type to the tracked fields that trigger
// it, highest priority first. Classification walks this table top to bottom,
// so a relist that moves price and status together is labeled price_change.
var classificationOrder = []struct {
	typ    model.EventType
	fields []string
}{
	{model.EventPriceChange, []string{FieldPriceValue, FieldPriceCurrency}},
	{model.EventQtyChange, []string{FieldAvailableQty}},
	{model.EventStatusChange, []string{FieldStatus, FieldListingStatus}},
	{model.EventPolicyChange, []string{FieldShippingPolicyID, FieldPaymentPolicyID, FieldReturnPolicyID}},
}

// Classify resolves the dominant event type for a non-empty diff.
// Fields outside the priority table (tracked dates) fall through to snapshot.
// The created case never reaches here — first sightings bypass diffing.
func Classify(changed map[string]model.FieldDelta) model.EventType {
	for _, entry := range classificationOrder {
		for _, name := range entry.fields {
			if _, ok := changed[name]; ok {
				return entry.typ
			}
		}
	}
	return model.EventSnapshot
}
