package sync

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Tracked field names. These are the keys used in canonical serialization,
// signatures and event diffs; renaming one changes every signature, so treat
// the set as versioned.
const (
	FieldPriceValue       = "price_value"
	FieldPriceCurrency    = "price_currency"
	FieldAvailableQty     = "available_quantity"
	FieldStatus           = "status"
	FieldListingStatus    = "listing_status"
	FieldShippingPolicyID = "shipping_policy_id"
	FieldPaymentPolicyID  = "payment_policy_id"
	FieldReturnPolicyID   = "return_policy_id"
	FieldStartDate        = "start_date"
	FieldEndDate          = "end_date"
)

// trackedFields is the full, ordered set of tracked field names.
var trackedFields = []string{
	FieldAvailableQty,
	FieldEndDate,
	FieldListingStatus,
	FieldPaymentPolicyID,
	FieldPriceCurrency,
	FieldPriceValue,
	FieldReturnPolicyID,
	FieldShippingPolicyID,
	FieldStartDate,
	FieldStatus,
}

// InterestingFields is the fixed subset of an offer payload that matters for
// change detection. A nil pointer means the field was absent from the payload,
// which is distinct from a present zero value.
type InterestingFields struct {
	PriceValue       *decimal.Decimal
	PriceCurrency    *string
	AvailableQty     *int64
	Status           *string
	ListingStatus    *string
	ShippingPolicyID *string
	PaymentPolicyID  *string
	ReturnPolicyID   *string
	StartDate        *time.Time
	EndDate          *time.Time
}

// rawOfferPayload mirrors the marketplace offer shape loosely. Every field is
// optional so partial payloads from older API versions still decode.
type rawOfferPayload struct {
	Status            *string `json:"status"`
	AvailableQuantity *int64  `json:"availableQuantity"`
	PricingSummary    *struct {
		Price *struct {
			Value    *string `json:"value"`
			Currency *string `json:"currency"`
		} `json:"price"`
	} `json:"pricingSummary"`
	ListingPolicies *struct {
		ShippingPolicyID *string `json:"fulfillmentPolicyId"`
		PaymentPolicyID  *string `json:"paymentPolicyId"`
		ReturnPolicyID   *string `json:"returnPolicyId"`
	} `json:"listingPolicies"`
	Listing *struct {
		ListingStatus *string `json:"listingStatus"`
		SoldQuantity  *int64  `json:"soldQuantity"`
	} `json:"listing"`
	ListingStartDate *string `json:"listingStartDate"`
	ListingEndDate   *string `json:"listingEndDate"`
}

// Extract pulls the tracked field subset out of a raw offer payload.
// Missing or unparsable fields degrade to absent; the only error case is a
// payload that is not a JSON object at all.
func Extract(raw json.RawMessage) (InterestingFields, error) {
	var p rawOfferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return InterestingFields{}, fmt.Errorf("malformed offer payload: %w", err)
	}

	f := InterestingFields{
		Status: p.Status,
	}
	if p.AvailableQuantity != nil {
		qty := *p.AvailableQuantity
		f.AvailableQty = &qty
	}
	if p.PricingSummary != nil && p.PricingSummary.Price != nil {
		price := p.PricingSummary.Price
		if price.Value != nil {
			if d, err := decimal.NewFromString(*price.Value); err == nil {
				f.PriceValue = &d
			}
		}
		f.PriceCurrency = price.Currency
	}
	if p.ListingPolicies != nil {
		f.ShippingPolicyID = p.ListingPolicies.ShippingPolicyID
		f.PaymentPolicyID = p.ListingPolicies.PaymentPolicyID
		f.ReturnPolicyID = p.ListingPolicies.ReturnPolicyID
	}
	if p.Listing != nil {
		f.ListingStatus = p.Listing.ListingStatus
	}
	f.StartDate = parseOfferDate(p.ListingStartDate)
	f.EndDate = parseOfferDate(p.ListingEndDate)

	return f, nil
}

// ExtractSoldQty returns the sold quantity from a raw payload, or 0 when
// absent. Sold quantity is stored on the current-state row but is not part
// of the tracked set, so churn in it never triggers a history event.
func ExtractSoldQty(raw json.RawMessage) int64 {
	var p rawOfferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0
	}
	if p.Listing == nil || p.Listing.SoldQuantity == nil {
		return 0
	}
	return *p.Listing.SoldQuantity
}

// Canonical renders the tracked fields as a name → canonical-string map.
// Absent fields map to the reserved absent token, numbers to a fixed decimal
// form and dates to RFC3339 UTC, so the rendering never drifts between runs.
func (f InterestingFields) Canonical() map[string]string {
	m := make(map[string]string, len(trackedFields))
	m[FieldPriceValue] = canonicalDecimal(f.PriceValue)
	m[FieldPriceCurrency] = canonicalString(f.PriceCurrency)
	m[FieldAvailableQty] = canonicalInt(f.AvailableQty)
	m[FieldStatus] = canonicalString(f.Status)
	m[FieldListingStatus] = canonicalString(f.ListingStatus)
	m[FieldShippingPolicyID] = canonicalString(f.ShippingPolicyID)
	m[FieldPaymentPolicyID] = canonicalString(f.PaymentPolicyID)
	m[FieldReturnPolicyID] = canonicalString(f.ReturnPolicyID)
	m[FieldStartDate] = canonicalTime(f.StartDate)
	m[FieldEndDate] = canonicalTime(f.EndDate)
	return m
}

// AbsentToken marks a field that was missing from the payload. It is part of
// the signature input format and must never collide with a real value.
const AbsentToken = "__absent__"

func canonicalString(s *string) string {
	if s == nil {
		return AbsentToken
	}
	return *s
}

func canonicalInt(v *int64) string {
	if v == nil {
		return AbsentToken
	}
	return strconv.FormatInt(*v, 10)
}

func canonicalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return AbsentToken
	}
	// Four fixed decimal places covers marketplace sub-cent pricing and keeps
	// 10, 10.0 and 10.00 byte-identical.
	return d.StringFixed(4)
}

func canonicalTime(t *time.Time) string {
	if t == nil {
		return AbsentToken
	}
	return t.UTC().Format(time.RFC3339)
}

func parseOfferDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
