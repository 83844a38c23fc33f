package sales

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesbot/internal/model"
)

func sampleOrder() model.RawOrder {
	return model.RawOrder{
		ID:          2000008,
		DateCreated: time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("119.80"),
		Items: []model.OrderItem{{
			Item: model.Item{
				Title: "Ceramic mug",
				VariationAttributes: []model.VariationAttribute{
					{Name: "Color", ValueName: "Blue"},
					{Name: "Size", ValueName: "350ml"},
				},
			},
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("59.90"),
		}},
		Buyer:    model.Buyer{Nickname: "NICK", FirstName: "Ana"},
		Shipping: &model.ShippingRef{ID: 41},
	}
}

func lookupReturning(logisticType string, err error) (ShipmentLookup, *int) {
	calls := 0
	return func(_ context.Context, id int64) (model.Shipment, error) {
		calls++
		if err != nil {
			return model.Shipment{}, err
		}
		return model.Shipment{ID: id, LogisticType: logisticType}, nil
	}, &calls
}

func TestEnrichBuildsRecord(t *testing.T) {
	lookup, calls := lookupReturning("self_service", nil)
	rec := Enrich(context.Background(), sampleOrder(), lookup, nil)

	if *calls != 1 {
		t.Fatalf("expected one shipment lookup, got %d", *calls)
	}
	if rec.ProductTitle != "Ceramic mug" || rec.Variant != "Blue / 350ml" || rec.Quantity != 2 {
		t.Fatalf("unexpected item fields: %+v", rec)
	}
	if rec.UnitPrice.StringFixed(2) != "59.90" || rec.TotalAmount.StringFixed(2) != "119.80" {
		t.Fatalf("unexpected amounts: %+v", rec)
	}
	if rec.Buyer != "NICK" || rec.Shipping != "Flex (same-day)" || rec.OrderID != 2000008 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestShippingLabel(t *testing.T) {
	cases := map[string]string{
		"self_service": "Flex (same-day)",
		"drop_off":     "drop-off location",
		"fulfillment":  "fulfillment",
		"xd_drop_off":  "xd_drop_off",
		"":             "unknown",
	}
	for in, want := range cases {
		if got := ShippingLabel(in); got != want {
			t.Errorf("ShippingLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnrichShippingUnknownWithoutShipmentID(t *testing.T) {
	o := sampleOrder()
	o.Shipping = nil
	lookup, calls := lookupReturning("self_service", nil)

	rec := Enrich(context.Background(), o, lookup, nil)
	if rec.Shipping != "unknown" || *calls != 0 {
		t.Fatalf("expected unknown label without lookup, got %q after %d calls", rec.Shipping, *calls)
	}
}

func TestEnrichShippingUnknownOnLookupFailure(t *testing.T) {
	lookup, _ := lookupReturning("", errors.New("boom"))
	rec := Enrich(context.Background(), sampleOrder(), lookup, nil)
	if rec.Shipping != "unknown" {
		t.Fatalf("expected unknown label on lookup failure, got %q", rec.Shipping)
	}
	if rec.ProductTitle != "Ceramic mug" {
		t.Fatal("lookup failure must not affect the rest of the record")
	}
}

func TestBuyerName(t *testing.T) {
	cases := []struct {
		buyer model.Buyer
		want  string
	}{
		{model.Buyer{Nickname: "NICK", FirstName: "Ana"}, "NICK"},
		{model.Buyer{FirstName: "Ana"}, "Ana"},
		{model.Buyer{}, "unknown"},
	}
	for _, tc := range cases {
		if got := BuyerName(tc.buyer); got != tc.want {
			t.Errorf("BuyerName(%+v) = %q, want %q", tc.buyer, got, tc.want)
		}
	}
}

func TestVariantDescriptionPlaceholder(t *testing.T) {
	if got := VariantDescription(nil); got != "-" {
		t.Fatalf("expected placeholder, got %q", got)
	}
	o := sampleOrder()
	o.Items = nil
	rec := Enrich(context.Background(), o, nil, nil)
	if rec.Variant != "-" || rec.ProductTitle != "unknown" || rec.Quantity != 0 {
		t.Fatalf("unexpected record for order without items: %+v", rec)
	}
}
