// Package sales turns raw marketplace orders into sale records.
package sales

import (
	"context"
	"strings"

	"salesbot/internal/logbus"
	"salesbot/internal/model"
)

const (
	Unknown       = "unknown"
	NoVariant     = "-"
	variantJoiner = " / "
	labelFlex     = "Flex (same-day)"
	labelDropOff  = "drop-off location"
	logisticFlex  = "self_service"
	logisticDrop  = "drop_off"
)

// ShipmentLookup fetches a shipment by id; failures are absorbed by Enrich.
type ShipmentLookup func(ctx context.Context, shipmentID int64) (model.Shipment, error)

// Enrich derives a SaleRecord from order. It never fails: a missing or
// failing shipment lookup yields the "unknown" shipping label.
func Enrich(ctx context.Context, order model.RawOrder, lookup ShipmentLookup, bus *logbus.Bus) model.SaleRecord {
	rec := model.SaleRecord{
		OrderID:      order.ID,
		ProductTitle: Unknown,
		Variant:      NoVariant,
		TotalAmount:  order.TotalAmount,
		Buyer:        BuyerName(order.Buyer),
		SoldAt:       order.DateCreated,
		Shipping:     Unknown,
	}
	if item, ok := order.FirstItem(); ok {
		if t := strings.TrimSpace(item.Item.Title); t != "" {
			rec.ProductTitle = t
		}
		rec.Variant = VariantDescription(item.Item.VariationAttributes)
		rec.Quantity = item.Quantity
		rec.UnitPrice = item.UnitPrice
	}

	shipmentID := order.ShipmentID()
	if shipmentID == 0 || lookup == nil {
		return rec
	}
	sh, err := lookup(ctx, shipmentID)
	if err != nil {
		bus.Log("warn", "shipment lookup failed", map[string]any{
			"orderId":    order.ID,
			"shipmentId": shipmentID,
			"error":      err.Error(),
		})
		return rec
	}
	rec.Shipping = ShippingLabel(sh.LogisticType)
	return rec
}

func ShippingLabel(logisticType string) string {
	switch logisticType {
	case logisticFlex:
		return labelFlex
	case logisticDrop:
		return labelDropOff
	case "":
		return Unknown
	default:
		return logisticType
	}
}

func BuyerName(b model.Buyer) string {
	if b.Nickname != "" {
		return b.Nickname
	}
	if b.FirstName != "" {
		return b.FirstName
	}
	return Unknown
}

func VariantDescription(attrs []model.VariationAttribute) string {
	values := make([]string, 0, len(attrs))
	for _, a := range attrs {
		if a.ValueName != "" {
			values = append(values, a.ValueName)
		}
	}
	if len(values) == 0 {
		return NoVariant
	}
	return strings.Join(values, variantJoiner)
}
