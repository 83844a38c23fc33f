package sales

import (
	"context"

	"salesbot/internal/model"
)

// OrderSource is the marketplace surface consumed by the poller and the
// chat commands. *marketplace.Client satisfies it.
type OrderSource interface {
	SearchPaidOrders(ctx context.Context, cred model.Credential, sellerID string) ([]model.RawOrder, error)
	GetOrder(ctx context.Context, cred model.Credential, orderID string) (model.RawOrder, error)
	GetShipment(ctx context.Context, cred model.Credential, shipmentID int64) (model.Shipment, error)
}

func LookupWith(src OrderSource, cred model.Credential) ShipmentLookup {
	return func(ctx context.Context, shipmentID int64) (model.Shipment, error) {
		return src.GetShipment(ctx, cred, shipmentID)
	}
}
