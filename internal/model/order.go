package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Credential struct {
	AccessToken string `json:"access_token"`
}

func (c Credential) Usable() bool {
	return c.AccessToken != ""
}

type RawOrder struct {
	ID          int64           `json:"id"`
	Status      string          `json:"status,omitempty"`
	DateCreated time.Time       `json:"date_created"`
	Items       []OrderItem     `json:"order_items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Buyer       Buyer           `json:"buyer"`
	Shipping    *ShippingRef    `json:"shipping,omitempty"`
}

type OrderItem struct {
	Item      Item            `json:"item"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Item struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title"`
	VariationAttributes []VariationAttribute `json:"variation_attributes,omitempty"`
}

type VariationAttribute struct {
	Name      string `json:"name"`
	ValueName string `json:"value_name"`
}

type Buyer struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type ShippingRef struct {
	ID int64 `json:"id"`
}

// ShipmentID returns 0 when the order carries no shipping reference.
func (o RawOrder) ShipmentID() int64 {
	if o.Shipping == nil {
		return 0
	}
	return o.Shipping.ID
}

// FirstItem returns the leading line item; orders from the search endpoint
// carry one item per order.
func (o RawOrder) FirstItem() (OrderItem, bool) {
	if len(o.Items) == 0 {
		return OrderItem{}, false
	}
	return o.Items[0], true
}

func (o RawOrder) Validate() error {
	if o.ID == 0 {
		return errors.New("order id is required")
	}
	if o.DateCreated.IsZero() {
		return errors.New("order date_created is required")
	}
	return nil
}

type Shipment struct {
	ID           int64  `json:"id"`
	Status       string `json:"status,omitempty"`
	LogisticType string `json:"logistic_type"`
}
