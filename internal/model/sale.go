package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRecord is the enriched view of one paid order, built once and then
// only read by formatters.
type SaleRecord struct {
	OrderID      int64           `json:"orderId"`
	ProductTitle string          `json:"productTitle"`
	Variant      string          `json:"variant"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Buyer        string          `json:"buyer"`
	SoldAt       time.Time       `json:"soldAt"`
	Shipping     string          `json:"shipping"`
}

// SentSale is one row of the delivered-notification log.
type SentSale struct {
	ID      string     `json:"id"`
	Sale    SaleRecord `json:"sale"`
	Channel string     `json:"channel"`
	SentAt  time.Time  `json:"sentAt"`
	CycleID string     `json:"cycleId,omitempty"`
}

type PollerState struct {
	Watermark    time.Time `json:"watermark"`
	Running      bool      `json:"running"`
	InCycle      bool      `json:"inCycle"`
	LastCycleID  string    `json:"lastCycleId,omitempty"`
	LastCycleAt  time.Time `json:"lastCycleAt,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
	Notified     int       `json:"notified"`
	SkippedTicks int       `json:"skippedTicks"`
}
