package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesbot/internal/model"
)

const dateLayout = "02/01/2006, 15:04:05"

// Formatter renders sale records into chat messages.
type Formatter struct {
	Location *time.Location
	Currency string
}

func NewFormatter(loc *time.Location, currency string) Formatter {
	if loc == nil {
		loc = time.UTC
	}
	if currency == "" {
		currency = "R$"
	}
	return Formatter{Location: loc, Currency: currency}
}

func (f Formatter) Date(t time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func (f Formatter) Money(d decimal.Decimal) string {
	return f.Currency + " " + d.StringFixed(2)
}

// FormatSale is the message pushed to the group for a new sale.
func (f Formatter) FormatSale(s model.SaleRecord) string {
	return f.saleBlock("🤑 *You sold!*", s)
}

// FormatSaleDetail answers !vervenda.
func (f Formatter) FormatSaleDetail(s model.SaleRecord) string {
	return f.saleBlock("👀 *Viewing sale*", s)
}

func (f Formatter) saleBlock(header string, s model.SaleRecord) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "📦 Product: %s\n", s.ProductTitle)
	fmt.Fprintf(&b, "🎨 Variant: %s\n", s.Variant)
	fmt.Fprintf(&b, "🔢 Quantity: %d\n\n", s.Quantity)
	fmt.Fprintf(&b, "💵 Unit price: %s\n", f.Money(s.UnitPrice))
	fmt.Fprintf(&b, "💰 Total: %s\n\n", f.Money(s.TotalAmount))
	fmt.Fprintf(&b, "🚚 Shipping: %s\n", s.Shipping)
	fmt.Fprintf(&b, "👤 Buyer: %s\n\n", s.Buyer)
	fmt.Fprintf(&b, "📝 Order: #%d\n", s.OrderID)
	fmt.Fprintf(&b, "📅 Sale date: %s", f.Date(s.SoldAt))
	return b.String()
}

// FormatSalesList renders the !getvendas overview, one block per order.
func (f Formatter) FormatSalesList(orders []model.RawOrder) string {
	var b strings.Builder
	b.WriteString("*Latest sales:*\n\n")
	for _, o := range orders {
		title := "unknown"
		if item, ok := o.FirstItem(); ok && item.Item.Title != "" {
			title = item.Item.Title
		}
		fmt.Fprintf(&b, "📍Product: %s\n  🆔Order: #%d\n  🗓️Date: %s\n\n", title, o.ID, f.Date(o.DateCreated))
	}
	return strings.TrimSpace(b.String())
}
