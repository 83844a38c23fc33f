package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salesbot/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCredentialOverwrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cred, err := s.LoadCredential(ctx)
	if err != nil || cred.Usable() {
		t.Fatalf("expected empty credential, got %+v, %v", cred, err)
	}
	for _, tok := range []string{"first", "second"} {
		if err := s.SaveCredential(ctx, model.Credential{AccessToken: tok}); err != nil {
			t.Fatalf("SaveCredential(%s): %v", tok, err)
		}
	}
	cred, err = s.LoadCredential(ctx)
	if err != nil || cred.AccessToken != "second" {
		t.Fatalf("expected last write to win, got %+v, %v", cred, err)
	}
}

func TestSentSalesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := s.InsertSentSale(ctx, model.SentSale{
			Channel: "chat",
			CycleID: "cycle",
			SentAt:  base.Add(time.Duration(i) * time.Minute),
			Sale: model.SaleRecord{
				OrderID:      int64(100 + i),
				ProductTitle: "Mug",
				UnitPrice:    decimal.RequireFromString("10.50"),
				SoldAt:       base,
			},
		})
		if err != nil {
			t.Fatalf("InsertSentSale: %v", err)
		}
	}

	got, err := s.ListSentSales(ctx, 2)
	if err != nil {
		t.Fatalf("ListSentSales: %v", err)
	}
	if len(got) != 2 || got[0].Sale.OrderID != 102 || got[1].Sale.OrderID != 101 {
		t.Fatalf("unexpected order of sent sales: %+v", got)
	}
	if got[0].ID == "" || !got[0].Sale.UnitPrice.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("row not round-tripped: %+v", got[0])
	}
}

func TestListSentSalesReportsCorruptRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_sales (id, order_id, channel, cycle_id, sale_json, sold_at, sent_at)
		VALUES ('bad-row', 1, 'chat', '', '{not json', 0, 0)
	`)
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}
	_, err = s.ListSentSales(ctx, 10)
	if err == nil || !strings.Contains(err.Error(), "bad-row") {
		t.Fatalf("expected decode error naming the row, got %v", err)
	}
}
