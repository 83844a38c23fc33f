package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"salesbot/internal/model"
)

func (s *Store) InsertSentSale(ctx context.Context, v model.SentSale) (model.SentSale, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.SentAt.IsZero() {
		v.SentAt = time.Now()
	}
	saleJSON, err := json.Marshal(v.Sale)
	if err != nil {
		return model.SentSale{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sent_sales (id, order_id, channel, cycle_id, sale_json, sold_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.Sale.OrderID, v.Channel, v.CycleID, string(saleJSON), v.Sale.SoldAt.UnixMilli(), v.SentAt.UnixMilli())
	if err != nil {
		return model.SentSale{}, err
	}
	return v, nil
}

// ListSentSales returns the most recently sent notifications first.
func (s *Store) ListSentSales(ctx context.Context, limit int) ([]model.SentSale, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, cycle_id, sale_json, sent_at
		FROM sent_sales
		ORDER BY sent_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SentSale, 0, limit)
	for rows.Next() {
		var row struct {
			id       string
			channel  string
			cycleID  string
			saleJSON string
			sentAt   int64
		}
		if err := rows.Scan(&row.id, &row.channel, &row.cycleID, &row.saleJSON, &row.sentAt); err != nil {
			return nil, err
		}
		var sale model.SaleRecord
		if err := json.Unmarshal([]byte(row.saleJSON), &sale); err != nil {
			return nil, fmt.Errorf("decode sent sale %s: %w", row.id, err)
		}
		out = append(out, model.SentSale{
			ID:      row.id,
			Sale:    sale,
			Channel: row.channel,
			CycleID: row.cycleID,
			SentAt:  time.UnixMilli(row.sentAt),
		})
	}
	return out, rows.Err()
}
