// Package notify delivers sale notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesbot/internal/chat"
	"salesbot/internal/logbus"
	"salesbot/internal/model"
)

var ErrDelivery = errors.New("notification delivery failed")

type Notifier interface {
	NotifySale(ctx context.Context, sale model.SaleRecord) error
}

type cycleKey struct{}

// WithCycleID tags ctx with the poll cycle that produced the notification.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleKey{}, id)
}

func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey{}).(string)
	return id
}

// ChatNotifier sends sale messages to a single destination chat.
type ChatNotifier struct {
	client  chat.Client
	chatID  string
	format  Formatter
	bus     *logbus.Bus
	timeout time.Duration
}

func NewChatNotifier(client chat.Client, chatID string, f Formatter, bus *logbus.Bus, timeout time.Duration) *ChatNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ChatNotifier{client: client, chatID: chatID, format: f, bus: bus, timeout: timeout}
}

func (n *ChatNotifier) NotifySale(ctx context.Context, sale model.SaleRecord) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg := n.format.FormatSale(sale)
	if err := n.client.SendText(ctx, n.chatID, msg); err != nil {
		return fmt.Errorf("%w: order %d: %w", ErrDelivery, sale.OrderID, err)
	}
	n.bus.Log("info", "sale notification sent", map[string]any{
		"orderId": sale.OrderID,
		"chatId":  n.chatID,
	})
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifySale(ctx context.Context, sale model.SaleRecord) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifySale(ctx, sale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type SaleLog interface {
	InsertSentSale(ctx context.Context, v model.SentSale) (model.SentSale, error)
}

// Recorder appends every delivered sale to log. Recording is audit only;
// a failed insert is logged and never reported as a delivery failure.
type Recorder struct {
	next    Notifier
	log     SaleLog
	channel string
	bus     *logbus.Bus
}

func NewRecorder(next Notifier, log SaleLog, channel string, bus *logbus.Bus) *Recorder {
	return &Recorder{next: next, log: log, channel: channel, bus: bus}
}

func (r *Recorder) NotifySale(ctx context.Context, sale model.SaleRecord) error {
	if err := r.next.NotifySale(ctx, sale); err != nil {
		return err
	}
	_, err := r.log.InsertSentSale(ctx, model.SentSale{
		Sale:    sale,
		Channel: r.channel,
		CycleID: CycleID(ctx),
	})
	if err != nil {
		r.bus.Log("warn", "record sent sale failed", map[string]any{
			"orderId": sale.OrderID,
			"error":   err.Error(),
		})
	}
	return nil
}
