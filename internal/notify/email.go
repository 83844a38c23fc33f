package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"salesbot/internal/logbus"
	"salesbot/internal/model"
)

type emailSendFunc func(ctx context.Context, settings model.EmailSettings, subject, textBody, htmlBody string) error

// EmailNotifier mirrors sale notifications to a mailbox. Sales are queued
// and sent as one summary per quiet window so a burst becomes one email.
type EmailNotifier struct {
	settings model.EmailSettings
	format   Formatter
	bus      *logbus.Bus
	send     emailSendFunc

	mu     sync.Mutex
	queue  chan model.SaleRecord
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(settings model.EmailSettings, f Formatter, bus *logbus.Bus, summaryWindow time.Duration) (*EmailNotifier, error) {
	if err := validateEmailSettings(settings); err != nil {
		return nil, err
	}
	return newEmailNotifier(settings, f, bus, summaryWindow, sendSMTP), nil
}

func newEmailNotifier(settings model.EmailSettings, f Formatter, bus *logbus.Bus, summaryWindow time.Duration, send emailSendFunc) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings:      settings,
		format:        f,
		bus:           bus,
		send:          send,
		queue:         make(chan model.SaleRecord, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: summaryWindow,
		maxBatch:      50,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifySale(_ context.Context, sale model.SaleRecord) error {
	select {
	case n.queue <- sale:
		return nil
	default:
		return fmt.Errorf("%w: email queue full, order %d dropped", ErrDelivery, sale.OrderID)
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []model.SaleRecord
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		batch := append([]model.SaleRecord(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.sendBatch(reason, batch)
	}

	for {
		select {
		case <-n.ctx.Done():
			flush("shutdown")
			return
		case sale := <-n.queue:
			pending = append(pending, sale)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) sendBatch(reason string, sales []model.SaleRecord) {
	subject := buildSubject(sales)
	htmlBody, textBody, err := n.buildBody(sales)
	if err != nil {
		n.bus.Log("warn", "email render failed", map[string]any{"error": err.Error()})
		return
	}
	// The shutdown flush runs after n.ctx is cancelled; give it its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := n.send(ctx, n.settings, subject, textBody, htmlBody); err != nil {
		n.bus.Log("warn", "email send failed", map[string]any{
			"error":  err.Error(),
			"count":  len(sales),
			"reason": reason,
		})
		return
	}
	n.bus.Log("info", "sales email sent", map[string]any{
		"count":  len(sales),
		"reason": reason,
		"to":     strings.TrimSpace(n.settings.Email),
	})
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func sendSMTP(ctx context.Context, settings model.EmailSettings, subject, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "Sales bot"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "gmail.com" || strings.HasSuffix(domain, ".gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || strings.HasSuffix(domain, ".outlook.com") ||
		domain == "hotmail.com" || strings.HasSuffix(domain, ".hotmail.com") ||
		domain == "live.com" || strings.HasSuffix(domain, ".live.com"):
		return "smtp.office365.com", 587, false, nil
	case domain == "yahoo.com" || strings.HasSuffix(domain, ".yahoo.com") ||
		domain == "yahoo.com.br":
		return "smtp.mail.yahoo.com", 465, true, nil
	case domain == "uol.com.br" || domain == "bol.com.br":
		return "smtps.uol.com.br", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSubject(sales []model.SaleRecord) string {
	if len(sales) == 1 {
		return fmt.Sprintf("New sale: %s × %d", sales[0].ProductTitle, sales[0].Quantity)
	}
	return fmt.Sprintf("%d new sales", len(sales))
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`
<!doctype html>
<html lang="en">
  <head><meta charset="utf-8" /><title>New sales</title></head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
    <div style="max-width:720px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:#16a34a;color:#ffffff;font-size:16px;font-weight:700;">{{ .Title }}</div>
        <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
          <thead>
            <tr>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Date</th>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Product</th>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Qty</th>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Total</th>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Shipping</th>
              <th style="padding:10px 14px;text-align:left;font-size:12px;color:#6b7280;">Order</th>
            </tr>
          </thead>
          <tbody>
            {{ range .Rows }}
            <tr>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">{{ .At }}</td>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">{{ .Product }}</td>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">{{ .Qty }}</td>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">{{ .Total }}</td>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">{{ .Shipping }}</td>
              <td style="padding:10px 14px;border-top:1px solid #eef0f6;font-size:12px;">#{{ .OrderID }}</td>
            </tr>
            {{ end }}
          </tbody>
        </table>
      </div>
    </div>
  </body>
</html>
`))

type emailRow struct {
	At       string
	Product  string
	Qty      int
	Total    string
	Shipping string
	OrderID  int64
}

func (n *EmailNotifier) buildBody(sales []model.SaleRecord) (htmlBody string, textBody string, err error) {
	rows := make([]emailRow, 0, len(sales))
	for _, s := range sales {
		rows = append(rows, emailRow{
			At:       n.format.Date(s.SoldAt),
			Product:  s.ProductTitle,
			Qty:      s.Quantity,
			Total:    n.format.Money(s.TotalAmount),
			Shipping: s.Shipping,
			OrderID:  s.OrderID,
		})
	}

	var buf bytes.Buffer
	data := struct {
		Title string
		Rows  []emailRow
	}{Title: buildSubject(sales), Rows: rows}
	if err := emailHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	for i, s := range sales {
		if i > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(n.format.FormatSale(s))
	}
	return buf.String(), text.String(), nil
}
