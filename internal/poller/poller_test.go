package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salesbot/internal/credential"
	"salesbot/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu         sync.Mutex
	orders     []model.RawOrder
	searchErr  error
	searches   int
	shipments  map[int64]string
	shipLookup int
	shipDelay  time.Duration
	block      chan struct{}
}

func (f *fakeSource) SearchPaidOrders(_ context.Context, _ model.Credential, _ string) ([]model.RawOrder, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]model.RawOrder(nil), f.orders...), nil
}

func (f *fakeSource) GetOrder(context.Context, model.Credential, string) (model.RawOrder, error) {
	return model.RawOrder{}, errors.New("not used")
}

func (f *fakeSource) GetShipment(ctx context.Context, _ model.Credential, id int64) (model.Shipment, error) {
	if f.shipDelay > 0 {
		select {
		case <-time.After(f.shipDelay):
		case <-ctx.Done():
			return model.Shipment{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipLookup++
	lt, ok := f.shipments[id]
	if !ok {
		return model.Shipment{}, errors.New("shipment not found")
	}
	return model.Shipment{ID: id, LogisticType: lt}, nil
}

type fakeCreds struct {
	err error
}

func (f fakeCreds) Credential(context.Context) (model.Credential, error) {
	if f.err != nil {
		return model.Credential{}, f.err
	}
	return model.Credential{AccessToken: "tok"}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	sales  []model.SaleRecord
	failOn map[int64]bool
}

func (r *recordingNotifier) NotifySale(ctx context.Context, s model.SaleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales = append(r.sales, s)
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.failOn[s.OrderID] {
		return errors.New("send failed")
	}
	return nil
}

func order(id int64, offset time.Duration) model.RawOrder {
	return model.RawOrder{
		ID:          id,
		DateCreated: t0.Add(offset),
		Items:       []model.OrderItem{{Item: model.Item{Title: "Mug"}, Quantity: 1}},
		Shipping:    &model.ShippingRef{ID: id * 10},
	}
}

func newTestPoller(src *fakeSource, creds credential.Provider, n *recordingNotifier) *Poller {
	return New(Options{
		Source:      src,
		Credentials: creds,
		Notifier:    n,
		SellerID:    "42",
		Now:         func() time.Time { return t0 },
	})
}

func TestCycleSkipsOrdersAtOrBeforeWatermark(t *testing.T) {
	src := &fakeSource{orders: []model.RawOrder{
		order(1, -time.Hour),
		order(2, 0),
		order(3, time.Minute),
	}}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{}, n)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Fetched != 3 || res.Notified != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(n.sales) != 1 || n.sales[0].OrderID != 3 {
		t.Fatalf("expected only order 3 notified, got %+v", n.sales)
	}
	if !p.Watermark().Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected watermark %v", p.Watermark())
	}
}

func TestCycleNotifiesInAscendingOrder(t *testing.T) {
	// Source returns newest first.
	src := &fakeSource{orders: []model.RawOrder{
		order(30, 3*time.Minute),
		order(10, time.Minute),
		order(20, 2*time.Minute),
	}}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{}, n)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	var got []int64
	for _, s := range n.sales {
		got = append(got, s.OrderID)
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("expected chronological delivery, got %v", got)
	}
	for i := 1; i < len(n.sales); i++ {
		if n.sales[i].SoldAt.Before(n.sales[i-1].SoldAt) {
			t.Fatalf("notifications out of order at %d", i)
		}
	}
}

func TestRepeatedCycleIsIdempotent(t *testing.T) {
	src := &fakeSource{orders: []model.RawOrder{order(1, time.Minute), order(2, 2*time.Minute)}}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{}, n)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	mark := p.Watermark()
	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if res.Notified != 0 || len(n.sales) != 2 {
		t.Fatalf("expected no new notifications, result %+v total %d", res, len(n.sales))
	}
	if !p.Watermark().Equal(mark) {
		t.Fatalf("watermark moved from %v to %v", mark, p.Watermark())
	}
}

func TestNotifierFailureAdvancesWatermarkAndContinues(t *testing.T) {
	src := &fakeSource{orders: []model.RawOrder{order(1, time.Minute), order(2, 2*time.Minute)}}
	n := &recordingNotifier{failOn: map[int64]bool{1: true}}
	p := newTestPoller(src, fakeCreds{}, n)

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Failed != 1 || res.Notified != 1 || len(n.sales) != 2 {
		t.Fatalf("expected one failure and one success, got %+v", res)
	}

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(n.sales) != 2 {
		t.Fatal("failed order must not be re-delivered on the next cycle")
	}
}

func TestCredentialFailureAbortsCycle(t *testing.T) {
	src := &fakeSource{orders: []model.RawOrder{order(1, time.Minute)}}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{err: credential.ErrUnavailable}, n)

	_, err := p.RunCycle(context.Background())
	if !errors.Is(err, credential.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if src.searches != 0 {
		t.Fatal("orders must not be fetched without a credential")
	}
	if !p.Watermark().Equal(t0) || len(n.sales) != 0 {
		t.Fatal("failed cycle must leave the watermark and notifications untouched")
	}
	if st := p.State(); st.LastError == "" {
		t.Fatal("expected last error recorded in state")
	}
}

func TestSearchFailureLeavesWatermark(t *testing.T) {
	src := &fakeSource{searchErr: errors.New("503")}
	p := newTestPoller(src, fakeCreds{}, &recordingNotifier{})

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected search failure")
	}
	if !p.Watermark().Equal(t0) {
		t.Fatalf("watermark moved to %v", p.Watermark())
	}

	src.searchErr = nil
	src.orders = []model.RawOrder{order(5, time.Second)}
	res, err := p.RunCycle(context.Background())
	if err != nil || res.Notified != 1 {
		t.Fatalf("expected recovery on next cycle, got %+v, %v", res, err)
	}
	if p.State().LastError != "" {
		t.Fatal("expected last error cleared after a good cycle")
	}
}

func TestEnrichmentUsesShipmentLabel(t *testing.T) {
	src := &fakeSource{
		orders:    []model.RawOrder{order(1, time.Minute), order(2, 2*time.Minute)},
		shipments: map[int64]string{10: "drop_off"},
	}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{}, n)

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n.sales[0].Shipping != "drop-off location" || n.sales[1].Shipping != "unknown" {
		t.Fatalf("unexpected shipping labels %q, %q", n.sales[0].Shipping, n.sales[1].Shipping)
	}
}

func TestSlowDeliveryOutlivesFetchDeadline(t *testing.T) {
	src := &fakeSource{shipDelay: 80 * time.Millisecond}
	for i := int64(1); i <= 5; i++ {
		src.orders = append(src.orders, order(i, time.Duration(i)*time.Minute))
	}
	n := &recordingNotifier{}
	p := New(Options{
		Source:      src,
		Credentials: fakeCreds{},
		Notifier:    n,
		SellerID:    "42",
		CallTimeout: 200 * time.Millisecond,
		Now:         func() time.Time { return t0 },
	})

	res, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Notified != 5 || res.Failed != 0 {
		t.Fatalf("expected all 5 sales delivered past the fetch deadline, got %+v", res)
	}
	if !p.Watermark().Equal(t0.Add(5 * time.Minute)) {
		t.Fatalf("unexpected watermark %v", p.Watermark())
	}
}

func TestRunCycleRefusesOverlap(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	p := newTestPoller(src, fakeCreds{}, &recordingNotifier{})

	done := make(chan struct{})
	go func() {
		_, _ = p.RunCycle(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !p.State().InCycle {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := p.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}
	p.tick(context.Background())
	if p.State().SkippedTicks != 1 {
		t.Fatalf("expected skipped tick counted, got %d", p.State().SkippedTicks)
	}
	close(src.block)
	<-done
}

func TestRunEveryStopsOnCancel(t *testing.T) {
	src := &fakeSource{orders: []model.RawOrder{order(1, time.Minute)}}
	n := &recordingNotifier{}
	p := newTestPoller(src, fakeCreds{}, n)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.RunEvery(ctx, 10*time.Millisecond)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n.mu.Lock()
		got := len(n.sales)
		n.mu.Unlock()
		if got > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ticker never ran a cycle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("RunEvery did not stop")
	}
	if p.State().Running {
		t.Fatal("expected Running=false after stop")
	}
	if len(n.sales) != 1 {
		t.Fatalf("order notified %d times across ticks", len(n.sales))
	}
}
