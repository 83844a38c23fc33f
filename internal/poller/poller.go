// Package poller detects newly paid sales and hands them to a notifier.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"salesbot/internal/credential"
	"salesbot/internal/logbus"
	"salesbot/internal/model"
	"salesbot/internal/notify"
	"salesbot/internal/sales"
)

// Interval is the fixed time between poll cycles.
const Interval = 60 * time.Second

var ErrCycleInProgress = errors.New("poll cycle already in progress")

type Options struct {
	Source      sales.OrderSource
	Credentials credential.Provider
	Notifier    notify.Notifier
	Bus         *logbus.Bus
	SellerID    string
	// CallTimeout bounds credential acquisition plus the order search; zero
	// means Interval. Shipment lookups and sends carry their own timeouts.
	CallTimeout time.Duration
	Now         func() time.Time
}

type CycleResult struct {
	ID         string
	Fetched    int
	Candidates int
	Notified   int
	Failed     int
}

// Poller owns the watermark: only orders created strictly after it are
// notified, and it only moves forward.
type Poller struct {
	source   sales.OrderSource
	creds    credential.Provider
	notifier notify.Notifier
	bus      *logbus.Bus
	sellerID string
	timeout  time.Duration
	now      func() time.Time

	inCycle atomic.Bool
	wg      sync.WaitGroup

	mu    sync.Mutex
	state model.PollerState
}

func New(opts Options) *Poller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = Interval
	}
	return &Poller{
		source:   opts.Source,
		creds:    opts.Credentials,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		sellerID: opts.SellerID,
		timeout:  timeout,
		now:      now,
		state:    model.PollerState{Watermark: now()},
	}
}

func (p *Poller) Watermark() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Watermark
}

func (p *Poller) State() model.PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	st.InCycle = p.inCycle.Load()
	return st
}

// Run polls every Interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.RunEvery(ctx, Interval)
}

func (p *Poller) RunEvery(ctx context.Context, every time.Duration) {
	p.setRunning(true)
	defer p.setRunning(false)
	defer p.wg.Wait()
	p.bus.Log("info", "sales poller started", map[string]any{
		"interval":  every.String(),
		"watermark": p.Watermark().Format(time.RFC3339),
	})

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.bus.Log("info", "sales poller stopped", nil)
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs a cycle in the background unless one is still in progress.
func (p *Poller) tick(ctx context.Context) {
	if !p.inCycle.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.state.SkippedTicks++
		p.mu.Unlock()
		p.bus.Log("warn", "poll tick skipped: previous cycle still running", nil)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inCycle.Store(false)
		_, _ = p.runCycle(ctx)
	}()
}

// RunCycle executes one poll cycle synchronously. It refuses to overlap a
// cycle started by the ticker.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	if !p.inCycle.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInProgress
	}
	defer p.inCycle.Store(false)
	return p.runCycle(ctx)
}

func (p *Poller) runCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{ID: uuid.NewString()}
	ctx = notify.WithCycleID(ctx, res.ID)

	err := p.cycle(ctx, &res)

	p.mu.Lock()
	p.state.LastCycleID = res.ID
	p.state.LastCycleAt = p.now()
	p.state.Notified += res.Notified
	if err != nil {
		p.state.LastError = err.Error()
	} else {
		p.state.LastError = ""
	}
	p.mu.Unlock()

	if err != nil {
		p.bus.Log("error", "poll cycle failed", map[string]any{
			"cycleId": res.ID,
			"error":   err.Error(),
		})
		return res, err
	}
	if res.Candidates > 0 {
		p.bus.Log("info", "poll cycle done", map[string]any{
			"cycleId":  res.ID,
			"fetched":  res.Fetched,
			"notified": res.Notified,
			"failed":   res.Failed,
		})
	}
	return res, nil
}

func (p *Poller) cycle(ctx context.Context, res *CycleResult) error {
	cred, orders, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	res.Fetched = len(orders)

	candidates := newerThan(orders, p.Watermark())
	res.Candidates = len(candidates)
	lookup := sales.LookupWith(p.source, cred)

	for _, order := range candidates {
		// Advance before notifying so a failed send is not retried forever.
		p.advance(order.DateCreated)

		sale := sales.Enrich(ctx, order, lookup, p.bus)
		if err := p.notifier.NotifySale(ctx, sale); err != nil {
			res.Failed++
			p.bus.Log("error", "sale notification failed", map[string]any{
				"cycleId": res.ID,
				"orderId": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		res.Notified++
	}
	return nil
}

// fetch runs under the cycle deadline. Delivery does not: once the watermark
// has moved past a candidate it must still get a real attempt.
func (p *Poller) fetch(ctx context.Context) (model.Credential, []model.RawOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cred, err := p.creds.Credential(ctx)
	if err != nil {
		return model.Credential{}, nil, fmt.Errorf("acquire credential: %w", err)
	}
	orders, err := p.source.SearchPaidOrders(ctx, cred, p.sellerID)
	if err != nil {
		return model.Credential{}, nil, fmt.Errorf("search paid orders: %w", err)
	}
	return cred, orders, nil
}

func (p *Poller) advance(t time.Time) {
	p.mu.Lock()
	if t.After(p.state.Watermark) {
		p.state.Watermark = t
	}
	p.mu.Unlock()
}

func (p *Poller) setRunning(v bool) {
	p.mu.Lock()
	p.state.Running = v
	p.mu.Unlock()
}

// newerThan keeps orders created strictly after mark, oldest first.
func newerThan(orders []model.RawOrder, mark time.Time) []model.RawOrder {
	out := make([]model.RawOrder, 0, len(orders))
	for _, o := range orders {
		if o.DateCreated.After(mark) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateCreated.Before(out[j].DateCreated)
	})
	return out
}
