// Package poller drives the message loop: it reads new messages from the
// store, advances the watermark and hands each message to the dispatcher.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
)

const defaultBatchSize = 100

// Handler processes one accepted message.
type Handler interface {
	Dispatch(ctx context.Context, msg messages.Message)
}

// Options configures a Poller. Only Logger is required.
type Options struct {
	BatchSize int
	Deduper   Deduper
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Poller reads the newest BatchSize messages each cycle. Messages that fall
// out of that window between two cycles are never seen.
type Poller struct {
	store     messages.Store
	handler   Handler
	deduper   Deduper
	metrics   *metrics.Metrics
	logger    *slog.Logger
	batchSize int

	watermark   Watermark
	initialised bool
	mu          sync.Mutex
}

// New builds a poller over store dispatching to handler.
func New(store messages.Store, handler Handler, opts Options) *Poller {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Poller{
		store:     store,
		handler:   handler,
		deduper:   opts.Deduper,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
	}
}

// Watermark returns the timestamp of the newest accepted message.
func (p *Poller) Watermark() int64 {
	return p.watermark.Get()
}

// Init sets the watermark to the newest stored message so history is not
// replayed. An empty or missing store leaves it at zero. When the store exists
// but cannot be read, Init fails and every later cycle retries it before
// dispatching anything.
func (p *Poller) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(ctx)
}

func (p *Poller) initLocked(ctx context.Context) error {
	if !p.store.Available(ctx) {
		p.logger.Warn("message store unavailable at startup; watermark stays at zero")
		p.initialised = true
		return nil
	}
	newest, err := p.store.ReadRecent(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("read newest message: %w", err)
	}
	if len(newest) > 0 {
		p.watermark.Advance(newest[0].Timestamp)
	}
	p.initialised = true
	p.metrics.SetWatermark(p.watermark.Get())
	p.logger.Info("watermark initialised", slog.Int64("watermark", p.watermark.Get()))
	return nil
}

// Start initialises the watermark and runs a cycle every interval until ctx
// is cancelled. Cycles never overlap.
func (p *Poller) Start(ctx context.Context, interval time.Duration) error {
	if err := p.Init(ctx); err != nil {
		p.logger.Error("initialise watermark; retrying on the next cycle", slog.Any("error", err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("polling started", slog.Duration("interval", interval), slog.Int("batch_size", p.batchSize))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped", slog.Int64("watermark", p.watermark.Get()))
			return ctx.Err()
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle processes every message newer than the watermark in timestamp
// order. The watermark is advanced before each dispatch, so a message whose
// handling fails is not retried.
func (p *Poller) RunCycle(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() { p.metrics.ObserveCycle(time.Since(start)) }()

	if !p.initialised {
		if err := p.initLocked(ctx); err != nil {
			p.logger.Warn("initialise watermark", slog.Any("error", err))
		}
		return
	}
	if !p.store.Available(ctx) {
		return
	}
	recent, err := p.store.ReadRecent(ctx, p.batchSize, 0)
	if err != nil {
		p.logger.Warn("read messages", slog.Any("error", err))
		return
	}

	current := p.watermark.Get()
	fresh := make([]messages.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.Timestamp > current {
			fresh = append(fresh, msg)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })

	for _, msg := range fresh {
		if ctx.Err() != nil {
			return
		}
		if !p.watermark.Advance(msg.Timestamp) {
			p.metrics.ObserveSkipped("same_timestamp")
			continue
		}
		p.metrics.SetWatermark(msg.Timestamp)

		msg.Identity = strings.TrimSpace(msg.Identity)
		if msg.Identity == "" {
			p.metrics.ObserveSkipped("no_identity")
			continue
		}
		if !p.claim(ctx, msg) {
			p.metrics.ObserveSkipped("duplicate")
			continue
		}
		p.dispatch(ctx, msg)
	}

	if len(fresh) > 0 {
		p.logger.Debug("processed messages", slog.Int("count", len(fresh)), slog.Int64("watermark", p.watermark.Get()))
	}
}

// claim consults the deduper. A deduper failure lets the message through
// since the watermark already guards this process.
func (p *Poller) claim(ctx context.Context, msg messages.Message) bool {
	if p.deduper == nil {
		return true
	}
	ok, err := p.deduper.Claim(ctx, msg)
	if err != nil {
		p.logger.Warn("dedupe unavailable", slog.String("identity", msg.Identity), slog.Any("error", err))
		return true
	}
	return ok
}

func (p *Poller) dispatch(ctx context.Context, msg messages.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch panicked",
				slog.String("identity", msg.Identity),
				slog.Int64("timestamp", msg.Timestamp),
				slog.Any("panic", r),
			)
		}
	}()
	p.handler.Dispatch(ctx, msg)
}
