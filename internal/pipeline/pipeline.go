package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "legendflow/config"
	"legendflow/internal/aggregator"
	"legendflow/internal/channel"
	"legendflow/internal/classifier"
	"legendflow/internal/normalizer"
	"legendflow/logger"
	"legendflow/models"
	"legendflow/writer"
)

// fallbackDir collects raw lines that carry no recognisable symbol, so a
// protocol-shape change never silently loses data.
const fallbackDir = "_legend"

// shutdownPublishTimeout bounds the final bar publish after the root
// context has been cancelled, matching the process shutdown budget.
const shutdownPublishTimeout = 30 * time.Second

type barPublisher interface {
	Publish(ctx context.Context, bars []models.Bar)
	Close() error
}

// Pipeline is the single dispatch worker: it consumes raw frames from the
// bounded channel, classifies and normalizes them, feeds the bar
// aggregator and fans everything out to the persistence router. Aggregator
// state is touched only under barMu, from the worker goroutine and the
// monitor's heartbeat tick; the router serializes its own writer state.
type Pipeline struct {
	config     *appconfig.Config
	channels   *channel.Channels
	classifier *classifier.Classifier
	normalizer *normalizer.Normalizer
	aggregator *aggregator.Aggregator
	router     *writer.Router
	stats      *writer.StatsSink
	kafka      barPublisher
	archive    *writer.BarArchive

	symbols       map[string]struct{}
	lastDayVolume map[string]float64

	barMu   sync.Mutex
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	// Frame counters snapshotted into the stats CSV on every heartbeat.
	ch1Count     int64
	ch3Count     int64
	ch5Count     int64
	ch7Count     int64
	optionsCount int64
	newsCount    int64
	otherCount   int64
	totalCount   int64
}

func NewPipeline(cfg *appconfig.Config, channels *channel.Channels, router *writer.Router, stats *writer.StatsSink, kafka *writer.BarPublisher, archive *writer.BarArchive) *Pipeline {
	symbols := make(map[string]struct{}, len(cfg.Pipeline.Symbols))
	for _, s := range cfg.Pipeline.Symbols {
		symbols[s] = struct{}{}
	}
	p := &Pipeline{
		config:        cfg,
		channels:      channels,
		classifier:    classifier.New(cfg.Source.StreamerPattern),
		normalizer:    normalizer.New(),
		aggregator:    aggregator.New(cfg.Timeframes()),
		router:        router,
		stats:         stats,
		archive:       archive,
		symbols:       symbols,
		lastDayVolume: make(map[string]float64),
		wg:            &sync.WaitGroup{},
		log:           logger.GetLogger(),
	}
	// A nil *BarPublisher must stay a nil sink, not a non-nil interface.
	if kafka != nil {
		p.kafka = kafka
	}
	return p
}

func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("pipeline")
	log.WithFields(logger.Fields{
		"symbols":    len(p.symbols),
		"timeframes": len(p.aggregator.Timeframes()),
	}).Info("starting pipeline")

	p.wg.Add(1)
	go p.worker()

	log.Info("pipeline started successfully")
	return nil
}

// Stop waits for the dispatch worker, closes the last partial bars and
// shuts every sink down. Call only after the context is cancelled and the
// health monitor has stopped ticking.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	log := p.log.WithComponent("pipeline")
	log.Info("stopping pipeline")

	p.wg.Wait()

	// The root context is already cancelled here; the final publish gets
	// its own deadline so the drained bars still reach the mirror sinks.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownPublishTimeout)
	defer cancel()

	p.barMu.Lock()
	bars := p.aggregator.DrainAll()
	p.writeBars(ctx, bars)
	p.barMu.Unlock()

	if p.archive != nil {
		if err := p.archive.Flush(); err != nil {
			log.WithError(err).Warn("bar archive flush failed")
		}
	}
	if p.kafka != nil {
		if err := p.kafka.Close(); err != nil {
			log.WithError(err).Warn("kafka publisher close failed")
		}
	}
	if err := p.stats.Close(); err != nil {
		log.WithError(err).Warn("stats sink close failed")
	}
	if err := p.router.Close(); err != nil {
		log.WithError(err).Warn("router close failed")
	}

	log.WithFields(logger.Fields{
		"final_bars":      len(bars),
		"dropped_late":    p.aggregator.DroppedLate(),
		"dropped_invalid": p.normalizer.DroppedInvalid(),
	}).Info("pipeline stopped")
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{"worker": "dispatch"})
	log.Info("dispatch worker started")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("dispatch worker stopped due to context cancellation")
			return
		case frame, ok := <-p.channels.Frames:
			if !ok {
				log.Info("frame channel closed, dispatch worker stopping")
				return
			}
			p.handleFrame(frame)
		}
	}
}

// Heartbeat flushes every bar whose window has elapsed and appends one
// stats row. Invoked by the health monitor's heartbeat loop.
func (p *Pipeline) Heartbeat(now time.Time) {
	p.barMu.Lock()
	bars := p.aggregator.DrainClosed(now.UnixMilli())
	p.writeBars(p.ctx, bars)
	p.barMu.Unlock()

	if err := p.stats.Append(p.statsRow()); err != nil {
		p.log.WithComponent("pipeline").WithError(err).Error("stats append failed")
	}
}

func (p *Pipeline) statsRow() writer.StatsRow {
	return writer.StatsRow{
		Ch1:           atomic.LoadInt64(&p.ch1Count),
		Ch3:           atomic.LoadInt64(&p.ch3Count),
		Ch5:           atomic.LoadInt64(&p.ch5Count),
		Ch7:           atomic.LoadInt64(&p.ch7Count),
		LegendOptions: atomic.LoadInt64(&p.optionsCount),
		LegendNews:    atomic.LoadInt64(&p.newsCount),
		Other:         atomic.LoadInt64(&p.otherCount),
		Total:         atomic.LoadInt64(&p.totalCount),
	}
}

func (p *Pipeline) writeBars(ctx context.Context, bars []models.Bar) {
	for _, bar := range bars {
		if err := p.router.WriteBar(bar); err != nil {
			p.log.WithComponent("pipeline").WithError(err).WithFields(logger.Fields{
				"symbol":    bar.Symbol,
				"timeframe": bar.Timeframe.Segment(),
			}).Error("bar write failed")
		}
	}
	if p.kafka != nil && len(bars) > 0 {
		p.kafka.Publish(ctx, bars)
	}
	if p.archive != nil {
		p.archive.Add(bars)
	}
}

func (p *Pipeline) handleFrame(frame models.RawFrame) {
	msg := p.classifier.Classify(&frame)

	switch msg.Kind {
	case models.KindIgnore:
		return

	case models.KindOptions:
		atomic.AddInt64(&p.optionsCount, 1)
		atomic.AddInt64(&p.totalCount, 1)
		p.passThrough(msg, frame, "legendOptions")

	case models.KindNews:
		atomic.AddInt64(&p.newsCount, 1)
		atomic.AddInt64(&p.totalCount, 1)
		p.passThrough(msg, frame, "legendNews")

	case models.KindMarketData:
		p.countChannel(msg.Channel)
		atomic.AddInt64(&p.totalCount, 1)
		p.handleMarketData(msg, frame)

	default:
		atomic.AddInt64(&p.otherCount, 1)
		atomic.AddInt64(&p.totalCount, 1)
		// Best-effort raw marketdata rather than discard; see the error
		// taxonomy for classification ambiguity.
		p.passThrough(msg, frame, "other")
	}
}

func (p *Pipeline) countChannel(channel int) {
	switch channel {
	case models.ChannelCandle:
		atomic.AddInt64(&p.ch1Count, 1)
	case models.ChannelTrade:
		atomic.AddInt64(&p.ch3Count, 1)
	case models.ChannelTradeETH:
		atomic.AddInt64(&p.ch5Count, 1)
	case models.ChannelQuote:
		atomic.AddInt64(&p.ch7Count, 1)
	default:
		atomic.AddInt64(&p.otherCount, 1)
	}
}

// passThrough appends the unmodified frame body to the per-channel raw log.
func (p *Pipeline) passThrough(msg models.ClassifiedMessage, frame models.RawFrame, label string) {
	symbol := payloadSymbol(msg.Payload)
	if err := p.router.WriteRaw(symbol, msg.Channel, label, frame.RawText); err != nil {
		p.log.WithComponent("pipeline").WithError(err).WithFields(logger.Fields{
			"label": label,
		}).Error("raw write failed")
	}
}

func (p *Pipeline) handleMarketData(msg models.ClassifiedMessage, frame models.RawFrame) {
	records := extractRecords(msg.Payload)
	events := p.normalizer.Normalize(msg.Channel, records)

	rawSymbol := fallbackDir
	if len(events) > 0 && events[0].Symbol != "" {
		rawSymbol = events[0].Symbol
	}
	if err := p.router.WriteRaw(rawSymbol, msg.Channel, "feed", frame.RawText); err != nil {
		p.log.WithComponent("pipeline").WithError(err).Error("raw feed write failed")
	}

	p.barMu.Lock()
	defer p.barMu.Unlock()

	for _, ev := range events {
		if !p.wantSymbol(ev.Symbol) {
			continue
		}
		if err := p.router.WriteEvent(ev); err != nil {
			p.log.WithComponent("pipeline").WithError(err).WithFields(logger.Fields{
				"type":   string(ev.Type),
				"symbol": ev.Symbol,
			}).Error("event write failed")
		}

		switch ev.Type {
		case models.EventCandle:
			p.aggregator.AddCandle(ev.Symbol, ev)
		case models.EventTrade, models.EventTradeETH:
			p.aggregator.AddTrade(ev.Symbol, ev.Price, p.tradeDelta(ev), ev.EventTimeMs)
		case models.EventQuote:
			p.aggregator.AddQuote(ev.Symbol, ev.BidPrice, ev.AskPrice, ev.EventTimeMs)
		}
	}
}

func (p *Pipeline) wantSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	if len(p.symbols) == 0 {
		return true
	}
	_, ok := p.symbols[symbol]
	return ok
}

// tradeDelta derives the volume one trade contributes from the cumulative
// day volume. The first observation and feeds without day volume count as
// a single unit; day-volume resets (new session) also fall back to one.
func (p *Pipeline) tradeDelta(ev models.Event) float64 {
	key := ev.Symbol + "|" + string(ev.Type)
	prev := p.lastDayVolume[key]
	if ev.DayVolume > 0 {
		p.lastDayVolume[key] = ev.DayVolume
	}
	if ev.DayVolume <= 0 || prev <= 0 || ev.DayVolume < prev {
		return 1
	}
	return ev.DayVolume - prev
}

// extractRecords pulls the record objects out of a marketdata payload. The
// upstream wraps them as a "data" or "records" array; a bare object is
// treated as a single record.
func extractRecords(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}
	for _, key := range []string{"data", "records", "events"} {
		arr, ok := payload[key].([]any)
		if !ok {
			continue
		}
		records := make([]map[string]any, 0, len(arr))
		for _, item := range arr {
			if rec, ok := item.(map[string]any); ok {
				records = append(records, rec)
			}
		}
		return records
	}
	return []map[string]any{payload}
}

func payloadSymbol(payload map[string]any) string {
	if payload == nil {
		return fallbackDir
	}
	for _, key := range []string{"symbol", "eventSymbol", "event_symbol", "underlying", "key"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return fallbackDir
}
