package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"legendflow/logger"
)

// PrimaryStreamKey is the stream the watchdog guards: the 1-minute bar
// sink, written on every heartbeat flush while data is flowing.
const PrimaryStreamKey = "bars:1min"

// Config carries the monitor's intervals and thresholds.
type Config struct {
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration
	WatchdogInterval  time.Duration

	WarnCooldown        time.Duration
	DefaultLagThreshold time.Duration
	LagThresholds       map[string]time.Duration

	StallThreshold    time.Duration
	ReconnectCooldown time.Duration
}

// Monitor runs three independent loops: a heartbeat that flushes elapsed
// bars and snapshots counters, a health loop that warns on per-stream lag
// with a cooldown, and a watchdog that requests an upstream reconnect when
// the primary bar stream stalls during trading hours.
type Monitor struct {
	config    Config
	tracker   *Tracker
	hours     *MarketHours
	heartbeat func(now time.Time)
	reconnect func()

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	startedAt time.Time
	lastWarn  map[string]time.Time

	reconnectMu       sync.Mutex
	reconnectInFlight bool
	lastReconnect     time.Time

	now func() time.Time
}

// NewMonitor wires a monitor. heartbeat is invoked on every heartbeat tick
// from the monitor's goroutine; reconnect is the external recovery
// callback and may block, so it runs on its own goroutine.
func NewMonitor(cfg Config, tracker *Tracker, hours *MarketHours, heartbeat func(time.Time), reconnect func()) *Monitor {
	if cfg.DefaultLagThreshold <= 0 {
		cfg.DefaultLagThreshold = 60 * time.Second
	}
	return &Monitor{
		config:    cfg,
		tracker:   tracker,
		hours:     hours,
		heartbeat: heartbeat,
		reconnect: reconnect,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		lastWarn:  make(map[string]time.Time),
		now:       time.Now,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.ctx = ctx
	m.startedAt = m.now()
	m.mu.Unlock()

	log := m.log.WithComponent("health_monitor")
	log.WithFields(logger.Fields{
		"heartbeat": m.config.HeartbeatInterval.String(),
		"health":    m.config.HealthInterval.String(),
		"watchdog":  m.config.WatchdogInterval.String(),
	}).Info("starting health monitor")

	m.wg.Add(3)
	go m.loop(m.config.HeartbeatInterval, func(now time.Time) { m.heartbeat(now) })
	go m.loop(m.config.HealthInterval, m.checkHealth)
	go m.loop(m.config.WatchdogInterval, m.checkWatchdog)

	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
	m.log.WithComponent("health_monitor").Info("health monitor stopped")
}

func (m *Monitor) loop(interval time.Duration, tick func(time.Time)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			tick(m.now())
		}
	}
}

// checkHealth computes lag per stream key and warns on sustained breaches.
// A warning for a key is repeated only after the cooldown; once lag drops
// back under the threshold the cooldown marker is cleared so the next
// breach warns immediately.
func (m *Monitor) checkHealth(now time.Time) {
	snap := m.tracker.Snapshot()
	log := m.log.WithComponent("health_monitor")

	for key, lastMs := range snap.LastWriteMs {
		lag := now.Sub(time.UnixMilli(lastMs))
		threshold := m.lagThreshold(key)

		if lag <= threshold {
			delete(m.lastWarn, key)
			continue
		}
		if last, ok := m.lastWarn[key]; ok && now.Sub(last) < m.config.WarnCooldown {
			continue
		}
		m.lastWarn[key] = now
		log.WithFields(logger.Fields{
			"stream":    key,
			"lag":       lag.String(),
			"threshold": threshold.String(),
			"writes":    snap.Counts[key],
		}).Warn("stream write lag over threshold")
	}
}

func (m *Monitor) lagThreshold(key string) time.Duration {
	if d, ok := m.config.LagThresholds[key]; ok {
		return d
	}
	// Allow prefix entries like "raw:" or "bars:" in the threshold table.
	for prefix, d := range m.config.LagThresholds {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(key, prefix) {
			return d
		}
	}
	return m.config.DefaultLagThreshold
}

// checkWatchdog requests an upstream reconnect when the primary bar stream
// has stalled during trading hours. A reconnect is suppressed while one is
// in flight and for the cooldown period after the previous one.
func (m *Monitor) checkWatchdog(now time.Time) {
	if m.hours != nil && !m.hours.Contains(now) {
		return
	}

	lastMs := m.tracker.LastWriteMs(PrimaryStreamKey)
	reference := m.startedAt
	if lastMs > 0 {
		reference = time.UnixMilli(lastMs)
	}
	lag := now.Sub(reference)
	if lag <= m.config.StallThreshold {
		return
	}

	m.reconnectMu.Lock()
	if m.reconnectInFlight || now.Sub(m.lastReconnect) < m.config.ReconnectCooldown {
		m.reconnectMu.Unlock()
		return
	}
	m.reconnectInFlight = true
	m.lastReconnect = now
	m.reconnectMu.Unlock()

	m.log.WithComponent("watchdog").WithFields(logger.Fields{
		"stream": PrimaryStreamKey,
		"lag":    lag.String(),
	}).Warn("primary stream stalled; requesting reconnect")

	go func() {
		defer func() {
			m.reconnectMu.Lock()
			m.reconnectInFlight = false
			m.reconnectMu.Unlock()
		}()
		if m.reconnect != nil {
			m.reconnect()
		}
	}()
}
