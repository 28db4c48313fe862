package writer

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"legendflow/internal/health"
	"legendflow/logger"
	"legendflow/models"
)

const (
	barHeader    = "t,open,high,low,close,volume,symbol"
	candleHeader = "t,symbol,open,high,low,close,volume,vwap,count,sequence,impliedVolatility,openInterest"
	tradeHeader  = "t,symbol,price,dayVolume"
	quoteHeader  = "t,symbol,bidPrice,bidSize,askPrice,askSize,bidTime,askTime"
)

// Router fans normalized events, closed bars and raw pass-through lines out
// to rotating file sinks, creating writers lazily on first use. Every
// successful write marks the health tracker. A mutex serializes all writes:
// the dispatch worker and the monitor's heartbeat tick both reach the
// writer map.
type Router struct {
	dir     string
	prefix  string
	policy  Policy
	comp    *Compressor
	tracker *health.Tracker
	runID   string

	mu      sync.Mutex
	writers map[string]*Rotating
	now     func() time.Time
	log     *logger.Log
}

func NewRouter(dir, prefix string, policy Policy, comp *Compressor, tracker *health.Tracker) *Router {
	return &Router{
		dir:     dir,
		prefix:  prefix,
		policy:  policy,
		comp:    comp,
		tracker: tracker,
		runID:   uuid.NewString(),
		writers: make(map[string]*Rotating),
		now:     time.Now,
		log:     logger.GetLogger(),
	}
}

// RunID identifies this pipeline run; it is stamped on Kafka keys and
// useful when stitching restarts back together.
func (r *Router) RunID() string {
	return r.runID
}

// WriteRaw appends one unnormalized JSON line to the per-channel
// pass-through log for symbol.
func (r *Router) WriteRaw(symbol string, channel int, label string, line string) error {
	date := r.now().Format("20060102")
	name := fmt.Sprintf("%s-ch%d-%s.jsonl", r.prefix, channel, label)
	path := filepath.Join(r.dir, symbol, date, name)
	key := fmt.Sprintf("raw:ch%d:%s", channel, label)

	if err := r.writeLine(path, "", key, line); err != nil {
		return err
	}
	logger.RecordStreamMessage(key, len(line))
	return nil
}

// WriteEvent appends one canonical event to the flat CSV for its kind.
func (r *Router) WriteEvent(ev models.Event) error {
	var header, row string
	switch ev.Type {
	case models.EventCandle:
		header = candleHeader
		row = strings.Join([]string{
			strconv.FormatInt(ev.EventTimeMs, 10),
			ev.Symbol,
			ftoa(ev.Open), ftoa(ev.High), ftoa(ev.Low), ftoa(ev.Close), ftoa(ev.Volume),
			ftoa(ev.VWAP),
			strconv.FormatInt(ev.Count, 10),
			strconv.FormatInt(ev.Sequence, 10),
			ftoa(ev.ImpliedVolatility), ftoa(ev.OpenInterest),
		}, ",")
	case models.EventTrade, models.EventTradeETH:
		header = tradeHeader
		row = strings.Join([]string{
			strconv.FormatInt(ev.EventTimeMs, 10),
			ev.Symbol,
			ftoa(ev.Price), ftoa(ev.DayVolume),
		}, ",")
	case models.EventQuote:
		header = quoteHeader
		row = strings.Join([]string{
			strconv.FormatInt(ev.EventTimeMs, 10),
			ev.Symbol,
			ftoa(ev.BidPrice), ftoa(ev.BidSize), ftoa(ev.AskPrice), ftoa(ev.AskSize),
			strconv.FormatInt(ev.BidTimeMs, 10),
			strconv.FormatInt(ev.AskTimeMs, 10),
		}, ",")
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	path := filepath.Join(r.dir, ev.Symbol, string(ev.Type)+".csv")
	key := "events:" + string(ev.Type)
	return r.writeLine(path, header, key, row)
}

// WriteBar appends one closed bar to its per-symbol, per-timeframe CSV.
func (r *Router) WriteBar(bar models.Bar) error {
	path := filepath.Join(r.dir, bar.Symbol, bar.Timeframe.Segment()+".csv")
	key := "bars:" + bar.Timeframe.Segment()
	row := strings.Join([]string{
		strconv.FormatInt(bar.WindowStartMs, 10),
		ftoa(bar.Open), ftoa(bar.High), ftoa(bar.Low), ftoa(bar.Close), ftoa(bar.Volume),
		bar.Symbol,
	}, ",")
	return r.writeLine(path, barHeader, key, row)
}

func (r *Router) writeLine(path, header, key, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.writers[path]
	if !ok {
		w = NewRotating(path, header, r.policy, r.comp)
		r.writers[path] = w
	}
	if err := w.Write(line); err != nil {
		return err
	}
	r.tracker.Mark(key, r.now())
	return nil
}

// Close flushes and closes every writer. The first error is returned after
// all writers have been attempted.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for path, w := range r.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.writers, path)
	}
	return firstErr
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
