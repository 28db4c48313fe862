package writer

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"legendflow/logger"
)

const statsHeader = "ts,ch1,ch3,ch5,ch7,legendOptions,legendNews,other,total,rss,uptimeSec"

// StatsRow carries the per-channel frame counters snapshotted on every
// heartbeat tick.
type StatsRow struct {
	Ch1           int64
	Ch3           int64
	Ch5           int64
	Ch7           int64
	LegendOptions int64
	LegendNews    int64
	Other         int64
	Total         int64
}

// StatsSink appends one CSV row of pipeline counters per heartbeat tick,
// with process RSS and uptime reported alongside.
type StatsSink struct {
	w         *Rotating
	startedAt time.Time
	now       func() time.Time
}

func NewStatsSink(dir string, policy Policy, comp *Compressor) *StatsSink {
	return &StatsSink{
		w:         NewRotating(filepath.Join(dir, "stats.csv"), statsHeader, policy, comp),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

func (s *StatsSink) Append(row StatsRow) error {
	now := s.now()
	line := strings.Join([]string{
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(row.Ch1, 10),
		strconv.FormatInt(row.Ch3, 10),
		strconv.FormatInt(row.Ch5, 10),
		strconv.FormatInt(row.Ch7, 10),
		strconv.FormatInt(row.LegendOptions, 10),
		strconv.FormatInt(row.LegendNews, 10),
		strconv.FormatInt(row.Other, 10),
		strconv.FormatInt(row.Total, 10),
		strconv.FormatUint(logger.RSSBytes(), 10),
		strconv.FormatInt(int64(now.Sub(s.startedAt)/time.Second), 10),
	}, ",")
	return s.w.Write(line)
}

func (s *StatsSink) Close() error {
	return s.w.Close()
}
