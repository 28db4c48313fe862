package logger

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var streams sync.Map // map[string]*streamStat

// RecordStreamMessage tracks one message flowing through a named stream so
// the periodic report can summarise throughput per stream.
func RecordStreamMessage(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	st := v.(*streamStat)
	atomic.AddInt64(&st.messages, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// RSSBytes returns the resident set size of the current process, or zero
// when it cannot be read.
func RSSBytes() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*streamStat)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&st.messages),
			"bytes":    atomic.LoadInt64(&st.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memPct := 0.0
	if memStats != nil {
		memPct = memStats.UsedPercent
	}

	log.WithComponent("report").WithFields(Fields{
		"cpu_percent": cpuPct,
		"mem_percent": memPct,
		"rss_bytes":   RSSBytes(),
		"streams":     streamData,
	}).Info("system report")
}
