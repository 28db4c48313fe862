package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	"legendflow/logger"
	"legendflow/models"
)

// ParquetBarRecord is the columnar layout of one closed bar.
type ParquetBarRecord struct {
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe   string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	WindowStart int64   `parquet:"name=window_start, type=INT64"`
	Open        float64 `parquet:"name=open, type=DOUBLE"`
	High        float64 `parquet:"name=high, type=DOUBLE"`
	Low         float64 `parquet:"name=low, type=DOUBLE"`
	Close       float64 `parquet:"name=close, type=DOUBLE"`
	Volume      float64 `parquet:"name=volume, type=DOUBLE"`
}

// BarArchive accumulates closed bars and writes them out as one parquet
// file per (symbol, timeframe) on flush. Flush is called from the dispatch
// worker at shutdown, so no locking is needed.
type BarArchive struct {
	dir  string
	bars map[string][]ParquetBarRecord
	log  *logger.Log
}

func NewBarArchive(dir string) *BarArchive {
	return &BarArchive{
		dir:  dir,
		bars: make(map[string][]ParquetBarRecord),
		log:  logger.GetLogger(),
	}
}

// Add buffers closed bars for the next flush.
func (b *BarArchive) Add(bars []models.Bar) {
	for _, bar := range bars {
		key := bar.Symbol + "/" + bar.Timeframe.Segment()
		b.bars[key] = append(b.bars[key], ParquetBarRecord{
			Symbol:      bar.Symbol,
			Timeframe:   bar.Timeframe.Segment(),
			WindowStart: bar.WindowStartMs,
			Open:        bar.Open,
			High:        bar.High,
			Low:         bar.Low,
			Close:       bar.Close,
			Volume:      bar.Volume,
		})
	}
}

// Flush writes every buffered group to disk and clears the buffer. The
// first error is returned after all groups have been attempted.
func (b *BarArchive) Flush() error {
	stamp := time.Now().Format("20060102-150405")
	var firstErr error
	for key, records := range b.bars {
		if err := b.writeGroup(key, stamp, records); err != nil {
			b.log.WithComponent("bar_archive").WithError(err).
				WithFields(logger.Fields{"group": key}).Warn("failed to write parquet group")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(b.bars, key)
	}
	return firstErr
}

func (b *BarArchive) writeGroup(key, stamp string, records []ParquetBarRecord) error {
	if len(records) == 0 {
		return nil
	}

	path := filepath.Join(b.dir, fmt.Sprintf("%s-%s.parquet", filepath.FromSlash(key), stamp))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	pw, err := parquetwriter.NewParquetWriter(fw, new(ParquetBarRecord), 2)
	if err != nil {
		fw.Close()
		return fmt.Errorf("parquet writer %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finish %s: %w", path, err)
	}
	return fw.Close()
}
