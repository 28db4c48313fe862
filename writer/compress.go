package writer

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"legendflow/logger"
)

// Compressor gzips rotated-out files in the background. Each job runs in
// its own tracked goroutine with a semaphore bounding concurrency, so a
// slow compression never blocks new writes. The uncompressed original is
// removed only after the .gz has been fully written; on any failure the
// original is kept and the error is logged.
type Compressor struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	onDone func(gzPath string)
	log    *logger.Log
}

// NewCompressor creates a compressor running at most workers jobs at once.
// onDone, when non-nil, is invoked with the path of every successfully
// written .gz file.
func NewCompressor(workers int, onDone func(string)) *Compressor {
	if workers < 1 {
		workers = 1
	}
	return &Compressor{
		sem:    make(chan struct{}, workers),
		onDone: onDone,
		log:    logger.GetLogger(),
	}
}

// Enqueue schedules path for background compression.
func (c *Compressor) Enqueue(path string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		log := c.log.WithComponent("compressor").WithFields(logger.Fields{"file": path})
		gzPath, err := compressFile(path)
		if err != nil {
			log.WithError(err).Warn("compression failed; original file kept")
			return
		}
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warn("failed to remove original after compression")
		}
		logger.RecordStreamMessage("compressed_files", 0)
		if c.onDone != nil {
			c.onDone(gzPath)
		}
	}()
}

// WaitTimeout blocks until all in-flight jobs finish or the timeout
// elapses. It reports whether the queue fully drained.
func (c *Compressor) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// compressFile stream-compresses path to path.gz. The partial .gz is
// removed on failure so a retry starts clean.
func compressFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	gzPath := path + ".gz"
	dst, err := os.Create(gzPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", gzPath, err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("finish %s: %w", gzPath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(gzPath)
		return "", fmt.Errorf("close %s: %w", gzPath, err)
	}
	return gzPath, nil
}
