package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Policy controls when a rotating writer rolls its active file over. A zero
// threshold disables that check.
type Policy struct {
	MaxBytes     int64
	MaxAge       time.Duration
	GzipOnRotate bool
}

// Rotating is an append-only line sink. The active file lives at basePath;
// on rotation it is renamed with a timestamp suffix and a fresh file is
// opened at basePath. Rotated-out files are handed to the compressor when
// gzip is enabled. Not safe for concurrent use; each instance is owned by
// one writer goroutine.
type Rotating struct {
	basePath string
	header   string
	policy   Policy
	comp     *Compressor

	file         *os.File
	bytesWritten int64
	openedAt     time.Time

	now func() time.Time
}

// NewRotating creates a writer for basePath. header, when non-empty, is
// written at the top of every fresh file and counts toward the size
// threshold. The file is opened lazily on first write.
func NewRotating(basePath, header string, policy Policy, comp *Compressor) *Rotating {
	return &Rotating{
		basePath: basePath,
		header:   header,
		policy:   policy,
		comp:     comp,
		now:      time.Now,
	}
}

// Write appends one line (a trailing newline is added). Rotation thresholds
// are checked before the write so the active file never exceeds the size
// limit by more than one line. File-system errors are fatal to this writer
// and propagate to the caller.
func (w *Rotating) Write(line string) error {
	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.file.WriteString(line + "\n")
	w.bytesWritten += int64(n)
	if err != nil {
		return fmt.Errorf("write %s: %w", w.basePath, err)
	}
	return nil
}

func (w *Rotating) shouldRotate() bool {
	if w.file == nil {
		return true
	}
	if w.policy.MaxBytes > 0 && w.bytesWritten >= w.policy.MaxBytes {
		return true
	}
	if w.policy.MaxAge > 0 && w.now().Sub(w.openedAt) >= w.policy.MaxAge {
		return true
	}
	return false
}

// rotate closes and renames the active file, then opens a fresh one at the
// base path and writes the header.
func (w *Rotating) rotate() error {
	if w.file != nil {
		rotated, err := w.retire()
		if err != nil {
			return err
		}
		if w.policy.GzipOnRotate && w.comp != nil && rotated != "" {
			w.comp.Enqueue(rotated)
		}
	}

	if err := os.MkdirAll(filepath.Dir(w.basePath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", w.basePath, err)
	}

	file, err := os.OpenFile(w.basePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.basePath, err)
	}

	w.file = file
	w.openedAt = w.now()
	w.bytesWritten = 0

	// A crash can leave a non-empty file behind; resume its byte count so
	// the size threshold still holds and skip the duplicate header.
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		w.bytesWritten = info.Size()
		return nil
	}

	if w.header != "" {
		n, err := file.WriteString(w.header + "\n")
		w.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("write header %s: %w", w.basePath, err)
		}
	}
	return nil
}

// retire closes the active file and renames it with a timestamp suffix,
// returning the rotated path.
func (w *Rotating) retire() (string, error) {
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", w.basePath, err)
	}
	w.file = nil

	rotated := suffixedPath(w.basePath, w.now())
	for i := 1; ; i++ {
		if _, err := os.Stat(rotated); os.IsNotExist(err) {
			break
		}
		// Two rotations inside one second; never overwrite rotated data.
		rotated = fmt.Sprintf("%s.%d", suffixedPath(w.basePath, w.now()), i)
	}
	if err := os.Rename(w.basePath, rotated); err != nil {
		return "", fmt.Errorf("rotate %s: %w", w.basePath, err)
	}
	return rotated, nil
}

// Close flushes and closes the active file. With gzip enabled the final
// file is retired and queued for compression like any rotated file.
func (w *Rotating) Close() error {
	if w.file == nil {
		return nil
	}

	if w.policy.GzipOnRotate && w.comp != nil {
		rotated, err := w.retire()
		if err != nil {
			return err
		}
		w.comp.Enqueue(rotated)
		return nil
	}

	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", w.basePath, err)
	}
	return nil
}

// suffixedPath inserts a -YYYYMMDD-HHMMSS timestamp before the extension.
func suffixedPath(basePath string, t time.Time) string {
	ext := filepath.Ext(basePath)
	stem := strings.TrimSuffix(basePath, ext)
	return fmt.Sprintf("%s-%s%s", stem, t.Format("20060102-150405"), ext)
}
