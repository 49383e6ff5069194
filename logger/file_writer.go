package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const dateLayout = "2006-01-02"

// ErrWriterClosed is returned by writes to a closed DailyFileWriter.
var ErrWriterClosed = errors.New("logger: file writer is closed")

// DailyFileWriter is an io.Writer that appends to {service}_{date}.log in a
// directory and switches to a new file when the date changes. A background
// goroutine checks hourly so idle servers still rotate. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string

	mu       sync.RWMutex
	file     *os.File
	currDate string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewDailyFileWriter opens today's log file in logDir, which must exist.
//
// Parameters:
//   - service: Prefix of the log file names
//   - logDir: Directory holding the log files
//
// Returns:
//   - The writer, or an error if the initial file could not be opened
func NewDailyFileWriter(service string, logDir string) (*DailyFileWriter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &DailyFileWriter{
		service: service,
		dir:     logDir,
		cancel:  cancel,
	}

	if err := w.ForceRotate(); err != nil {
		cancel()
		return nil, fmt.Errorf("initial rotation failed: %w", err)
	}

	w.wg.Add(1)
	go w.autoRotate(ctx)
	return w, nil
}

// Close stops the background rotation and closes the current file. It is
// safe to call multiple times.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) autoRotate(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.currDate != time.Now().Format(dateLayout) {
				_ = w.openLocked()
			}
			w.mu.Unlock()
		}
	}
}

// openLocked closes the current file and opens the one for today; caller
// must hold w.mu.
func (w *DailyFileWriter) openLocked() error {
	if w.closed.Load() {
		return ErrWriterClosed
	}

	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	date := time.Now().Format(dateLayout)
	filename := filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", filename, err)
	}

	w.file = file
	w.currDate = date
	return nil
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrWriterClosed
	}

	today := time.Now().Format(dateLayout)

	w.mu.RLock()
	if w.file != nil && w.currDate == today {
		n, err := w.file.Write(p)
		w.mu.RUnlock()
		return n, err
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.currDate != today {
		if err := w.openLocked(); err != nil {
			return 0, fmt.Errorf("rotation failed: %w", err)
		}
	}

	return w.file.Write(p)
}

// ForceRotate reopens the log file for the current date, e.g. after an
// external tool moved it away on SIGHUP.
func (w *DailyFileWriter) ForceRotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openLocked()
}

// CurrentLogFile returns the path of the file being written, or "" if none.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.file == nil {
		return ""
	}

	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, w.currDate))
}
