package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/dj-oyu/proctor-monitor/internal/logger"
)

// EventRow is one logged violation as stored in the archive
type EventRow struct {
	CandidateID int64   `parquet:"candidate_id" json:"candidate_id"`
	BatchID     string  `parquet:"batch_id" json:"batch_id"`
	Event       string  `parquet:"event" json:"event"`
	ScoreChange float64 `parquet:"score_change" json:"score_change"`
	ScoreAfter  float64 `parquet:"score_after" json:"score_after"`
	TimestampMs int64   `parquet:"timestamp_ms" json:"timestamp_ms"`
}

// Recorder appends event rows to a parquet file
type Recorder struct {
	mu        sync.RWMutex
	file      *os.File
	writer    *parquet.GenericWriter[EventRow]
	filename  string
	basePath  string
	recording bool
	rowCount  uint64
	dropped   uint64
	startTime time.Time
	rowChan   chan EventRow
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewRecorder creates a new recorder. buffer bounds rows queued for the writer.
func NewRecorder(basePath string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		basePath: basePath,
		rowChan:  make(chan EventRow, buffer),
	}
}

// Start opens a new archive file and starts the writer goroutine
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("events_%s.parquet", timestamp)
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.writer = parquet.NewGenericWriter[EventRow](file)
	r.filename = filename
	r.recording = true
	r.rowCount = 0
	r.dropped = 0
	r.startTime = time.Now()
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeRows(r.stopChan)

	logger.Info("Recorder", "Archiving events to %s", path)
	return nil
}

// Stop drains queued rows, finalizes the parquet footer and closes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to finalize parquet: %w", err))
		}
		r.writer = nil
	}
	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
		}
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close file: %w", err))
		}
		r.file = nil
	}

	logger.Info("Recorder", "Archive %s closed: %d rows, %d dropped", r.filename, r.rowCount, r.dropped)
	return errors.Join(errs...)
}

// Send queues rows for the writer (non-blocking). It returns false when not
// recording or when the queue is full; dropped rows are counted.
func (r *Recorder) Send(rows ...EventRow) bool {
	r.mu.RLock()
	if !r.recording {
		r.mu.RUnlock()
		return false
	}
	// Queue under the read lock: Stop cannot close stopChan until every
	// accepted row is in rowChan, so the final drain sees it.
	var dropped uint64
	for _, row := range rows {
		select {
		case r.rowChan <- row:
		default:
			dropped++
		}
	}
	r.mu.RUnlock()

	if dropped > 0 {
		r.mu.Lock()
		r.dropped += dropped
		r.mu.Unlock()
		return false
	}
	return true
}

// writeRows writes queued rows and flushes a row group per burst
func (r *Recorder) writeRows(stop <-chan struct{}) {
	defer r.wg.Done()

	batch := make([]EventRow, 0, 64)
	for {
		select {
		case row := <-r.rowChan:
			batch = append(batch[:0], row)
			// take whatever else is already queued
			for more := true; more && len(batch) < cap(batch); {
				select {
				case next := <-r.rowChan:
					batch = append(batch, next)
				default:
					more = false
				}
			}
			r.writeBatch(batch)
		case <-stop:
			// Drain remaining rows
			batch = batch[:0]
			for len(r.rowChan) > 0 {
				batch = append(batch, <-r.rowChan)
			}
			if len(batch) > 0 {
				r.writeBatch(batch)
			}
			return
		}
	}
}

func (r *Recorder) writeBatch(rows []EventRow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return
	}
	n, err := r.writer.Write(rows)
	r.rowCount += uint64(n)
	if err != nil {
		logger.Error("Recorder", "Write failed after %d rows: %v", n, err)
		return
	}
	if err := r.writer.Flush(); err != nil {
		logger.Error("Recorder", "Flush failed: %v", err)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Path returns the current or last archive file path
func (r *Recorder) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.filename == "" {
		return ""
	}
	return filepath.Join(r.basePath, r.filename)
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var durationMs int64
	if r.recording {
		durationMs = time.Since(r.startTime).Milliseconds()
	}

	return RecordingStatus{
		Recording:  r.recording,
		Filename:   r.filename,
		RowCount:   r.rowCount,
		Dropped:    r.dropped,
		DurationMs: durationMs,
		StartTime:  r.startTime,
	}
}

// Close stops the recorder if it is running
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording  bool      `json:"recording"`
	Filename   string    `json:"filename"`
	RowCount   uint64    `json:"row_count"`
	Dropped    uint64    `json:"dropped"`
	DurationMs int64     `json:"duration_ms"`
	StartTime  time.Time `json:"start_time"`
}

// ReadFile loads every row of an archive file
func ReadFile(path string) ([]EventRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[EventRow](pf)
	defer reader.Close()

	var out []EventRow
	rows := make([]EventRow, 128)
	for {
		n, err := reader.Read(rows)
		out = append(out, rows[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("failed to read archive: %w", err)
		}
	}
	return out, nil
}
