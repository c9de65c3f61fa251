package recorder

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRecorderRoundTrip(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), "archive"), 16)

	if r.Send(EventRow{Event: "book"}) {
		t.Fatal("Send before Start should be rejected")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Fatal("second Start should fail")
	}

	now := time.Now().UnixMilli()
	if !r.Send(
		EventRow{CandidateID: 1, BatchID: "b1", Event: "cell phone", ScoreChange: 20, ScoreAfter: 80, TimestampMs: now},
		EventRow{CandidateID: 1, BatchID: "b1", Event: "no_face_detected", ScoreChange: 10, ScoreAfter: 70, TimestampMs: now},
	) {
		t.Fatal("Send rejected rows")
	}
	r.Send(EventRow{CandidateID: 2, BatchID: "b2", Event: "laptop", ScoreChange: 5, ScoreAfter: 95, TimestampMs: now})

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := r.GetStatus(); st.Recording || st.RowCount != 3 {
		t.Fatalf("status = %+v", st)
	}

	rows, err := ReadFile(r.Path())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("read %d rows, want 3", len(rows))
	}
	if rows[0].Event != "cell phone" || rows[1].ScoreAfter != 70 || rows[2].CandidateID != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(t.TempDir(), 0)
	if err := r.Stop(); err == nil {
		t.Fatal("Stop without Start should fail")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSendRacingStopKeepsAcceptedRows(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 8)

	for round := 0; round < 20; round++ {
		if err := r.Start(); err != nil {
			t.Fatalf("round %d: Start: %v", round, err)
		}
		path := r.Path()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 500; i++ {
					if r.Send(EventRow{CandidateID: int64(w), Event: "book", TimestampMs: int64(i)}) {
						accepted.Add(1)
					}
				}
			}(w)
		}

		time.Sleep(time.Millisecond)
		if err := r.Stop(); err != nil {
			t.Fatalf("round %d: Stop: %v", round, err)
		}
		wg.Wait()

		rows, err := ReadFile(path)
		if err != nil {
			t.Fatalf("round %d: ReadFile: %v", round, err)
		}
		if int64(len(rows)) != accepted.Load() {
			t.Fatalf("round %d: accepted %d rows, wrote %d", round, accepted.Load(), len(rows))
		}
		if st := r.GetStatus(); st.RowCount != uint64(len(rows)) {
			t.Fatalf("round %d: row count = %d, want %d", round, st.RowCount, len(rows))
		}
	}
}

func TestStatusDurationInMilliseconds(t *testing.T) {
	r := NewRecorder(t.TempDir(), 0)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Close()

	time.Sleep(30 * time.Millisecond)
	data, err := json.Marshal(r.GetStatus())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		DurationMs int64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.DurationMs < 30 || got.DurationMs > 10_000 {
		t.Fatalf("duration_ms = %d, want milliseconds", got.DurationMs)
	}
}
