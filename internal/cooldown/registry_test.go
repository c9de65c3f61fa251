package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/proctor-monitor/internal/violation"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestTryEmitWindowIsStrict(t *testing.T) {
	r := NewRegistry(0)
	if r.Cooldown() != 5*time.Second {
		t.Fatalf("default cooldown = %v", r.Cooldown())
	}

	if !r.TryEmit("c1", violation.NoFace, t0) {
		t.Fatal("first emission should be eligible")
	}
	if r.TryEmit("c1", violation.NoFace, t0.Add(4999*time.Millisecond)) {
		t.Fatal("emission inside window should be suppressed")
	}
	if r.TryEmit("c1", violation.NoFace, t0.Add(5000*time.Millisecond)) {
		t.Fatal("emission at exactly the window should be suppressed")
	}
	if !r.TryEmit("c1", violation.NoFace, t0.Add(5001*time.Millisecond)) {
		t.Fatal("emission after the window should be eligible")
	}
}

func TestSuppressedEmissionDoesNotExtendWindow(t *testing.T) {
	r := NewRegistry(5 * time.Second)
	r.TryEmit("c1", violation.Book, t0)
	for ms := 1000; ms <= 5000; ms += 1000 {
		if r.TryEmit("c1", violation.Book, t0.Add(time.Duration(ms)*time.Millisecond)) {
			t.Fatalf("unexpected emission at +%dms", ms)
		}
	}
	last, ok := r.LastEmitted("c1", violation.Book)
	if !ok || !last.Equal(t0) {
		t.Fatalf("last emitted = %v, want %v", last, t0)
	}
	if !r.TryEmit("c1", violation.Book, t0.Add(5001*time.Millisecond)) {
		t.Fatal("expected emission once original window elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	r := NewRegistry(5 * time.Second)
	r.TryEmit("c1", violation.CellPhone, t0)

	if !r.Eligible("c1", violation.Laptop, t0) {
		t.Error("different kind should be eligible")
	}
	if !r.TryEmit("c2", violation.CellPhone, t0.Add(time.Millisecond)) {
		t.Error("different session should be eligible")
	}
	if r.Eligible("c1", violation.CellPhone, t0.Add(time.Second)) {
		t.Error("same key should still be cooling down")
	}
}

func TestPrune(t *testing.T) {
	r := NewRegistry(5 * time.Second)
	r.MarkEmitted("c1", violation.CellPhone, t0)
	r.MarkEmitted("c1", violation.NoFace, t0)
	r.MarkEmitted("c2", violation.NoFace, t0)

	if n := r.Prune("c1"); n != 2 {
		t.Fatalf("Prune removed %d, want 2", n)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if !r.Eligible("c1", violation.NoFace, t0.Add(time.Millisecond)) {
		t.Fatal("pruned session should be eligible")
	}
}

func TestTryEmitConcurrent(t *testing.T) {
	r := NewRegistry(5 * time.Second)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryEmit("c1", violation.MultipleFaces, t0) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}
