package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func writeStills(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	data := testPNG(t, 1280, 720)
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDirSourceReplay(t *testing.T) {
	dir := writeStills(t, "b.png", "a.png", "notes.txt")
	src := NewDirSource(dir, DirOptions{MaxWidth: 640})
	ctx := context.Background()

	stream, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Release()

	for i := 1; i <= 2; i++ {
		f, err := stream.Next(ctx)
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if f.Width != 640 || f.Height != 360 {
			t.Fatalf("frame size %dx%d, want 640x360", f.Width, f.Height)
		}
		if f.FrameNum != uint64(i) {
			t.Fatalf("FrameNum = %d, want %d", f.FrameNum, i)
		}
	}

	if _, err := stream.Next(ctx); !errors.Is(err, ErrSourceLost) {
		t.Fatalf("exhausted replay error = %v, want ErrSourceLost", err)
	}
}

func TestDirSourceIsExclusive(t *testing.T) {
	src := NewDirSource(writeStills(t, "a.png"), DirOptions{Loop: true})
	ctx := context.Background()

	first, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := src.Acquire(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("second Acquire error = %v, want ErrDeviceUnavailable", err)
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := first.Next(ctx); !errors.Is(err, ErrReleased) {
		t.Fatalf("Next after release = %v", err)
	}

	again, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again.Release()
}

func TestDirSourceUnavailable(t *testing.T) {
	ctx := context.Background()
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "missing"), DirOptions{}).Acquire(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("missing dir error = %v", err)
	}
	if _, err := NewDirSource(t.TempDir(), DirOptions{}).Acquire(ctx); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("empty dir error = %v", err)
	}
}

func TestSnapshotSource(t *testing.T) {
	data := testPNG(t, 320, 240)
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "camera offline", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, srv.Client(), SnapshotOptions{MaxFailures: 2})
	ctx := context.Background()
	stream, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Release()

	f, err := stream.Next(ctx)
	if err != nil || f.Width != 320 {
		t.Fatalf("Next = %+v, %v", f, err)
	}

	fail.Store(true)
	if _, err := stream.Next(ctx); err == nil || IsFatal(err) {
		t.Fatalf("first failure should be transient, got %v", err)
	}
	if _, err := stream.Next(ctx); !errors.Is(err, ErrSourceLost) {
		t.Fatalf("second failure = %v, want ErrSourceLost", err)
	}
}

func TestSnapshotSourcePermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL, srv.Client(), SnapshotOptions{})
	if _, err := src.Acquire(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Acquire error = %v, want ErrPermissionDenied", err)
	}
	// a failed acquire must not hold the device
	if _, err := src.Acquire(context.Background()); errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("source still marked active after failed acquire: %v", err)
	}
}

func TestRemoteSourceKeepsLatest(t *testing.T) {
	src := NewRemoteSource()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stream, err := src.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer stream.Release()

	src.Publish(&types.Frame{Width: 640, Height: 480})
	src.Publish(&types.Frame{Width: 800, Height: 600})

	f, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Width != 800 || f.FrameNum != 2 {
		t.Fatalf("got frame %+v, want the newest", f)
	}
	if src.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", src.Dropped())
	}

	short, cancelShort := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancelShort()
	if _, err := stream.Next(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next without frames = %v", err)
	}

	src.Lost("peer disconnected")
	if _, err := stream.Next(ctx); !errors.Is(err, ErrSourceLost) {
		t.Fatalf("Next after loss = %v, want ErrSourceLost", err)
	}
}
