// Package capture provides exclusive frame sources for the monitoring loop.
package capture

import (
	"context"
	"errors"
	"image"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/proctor-monitor/pkg/types"
)

var (
	// ErrPermissionDenied means the operator or OS refused access to the device.
	ErrPermissionDenied = errors.New("frame source permission denied")
	// ErrDeviceUnavailable means no usable device exists or it is held elsewhere.
	ErrDeviceUnavailable = errors.New("frame source unavailable")
	// ErrSourceLost is returned by Next once the device went away mid-session.
	ErrSourceLost = errors.New("frame source lost")
	// ErrReleased is returned by Next after Release.
	ErrReleased = errors.New("frame stream released")
)

// Source hands out at most one live Stream at a time.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
	Name() string
}

// Stream yields frames until released or lost. Release is idempotent.
// Errors other than ErrSourceLost and ErrReleased are transient.
type Stream interface {
	Next(ctx context.Context) (*types.Frame, error)
	Release() error
}

// IsFatal reports whether err ends the stream.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceLost) || errors.Is(err, ErrReleased)
}

// downscale keeps the aspect ratio and caps the width at maxWidth.
func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func newFrame(img image.Image, seq uint64) *types.Frame {
	b := img.Bounds()
	return &types.Frame{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: time.Now(),
		FrameNum:  seq,
	}
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
