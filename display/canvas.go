// Package display keeps the application side of each remote desktop session:
// its frame buffer, clipboard and prompts.
package display

import (
	"errors"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/fogleman/gg"
)

// OnSyncFunc is the signature for OnSync event handlers. It will receive the
// current screen image and the timestamp of the last update.
type OnSyncFunc = func(image image.Image, lastUpdate int64)

// Canvas is the frame buffer of one session. The engine paints into it
// through Paint; readers take copies.
type Canvas struct {
	mu         sync.Mutex
	dc         *gg.Context
	lastUpdate int64
}

func NewCanvas() *Canvas {
	return &Canvas{}
}

// Resize replaces the buffer with a black one of the new size, keeping the
// overlapping part of the old picture. Non-positive sizes are ignored.
func (c *Canvas) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dc != nil && c.dc.Width() == width && c.dc.Height() == height {
		return
	}
	dc := gg.NewContext(width, height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	if c.dc != nil {
		old := c.dc.Image()
		draw.Draw(dc.Image().(*image.RGBA), old.Bounds(), old, image.Point{}, draw.Src)
	}
	c.dc = dc
	c.lastUpdate = time.Now().UnixMilli()
}

// Size reports the current buffer size, zero before the first Resize.
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return 0, 0
	}
	return c.dc.Width(), c.dc.Height()
}

// Paint hands the live buffer to fn. It does nothing before the first
// Resize.
func (c *Canvas) Paint(fn func(dst *image.RGBA) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return nil
	}
	if err := fn(c.dc.Image().(*image.RGBA)); err != nil {
		return err
	}
	c.lastUpdate = time.Now().UnixMilli()
	return nil
}

// Image returns a copy of the buffer, nil before the first Resize.
func (c *Canvas) Image() *image.RGBA {
	img, _ := c.snapshot()
	return img
}

// Snapshot returns a copy of the buffer together with the last updated
// timestamp.
func (c *Canvas) Snapshot() (image image.Image, lastUpdate int64) {
	img, ts := c.snapshot()
	if img == nil {
		return nil, ts
	}
	return img, ts
}

func (c *Canvas) snapshot() (*image.RGBA, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return nil, c.lastUpdate
	}
	src := c.dc.Image()
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst, c.lastUpdate
}

var ErrEmptyCanvas = errors.New("canvas has no size yet")

// SavePNG writes the current picture to path.
func (c *Canvas) SavePNG(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dc == nil {
		return ErrEmptyCanvas
	}
	return c.dc.SavePNG(path)
}
