// Package enginetest provides an in-memory rdpbridge.Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/go-orz/rdpbridge"
)

// Interface guards
var _ rdpbridge.Engine = (*Engine)(nil)

// Instance is the state the fake keeps per handle.
type Instance struct {
	Args        []string
	Connects    int
	Disconnects int
	Freed       bool
	Clipboard   []string
	Keys        []int
	Cursor      []image.Point
	LastError   string
}

// Engine records every call. Hooks left nil succeed.
type Engine struct {
	VersionString string
	H264          bool
	Build         rdpbridge.BuildInfo
	// Fill is the color UpdateGraphics paints.
	Fill color.RGBA

	ConnectFunc    func(h rdpbridge.Handle) error
	DisconnectFunc func(h rdpbridge.Handle) error
	VersionErr     error

	// AutoDisconnect emits Disconnecting and Disconnected from a separate
	// goroutine after each Disconnect, like the engine's own thread would.
	AutoDisconnect bool

	mu        sync.Mutex
	sink      rdpbridge.EventSink
	next      int64
	instances map[rdpbridge.Handle]*Instance
}

func New() *Engine {
	return &Engine{
		VersionString: "3.5.0",
		Build:         rdpbridge.BuildInfo{Revision: "fake", Config: "WITH_GFX=ON", Binding: "enginetest"},
		Fill:          color.RGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xff},
		instances:     make(map[rdpbridge.Handle]*Instance),
	}
}

func (e *Engine) Bind(sink rdpbridge.EventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Sink returns the bound event sink, nil before Bind.
func (e *Engine) Sink() rdpbridge.EventSink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// Instance returns a copy of the recorded state for h.
func (e *Engine) Instance(h rdpbridge.Handle) (Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[h]
	if !ok {
		return Instance{}, false
	}
	cp := *inst
	cp.Args = append([]string(nil), inst.Args...)
	cp.Clipboard = append([]string(nil), inst.Clipboard...)
	cp.Keys = append([]int(nil), inst.Keys...)
	cp.Cursor = append([]image.Point(nil), inst.Cursor...)
	return cp, true
}

func (e *Engine) instance(h rdpbridge.Handle) (*Instance, error) {
	inst, ok := e.instances[h]
	if !ok || inst.Freed {
		return nil, fmt.Errorf("enginetest: no instance %s", h)
	}
	return inst, nil
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	if e.VersionErr != nil {
		return "", e.VersionErr
	}
	return e.VersionString, nil
}

func (e *Engine) BuildInfo(ctx context.Context) (rdpbridge.BuildInfo, error) {
	return e.Build, nil
}

func (e *Engine) HasH264(ctx context.Context) (bool, error) {
	return e.H264, nil
}

func (e *Engine) New(ctx context.Context) (rdpbridge.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	h := rdpbridge.Handle(e.next)
	e.instances[h] = &Instance{}
	return h, nil
}

func (e *Engine) Free(ctx context.Context, h rdpbridge.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return err
	}
	inst.Freed = true
	return nil
}

func (e *Engine) ParseArguments(ctx context.Context, h rdpbridge.Handle, args []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return err
	}
	inst.Args = append([]string(nil), args...)
	return nil
}

func (e *Engine) Connect(ctx context.Context, h rdpbridge.Handle) error {
	e.mu.Lock()
	inst, err := e.instance(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	inst.Connects++
	hook := e.ConnectFunc
	e.mu.Unlock()

	if hook != nil {
		return hook(h)
	}
	return nil
}

func (e *Engine) Disconnect(ctx context.Context, h rdpbridge.Handle) error {
	e.mu.Lock()
	inst, err := e.instance(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	inst.Disconnects++
	hook := e.DisconnectFunc
	auto := e.AutoDisconnect
	sink := e.sink
	e.mu.Unlock()

	if hook != nil {
		if err := hook(h); err != nil {
			return err
		}
	}
	if auto && sink != nil {
		go func() {
			sink.Disconnecting(h)
			sink.Disconnected(h)
		}()
	}
	return nil
}

func (e *Engine) UpdateGraphics(ctx context.Context, h rdpbridge.Handle, dst *image.RGBA, r rdpbridge.Rect) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.instance(h); err != nil {
		return err
	}
	draw.Draw(dst, r.Image().Intersect(dst.Bounds()), &image.Uniform{C: e.Fill}, image.Point{}, draw.Src)
	return nil
}

func (e *Engine) SendCursorEvent(ctx context.Context, h rdpbridge.Handle, x, y int, flags rdpbridge.CursorFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return err
	}
	inst.Cursor = append(inst.Cursor, image.Pt(x, y))
	return nil
}

func (e *Engine) SendKeyEvent(ctx context.Context, h rdpbridge.Handle, keycode int, down bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return err
	}
	if down {
		inst.Keys = append(inst.Keys, keycode)
	}
	return nil
}

func (e *Engine) SendUnicodeKeyEvent(ctx context.Context, h rdpbridge.Handle, code int, down bool) error {
	return e.SendKeyEvent(ctx, h, code, down)
}

func (e *Engine) SendClipboardData(ctx context.Context, h rdpbridge.Handle, data string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return err
	}
	inst.Clipboard = append(inst.Clipboard, data)
	return nil
}

func (e *Engine) LastError(ctx context.Context, h rdpbridge.Handle) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, err := e.instance(h)
	if err != nil {
		return "", err
	}
	return inst.LastError, nil
}

// SetLastError sets the value LastError reports for h.
func (e *Engine) SetLastError(h rdpbridge.Handle, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok := e.instances[h]; ok {
		inst.LastError = msg
	}
}
