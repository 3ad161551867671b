package rdpbridge

import (
	"context"
	"image"
	"strconv"
)

// Handle identifies one engine instance. Zero is never a valid handle.
type Handle int64

func (h Handle) String() string {
	return strconv.FormatInt(int64(h), 10)
}

// ParseHandle parses the decimal form produced by Handle.String.
func ParseHandle(s string) (Handle, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Handle(v), nil
}

type Rect struct {
	X, Y, Width, Height int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// CursorFlags are pointer event flags passed verbatim to the engine.
type CursorFlags uint16

const (
	PtrFlagsWheelNegative CursorFlags = 0x0100
	PtrFlagsWheel         CursorFlags = 0x0200
	PtrFlagsMove          CursorFlags = 0x0800
	PtrFlagsButton1       CursorFlags = 0x1000
	PtrFlagsButton2       CursorFlags = 0x2000
	PtrFlagsButton3       CursorFlags = 0x4000
	PtrFlagsDown          CursorFlags = 0x8000
)

// VersionProber is the part of the engine queried once at startup.
type VersionProber interface {
	Version(ctx context.Context) (string, error)
	HasH264(ctx context.Context) (bool, error)
}

// BuildInfo describes the engine build. Binding is the version of the
// layer that exposes the engine, such as the remote daemon.
type BuildInfo struct {
	Revision string
	Config   string
	Binding  string
}

// Engine is the boundary to the native protocol implementation. Calls are
// hand-offs: Connect returns once the engine accepted the request, the
// outcome arrives later through the bound EventSink.
//
// A false result from the engine is reported as ErrEngineRejected.
type Engine interface {
	VersionProber
	BuildInfo(ctx context.Context) (BuildInfo, error)

	// Bind sets the sink that receives events for every handle.
	Bind(sink EventSink)

	New(ctx context.Context) (Handle, error)
	Free(ctx context.Context, h Handle) error
	ParseArguments(ctx context.Context, h Handle, args []string) error
	Connect(ctx context.Context, h Handle) error
	Disconnect(ctx context.Context, h Handle) error

	UpdateGraphics(ctx context.Context, h Handle, dst *image.RGBA, r Rect) error
	SendCursorEvent(ctx context.Context, h Handle, x, y int, flags CursorFlags) error
	SendKeyEvent(ctx context.Context, h Handle, keycode int, down bool) error
	SendUnicodeKeyEvent(ctx context.Context, h Handle, code int, down bool) error
	SendClipboardData(ctx context.Context, h Handle, data string) error
	LastError(ctx context.Context, h Handle) (string, error)
}
