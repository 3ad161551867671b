// Package remote drives an engine that runs in another process, reached over
// a websocket or a plain TCP stream.
package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/go-orz/rdpbridge"
	"github.com/go-orz/rdpbridge/wire"
)

// Interface guards
var _ rdpbridge.Engine = (*Engine)(nil)

const (
	connectionTimeout     = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

var (
	ErrClosed            = errors.New("remote engine closed")
	ErrUnsupportedScheme = errors.New("unsupported engine address scheme")
	ErrMalformedReply    = errors.New("malformed engine reply")
)

type Option func(*options)

type options struct {
	logger        *slog.Logger
	timeout       time.Duration
	recordingPath string
	header        http.Header
	debug         bool
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds every request. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRecording writes every instruction received from the engine to path.
func WithRecording(path string) Option {
	return func(o *options) {
		o.recordingPath = path
	}
}

// WithHeader adds headers to the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(o *options) {
		o.header = h
	}
}

// WithDebug logs every instruction on TCP transports.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// Engine implements rdpbridge.Engine against a remote engine process.
//
// Replies are matched to requests by id on the read goroutine. Events and
// calls are queued per handle and handed to the bound sink in arrival order
// by one worker per handle, so a listener may issue requests without
// stalling the reader, and a slow listener on one session never delays
// another. When the connection drops, every session that was connecting or
// connected receives a final disconnected event.
type Engine struct {
	address   string
	engineID  string
	t         transport
	logger    *slog.Logger
	timeout   time.Duration
	recording *wire.Recording

	mu      sync.Mutex
	pending map[string]chan *wire.Instruction
	err     error

	sink    rdpbridge.EventSink
	backlog []*wire.Instruction
	lanes   map[rdpbridge.Handle]*lane
	active  map[rdpbridge.Handle]struct{}

	closer    chan struct{}
	closeOnce sync.Once
	once      sync.Once
}

// Dial connects to addr, one of ws://, wss:// or tcp://host:port, and
// completes the hello/ready handshake.
func Dial(ctx context.Context, addr string, opts ...Option) (*Engine, error) {
	o := options{
		logger:  slog.Default(),
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("remote: parse address: %w", err)
	}

	var t transport
	switch u.Scheme {
	case "ws", "wss":
		dialer := websocket.Dialer{HandshakeTimeout: connectionTimeout}
		conn, _, err := dialer.DialContext(ctx, addr, o.header)
		if err != nil {
			return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
		}
		t = newWSTransport(conn)
	case "tcp":
		d := net.Dialer{Timeout: connectionTimeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
		}
		var ioLogger *slog.Logger
		if o.debug {
			ioLogger = o.logger
		}
		t = newStreamTransport(conn, wire.NewInstructionIO(conn, ioLogger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	e := &Engine{
		address: addr,
		t:       t,
		logger:  o.logger.With("engine", addr),
		timeout: o.timeout,
		pending: make(map[string]chan *wire.Instruction),
		lanes:   make(map[rdpbridge.Handle]*lane),
		active:  make(map[rdpbridge.Handle]struct{}),
		closer:  make(chan struct{}),
	}

	if err := e.handshake(); err != nil {
		_ = t.Close()
		return nil, err
	}

	if o.recordingPath != "" {
		recording, err := wire.NewRecording(o.recordingPath, e.logger)
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("remote: recording: %w", err)
		}
		e.recording = recording
		go e.recording.Run()
	}

	go e.readLoop()
	return e, nil
}

func (e *Engine) handshake() error {
	if err := e.t.Write(wire.NewInstruction(OpHello, ProtocolVersion)); err != nil {
		return fmt.Errorf("remote: hello: %w", err)
	}
	_ = e.t.SetReadDeadline(time.Now().Add(connectionTimeout))
	ready, err := wire.Expect(e.t, OpReady)
	if err != nil {
		return fmt.Errorf("remote: handshake: %w", err)
	}
	_ = e.t.SetReadDeadline(time.Time{})

	if len(ready.Args) == 0 {
		return errors.New("remote: no engine id received")
	}
	e.engineID = ready.Args[0]
	e.logger.Info("engine session ready", "id", e.engineID)
	return nil
}

func (e *Engine) Address() string {
	return e.address
}

// ID is the identifier the engine announced in its ready instruction.
func (e *Engine) ID() string {
	return e.engineID
}

// Done is closed once the connection to the engine is gone.
func (e *Engine) Done() <-chan struct{} {
	return e.closer
}

// Err reports why the connection ended, nil while it is open or after a
// clean Close.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close says goodbye to the engine and drops the connection. Pending
// requests fail with ErrClosed.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		_ = e.t.Write(wire.NewInstruction(OpDisconnect))
		e.shutdown(nil)
		err = e.t.Close()
	})
	return err
}

func (e *Engine) shutdown(cause error) {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.err = cause
		e.endActiveLocked()
		e.mu.Unlock()
		close(e.closer)
		if e.recording != nil {
			e.recording.Close()
		}
	})
}

func (e *Engine) readLoop() {
	for {
		ins, err := e.t.Read()
		if err != nil {
			select {
			case <-e.closer:
			default:
				e.logger.Warn("engine connection lost", "error", err)
				e.shutdown(err)
				_ = e.t.Close()
			}
			return
		}
		if e.recording != nil {
			e.recording.Send([]byte(ins.String()))
		}

		switch ins.Opcode {
		case OpAck:
			e.deliver(ins)
		case OpEvent, OpCall:
			e.enqueue(ins)
		case OpNop:
		case OpError:
			e.logger.Error("engine error", "message", ins.Arg(0))
		case OpDisconnect:
			e.logger.Info("engine closed the session")
			e.shutdown(ErrClosed)
			_ = e.t.Close()
			return
		default:
			e.logger.Warn("unknown instruction", "opcode", ins.Opcode)
		}
	}
}

func (e *Engine) deliver(ack *wire.Instruction) {
	id := ack.Arg(0)
	e.mu.Lock()
	ch, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("ack for unknown request", "id", id)
		return
	}
	ch <- ack
}

// request sends op and waits for its ack. The returned values follow the
// status element.
func (e *Engine) request(ctx context.Context, op string, args ...string) ([]string, error) {
	id := uuid.NewString()
	ch := make(chan *wire.Instruction, 1)

	e.mu.Lock()
	select {
	case <-e.closer:
		e.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	e.pending[id] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	if err := e.t.Write(wire.NewInstruction(op, append([]string{id}, args...)...)); err != nil {
		return nil, fmt.Errorf("remote: send %s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	select {
	case ack := <-ch:
		switch status := ack.Arg(1); status {
		case StatusOK:
			return ack.Args[2:], nil
		case StatusFail:
			return nil, fmt.Errorf("remote: %s: %w", op, rdpbridge.ErrEngineRejected)
		case StatusError:
			return nil, fmt.Errorf("remote: %s: %s", op, ack.Arg(2))
		default:
			return nil, fmt.Errorf("remote: %s: %w: status %q", op, ErrMalformedReply, status)
		}
	case <-e.closer:
		return nil, fmt.Errorf("remote: %s: %w", op, ErrClosed)
	case <-ctx.Done():
		return nil, fmt.Errorf("remote: %s: %w", op, ctx.Err())
	}
}

func (e *Engine) requestHandle(ctx context.Context, op string, h rdpbridge.Handle, args ...string) ([]string, error) {
	return e.request(ctx, op, append([]string{h.String()}, args...)...)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (e *Engine) Version(ctx context.Context) (string, error) {
	values, err := e.request(ctx, OpVersion)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("remote: %s: %w", OpVersion, ErrMalformedReply)
	}
	return values[0], nil
}

func (e *Engine) HasH264(ctx context.Context) (bool, error) {
	values, err := e.request(ctx, OpHasH264)
	if err != nil {
		return false, err
	}
	return len(values) > 0 && values[0] == "1", nil
}

// BuildInfo expects revision, build configuration and daemon version, in
// that order. Missing values are left empty.
func (e *Engine) BuildInfo(ctx context.Context) (rdpbridge.BuildInfo, error) {
	values, err := e.request(ctx, OpBuildInfo)
	if err != nil {
		return rdpbridge.BuildInfo{}, err
	}
	values = append(values, "", "", "")
	return rdpbridge.BuildInfo{Revision: values[0], Config: values[1], Binding: values[2]}, nil
}

func (e *Engine) New(ctx context.Context) (rdpbridge.Handle, error) {
	values, err := e.request(ctx, OpNew)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("remote: %s: %w", OpNew, ErrMalformedReply)
	}
	h, err := rdpbridge.ParseHandle(values[0])
	if err != nil {
		return 0, fmt.Errorf("remote: %s: %w: %w", OpNew, ErrMalformedReply, err)
	}
	return h, nil
}

// Free releases h. Once the connection is gone the remote instance is gone
// with it, so Free on a closed engine succeeds.
func (e *Engine) Free(ctx context.Context, h rdpbridge.Handle) error {
	_, err := e.requestHandle(ctx, OpFree, h)
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	e.mu.Lock()
	delete(e.active, h)
	e.mu.Unlock()
	return nil
}

func (e *Engine) ParseArguments(ctx context.Context, h rdpbridge.Handle, args []string) error {
	_, err := e.requestHandle(ctx, OpParseArguments, h, args...)
	return err
}

func (e *Engine) Connect(ctx context.Context, h rdpbridge.Handle) error {
	_, err := e.requestHandle(ctx, OpConnect, h)
	return err
}

func (e *Engine) Disconnect(ctx context.Context, h rdpbridge.Handle) error {
	_, err := e.requestHandle(ctx, OpDisconnectInst, h)
	return err
}

// UpdateGraphics fetches the pixels of r, base64 encoded RGBA rows, and
// copies the part inside dst's bounds.
func (e *Engine) UpdateGraphics(ctx context.Context, h rdpbridge.Handle, dst *image.RGBA, r rdpbridge.Rect) error {
	if r.Empty() {
		return nil
	}
	values, err := e.requestHandle(ctx, OpUpdateGraphics, h,
		strconv.Itoa(r.X), strconv.Itoa(r.Y), strconv.Itoa(r.Width), strconv.Itoa(r.Height))
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("remote: %s: %w", OpUpdateGraphics, ErrMalformedReply)
	}
	pix, err := base64.StdEncoding.DecodeString(values[0])
	if err != nil {
		return fmt.Errorf("remote: %s: %w: %w", OpUpdateGraphics, ErrMalformedReply, err)
	}
	if len(pix) != r.Width*r.Height*4 {
		return fmt.Errorf("remote: %s: %w: got %d bytes for %dx%d", OpUpdateGraphics, ErrMalformedReply, len(pix), r.Width, r.Height)
	}

	bounds := dst.Bounds()
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			p := image.Pt(r.X+x, r.Y+y)
			if !p.In(bounds) {
				continue
			}
			off := dst.PixOffset(p.X, p.Y)
			src := (y*r.Width + x) * 4
			copy(dst.Pix[off:off+4], pix[src:src+4])
		}
	}
	return nil
}

func (e *Engine) SendCursorEvent(ctx context.Context, h rdpbridge.Handle, x, y int, flags rdpbridge.CursorFlags) error {
	_, err := e.requestHandle(ctx, OpCursor, h, strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(int(flags)))
	return err
}

func (e *Engine) SendKeyEvent(ctx context.Context, h rdpbridge.Handle, keycode int, down bool) error {
	_, err := e.requestHandle(ctx, OpKey, h, strconv.Itoa(keycode), formatBool(down))
	return err
}

func (e *Engine) SendUnicodeKeyEvent(ctx context.Context, h rdpbridge.Handle, code int, down bool) error {
	_, err := e.requestHandle(ctx, OpUnicodeKey, h, strconv.Itoa(code), formatBool(down))
	return err
}

func (e *Engine) SendClipboardData(ctx context.Context, h rdpbridge.Handle, data string) error {
	_, err := e.requestHandle(ctx, OpClipboard, h, data)
	return err
}

func (e *Engine) LastError(ctx context.Context, h rdpbridge.Handle) (string, error) {
	values, err := e.requestHandle(ctx, OpLastError, h)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}
