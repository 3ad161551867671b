package rdpbridge

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
)

type Option func(*Bridge)

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(r *Registry) Option {
	return func(b *Bridge) {
		b.registry = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithSessionDirectory(d SessionDirectory) Option {
	return func(b *Bridge) {
		b.directory = d
	}
}

func WithClientHostname(name string) Option {
	return func(b *Bridge) {
		b.translator.ClientHostname = name
	}
}

// WithStoragePath sets the local directory used for storage redirection.
func WithStoragePath(path string) Option {
	return func(b *Bridge) {
		b.translator.StoragePath = path
	}
}

type instance struct {
	freeing bool
	// abandoned is set once a Free gave up waiting. Only Free is accepted
	// from then on.
	abandoned bool
}

// Bridge is the lifecycle controller for engine sessions.
//
// Connect is refused while a handle is busy, and Free waits for a busy
// handle to go idle before the engine releases it. Busy is set and cleared
// only by engine events, through the Router returned by Events.
type Bridge struct {
	engine     Engine
	registry   *Registry
	router     *Router
	directory  SessionDirectory
	caps       Capabilities
	translator Translator
	logger     *slog.Logger

	mu        sync.Mutex
	instances map[Handle]*instance
}

// New creates a bridge and binds its router to the engine. caps is the
// result of Probe.
func New(engine Engine, caps Capabilities, opts ...Option) *Bridge {
	b := &Bridge{
		engine:    engine,
		caps:      caps,
		logger:    slog.Default(),
		instances: make(map[Handle]*instance),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = NewRegistry()
	}
	b.translator.H264 = caps.H264
	b.router = NewRouter(b.registry, b.directory, b.logger)
	engine.Bind(b.router)
	return b
}

func (b *Bridge) Capabilities() Capabilities {
	return b.caps
}

func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Events returns the sink the engine reports to.
func (b *Bridge) Events() *Router {
	return b.router
}

func (b *Bridge) Translator() Translator {
	return b.translator
}

// SetEventListener replaces the process wide lifecycle listener.
func (b *Bridge) SetEventListener(l EventListener) {
	b.router.SetEventListener(l)
}

func (b *Bridge) SetSessionDirectory(d SessionDirectory) {
	b.router.SetSessionDirectory(d)
}

func (b *Bridge) live(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instances[h]; !ok || inst.freeing {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return nil
}

func (b *Bridge) Create(ctx context.Context) (Handle, error) {
	h, err := b.engine.New(ctx)
	if err != nil {
		return 0, fmt.Errorf("create instance: %w", err)
	}
	if h == 0 {
		return 0, fmt.Errorf("create instance: %w: zero handle", ErrEngineRejected)
	}

	b.mu.Lock()
	b.instances[h] = &instance{}
	b.mu.Unlock()

	b.logger.Debug("instance created", "handle", h)
	return h, nil
}

// Connect asks the engine to start connecting. It fails with
// ErrAlreadyConnected, without calling the engine, while h is busy. The
// outcome is reported through the event listener.
func (b *Bridge) Connect(ctx context.Context, h Handle) error {
	if err := b.live(h); err != nil {
		return err
	}
	b.mu.Lock()
	inst, ok := b.instances[h]
	abandoned := ok && inst.abandoned
	b.mu.Unlock()
	if abandoned {
		return fmt.Errorf("connect %s: %w", h, ErrFreeInterrupted)
	}
	if b.registry.IsBusy(h) {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, h)
	}
	if err := b.engine.Connect(ctx, h); err != nil {
		return fmt.Errorf("connect %s: %w", h, err)
	}
	return nil
}

// Disconnect tears down a busy connection. On an idle handle it does
// nothing and returns nil.
func (b *Bridge) Disconnect(ctx context.Context, h Handle) error {
	if err := b.live(h); err != nil {
		return err
	}
	if !b.registry.IsBusy(h) {
		return nil
	}
	if err := b.engine.Disconnect(ctx, h); err != nil {
		return fmt.Errorf("disconnect %s: %w", h, err)
	}
	return nil
}

// CancelConnection is Disconnect; the engine aborts a pending connection
// the same way it tears down an established one.
func (b *Bridge) CancelConnection(ctx context.Context, h Handle) error {
	return b.Disconnect(ctx, h)
}

// Free releases the engine instance. A busy handle is disconnected first and
// Free blocks until the registry reports it idle. If ctx ends during that
// wait Free returns ErrFreeInterrupted and the instance is not released.
func (b *Bridge) Free(ctx context.Context, h Handle) error {
	b.mu.Lock()
	inst, ok := b.instances[h]
	if !ok || inst.freeing {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	inst.freeing = true
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		inst.freeing = false
		b.mu.Unlock()
	}

	if b.registry.IsBusy(h) {
		if err := b.engine.Disconnect(ctx, h); err != nil {
			b.logger.Warn("disconnect before free failed", "handle", h, "error", err)
		}
	}
	if err := b.registry.WaitIdle(ctx, h); err != nil {
		b.mu.Lock()
		inst.freeing = false
		inst.abandoned = true
		b.mu.Unlock()
		b.logger.Error("free interrupted", "handle", h, "error", err)
		return fmt.Errorf("%w: %w", ErrFreeInterrupted, err)
	}
	if err := b.engine.Free(ctx, h); err != nil {
		release()
		return fmt.Errorf("free %s: %w", h, err)
	}

	b.mu.Lock()
	delete(b.instances, h)
	b.mu.Unlock()

	b.logger.Debug("instance freed", "handle", h)
	return nil
}

// SetConnectionInfo hands the translated bookmark to the engine. A bookmark
// that cannot be translated never reaches the engine.
func (b *Bridge) SetConnectionInfo(ctx context.Context, h Handle, bm *Bookmark) error {
	if err := b.live(h); err != nil {
		return err
	}
	args, err := b.translator.Arguments(bm)
	if err != nil {
		return err
	}
	return b.parseArguments(ctx, h, args)
}

func (b *Bridge) SetConnectionInfoURI(ctx context.Context, h Handle, uri string) error {
	if err := b.live(h); err != nil {
		return err
	}
	args, err := b.translator.URIArguments(uri)
	if err != nil {
		return err
	}
	return b.parseArguments(ctx, h, args)
}

func (b *Bridge) parseArguments(ctx context.Context, h Handle, args []string) error {
	b.logger.Debug("parsing arguments", "handle", h, "count", len(args))
	if err := b.engine.ParseArguments(ctx, h, args); err != nil {
		return fmt.Errorf("parse arguments %s: %w", h, err)
	}
	return nil
}

// UpdateGraphics copies the region r of the session frame buffer into dst.
func (b *Bridge) UpdateGraphics(ctx context.Context, h Handle, dst *image.RGBA, r Rect) error {
	if err := b.live(h); err != nil {
		return err
	}
	return b.engine.UpdateGraphics(ctx, h, dst, r)
}

func (b *Bridge) SendCursorEvent(ctx context.Context, h Handle, x, y int, flags CursorFlags) error {
	if err := b.live(h); err != nil {
		return err
	}
	return b.engine.SendCursorEvent(ctx, h, x, y, flags)
}

func (b *Bridge) SendKeyEvent(ctx context.Context, h Handle, keycode int, down bool) error {
	if err := b.live(h); err != nil {
		return err
	}
	return b.engine.SendKeyEvent(ctx, h, keycode, down)
}

func (b *Bridge) SendUnicodeKeyEvent(ctx context.Context, h Handle, code int, down bool) error {
	if err := b.live(h); err != nil {
		return err
	}
	return b.engine.SendUnicodeKeyEvent(ctx, h, code, down)
}

func (b *Bridge) SendClipboardData(ctx context.Context, h Handle, data string) error {
	if err := b.live(h); err != nil {
		return err
	}
	return b.engine.SendClipboardData(ctx, h, data)
}

// LastError returns the engine's description of the last failure on h.
func (b *Bridge) LastError(ctx context.Context, h Handle) (string, error) {
	if err := b.live(h); err != nil {
		return "", err
	}
	return b.engine.LastError(ctx, h)
}

// Version returns the raw engine version string.
func (b *Bridge) Version(ctx context.Context) (string, error) {
	return b.engine.Version(ctx)
}

// BuildInfo returns the engine's build revision, build configuration and
// binding version.
func (b *Bridge) BuildInfo(ctx context.Context) (BuildInfo, error) {
	return b.engine.BuildInfo(ctx)
}
