package display

import (
	"context"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/go-orz/rdpbridge"
)

// Interface guards
var _ rdpbridge.UIEventListener = (*Session)(nil)

const defaultUpdateTimeout = 5 * time.Second

// GraphicsSource copies a region of the remote screen into dst. The
// rdpbridge.Bridge satisfies it.
type GraphicsSource interface {
	UpdateGraphics(ctx context.Context, h rdpbridge.Handle, dst *image.RGBA, r rdpbridge.Rect) error
}

// Settings is the desktop geometry last announced by the engine.
type Settings struct {
	Width  int
	Height int
	BPP    int
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPrompter routes credential and certificate requests to p. Without one
// every request is refused.
func WithPrompter(p *rdpbridge.Prompter) Option {
	return func(s *Session) {
		s.prompter = p
	}
}

// WithUpdateTimeout bounds each pixel fetch.
func WithUpdateTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.updateTimeout = d
		}
	}
}

// Session is the per-connection UI state. Register it in a Directory so the
// bridge's router can find it.
type Session struct {
	handle        rdpbridge.Handle
	source        GraphicsSource
	canvas        *Canvas
	prompter      *rdpbridge.Prompter
	logger        *slog.Logger
	updateTimeout time.Duration

	mu        sync.Mutex
	onSync    OnSyncFunc
	settings  Settings
	clipboard string
}

func NewSession(h rdpbridge.Handle, source GraphicsSource, opts ...Option) *Session {
	s := &Session{
		handle:        h,
		source:        source,
		canvas:        NewCanvas(),
		logger:        slog.Default(),
		updateTimeout: defaultUpdateTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("handle", h)
	return s
}

func (s *Session) Handle() rdpbridge.Handle {
	return s.handle
}

func (s *Session) Canvas() *Canvas {
	return s.canvas
}

// OnSync sets a function called after every graphics update with a copy of
// the screen. It runs on the engine's event goroutine, so keep it short.
func (s *Session) OnSync(f OnSyncFunc) {
	s.mu.Lock()
	s.onSync = f
	s.mu.Unlock()
}

// Screen returns a snapshot of the current screen, together with the last
// updated timestamp.
func (s *Session) Screen() (image image.Image, lastUpdate int64) {
	return s.canvas.Snapshot()
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Clipboard returns the last text the remote side put on its clipboard.
func (s *Session) Clipboard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard
}

func (s *Session) OnSettingsChanged(width, height, bpp int) {
	s.mu.Lock()
	s.settings = Settings{Width: width, Height: height, BPP: bpp}
	s.mu.Unlock()
	s.logger.Debug("settings changed", "width", width, "height", height, "bpp", bpp)
	s.canvas.Resize(width, height)
}

func (s *Session) OnGraphicsResize(width, height, bpp int) {
	s.logger.Debug("graphics resize", "width", width, "height", height, "bpp", bpp)
	s.canvas.Resize(width, height)
}

// OnGraphicsUpdate fetches r into a scratch image without holding the
// canvas, then copies it in, so readers never wait on the engine.
func (s *Session) OnGraphicsUpdate(r rdpbridge.Rect) {
	if r.Empty() {
		return
	}
	if w, _ := s.canvas.Size(); w == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.updateTimeout)
	defer cancel()

	scratch := image.NewRGBA(r.Image())
	if err := s.source.UpdateGraphics(ctx, s.handle, scratch, r); err != nil {
		s.logger.Warn("graphics update failed", "rect", r, "error", err)
		return
	}
	_ = s.canvas.Paint(func(dst *image.RGBA) error {
		draw.Draw(dst, scratch.Bounds(), scratch, scratch.Bounds().Min, draw.Src)
		return nil
	})

	s.mu.Lock()
	onSync := s.onSync
	s.mu.Unlock()
	if onSync != nil {
		onSync(s.canvas.Snapshot())
	}
}

func (s *Session) OnRemoteClipboardChanged(data string) {
	s.mu.Lock()
	s.clipboard = data
	s.mu.Unlock()
}

func (s *Session) OnAuthenticate(creds *rdpbridge.Credentials) bool {
	if s.prompter == nil {
		s.logger.Info("authentication refused, no prompter")
		return false
	}
	return s.prompter.OnAuthenticate(creds)
}

func (s *Session) OnGatewayAuthenticate(creds *rdpbridge.Credentials) bool {
	if s.prompter == nil {
		s.logger.Info("gateway authentication refused, no prompter")
		return false
	}
	return s.prompter.OnGatewayAuthenticate(creds)
}

func (s *Session) OnVerifyCertificate(cert rdpbridge.Certificate) rdpbridge.CertDecision {
	if s.prompter == nil {
		s.logger.Info("certificate rejected, no prompter", "host", cert.Host, "flags", cert.Flags)
		return rdpbridge.CertReject
	}
	return s.prompter.OnVerifyCertificate(cert)
}

func (s *Session) OnVerifyChangedCertificate(cert rdpbridge.ChangedCertificate) rdpbridge.CertDecision {
	if s.prompter == nil {
		s.logger.Info("changed certificate rejected, no prompter", "host", cert.Host, "flags", cert.Flags)
		return rdpbridge.CertReject
	}
	return s.prompter.OnVerifyChangedCertificate(cert)
}
