package rdpbridge

import (
	"log/slog"
	"sync"
)

// EventListener observes the connection lifecycle of every handle. One
// listener is registered per process and may be replaced at any time.
type EventListener interface {
	OnPreConnect(h Handle)
	OnConnectionSuccess(h Handle)
	OnConnectionFailure(h Handle)
	OnDisconnecting(h Handle)
	OnDisconnected(h Handle)
}

// UIEventListener receives the events of a single session.
//
// OnAuthenticate, OnGatewayAuthenticate and the certificate callbacks run on
// the engine's goroutine, which stays blocked until they return. They must
// always return, and within a bounded time.
type UIEventListener interface {
	OnSettingsChanged(width, height, bpp int)
	// OnAuthenticate may update creds in place; false aborts the login.
	OnAuthenticate(creds *Credentials) bool
	OnGatewayAuthenticate(creds *Credentials) bool
	OnVerifyCertificate(cert Certificate) CertDecision
	OnVerifyChangedCertificate(cert ChangedCertificate) CertDecision
	OnGraphicsUpdate(r Rect)
	OnGraphicsResize(width, height, bpp int)
	OnRemoteClipboardChanged(data string)
}

// SessionDirectory resolves a handle to the UI listener of its session. It
// is owned by the application.
type SessionDirectory interface {
	Lookup(h Handle) (UIEventListener, bool)
}

// SessionDirectoryFunc adapts a function to SessionDirectory.
type SessionDirectoryFunc func(h Handle) (UIEventListener, bool)

func (f SessionDirectoryFunc) Lookup(h Handle) (UIEventListener, bool) {
	return f(h)
}

// EventSink is what the engine calls, always tagged with the handle the
// event belongs to. Events for one handle must be delivered in order.
type EventSink interface {
	PreConnect(h Handle)
	ConnectionSuccess(h Handle)
	ConnectionFailure(h Handle)
	Disconnecting(h Handle)
	Disconnected(h Handle)

	SettingsChanged(h Handle, width, height, bpp int)
	Authenticate(h Handle, creds *Credentials) bool
	GatewayAuthenticate(h Handle, creds *Credentials) bool
	VerifyCertificate(h Handle, cert Certificate) CertDecision
	VerifyChangedCertificate(h Handle, cert ChangedCertificate) CertDecision
	GraphicsUpdate(h Handle, r Rect)
	GraphicsResize(h Handle, width, height, bpp int)
	RemoteClipboardChanged(h Handle, data string)
}

// Interface guards
var _ EventSink = (*Router)(nil)

// Router dispatches engine events. Lifecycle events go to the process wide
// EventListener and drive the Registry; session events go to the listener
// found in the SessionDirectory and are dropped when there is none.
type Router struct {
	registry *Registry
	logger   *slog.Logger

	mu        sync.RWMutex
	listener  EventListener
	directory SessionDirectory
}

func NewRouter(registry *Registry, directory SessionDirectory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  registry,
		directory: directory,
		logger:    logger,
	}
}

// SetEventListener replaces the lifecycle listener. Nil removes it.
func (r *Router) SetEventListener(l EventListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

func (r *Router) SetSessionDirectory(d SessionDirectory) {
	r.mu.Lock()
	r.directory = d
	r.mu.Unlock()
}

func (r *Router) eventListener() EventListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listener
}

func (r *Router) session(h Handle, event string) UIEventListener {
	r.mu.RLock()
	d := r.directory
	r.mu.RUnlock()

	if d == nil {
		r.logger.Debug("event dropped, no session directory", "handle", h, "event", event)
		return nil
	}
	l, ok := d.Lookup(h)
	if !ok || l == nil {
		r.logger.Debug("event dropped, no session", "handle", h, "event", event)
		return nil
	}
	return l
}

func (r *Router) PreConnect(h Handle) {
	r.logger.Debug("pre-connect", "handle", h)
	if l := r.eventListener(); l != nil {
		l.OnPreConnect(h)
	}
}

func (r *Router) ConnectionSuccess(h Handle) {
	r.logger.Info("connection established", "handle", h)
	if l := r.eventListener(); l != nil {
		l.OnConnectionSuccess(h)
	}
	if !r.registry.MarkBusy(h) {
		r.logger.Warn("connection success for busy handle", "handle", h)
	}
}

func (r *Router) ConnectionFailure(h Handle) {
	r.logger.Info("connection failed", "handle", h)
	if l := r.eventListener(); l != nil {
		l.OnConnectionFailure(h)
	}
	r.registry.Clear(h)
}

func (r *Router) Disconnecting(h Handle) {
	r.logger.Debug("disconnecting", "handle", h)
	if l := r.eventListener(); l != nil {
		l.OnDisconnecting(h)
	}
}

func (r *Router) Disconnected(h Handle) {
	r.logger.Info("disconnected", "handle", h)
	if l := r.eventListener(); l != nil {
		l.OnDisconnected(h)
	}
	r.registry.Clear(h)
}

func (r *Router) SettingsChanged(h Handle, width, height, bpp int) {
	if l := r.session(h, "settings-changed"); l != nil {
		l.OnSettingsChanged(width, height, bpp)
	}
}

func (r *Router) Authenticate(h Handle, creds *Credentials) bool {
	if l := r.session(h, "authenticate"); l != nil {
		return l.OnAuthenticate(creds)
	}
	return false
}

func (r *Router) GatewayAuthenticate(h Handle, creds *Credentials) bool {
	if l := r.session(h, "gateway-authenticate"); l != nil {
		return l.OnGatewayAuthenticate(creds)
	}
	return false
}

func (r *Router) VerifyCertificate(h Handle, cert Certificate) CertDecision {
	if l := r.session(h, "verify-certificate"); l != nil {
		return l.OnVerifyCertificate(cert)
	}
	return CertReject
}

func (r *Router) VerifyChangedCertificate(h Handle, cert ChangedCertificate) CertDecision {
	if l := r.session(h, "verify-changed-certificate"); l != nil {
		return l.OnVerifyChangedCertificate(cert)
	}
	return CertReject
}

func (r *Router) GraphicsUpdate(h Handle, rect Rect) {
	if l := r.session(h, "graphics-update"); l != nil {
		l.OnGraphicsUpdate(rect)
	}
}

func (r *Router) GraphicsResize(h Handle, width, height, bpp int) {
	if l := r.session(h, "graphics-resize"); l != nil {
		l.OnGraphicsResize(width, height, bpp)
	}
}

func (r *Router) RemoteClipboardChanged(h Handle, data string) {
	if l := r.session(h, "remote-clipboard-changed"); l != nil {
		l.OnRemoteClipboardChanged(data)
	}
}
