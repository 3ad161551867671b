package enginetest

import (
	"fmt"
	"sync"

	"github.com/go-orz/rdpbridge"
)

// Interface guards
var (
	_ rdpbridge.EventListener   = (*Recorder)(nil)
	_ rdpbridge.UIEventListener = (*Recorder)(nil)
)

// Recorder is a listener that records every callback as a short string such
// as "success:1" or "resize:800x600x32".
type Recorder struct {
	// Handle tags session events, which carry no handle of their own.
	Handle rdpbridge.Handle

	Creds    rdpbridge.Credentials
	Accept   bool
	Decision rdpbridge.CertDecision

	mu     sync.Mutex
	events []string
}

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *Recorder) OnPreConnect(h rdpbridge.Handle)        { r.record("pre-connect:%s", h) }
func (r *Recorder) OnConnectionSuccess(h rdpbridge.Handle) { r.record("success:%s", h) }
func (r *Recorder) OnConnectionFailure(h rdpbridge.Handle) { r.record("failure:%s", h) }
func (r *Recorder) OnDisconnecting(h rdpbridge.Handle)     { r.record("disconnecting:%s", h) }
func (r *Recorder) OnDisconnected(h rdpbridge.Handle)      { r.record("disconnected:%s", h) }

func (r *Recorder) OnSettingsChanged(width, height, bpp int) {
	r.record("settings:%s:%dx%dx%d", r.Handle, width, height, bpp)
}

func (r *Recorder) OnAuthenticate(creds *rdpbridge.Credentials) bool {
	r.record("auth:%s:%s", r.Handle, creds.Username)
	if r.Accept {
		*creds = r.Creds
	}
	return r.Accept
}

func (r *Recorder) OnGatewayAuthenticate(creds *rdpbridge.Credentials) bool {
	r.record("gateway-auth:%s:%s", r.Handle, creds.Username)
	if r.Accept {
		*creds = r.Creds
	}
	return r.Accept
}

func (r *Recorder) OnVerifyCertificate(cert rdpbridge.Certificate) rdpbridge.CertDecision {
	r.record("cert:%s:%s:%s", r.Handle, cert.Host, cert.Flags)
	return r.Decision
}

func (r *Recorder) OnVerifyChangedCertificate(cert rdpbridge.ChangedCertificate) rdpbridge.CertDecision {
	r.record("changed-cert:%s:%s:%s", r.Handle, cert.Host, cert.OldFingerprint)
	return r.Decision
}

func (r *Recorder) OnGraphicsUpdate(rect rdpbridge.Rect) {
	r.record("update:%s:%d,%d,%d,%d", r.Handle, rect.X, rect.Y, rect.Width, rect.Height)
}

func (r *Recorder) OnGraphicsResize(width, height, bpp int) {
	r.record("resize:%s:%dx%dx%d", r.Handle, width, height, bpp)
}

func (r *Recorder) OnRemoteClipboardChanged(data string) {
	r.record("clipboard:%s:%s", r.Handle, data)
}

// Directory is a map backed rdpbridge.SessionDirectory.
type Directory struct {
	mu       sync.RWMutex
	sessions map[rdpbridge.Handle]rdpbridge.UIEventListener
}

func NewDirectory() *Directory {
	return &Directory{sessions: make(map[rdpbridge.Handle]rdpbridge.UIEventListener)}
}

func (d *Directory) Put(h rdpbridge.Handle, l rdpbridge.UIEventListener) {
	d.mu.Lock()
	d.sessions[h] = l
	d.mu.Unlock()
}

func (d *Directory) Delete(h rdpbridge.Handle) {
	d.mu.Lock()
	delete(d.sessions, h)
	d.mu.Unlock()
}

func (d *Directory) Lookup(h rdpbridge.Handle) (rdpbridge.UIEventListener, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	l, ok := d.sessions[h]
	return l, ok
}
