package display

import (
	"sync"

	"github.com/go-orz/rdpbridge"
)

// Interface guards
var _ rdpbridge.SessionDirectory = (*Directory)(nil)

// Directory maps engine handles to sessions.
type Directory struct {
	mu       sync.RWMutex
	sessions map[rdpbridge.Handle]*Session
}

func NewDirectory() *Directory {
	return &Directory{sessions: make(map[rdpbridge.Handle]*Session)}
}

// Add registers s under its handle, replacing any previous session.
func (d *Directory) Add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.Handle()] = s
}

func (d *Directory) Remove(h rdpbridge.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, h)
}

func (d *Directory) Get(h rdpbridge.Handle) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[h]
	return s, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *Directory) Lookup(h rdpbridge.Handle) (rdpbridge.UIEventListener, bool) {
	s, ok := d.Get(h)
	if !ok {
		return nil, false
	}
	return s, true
}
