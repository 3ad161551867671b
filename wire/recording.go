package wire

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Recording appends raw instructions to a file from its own goroutine.
type Recording struct {
	f      *os.File
	buf    chan []byte
	closer chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewRecording creates the file, and its directory when missing. Call Run
// in a goroutine, then Send; Close stops the writer.
func NewRecording(recordingPath string, logger *slog.Logger) (*Recording, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(recordingPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(recordingPath)
	if err != nil {
		return nil, err
	}
	return &Recording{
		f:      f,
		buf:    make(chan []byte),
		closer: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}, nil
}

func (r *Recording) Run() {
	defer close(r.done)
	defer r.f.Close()
	for {
		select {
		case <-r.closer:
			return
		case p := <-r.buf:
			if len(p) == 0 {
				continue
			}
			if _, err := r.f.Write(p); err != nil {
				r.logger.Error("recording write failed", "file", r.f.Name(), "error", err)
				r.Close()
				return
			}
		}
	}
}

// Send hands p to the writer. It drops p once the recording is closed.
func (r *Recording) Send(p []byte) {
	select {
	case r.buf <- p:
	case <-r.closer:
	}
}

func (r *Recording) Close() {
	r.once.Do(func() {
		close(r.closer)
	})
}

// Wait blocks until Run has returned and the file is closed.
func (r *Recording) Wait() {
	<-r.done
}
