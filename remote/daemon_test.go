package remote

import (
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-orz/rdpbridge/wire"
)

// pixel is what the daemon paints for update-graphics.
var pixel = []byte{0x10, 0x20, 0x30, 0xff}

// daemon is an in-process stand-in for the engine process.
type daemon struct {
	mu       sync.Mutex
	t        transport
	status   map[string]string
	next     int
	received []*wire.Instruction

	hello   chan string
	returns chan *wire.Instruction
	bye     chan struct{}
	done    chan struct{}
}

func newDaemon() *daemon {
	return &daemon{
		status:  make(map[string]string),
		hello:   make(chan string, 1),
		returns: make(chan *wire.Instruction, 16),
		bye:     make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func serveWS(t *testing.T, d *daemon) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.serve(newWSTransport(conn))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func serveTCP(t *testing.T, d *daemon) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		d.serve(newStreamTransport(conn, wire.NewInstructionIO(conn, nil)))
	}()
	return "tcp://" + ln.Addr().String()
}

// setStatus overrides the ack status for op. An empty status swallows the
// request.
func (d *daemon) setStatus(op, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[op] = status
}

func (d *daemon) ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ops []string
	for _, ins := range d.received {
		ops = append(ops, ins.Opcode)
	}
	return ops
}

func (d *daemon) send(op string, args ...string) {
	d.mu.Lock()
	t := d.t
	d.mu.Unlock()
	_ = t.Write(wire.NewInstruction(op, args...))
}

func (d *daemon) event(name string, h int, args ...string) {
	d.send(OpEvent, append([]string{name, strconv.Itoa(h)}, args...)...)
}

func (d *daemon) serve(t transport) {
	defer close(d.done)
	defer t.Close()

	hello, err := wire.Expect(t, OpHello)
	if err != nil {
		return
	}
	d.hello <- hello.Arg(0)

	d.mu.Lock()
	d.t = t
	d.mu.Unlock()
	if err := t.Write(wire.NewInstruction(OpReady, "engine-1")); err != nil {
		return
	}

	for {
		ins, err := t.Read()
		if err != nil {
			return
		}
		switch ins.Opcode {
		case OpReturn:
			d.returns <- ins
		case OpDisconnect:
			close(d.bye)
			return
		default:
			d.handle(ins)
		}
	}
}

func (d *daemon) handle(ins *wire.Instruction) {
	d.mu.Lock()
	d.received = append(d.received, ins)
	status, overridden := d.status[ins.Opcode]
	d.mu.Unlock()

	id := ins.Arg(0)
	ack := func(status string, values ...string) {
		d.send(OpAck, append([]string{id, status}, values...)...)
	}

	if overridden {
		switch status {
		case "":
		case StatusError:
			ack(status, "bad "+ins.Opcode)
		default:
			ack(status)
		}
		return
	}

	switch ins.Opcode {
	case OpVersion:
		ack(StatusOK, "3.5.0-dev")
	case OpHasH264:
		ack(StatusOK, "1")
	case OpBuildInfo:
		ack(StatusOK, "e8f7c2a", "WITH_FFMPEG=ON WITH_SWSCALE=ON", "daemon 1.2")
	case OpNew:
		d.mu.Lock()
		d.next++
		h := d.next
		d.mu.Unlock()
		ack(StatusOK, strconv.Itoa(h))
	case OpConnect:
		h, _ := strconv.Atoi(ins.Arg(1))
		ack(StatusOK)
		d.event(EventPreConnect, h)
		d.event(EventConnectionSuccess, h)
	case OpDisconnectInst:
		h, _ := strconv.Atoi(ins.Arg(1))
		ack(StatusOK)
		d.event(EventDisconnecting, h)
		d.event(EventDisconnected, h)
	case OpUpdateGraphics:
		w, _ := strconv.Atoi(ins.Arg(4))
		h, _ := strconv.Atoi(ins.Arg(5))
		ack(StatusOK, base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(pixel), w*h))))
	case OpLastError:
		ack(StatusOK, "ERRCONNECT_CONNECT_FAILED")
	default:
		ack(StatusOK)
	}
}
