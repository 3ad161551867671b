package remote

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-orz/rdpbridge/wire"
)

// transport carries whole instructions. Write is safe for concurrent use;
// Read is called from a single goroutine.
type transport interface {
	Read() (*wire.Instruction, error)
	Write(ins *wire.Instruction) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// wsTransport sends one instruction per websocket text message.
type wsTransport struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read() (*wire.Instruction, error) {
	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if len(message) == 0 {
			continue
		}
		return wire.ParseInstruction(message)
	}
}

func (t *wsTransport) Write(ins *wire.Instruction) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, []byte(ins.String()))
}

func (t *wsTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// streamTransport speaks the instruction stream over a raw TCP connection.
type streamTransport struct {
	conn       net.Conn
	io         *wire.InstructionIO
	writeMutex sync.Mutex
}

func newStreamTransport(conn net.Conn, rw *wire.InstructionIO) *streamTransport {
	return &streamTransport{conn: conn, io: rw}
}

func (t *streamTransport) Read() (*wire.Instruction, error) {
	return t.io.Read()
}

func (t *streamTransport) Write(ins *wire.Instruction) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()
	_, err := t.io.Write(ins)
	return err
}

func (t *streamTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *streamTransport) Close() error {
	return t.io.Close()
}
