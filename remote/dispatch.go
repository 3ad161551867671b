package remote

import (
	"fmt"
	"strconv"

	"github.com/go-orz/rdpbridge"
	"github.com/go-orz/rdpbridge/wire"
)

// lane is the queue of one handle. Its worker runs while the queue is not
// empty and is started again by the next instruction.
type lane struct {
	queue []*wire.Instruction
}

// laneHandle is the handle an event or call belongs to. Instructions with a
// bad handle share lane 0, which no session uses.
func laneHandle(ins *wire.Instruction) rdpbridge.Handle {
	arg := ins.Arg(1)
	if ins.Opcode == OpCall {
		arg = ins.Arg(2)
	}
	h, err := rdpbridge.ParseHandle(arg)
	if err != nil {
		return 0
	}
	return h
}

// Bind starts delivering events to sink. Events that arrived earlier were
// kept and are delivered first. Only the first call has an effect.
func (e *Engine) Bind(sink rdpbridge.EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink != nil {
		return
	}
	e.sink = sink
	for _, ins := range e.backlog {
		e.pushLocked(ins)
	}
	e.backlog = nil
}

func (e *Engine) enqueue(ins *wire.Instruction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueueLocked(ins)
}

func (e *Engine) enqueueLocked(ins *wire.Instruction) {
	if ins.Opcode == OpEvent {
		h := laneHandle(ins)
		switch ins.Arg(0) {
		case EventPreConnect, EventConnectionSuccess:
			e.active[h] = struct{}{}
		case EventConnectionFailure, EventDisconnected:
			delete(e.active, h)
		}
	}
	if e.sink == nil {
		e.backlog = append(e.backlog, ins)
		return
	}
	e.pushLocked(ins)
}

func (e *Engine) pushLocked(ins *wire.Instruction) {
	h := laneHandle(ins)
	if l, ok := e.lanes[h]; ok {
		l.queue = append(l.queue, ins)
		return
	}
	e.lanes[h] = &lane{queue: []*wire.Instruction{ins}}
	go e.work(h, e.sink)
}

func (e *Engine) work(h rdpbridge.Handle, sink rdpbridge.EventSink) {
	for {
		e.mu.Lock()
		l := e.lanes[h]
		if len(l.queue) == 0 {
			delete(e.lanes, h)
			e.mu.Unlock()
			return
		}
		ins := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		e.mu.Unlock()

		if ins.Opcode == OpCall {
			select {
			case <-e.closer:
				e.logger.Debug("call dropped, engine closed", "call", ins.Arg(1), "handle", h)
			default:
				e.answer(sink, ins)
			}
			continue
		}
		e.dispatchEvent(sink, ins)
	}
}

// endActiveLocked queues a disconnected event for every session that was
// connecting or connected, so their busy state clears after the link is
// lost.
func (e *Engine) endActiveLocked() {
	handles := make([]rdpbridge.Handle, 0, len(e.active))
	for h := range e.active {
		handles = append(handles, h)
	}
	for _, h := range handles {
		e.logger.Warn("ending session, engine connection lost", "handle", h)
		e.enqueueLocked(wire.NewInstruction(OpEvent, EventDisconnected, h.String()))
	}
}

// ints parses every element of args as a decimal integer.
func ints(args []string) ([]int, error) {
	n := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		n[i] = v
	}
	return n, nil
}

// eventInts returns the count integers following the handle.
func eventInts(ins *wire.Instruction, count int) ([]int, error) {
	if len(ins.Args) < 2+count {
		return nil, fmt.Errorf("want %d values, got %d", count, len(ins.Args)-2)
	}
	return ints(ins.Args[2 : 2+count])
}

func (e *Engine) dispatchEvent(sink rdpbridge.EventSink, ins *wire.Instruction) {
	name := ins.Arg(0)
	h, err := rdpbridge.ParseHandle(ins.Arg(1))
	if err != nil {
		e.logger.Warn("event with bad handle", "event", name, "handle", ins.Arg(1))
		return
	}

	var n []int
	switch name {
	case EventSettingsChanged, EventGraphicsResize:
		n, err = eventInts(ins, 3)
	case EventGraphicsUpdate:
		n, err = eventInts(ins, 4)
	}
	if err != nil {
		e.logger.Warn("event dropped, bad values", "event", name, "handle", h, "error", err)
		return
	}

	switch name {
	case EventPreConnect:
		sink.PreConnect(h)
	case EventConnectionSuccess:
		sink.ConnectionSuccess(h)
	case EventConnectionFailure:
		sink.ConnectionFailure(h)
	case EventDisconnecting:
		sink.Disconnecting(h)
	case EventDisconnected:
		sink.Disconnected(h)
	case EventSettingsChanged:
		sink.SettingsChanged(h, n[0], n[1], n[2])
	case EventGraphicsUpdate:
		sink.GraphicsUpdate(h, rdpbridge.Rect{X: n[0], Y: n[1], Width: n[2], Height: n[3]})
	case EventGraphicsResize:
		sink.GraphicsResize(h, n[0], n[1], n[2])
	case EventRemoteClipboardChanged:
		sink.RemoteClipboardChanged(h, ins.Arg(2))
	default:
		e.logger.Warn("unknown event", "event", name, "handle", h)
	}
}

// answer runs a synchronous callback on the sink and sends the result back.
// Anything that cannot be decoded is refused.
func (e *Engine) answer(sink rdpbridge.EventSink, ins *wire.Instruction) {
	id := ins.Arg(0)
	name := ins.Arg(1)

	var values []string
	h, err := rdpbridge.ParseHandle(ins.Arg(2))
	if err != nil {
		e.logger.Warn("call with bad handle", "call", name, "handle", ins.Arg(2))
		values = refusal(name)
	} else {
		values = e.invoke(sink, h, name, ins.Args[3:])
	}

	if err := e.t.Write(wire.NewInstruction(OpReturn, append([]string{id}, values...)...)); err != nil {
		e.logger.Warn("return not sent", "call", name, "error", err)
	}
}

func refusal(name string) []string {
	switch name {
	case CallAuthenticate, CallGatewayAuthenticate:
		return []string{"0"}
	default:
		return []string{strconv.Itoa(int(rdpbridge.CertReject))}
	}
}

// certificate decodes host, port, common name, subject, issuer and
// fingerprint from args and the flags from args[flagsAt].
func certificate(args []string, flagsAt int) (rdpbridge.Certificate, error) {
	if len(args) <= flagsAt {
		return rdpbridge.Certificate{}, fmt.Errorf("want %d values, got %d", flagsAt+1, len(args))
	}
	n, err := ints([]string{args[1], args[flagsAt]})
	if err != nil {
		return rdpbridge.Certificate{}, err
	}
	return rdpbridge.Certificate{
		Host:        args[0],
		Port:        n[0],
		CommonName:  args[2],
		Subject:     args[3],
		Issuer:      args[4],
		Fingerprint: args[5],
		Flags:       rdpbridge.CertFlags(n[1]),
	}, nil
}

func (e *Engine) invoke(sink rdpbridge.EventSink, h rdpbridge.Handle, name string, args []string) []string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch name {
	case CallAuthenticate, CallGatewayAuthenticate:
		creds := rdpbridge.Credentials{Username: arg(0), Domain: arg(1), Password: arg(2)}
		var ok bool
		if name == CallAuthenticate {
			ok = sink.Authenticate(h, &creds)
		} else {
			ok = sink.GatewayAuthenticate(h, &creds)
		}
		if !ok {
			return []string{"0"}
		}
		return []string{"1", creds.Username, creds.Domain, creds.Password}

	case CallVerifyCertificate:
		cert, err := certificate(args, 6)
		if err != nil {
			e.logger.Warn("malformed call", "call", name, "handle", h, "error", err)
			return refusal(name)
		}
		return []string{strconv.Itoa(int(sink.VerifyCertificate(h, cert)))}

	case CallVerifyChangedCertificate:
		cert, err := certificate(args, 9)
		if err != nil {
			e.logger.Warn("malformed call", "call", name, "handle", h, "error", err)
			return refusal(name)
		}
		return []string{strconv.Itoa(int(sink.VerifyChangedCertificate(h, rdpbridge.ChangedCertificate{
			Certificate:    cert,
			OldSubject:     arg(6),
			OldIssuer:      arg(7),
			OldFingerprint: arg(8),
		})))}

	default:
		e.logger.Warn("unknown call", "call", name, "handle", h)
		return refusal(name)
	}
}
