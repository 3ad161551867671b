package remote

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-orz/rdpbridge"
	"github.com/go-orz/rdpbridge/enginetest"
	"github.com/go-orz/rdpbridge/wire"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func dial(t *testing.T, addr string, opts ...Option) *Engine {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := Dial(ctx, addr, append([]Option{WithLogger(discard)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestDial_Handshake(t *testing.T) {
	for name, serve := range map[string]func(*testing.T, *daemon) string{
		"websocket": serveWS,
		"tcp":       serveTCP,
	} {
		t.Run(name, func(t *testing.T) {
			d := newDaemon()
			e := dial(t, serve(t, d))

			assert.Equal(t, ProtocolVersion, <-d.hello)
			assert.Equal(t, "engine-1", e.ID())

			v, err := e.Version(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "3.5.0-dev", v)

			h264, err := e.HasH264(context.Background())
			require.NoError(t, err)
			assert.True(t, h264)
		})
	}
}

func TestEngine_BuildInfo(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveTCP(t, d))
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard))

	info, err := b.BuildInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rdpbridge.BuildInfo{
		Revision: "e8f7c2a",
		Config:   "WITH_FFMPEG=ON WITH_SWSCALE=ON",
		Binding:  "daemon 1.2",
	}, info)
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "http://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDial_HandshakeRejected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		rw := wire.NewInstructionIO(conn, nil)
		defer rw.Close()
		if _, err := rw.Expect(OpHello); err != nil {
			return
		}
		_, _ = rw.Write(wire.NewInstruction(OpError, "protocol mismatch"))
	}()

	_, err = Dial(context.Background(), "tcp://"+ln.Addr().String(), WithLogger(discard))
	assert.Error(t, err)
}

func TestEngine_Probe(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	caps, err := rdpbridge.Probe(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, rdpbridge.Version{Major: 3, Minor: 5, Patch: 0, Qualifier: "-dev"}, caps.Version)
	assert.True(t, caps.H264)
}

func TestEngine_RequestStatuses(t *testing.T) {
	d := newDaemon()
	d.setStatus(OpConnect, StatusFail)
	d.setStatus(OpParseArguments, StatusError)
	e := dial(t, serveTCP(t, d))
	ctx := context.Background()

	h, err := e.New(ctx)
	require.NoError(t, err)
	assert.Equal(t, rdpbridge.Handle(1), h)

	err = e.Connect(ctx, h)
	assert.ErrorIs(t, err, rdpbridge.ErrEngineRejected)

	err = e.ParseArguments(ctx, h, []string{"rdpbridge", "/v:srv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad parse-arguments")

	msg, err := e.LastError(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "ERRCONNECT_CONNECT_FAILED", msg)

	require.NoError(t, e.SendKeyEvent(ctx, h, 0x1e, true))
	require.NoError(t, e.SendUnicodeKeyEvent(ctx, h, 'a', false))
	require.NoError(t, e.SendCursorEvent(ctx, h, 10, 20, rdpbridge.PtrFlagsMove))
	require.NoError(t, e.SendClipboardData(ctx, h, "a,b;c"))
	require.NoError(t, e.Free(ctx, h))

	assert.Equal(t, []string{
		OpNew, OpConnect, OpParseArguments, OpLastError,
		OpKey, OpUnicodeKey, OpCursor, OpClipboard, OpFree,
	}, d.ops())
}

func TestEngine_ArgumentsSurviveSeparators(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	args := []string{"rdpbridge", "/v:srv", "/p:pa,ss;word", "/shell-dir:C:\\Users"}
	require.NoError(t, e.ParseArguments(context.Background(), 1, args))

	d.mu.Lock()
	got := d.received[0]
	d.mu.Unlock()
	assert.Equal(t, append([]string{got.Arg(0), "1"}, args...), got.Args)
}

func TestEngine_RequestTimeout(t *testing.T) {
	d := newDaemon()
	d.setStatus(OpKey, "")
	e := dial(t, serveWS(t, d), WithTimeout(50*time.Millisecond))

	err := e.SendKeyEvent(context.Background(), 1, 1, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the connection is still usable
	_, err = e.Version(context.Background())
	assert.NoError(t, err)
}

func TestEngine_UpdateGraphicsClips(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))
	err := e.UpdateGraphics(context.Background(), 1, dst, rdpbridge.Rect{X: 2, Y: 2, Width: 4, Height: 4})
	require.NoError(t, err)

	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, dst.RGBAAt(3, 3))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(1, 1))

	// empty rectangles never reach the engine
	require.NoError(t, e.UpdateGraphics(context.Background(), 1, dst, rdpbridge.Rect{}))
	assert.Equal(t, []string{OpUpdateGraphics}, d.ops())
}

func TestEngine_EventsInOrder(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	lifecycle := &enginetest.Recorder{}
	ui := &enginetest.Recorder{Handle: 2}
	dir := enginetest.NewDirectory()
	dir.Put(2, ui)

	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard), rdpbridge.WithSessionDirectory(dir))
	b.SetEventListener(lifecycle)

	d.event(EventPreConnect, 2)
	d.event(EventSettingsChanged, 2, "1024", "768", "16")
	d.event(EventGraphicsResize, 2, "1920", "1080", "32")
	d.event(EventGraphicsUpdate, 2, "0", "0", "10", "10")
	d.event(EventRemoteClipboardChanged, 2, "x,y;z")
	d.event(EventConnectionSuccess, 2)
	d.event("no-such-event", 2)

	assert.Eventually(t, func() bool { return b.Registry().IsBusy(2) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pre-connect:2", "success:2"}, lifecycle.Events())
	assert.Equal(t, []string{
		"settings:2:1024x768x16",
		"resize:2:1920x1080x32",
		"update:2:0,0,10,10",
		"clipboard:2:x,y;z",
	}, ui.Events())
}

func TestEngine_Calls(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveTCP(t, d))

	ui := &enginetest.Recorder{
		Handle:   1,
		Accept:   true,
		Creds:    rdpbridge.Credentials{Username: "alice", Domain: "CORP", Password: "s3cret"},
		Decision: rdpbridge.CertAcceptPermanently,
	}
	dir := enginetest.NewDirectory()
	dir.Put(1, ui)
	rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard), rdpbridge.WithSessionDirectory(dir))

	ret := func() *wire.Instruction {
		select {
		case ins := <-d.returns:
			return ins
		case <-time.After(time.Second):
			t.Fatal("no return")
			return nil
		}
	}

	d.send(OpCall, "c1", CallAuthenticate, "1", "guess", "", "")
	assert.Equal(t, []string{"c1", "1", "alice", "CORP", "s3cret"}, ret().Args)

	d.send(OpCall, "c2", CallVerifyCertificate, "1", "srv", "3389", "srv", "CN=srv", "CN=ca", "aa:bb", "64")
	assert.Equal(t, []string{"c2", "1"}, ret().Args)

	d.send(OpCall, "c3", CallVerifyChangedCertificate, "1", "srv", "3389", "srv", "CN=srv", "CN=ca", "aa:bb",
		"CN=old", "CN=oldca", "cc:dd", "32")
	assert.Equal(t, []string{"c3", "1"}, ret().Args)

	// unknown session
	d.send(OpCall, "c4", CallGatewayAuthenticate, "9", "u", "d", "p")
	assert.Equal(t, []string{"c4", "0"}, ret().Args)

	// malformed or unknown calls are refused
	d.send(OpCall, "c5", CallVerifyCertificate, "1", "srv")
	assert.Equal(t, []string{"c5", "0"}, ret().Args)
	d.send(OpCall, "c6", CallAuthenticate, "not-a-handle")
	assert.Equal(t, []string{"c6", "0"}, ret().Args)
	d.send(OpCall, "c7", "shrug", "1")
	assert.Equal(t, []string{"c7", "0"}, ret().Args)

	assert.Equal(t, []string{
		"auth:1:guess",
		"cert:1:srv:changed",
		"changed-cert:1:srv:cc:dd",
	}, ui.Events())
}

func TestEngine_ListenerMayCallBack(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard))

	got := make(chan string, 1)
	b.SetEventListener(callbackListener{onSuccess: func(h rdpbridge.Handle) {
		msg, err := b.LastError(context.Background(), h)
		if err != nil {
			msg = err.Error()
		}
		got <- msg
	}})

	ctx := context.Background()
	h, err := b.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Connect(ctx, h))

	select {
	case msg := <-got:
		assert.Equal(t, "ERRCONNECT_CONNECT_FAILED", msg)
	case <-time.After(time.Second):
		t.Fatal("listener blocked")
	}
}

func TestEngine_FreeWaitsForRemoteDisconnect(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard))
	ctx := context.Background()

	h, err := b.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.SetConnectionInfoURI(ctx, h, "rdp://bob:pw@srv:3390"))
	require.NoError(t, b.Connect(ctx, h))
	require.Eventually(t, func() bool { return b.Registry().IsBusy(h) }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, b.Connect(ctx, h), rdpbridge.ErrAlreadyConnected)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Free(ctx, h))
	assert.False(t, b.Registry().IsBusy(h))

	assert.Equal(t, []string{OpNew, OpParseArguments, OpConnect, OpDisconnectInst, OpFree}, d.ops())
}

func TestEngine_Close(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))
	require.NoError(t, e.Close())

	select {
	case <-d.bye:
	case <-time.After(time.Second):
		t.Fatal("daemon saw no disconnect")
	}
	<-e.Done()
	assert.NoError(t, e.Err())

	_, err := e.Version(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, e.Close(), "second close is a no-op")
}

func TestEngine_ClosedByDaemon(t *testing.T) {
	d := newDaemon()
	d.setStatus(OpKey, "")
	e := dial(t, serveTCP(t, d))

	errc := make(chan error, 1)
	go func() {
		errc <- e.SendKeyEvent(context.Background(), 1, 1, true)
	}()
	assert.Eventually(t, func() bool { return len(d.ops()) == 1 }, time.Second, 5*time.Millisecond)
	d.send(OpDisconnect)

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine still open")
	}
	assert.ErrorIs(t, e.Err(), ErrClosed)
	assert.ErrorIs(t, <-errc, ErrClosed)
}

func TestEngine_Recording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "session.log")
	d := newDaemon()
	e := dial(t, serveWS(t, d), WithRecording(path))

	ui := &enginetest.Recorder{Handle: 1}
	dir := enginetest.NewDirectory()
	dir.Put(1, ui)
	rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard), rdpbridge.WithSessionDirectory(dir))

	d.event(EventRemoteClipboardChanged, 1, "hi")
	require.Eventually(t, func() bool { return len(ui.Events()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Close())
	e.recording.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), wire.NewInstruction(OpEvent, EventRemoteClipboardChanged, "1", "hi").String())
}

type callbackListener struct {
	onSuccess func(h rdpbridge.Handle)
}

func (l callbackListener) OnPreConnect(rdpbridge.Handle) {}
func (l callbackListener) OnConnectionSuccess(h rdpbridge.Handle) {
	if l.onSuccess != nil {
		l.onSuccess(h)
	}
}
func (l callbackListener) OnConnectionFailure(rdpbridge.Handle) {}
func (l callbackListener) OnDisconnecting(rdpbridge.Handle)     {}
func (l callbackListener) OnDisconnected(rdpbridge.Handle)      {}

// stalledUI blocks in OnAuthenticate until release is closed.
type stalledUI struct {
	*enginetest.Recorder
	entered chan struct{}
	release chan struct{}
}

func (s stalledUI) OnAuthenticate(creds *rdpbridge.Credentials) bool {
	close(s.entered)
	<-s.release
	return false
}

func TestEngine_SlowSessionDoesNotBlockOthers(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	stalled := stalledUI{
		Recorder: &enginetest.Recorder{Handle: 1},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	defer close(stalled.release)
	dir := enginetest.NewDirectory()
	dir.Put(1, stalled)
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard), rdpbridge.WithSessionDirectory(dir))

	d.event(EventConnectionSuccess, 2)
	require.Eventually(t, func() bool { return b.Registry().IsBusy(2) }, time.Second, 5*time.Millisecond)

	d.send(OpCall, "c1", CallAuthenticate, "1", "u", "", "")
	select {
	case <-stalled.entered:
	case <-time.After(time.Second):
		t.Fatal("prompt for handle 1 never reached its listener")
	}

	d.event(EventDisconnected, 2)
	assert.Eventually(t, func() bool { return !b.Registry().IsBusy(2) }, time.Second, 5*time.Millisecond,
		"handle 2 must go idle while handle 1 waits on its prompt")
}

func TestEngine_FreeAfterEngineLost(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveTCP(t, d))
	lifecycle := &enginetest.Recorder{}
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard))
	b.SetEventListener(lifecycle)
	ctx := context.Background()

	h, err := b.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Connect(ctx, h))
	require.Eventually(t, func() bool { return b.Registry().IsBusy(h) }, time.Second, 5*time.Millisecond)

	d.send(OpDisconnect)
	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("engine still open")
	}
	assert.Eventually(t, func() bool { return !b.Registry().IsBusy(h) }, time.Second, 5*time.Millisecond)

	freeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Free(freeCtx, h))
	assert.Equal(t, []string{"pre-connect:1", "success:1", "disconnected:1"}, lifecycle.Events())
}

func TestEngine_CloseEndsIdleSessionsQuietly(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))
	lifecycle := &enginetest.Recorder{}
	b := rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard))
	b.SetEventListener(lifecycle)

	h, err := b.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	require.NoError(t, b.Free(context.Background(), h))
	assert.Empty(t, lifecycle.Events(), "a session that never connected gets no disconnected event")
}

func TestEngine_BadEventValuesAreDropped(t *testing.T) {
	d := newDaemon()
	e := dial(t, serveWS(t, d))

	ui := &enginetest.Recorder{Handle: 3}
	dir := enginetest.NewDirectory()
	dir.Put(3, ui)
	rdpbridge.New(e, rdpbridge.Capabilities{}, rdpbridge.WithLogger(discard), rdpbridge.WithSessionDirectory(dir))

	d.event(EventGraphicsResize, 3, "wide", "768", "16")
	d.event(EventGraphicsUpdate, 3, "0", "0", "10")
	d.event(EventSettingsChanged, 3, "1024", "768", "16")

	require.Eventually(t, func() bool { return len(ui.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"settings:3:1024x768x16"}, ui.Events())

	d.send(OpCall, "c1", CallVerifyCertificate, "3", "srv", "port", "srv", "CN=srv", "CN=ca", "aa:bb", "0")
	select {
	case ins := <-d.returns:
		assert.Equal(t, []string{"c1", "0"}, ins.Args)
	case <-time.After(time.Second):
		t.Fatal("no return")
	}
	assert.Len(t, ui.Events(), 1, "a malformed certificate never reaches the listener")
}
