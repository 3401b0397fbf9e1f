package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/TheusHen/DPM/dpm/crypto"
	"github.com/TheusHen/DPM/dpm/identity"
	"github.com/TheusHen/DPM/dpm/pake"
	"github.com/TheusHen/DPM/dpm/protocol"
	"github.com/TheusHen/DPM/dpm/vault"
)

var (
	secretsMu sync.Mutex
	secrets   = map[string]*crypto.Secret{}
)

func secretFor(t *testing.T, pw string) *crypto.Secret {
	t.Helper()
	secretsMu.Lock()
	defer secretsMu.Unlock()
	if s, ok := secrets[pw]; ok {
		return s
	}
	s, err := crypto.Derive([]byte(pw))
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	secrets[pw] = s
	return s
}

func testOptions(t *testing.T, pw string) Options {
	t.Helper()
	opts := DefaultOptions(identity.NewNodeID(), pake.NewEngine(secretFor(t, pw)))
	opts.ConnectTimeout = time.Second
	opts.HandshakeTimeout = time.Second
	opts.TransferTimeout = 2 * time.Second
	opts.AcceptTimeout = 3 * time.Second
	return opts
}

type handshakeResult struct {
	key    []byte
	remote identity.NodeID
	err    error
	states []State
}

func runHandshake(ctx context.Context, conn net.Conn, r role, opts Options) handshakeResult {
	var res handshakeResult
	ch := newChannel(ctx, conn)
	defer ch.close()
	res.key, res.remote, res.err = handshake(ch, r, opts, func(s State) { res.states = append(res.states, s) })
	return res
}

func TestHandshakeOverPipe(t *testing.T) {
	ctx := context.Background()
	clientOpts := testOptions(t, "shared")
	serverOpts := testOptions(t, "shared")

	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()

	done := make(chan handshakeResult, 1)
	go func() { done <- runHandshake(ctx, s, roleServer, serverOpts) }()
	cr := runHandshake(ctx, c, roleClient, clientOpts)
	sr := <-done

	if cr.err != nil || sr.err != nil {
		t.Fatalf("handshake: client %v, server %v", cr.err, sr.err)
	}
	if !bytes.Equal(cr.key, sr.key) {
		t.Fatalf("session keys differ")
	}
	if cr.remote != serverOpts.LocalID || sr.remote != clientOpts.LocalID {
		t.Fatalf("unexpected remote identities")
	}
	want := []State{StateHandshakeIdentity, StateHandshakeParameters, StateHandshakeToken, StateAuthenticated}
	if len(cr.states) != len(want) {
		t.Fatalf("unexpected states %v", cr.states)
	}
	for i := range want {
		if cr.states[i] != want[i] || sr.states[i] != want[i] {
			t.Fatalf("unexpected states %v / %v", cr.states, sr.states)
		}
	}
}

func TestHandshakeWrongPassword(t *testing.T) {
	ctx := context.Background()
	c, s := net.Pipe()
	defer c.Close()

	serverOpts := testOptions(t, "shared")
	clientOpts := testOptions(t, "intruder")

	done := make(chan handshakeResult, 1)
	go func() {
		res := runHandshake(ctx, s, roleServer, serverOpts)
		s.Close()
		done <- res
	}()
	cr := runHandshake(ctx, c, roleClient, clientOpts)
	sr := <-done

	if !errors.Is(sr.err, ErrAuthentication) || !errors.Is(sr.err, pake.ErrTokenMismatch) {
		t.Fatalf("server: expected token mismatch, got %v", sr.err)
	}
	if !errors.Is(cr.err, ErrAuthentication) {
		t.Fatalf("client: expected ErrAuthentication, got %v", cr.err)
	}
	// the server never confirmed, so the client cannot tell which stage failed
	if errors.Is(cr.err, pake.ErrTokenMismatch) {
		t.Fatalf("client must not learn about the token check: %v", cr.err)
	}
}

func TestHandshakeStageTimeout(t *testing.T) {
	opts := testOptions(t, "shared")
	opts.HandshakeTimeout = 100 * time.Millisecond

	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()
	go func() {
		// read the identity and go silent
		_, _ = protocol.ReadPacket(s)
	}()

	start := time.Now()
	res := runHandshake(context.Background(), c, roleClient, opts)
	if !errors.Is(res.err, ErrAuthentication) || !errors.Is(res.err, ErrTimedOut) {
		t.Fatalf("expected authentication timeout, got %v", res.err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("stage timeout not enforced")
	}
}

func TestHandshakeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, s := net.Pipe()
	defer c.Close()
	defer s.Close()
	go func() {
		_, _ = protocol.ReadPacket(s)
		cancel()
	}()

	res := runHandshake(ctx, c, roleClient, testOptions(t, "shared"))
	if !errors.Is(res.err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", res.err)
	}
}

func listen(t *testing.T, opts Options, h Handler) (*Server, chan error) {
	t.Helper()
	srv, err := Listen("127.0.0.1", opts, h)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()
	return srv, errCh
}

func dest(srv *Server) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), srv.Port())
}

func TestClientServerRequestResponse(t *testing.T) {
	serverOpts := testOptions(t, "shared")
	clientOpts := testOptions(t, "shared")
	want := vault.Fragment{Mask: []uint32{1, 0}, Data: []byte("hi"), TotalSize: 2}

	var gotRemote identity.NodeID
	srv, errCh := listen(t, serverOpts, HandlerFunc(func(_ context.Context, remote identity.NodeID, req protocol.Packet) (protocol.Packet, error) {
		gotRemote = remote
		if _, ok := req.(protocol.GetFragment); !ok {
			return nil, errors.New("unexpected request")
		}
		return protocol.Fragment{Fragment: want}, nil
	}))

	cl := NewClient(dest(srv), clientOpts)
	cl.SetRequest(protocol.GetFragment{}, true)
	res := cl.Run(context.Background())
	if res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	frag, ok := res.Response.(protocol.Fragment)
	if !ok {
		t.Fatalf("unexpected response %#v", res.Response)
	}
	if !bytes.Equal(frag.Data, want.Data) || frag.TotalSize != want.TotalSize {
		t.Fatalf("unexpected fragment %+v", frag)
	}
	if gotRemote != clientOpts.LocalID {
		t.Fatalf("server saw the wrong client identity")
	}
	if cl.State() != StateClosed || srv.State() != StateClosed {
		t.Fatalf("expected closed states, got %s / %s", cl.State(), srv.State())
	}
}

func TestClientServerNoResponse(t *testing.T) {
	received := make(chan protocol.Packet, 1)
	srv, errCh := listen(t, testOptions(t, "shared"), HandlerFunc(func(_ context.Context, _ identity.NodeID, req protocol.Packet) (protocol.Packet, error) {
		received <- req
		return nil, nil
	}))

	cl := NewClient(dest(srv), testOptions(t, "shared"))
	cl.SetRequest(protocol.Fragment{Fragment: vault.Fragment{Mask: []uint32{0}, Data: []byte{7}, TotalSize: 1}}, false)
	if res := cl.Run(context.Background()); res.Err != nil {
		t.Fatalf("Run: %v", res.Err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	select {
	case p := <-received:
		if f, ok := p.(protocol.Fragment); !ok || f.Data[0] != 7 {
			t.Fatalf("unexpected request %#v", p)
		}
	default:
		t.Fatalf("handler did not run before the client finished")
	}
}

func TestClientExpectingResponseGetsNone(t *testing.T) {
	srv, errCh := listen(t, testOptions(t, "shared"), HandlerFunc(func(context.Context, identity.NodeID, protocol.Packet) (protocol.Packet, error) {
		return nil, nil
	}))

	cl := NewClient(dest(srv), testOptions(t, "shared"))
	cl.SetRequest(protocol.GetFragment{}, true)
	res := cl.Run(context.Background())
	if !errors.Is(res.Err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", res.Err)
	}
	<-errCh
}

func TestClientServerHandlerError(t *testing.T) {
	srv, errCh := listen(t, testOptions(t, "shared"), HandlerFunc(func(context.Context, identity.NodeID, protocol.Packet) (protocol.Packet, error) {
		return nil, errors.New("disk full")
	}))

	cl := NewClient(dest(srv), testOptions(t, "shared"))
	cl.SetRequest(protocol.GetFragment{}, false)
	res := cl.Run(context.Background())
	if !errors.Is(res.Err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", res.Err)
	}
	if err := <-errCh; err == nil {
		t.Fatalf("expected server error")
	}
}

func TestClientServerWrongPassword(t *testing.T) {
	called := false
	srv, errCh := listen(t, testOptions(t, "shared"), HandlerFunc(func(context.Context, identity.NodeID, protocol.Packet) (protocol.Packet, error) {
		called = true
		return nil, nil
	}))

	cl := NewClient(dest(srv), testOptions(t, "intruder"))
	cl.SetRequest(protocol.GetFragment{}, true)
	res := cl.Run(context.Background())
	if !errors.Is(res.Err, ErrAuthentication) {
		t.Fatalf("client: expected ErrAuthentication, got %v", res.Err)
	}
	if err := <-errCh; !errors.Is(err, ErrAuthentication) {
		t.Fatalf("server: expected ErrAuthentication, got %v", err)
	}
	if called {
		t.Fatalf("handler must not run for unauthenticated peers")
	}
}

func TestServerAcceptTimeout(t *testing.T) {
	opts := testOptions(t, "shared")
	opts.AcceptTimeout = 100 * time.Millisecond
	srv, err := Listen("127.0.0.1", opts, HandlerFunc(func(context.Context, identity.NodeID, protocol.Packet) (protocol.Packet, error) {
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := srv.Serve(context.Background()); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestClientConnectFailure(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	addr := pc.LocalAddr().(*net.UDPAddr).AddrPort()
	pc.Close()

	opts := testOptions(t, "shared")
	opts.ConnectTimeout = 200 * time.Millisecond
	cl := NewClient(addr, opts)
	cl.SetRequest(protocol.GetFragment{}, true)
	res := cl.Run(context.Background())

	var opErr *OpError
	if !errors.As(res.Err, &opErr) || opErr.Op != "connect" {
		t.Fatalf("expected connect error, got %v", res.Err)
	}
	if cl.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %s", cl.State())
	}

	if res := NewClient(addr, opts).Run(context.Background()); !errors.Is(res.Err, ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest, got %v", res.Err)
	}
}

func TestClassify(t *testing.T) {
	if !errors.Is(classify(context.Canceled), ErrCancelled) {
		t.Fatalf("expected ErrCancelled")
	}
	if !errors.Is(classify(context.DeadlineExceeded), ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut")
	}
	if !errors.Is(classify(&net.OpError{Op: "read", Err: timeoutErr{}}), ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut for net timeout")
	}
	plain := errors.New("boom")
	if classify(plain) != plain {
		t.Fatalf("plain errors must pass through")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
