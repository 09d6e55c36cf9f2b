package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linefeed/chatbroker/internal/v1/broker"
	"github.com/linefeed/chatbroker/internal/v1/bus"
)

// tcpPeer is a real TCP chat client with a background reader draining the
// socket into a channel.
type tcpPeer struct {
	conn  net.Conn
	lines chan string
}

func dialPeer(t *testing.T, addr string) *tcpPeer {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	p := &tcpPeer{conn: conn, lines: make(chan string, 64)}
	go func() {
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
		close(p.lines)
	}()

	t.Cleanup(func() { _ = conn.Close() })
	return p
}

func (p *tcpPeer) send(t *testing.T, s string) {
	t.Helper()
	_, err := p.conn.Write([]byte(s))
	require.NoError(t, err)
}

// await reads lines until want arrives, ignoring anything else. Broadcasts
// from two instances have no cross-instance ordering, so tests must not pin
// the exact interleaving.
func (p *tcpPeer) await(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got, ok := <-p.lines:
			require.True(t, ok, "connection closed while awaiting %q", want)
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out awaiting %q", want)
		}
	}
}

func (p *tcpPeer) awaitClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out awaiting close")
		}
	}
}

func startServer(t *testing.T, b *broker.Broker) *Server {
	t.Helper()

	s, err := Listen(0, b)
	require.NoError(t, err)
	go func() { _ = s.Serve(context.Background()) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestServer_FullSession(t *testing.T) {
	b := broker.New(nil)
	s := startServer(t, b)
	addr := s.Addr().String()

	alice := dialPeer(t, addr)
	alice.send(t, "JOIN lobby alice\n")
	alice.await(t, "alice has joined")

	bob := dialPeer(t, addr)
	bob.send(t, "JOIN lobby bob\n")
	bob.await(t, "bob has joined")
	alice.await(t, "bob has joined")

	alice.send(t, "hello bob\n")
	bob.await(t, "alice: hello bob")
	alice.await(t, "alice: hello bob")

	require.NoError(t, bob.conn.Close())
	alice.await(t, "bob has left")

	require.NoError(t, alice.conn.Close())
	require.Eventually(t, func() bool {
		return b.RoomCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	b := broker.New(nil)
	s := startServer(t, b)

	p := dialPeer(t, s.Addr().String())
	p.send(t, "SPEAK lobby alice\n")
	p.await(t, "ERROR")
	p.awaitClosed(t)
	assert.Equal(t, 0, b.RoomCount())
}

func TestServer_SeparateRoomsDoNotMix(t *testing.T) {
	b := broker.New(nil)
	s := startServer(t, b)
	addr := s.Addr().String()

	alice := dialPeer(t, addr)
	alice.send(t, "JOIN alpha alice\n")
	alice.await(t, "alice has joined")

	bob := dialPeer(t, addr)
	bob.send(t, "JOIN beta bob\n")
	bob.await(t, "bob has joined")

	alice.send(t, "only alpha\n")
	alice.await(t, "alice: only alpha")

	bob.send(t, "marker\n")
	// bob's next line is his own marker; the alpha traffic never reached
	// him.
	select {
	case got := <-bob.lines:
		assert.Equal(t, "bob: marker", got)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for marker")
	}
}

func TestServer_ShutdownSeversSessions(t *testing.T) {
	b := broker.New(nil)
	s, err := Listen(0, b)
	require.NoError(t, err)
	go func() { _ = s.Serve(context.Background()) }()

	p := dialPeer(t, s.Addr().String())
	p.send(t, "JOIN lobby alice\n")
	p.await(t, "alice has joined")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	p.awaitClosed(t)
	assert.Equal(t, 0, b.RoomCount())

	// The listener is gone too.
	_, err = net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServer_RelayBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	newInstance := func() (*Server, *bus.Service) {
		svc, err := bus.NewService(mr.Addr(), "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Close() })
		return startServer(t, broker.New(svc)), svc
	}

	s1, _ := newInstance()
	s2, _ := newInstance()

	alice := dialPeer(t, s1.Addr().String())
	alice.send(t, "JOIN lobby alice\n")
	alice.await(t, "alice has joined")

	// Give the first instance's subscription time to reach Redis before
	// traffic is published for it.
	time.Sleep(100 * time.Millisecond)

	bob := dialPeer(t, s2.Addr().String())
	bob.send(t, "JOIN lobby bob\n")
	bob.await(t, "bob has joined")

	// bob's join was relayed to the first instance.
	alice.await(t, "bob has joined")

	alice.send(t, "hi from one\n")
	bob.await(t, "alice: hi from one")

	bob.send(t, "hi from two\n")
	alice.await(t, "bob: hi from two")
}

func TestServer_RelayEchoSuppression(t *testing.T) {
	mr := miniredis.RunT(t)

	svc, err := bus.NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	b := broker.New(svc)
	s := startServer(t, b)

	p := dialPeer(t, s.Addr().String())
	p.send(t, "JOIN lobby alice\n")
	p.await(t, "alice has joined")

	p.send(t, "once\n")
	p.await(t, "alice: once")

	// The published copy comes back through Redis but carries our own
	// instance ID; it must not be fanned out a second time. Send a marker
	// and make sure nothing arrived in between.
	time.Sleep(100 * time.Millisecond)
	p.send(t, "marker\n")
	got := <-p.lines
	require.Equal(t, "alice: marker", got)
	assert.False(t, strings.Contains(got, "once"))
}
