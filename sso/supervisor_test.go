package sso

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/inmesdev/ntrim-core/config"
	"github.com/inmesdev/ntrim-core/dispatch"
	"github.com/inmesdev/ntrim-core/session"
	"github.com/inmesdev/ntrim-core/signer"
	"github.com/inmesdev/ntrim-core/transport"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	device := session.NewDevice("0123456789abcdef", "123456789012345678901234567890123456",
		"Pixel 9", "Google", "P9", "Android", "15", "AndroidOS", []byte{0x01})
	proto := session.Protocol{AppID: 1, Detail: "d", NtBuildVersion: "1"}
	s, err := session.New(10000, "u_aaa", device, proto, [16]byte{1}, [16]byte{2})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func testSupervisor(t *testing.T) (*Supervisor, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	conn := transport.NewConnected(false, clientConn, nil)
	sess := testSession(t)
	disp := dispatch.New()
	sgn := signer.NewMemory([]byte("secret"))
	cfg := config.Config{SendQueueSize: 4, ReconnectInterval: time.Second}

	return NewSupervisor(conn, sess, disp, sgn, cfg, nil), serverConn
}

// TestOneshotCorrelation pins spec.md §8 scenario 5 through the
// supervisor's own registration path: a waiter registered for the
// allocated seq resolves when the dispatcher receives a matching message.
func TestOneshotCorrelation(t *testing.T) {
	sup, server := testSupervisor(t)
	defer server.Close()

	// Drain whatever the encoder writes so Write doesn't block the pipe.
	go drainConn(server)

	seq, waiter, ok := sup.SendUniPacket(UniPacket{
		CommandType: session.Service,
		Command:     "trpc.test.Echo",
		WupBuffer:   []byte{1, 2, 3},
	})
	if !ok {
		t.Fatal("expected SendUniPacket to accept the send")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Disconnect()

	sup2seq := int32(seq)
	go sup.disp.Dispatch(dispatch.Msg{Command: "X", Seq: sup2seq, WupBuffer: []byte("reply")})

	select {
	case msg := <-waiter:
		if msg.Seq != sup2seq {
			t.Fatalf("expected seq %d, got %d", sup2seq, msg.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the oneshot waiter to resolve")
	}
}

// TestLostConnectionSignalsWaiters covers the lost-connection half of
// scenario 6: broadcasting the connection-lost sentinel (as decodeLoop does
// on a read failure) while a request is in flight resolves its waiter with
// that sentinel. Reconnecting is not exercised here.
func TestLostConnectionSignalsWaiters(t *testing.T) {
	sup, server := testSupervisor(t)
	defer server.Close()
	go drainConn(server)

	_, waiter, ok := sup.SendUniPacket(UniPacket{
		CommandType: session.Heartbeat,
		Command:     "Heartbeat.Alive",
	})
	if !ok {
		t.Fatal("expected SendUniPacket to accept the send")
	}

	sup.disp.ClearOneshot(dispatch.Msg{Command: ConnectionLostCommand, Seq: -1})

	select {
	case msg := <-waiter:
		if msg.Command != ConnectionLostCommand {
			t.Fatalf("expected connection-lost sentinel, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the lost-connection signal")
	}
}

// TestDecodeLoopSurvivesReadError guards against decodeLoop propagating a
// read error into the shared errgroup: a mid-stream read failure must mark
// the connection Lost without cancelling encodeLoop/reconnectLoop/
// signPingLoop, since reconnectLoop is the only task that can recover from
// it.
func TestDecodeLoopSurvivesReadError(t *testing.T) {
	sup, server := testSupervisor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Disconnect()

	// Sever the connection out from under decodeLoop's blocked ReadFrame.
	server.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !sup.conn.IsConnected() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sup.conn.IsConnected() {
		t.Fatal("expected the connection to be marked Lost after the read error")
	}

	// If decodeLoop had returned the error into the errgroup, ctx.Done()
	// would already be closed here, taking the rest of the background
	// tasks down with it.
	select {
	case <-sup.ctx.Done():
		t.Fatal("errgroup context was cancelled by a mere connection loss")
	default:
	}
}

func TestSendUniPacketRejectedWhenDisconnected(t *testing.T) {
	conn := transport.New(false, nil)
	sess := testSession(t)
	disp := dispatch.New()
	sgn := signer.NewMemory(nil)
	sup := NewSupervisor(conn, sess, disp, sgn, config.Config{SendQueueSize: 4}, nil)

	_, _, ok := sup.SendUniPacket(UniPacket{CommandType: session.Heartbeat, Command: "x"})
	if ok {
		t.Fatal("expected SendUniPacket to reject when not connected")
	}
}

func TestPauseBlocksSend(t *testing.T) {
	sup, server := testSupervisor(t)
	defer server.Close()
	go drainConn(server)

	sup.Pause()
	done := make(chan bool, 1)
	go func() {
		_, _, ok := sup.SendUniPacket(UniPacket{CommandType: session.Heartbeat, Command: "x"})
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("expected SendUniPacket to block while paused")
	case <-time.After(100 * time.Millisecond):
	}

	sup.Resume()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected SendUniPacket to succeed after Resume")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SendUniPacket to unblock after Resume")
	}
}

// drainConn drains conn until it's closed so writes on the other end of
// the pipe don't block the test.
func drainConn(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
