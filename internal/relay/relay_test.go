package relay

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/GZK1108/posnet/pkg/wire"
)

// writeRawFrame writes a length-prefixed frame whose body is not valid
// JSON, simulating a corrupted/malformed wire frame (§7).
func writeRawFrame(t *testing.T, nc net.Conn, body []byte) {
	t.Helper()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := nc.Write(header[:]); err != nil {
		t.Fatalf("write frame header: %v", err)
	}
	if _, err := nc.Write(body); err != nil {
		t.Fatalf("write frame body: %v", err)
	}
}

func dialAndHello(t *testing.T, addr, id string) net.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	msg, _ := wire.Encode(wire.Hello, wire.HelloPayload{SenderID: id})
	if err := wire.WriteFrame(nc, msg); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	return nc
}

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	r := New(zerolog.Nop())
	if err := r.Serve("127.0.0.1:0", 0); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, r.listener.Addr().String()
}

func waitForConnected(t *testing.T, r *Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.ConnectedNodes()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connected nodes, got %v", n, r.ConnectedNodes())
}

func TestRelay_FansOutToOtherNodesOnly(t *testing.T) {
	r, addr := startRelay(t)

	a := dialAndHello(t, addr, "a")
	defer a.Close()
	b := dialAndHello(t, addr, "b")
	defer b.Close()
	waitForConnected(t, r, 2)

	txMsg, _ := wire.Encode(wire.Transaction, wire.TransactionPayload{})
	if err := wire.WriteFrame(a, txMsg); err != nil {
		t.Fatalf("send tx: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := wire.ReadFrame(b)
	if err != nil {
		t.Fatalf("b did not receive fanned-out message: %v", err)
	}
	if got.Type != wire.Transaction {
		t.Fatalf("b received %v, want TRANSACTION", got.Type)
	}

	// a must not receive its own message back.
	a.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := wire.ReadFrame(a); err == nil {
		t.Fatal("sender should not receive its own broadcast back")
	}
}

func TestRelay_DropSuppressesForwarding(t *testing.T) {
	r, addr := startRelay(t)

	a := dialAndHello(t, addr, "a")
	defer a.Close()
	b := dialAndHello(t, addr, "b")
	defer b.Close()
	waitForConnected(t, r, 2)

	r.SetDrop("a", true)

	msg, _ := wire.Encode(wire.Transaction, wire.TransactionPayload{})
	wire.WriteFrame(a, msg)

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := wire.ReadFrame(b); err == nil {
		t.Fatal("b should not receive a message from a dropped sender")
	}
}

func TestRelay_StopPausesAllForwarding(t *testing.T) {
	r, addr := startRelay(t)

	a := dialAndHello(t, addr, "a")
	defer a.Close()
	b := dialAndHello(t, addr, "b")
	defer b.Close()
	waitForConnected(t, r, 2)

	r.Stop()
	msg, _ := wire.Encode(wire.Transaction, wire.TransactionPayload{})
	wire.WriteFrame(a, msg)

	b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := wire.ReadFrame(b); err == nil {
		t.Fatal("no message should be forwarded while the relay is stopped")
	}

	r.Continue()
	wire.WriteFrame(a, msg)
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFrame(b); err != nil {
		t.Fatalf("forwarding should resume after Continue: %v", err)
	}
}

func TestRelay_StepBroadcastsToAllNodes(t *testing.T) {
	r, addr := startRelay(t)

	a := dialAndHello(t, addr, "a")
	defer a.Close()
	b := dialAndHello(t, addr, "b")
	defer b.Close()
	waitForConnected(t, r, 2)

	r.Step()

	for _, c := range []net.Conn{a, b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		got, err := wire.ReadFrame(c)
		if err != nil || got.Type != wire.Step {
			t.Fatalf("expected STEP, got %+v err %v", got, err)
		}
	}
}

func TestRelay_MalformedFrameIsDroppedNotDisconnected(t *testing.T) {
	r, addr := startRelay(t)

	a := dialAndHello(t, addr, "a")
	defer a.Close()
	b := dialAndHello(t, addr, "b")
	defer b.Close()
	waitForConnected(t, r, 2)

	writeRawFrame(t, a, []byte("{not valid json"))

	txMsg, _ := wire.Encode(wire.Transaction, wire.TransactionPayload{})
	if err := wire.WriteFrame(a, txMsg); err != nil {
		t.Fatalf("send tx: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := wire.ReadFrame(b)
	if err != nil {
		t.Fatalf("connection should survive a malformed frame and keep forwarding: %v", err)
	}
	if got.Type != wire.Transaction {
		t.Fatalf("b received %v, want TRANSACTION", got.Type)
	}

	if len(r.ConnectedNodes()) != 2 {
		t.Fatalf("malformed frame should not drop the sender's connection, connected = %v", r.ConnectedNodes())
	}
}

func TestRelay_AttacksReportsActiveFaults(t *testing.T) {
	r, _ := startRelay(t)
	r.SetDrop("x", true)
	r.SetDelay("y", 50*time.Millisecond)

	attacks := r.Attacks()
	if len(attacks) != 2 {
		t.Fatalf("Attacks() = %v, want 2 entries", attacks)
	}
}

func TestRelay_Addr_ReflectsEphemeralBoundPort(t *testing.T) {
	r, addr := startRelay(t)
	if r.Addr() == nil {
		t.Fatal("expected a non-nil bound address after Serve")
	}
	if r.Addr().String() != addr {
		t.Fatalf("Addr() = %s, want %s", r.Addr().String(), addr)
	}
}
