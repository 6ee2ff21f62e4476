// Package relay implements the central message relay: a star-topology hub
// every node connects to, which fans messages out to every other connected
// node and can drop or delay a sender's traffic on demand for fault
// injection (§5 "The relay process").
package relay

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GZK1108/posnet/pkg/wire"
)

// ObserverFunc is called with every message the relay receives, before
// fan-out, for read-only anomaly detection (§9 "POS+ observer"). It must
// not block or mutate relay state.
type ObserverFunc func(senderID string, msg wire.Message)

// Relay fans out messages between connected nodes and injects per-sender
// drop/delay faults. It never inspects message semantics (§5) — TRANSACTION,
// BLOCK, SYNC_REQUEST, SYNC_RESPONSE, and BLOCK_VOTE are all broadcast the
// same way; only HELLO/BYE affect the relay's own connection bookkeeping,
// and STEP is relay-originated rather than forwarded.
type Relay struct {
	logger zerolog.Logger

	mu       sync.Mutex
	conns    map[string]*nodeConn
	dropped  map[string]bool
	delays   map[string]time.Duration
	paused   bool
	threshold float64

	observer ObserverFunc

	listener net.Listener
	stopCh   chan struct{}

	stepTicker *time.Ticker
	stepDone   chan struct{}
}

type nodeConn struct {
	id string
	nc net.Conn
	mu sync.Mutex // serializes writes
}

func (c *nodeConn) send(msg wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wire.WriteFrame(c.nc, msg)
}

// New creates a Relay that is not yet listening.
func New(logger zerolog.Logger) *Relay {
	return &Relay{
		logger:  logger,
		conns:   make(map[string]*nodeConn),
		dropped: make(map[string]bool),
		delays:  make(map[string]time.Duration),
		stopCh:  make(chan struct{}),
	}
}

// SetObserver installs the anomaly-detection hook.
func (r *Relay) SetObserver(fn ObserverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Serve starts listening on addr and accepting node connections.
// If stepInterval > 0, the relay also auto-broadcasts STEP on that cadence
// (§6 "step.interval"); auto-STEP is skipped while the relay is stopped,
// resumes on Continue, and ends when Close is called.
func (r *Relay) Serve(addr string, stepInterval time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.listener = ln
	r.logger.Info().Str("addr", addr).Msg("relay listening")

	go r.acceptLoop()

	if stepInterval > 0 {
		r.stepTicker = time.NewTicker(stepInterval)
		r.stepDone = make(chan struct{})
		go r.autoStepLoop()
	}
	return nil
}

// Addr returns the listener's actual bound address — useful when Serve
// was called with port 0, e.g. internal/experiment binding an ephemeral
// port for an in-process scenario relay.
func (r *Relay) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Close shuts down the listener and every connection (admin `exit`).
func (r *Relay) Close() error {
	close(r.stopCh)
	if r.stepTicker != nil {
		r.stepTicker.Stop()
		close(r.stepDone)
	}
	if r.listener != nil {
		r.listener.Close()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.nc.Close()
	}
	return nil
}

func (r *Relay) acceptLoop() {
	for {
		nc, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				r.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go r.handleConn(nc)
	}
}

func (r *Relay) handleConn(nc net.Conn) {
	first, err := wire.ReadFrame(nc)
	if err != nil {
		r.logger.Warn().Err(err).Msg("connection closed before HELLO")
		nc.Close()
		return
	}
	var hello wire.HelloPayload
	if first.Type != wire.Hello || wire.Decode(first, &hello) != nil || hello.SenderID == "" {
		r.logger.Warn().Str("type", string(first.Type)).Msg("expected HELLO, dropping connection")
		nc.Close()
		return
	}

	c := &nodeConn{id: hello.SenderID, nc: nc}
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	r.logger.Info().Str("node", c.id).Msg("node connected")

	defer func() {
		r.mu.Lock()
		delete(r.conns, c.id)
		r.mu.Unlock()
		nc.Close()
		r.logger.Info().Str("node", c.id).Msg("node disconnected")
	}()

	for {
		msg, err := wire.ReadFrame(nc)
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				r.logger.Warn().Str("node", c.id).Err(err).Msg("dropping malformed inbound frame")
				continue
			}
			return
		}
		if msg.Type == wire.Bye {
			return
		}
		r.dispatch(c.id, msg)
	}
}

// dispatch applies drop/delay fault injection and then fans a message out
// to every node except its sender.
func (r *Relay) dispatch(senderID string, msg wire.Message) {
	r.mu.Lock()
	obs := r.observer
	paused := r.paused
	dropped := r.dropped[senderID]
	delay := r.delays[senderID]
	r.mu.Unlock()

	if obs != nil {
		obs(senderID, msg)
	}
	if paused || dropped {
		r.logger.Debug().Str("sender", senderID).Bool("paused", paused).Bool("dropped", dropped).Msg("message not forwarded")
		return
	}
	if delay > 0 {
		time.AfterFunc(delay, func() { r.fanOut(senderID, msg) })
		return
	}
	r.fanOut(senderID, msg)
}

func (r *Relay) fanOut(senderID string, msg wire.Message) {
	r.mu.Lock()
	targets := make([]*nodeConn, 0, len(r.conns))
	for id, c := range r.conns {
		if id == senderID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			r.logger.Warn().Str("node", c.id).Err(err).Msg("forward failed")
		}
	}
}

func (r *Relay) autoStepLoop() {
	for {
		select {
		case <-r.stepTicker.C:
			r.mu.Lock()
			paused := r.paused
			r.mu.Unlock()
			if !paused {
				r.Step()
			}
		case <-r.stepDone:
			return
		}
	}
}

// Step broadcasts a STEP message to every connected node, regardless of
// the paused state — it is an explicit admin action, not organic traffic
// (admin `step`).
func (r *Relay) Step() {
	msg, err := wire.Encode(wire.Step, wire.StepPayload{})
	if err != nil {
		r.logger.Error().Err(err).Msg("encode STEP")
		return
	}
	r.mu.Lock()
	targets := make([]*nodeConn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			r.logger.Warn().Str("node", c.id).Err(err).Msg("STEP delivery failed")
		}
	}
}

// Stop pauses automatic fan-out and auto-STEP (admin `stop`) — HELLO/BYE
// bookkeeping still works, traffic is just dropped at dispatch.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Continue resumes fan-out after Stop (admin `continue`).
func (r *Relay) Continue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// SetDrop toggles whether a sender's outbound traffic is forwarded
// (admin `drop <id> on|off`).
func (r *Relay) SetDrop(id string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		r.dropped[id] = true
	} else {
		delete(r.dropped, id)
	}
}

// ToggleDrop flips a sender's drop state (admin `drop <id> toggle`).
func (r *Relay) ToggleDrop(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	on := !r.dropped[id]
	if on {
		r.dropped[id] = true
	} else {
		delete(r.dropped, id)
	}
	return on
}

// SetDelay sets or clears (d <= 0) the artificial delay applied to a
// sender's traffic (admin `delay <id> <duration|off>`).
func (r *Relay) SetDelay(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d <= 0 {
		delete(r.delays, id)
	} else {
		r.delays[id] = d
	}
}

// SetThreshold records the vote-quorum threshold for reporting purposes
// (admin `threshold <x>`) — the relay does not enforce it; nodes do (§4.8).
func (r *Relay) SetThreshold(x float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = x
}

// Attacks reports the currently active drop/delay fault injections
// (admin `attacks`).
func (r *Relay) Attacks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.dropped {
		out = append(out, fmt.Sprintf("drop %s", id))
	}
	for id, d := range r.delays {
		out = append(out, fmt.Sprintf("delay %s %s", id, d))
	}
	if r.paused {
		out = append(out, "relay paused (stop)")
	}
	return out
}

// ConnectedNodes returns the ids of currently connected nodes (admin
// `nodes`-style introspection; also used by tests).
func (r *Relay) ConnectedNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
