// Package node wires the chain, mempool, consensus, and transport layers
// into a single participant that dials the relay and drives one
// single-threaded consensus loop (§4.6–§4.9, §5).
package node

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GZK1108/posnet/config"
	"github.com/GZK1108/posnet/internal/chain"
	"github.com/GZK1108/posnet/internal/consensus"
	"github.com/GZK1108/posnet/internal/log"
	"github.com/GZK1108/posnet/internal/mempool"
	"github.com/GZK1108/posnet/internal/storage"
	"github.com/GZK1108/posnet/pkg/wire"
)

// mempoolCapacity bounds the number of pending transactions a node will
// hold before Add starts rejecting new arrivals (§4.7).
const mempoolCapacity = 5000

// eventQueueSize is the buffer depth of the consensus loop's single event
// channel — generous enough that a burst of inbound traffic doesn't stall
// the reader goroutine mid-frame.
const eventQueueSize = 256

// Node is one participant in the simulated network: it owns a chain, a
// mempool, an optional vote tracker, and a connection to the relay. All
// state mutation happens on the goroutine run by consensusLoop — every
// other goroutine only ever posts events to n.events (§5).
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db    storage.DB
	chain *chain.Chain
	pool  *mempool.Pool
	votes *consensus.VoteTracker // nil when cfg.Vote.Enabled is false

	conn     net.Conn
	outbound chan wire.Message
	events   chan event

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New opens (or recovers) a node's storage and chain, seeds its mempool
// and optional vote tracker, and dials the relay — but does not yet start
// any background goroutine; call Start for that (§5).
func New(cfg *config.Config) (*Node, error) {
	logger := log.WithNodeID(cfg.NodeID)

	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open chain storage: %w", err)
	}

	store := chain.NewStore(db)
	c := chain.New(store, cfg.LedgerSeed())
	if err := c.RecoverFromStore(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover chain from store: %w", err)
	}
	if !c.HasHead() {
		if _, err := c.Genesis("", 0); err != nil {
			db.Close()
			return nil, fmt.Errorf("create genesis block: %w", err)
		}
		logger.Info().Msg("initialized fresh chain at genesis")
	} else {
		logger.Info().Uint64("height", c.Height()).Msg("recovered chain from storage")
	}

	pool := mempool.New(mempoolCapacity)
	c.SetOnAccept(pool.RemoveConfirmed)
	c.SetOnReorg(pool.Reinject)

	var votes *consensus.VoteTracker
	if cfg.Vote.Enabled {
		votes = consensus.NewVoteTracker(cfg.Vote.Threshold, cfg.Vote.Timeout)
	}

	conn, err := net.Dial("tcp", cfg.Server.Addr())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dial relay at %s: %w", cfg.Server.Addr(), err)
	}
	hello, err := wire.Encode(wire.Hello, wire.HelloPayload{SenderID: cfg.NodeID})
	if err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	if err := wire.WriteFrame(conn, hello); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	return &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		chain:    c,
		pool:     pool,
		votes:    votes,
		conn:     conn,
		outbound: make(chan wire.Message, eventQueueSize),
		events:   make(chan event, eventQueueSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs bootstrap sync (§4.9) to completion, then launches the
// inbound reader, outbound writer, vote-expiry timer, and the consensus
// loop itself as background goroutines. Forging is driven only by an
// inbound wire.Step frame from the relay or an explicit forced-forge
// command (§5 "forging STEP (server-driven — the node does not produce
// STEP itself)") — a node never ticks its own forging clock.
func (n *Node) Start() error {
	if err := n.runStartupSync(); err != nil {
		n.logger.Warn().Err(err).Msg("startup sync did not complete cleanly, continuing with local chain")
	}

	n.wg.Add(1)
	go n.readLoop()

	n.wg.Add(1)
	go n.writeLoop()

	if n.votes != nil {
		n.wg.Add(1)
		go n.voteExpiryTimer()
	}

	n.wg.Add(1)
	go n.consensusLoop()

	return nil
}

// Chain exposes the underlying chain for read-only introspection by test
// harnesses and internal/experiment's convergence report. Concurrent reads
// are safe — Chain's own methods take its internal lock.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Stop drains the inbound queue, sends BYE, closes the relay socket, and
// closes storage — the shutdown sequence §5 describes for a node daemon.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		bye, err := wire.Encode(wire.Bye, wire.ByePayload{SenderID: n.cfg.NodeID})
		if err == nil {
			_ = wire.WriteFrame(n.conn, bye)
		}
		close(n.stopCh)
		n.conn.Close()
		n.wg.Wait()
		close(n.outbound)
		close(n.events)
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("error closing chain storage")
		}
		n.logger.Info().Msg("node stopped")
	})
}

// send enqueues msg for the outbound writer goroutine, dropping it rather
// than blocking forever if the node is already shutting down.
func (n *Node) send(msg wire.Message) {
	select {
	case n.outbound <- msg:
	case <-n.stopCh:
	}
}

// readLoop decodes frames off the relay connection and posts them to the
// consensus loop's event channel (§5 "inbound reader"). A frame that fails
// to decode is logged and dropped without closing the connection; only a
// genuine transport failure ends the loop (§7 "Malformed frame").
func (n *Node) readLoop() {
	defer n.wg.Done()
	for {
		msg, err := wire.ReadFrame(n.conn)
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				n.logger.Warn().Err(err).Msg("dropping malformed inbound frame")
				continue
			}
			select {
			case <-n.stopCh:
				return
			default:
			}
			n.logger.Warn().Err(err).Msg("relay connection read failed, inbound reader exiting")
			return
		}
		select {
		case n.events <- inboundEvent{msg: msg}:
		case <-n.stopCh:
			return
		}
	}
}

// writeLoop drains queued outbound messages onto the relay connection
// (§5 "outbound writer") so a slow or blocked socket never stalls the
// consensus loop itself.
func (n *Node) writeLoop() {
	defer n.wg.Done()
	for msg := range n.outbound {
		if err := wire.WriteFrame(n.conn, msg); err != nil {
			n.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to write outbound frame")
		}
	}
}

// voteExpiryTimer periodically asks the consensus loop to discard
// candidates whose vote-collection window has elapsed (§4.8).
func (n *Node) voteExpiryTimer() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.Vote.Timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			select {
			case n.events <- voteExpiryEvent{}:
			case <-n.stopCh:
				return
			}
		case <-n.stopCh:
			return
		}
	}
}
