package node

import (
	"errors"
	"fmt"
	"time"

	"github.com/GZK1108/posnet/internal/chain"
	"github.com/GZK1108/posnet/pkg/chaintypes"
	"github.com/GZK1108/posnet/pkg/wire"
)

// runStartupSync implements the bootstrap sync procedure (§4.9): broadcast
// a SYNC_REQUEST, collect SYNC_RESPONSE frames for cfg.Sync.Timeout, and
// feed every chain received through the node's ordinary fork-choice logic
// so the longest valid branch wins. It runs before the consensus loop and
// its reader/writer goroutines start, so it reads the relay connection
// directly under a deadline.
func (n *Node) runStartupSync() error {
	req, err := wire.Encode(wire.SyncRequest, wire.SyncRequestPayload{})
	if err != nil {
		return fmt.Errorf("encode sync request: %w", err)
	}
	if err := wire.WriteFrame(n.conn, req); err != nil {
		return fmt.Errorf("send sync request: %w", err)
	}

	deadline := time.Now().Add(n.cfg.Sync.Timeout)
	if err := n.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set sync deadline: %w", err)
	}
	defer n.conn.SetReadDeadline(time.Time{})

	responses := 0
	for {
		msg, err := wire.ReadFrame(n.conn)
		if err != nil {
			break // deadline exceeded, or the relay closed early
		}
		if msg.Type != wire.SyncResponse {
			continue
		}
		var payload wire.SyncResponsePayload
		if err := wire.Decode(msg, &payload); err != nil {
			n.logger.Warn().Err(err).Msg("malformed sync response during bootstrap")
			continue
		}
		responses++
		if err := n.adoptChain(payload.Blocks); err != nil {
			n.logger.Debug().Err(err).Str("peer", payload.SenderID).Msg("peer chain not adopted")
		}
	}

	n.logger.Info().Int("responses", responses).Uint64("height", n.chain.Height()).Msg("bootstrap sync window closed")
	return nil
}

// adoptChain stores every block of a peer-reported chain (skipping ones
// already known) and then lets Chain.TrySetHead's ordinary fork-choice
// decide whether the reported tip should become (or extend, or reorg to)
// the active head — the same logic that decides any other candidate
// block, so sync and normal block propagation share one code path.
func (n *Node) adoptChain(blocks []*chaintypes.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	for _, blk := range blocks {
		if blk.IsGenesis() {
			continue
		}
		if err := n.chain.Add(blk); err != nil && !errors.Is(err, chain.ErrBlockKnown) {
			return fmt.Errorf("store block %s: %w", blk.Hash, err)
		}
	}
	tip := blocks[len(blocks)-1]
	if tip.IsGenesis() {
		return nil
	}
	return n.chain.TrySetHead(tip)
}

// requestSync broadcasts a SYNC_REQUEST for the REPL's `sync` command
// (§6). Unlike runStartupSync, this runs after the reader/writer
// goroutines are already active, so responses arrive through the ordinary
// inbound event path (handleInbound's wire.SyncResponse case) rather than
// being read here directly — two goroutines must never read the same
// connection concurrently.
func (n *Node) requestSync() error {
	req, err := wire.Encode(wire.SyncRequest, wire.SyncRequestPayload{})
	if err != nil {
		return fmt.Errorf("encode sync request: %w", err)
	}
	n.send(req)
	return nil
}
