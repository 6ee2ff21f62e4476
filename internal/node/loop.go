package node

import (
	"errors"
	"time"

	"github.com/GZK1108/posnet/internal/chain"
	"github.com/GZK1108/posnet/internal/consensus"
	"github.com/GZK1108/posnet/internal/mempool"
	"github.com/GZK1108/posnet/pkg/chaintypes"
	"github.com/GZK1108/posnet/pkg/wire"
)

// forgeBatchLimit bounds how many mempool transactions a single forged
// block includes (§4.6 "Forging" drains the mempool, not necessarily all
// of it at once).
const forgeBatchLimit = 200

// consensusLoop is the single goroutine that owns every mutation of
// n.chain, n.pool, and n.votes. It runs until n.events is closed by Stop.
func (n *Node) consensusLoop() {
	defer n.wg.Done()
	for ev := range n.events {
		switch e := ev.(type) {
		case inboundEvent:
			n.handleInbound(e.msg)
		case voteExpiryEvent:
			n.expireVotes()
		case commandRequest:
			text, err := n.runCommand(e.cmd)
			e.resp <- commandResult{text: text, err: err}
		}
	}
}

// handleInbound dispatches one decoded relay frame (§6 message catalogue).
func (n *Node) handleInbound(msg wire.Message) {
	switch msg.Type {
	case wire.Transaction:
		var p wire.TransactionPayload
		if err := wire.Decode(msg, &p); err != nil {
			n.logger.Warn().Err(err).Msg("malformed transaction frame")
			return
		}
		if err := n.pool.Add(p.Tx); err != nil && !errors.Is(err, mempool.ErrAlreadyExists) {
			n.logger.Debug().Err(err).Msg("transaction not admitted to mempool")
		}

	case wire.Block:
		var p wire.BlockPayload
		if err := wire.Decode(msg, &p); err != nil {
			n.logger.Warn().Err(err).Msg("malformed block frame")
			return
		}
		n.handleIncomingBlock(p.Block)

	case wire.SyncRequest:
		blocks, err := n.chain.ActiveChain()
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to build sync response")
			return
		}
		resp, err := wire.Encode(wire.SyncResponse, wire.SyncResponsePayload{
			SenderID: n.cfg.NodeID,
			Blocks:   blocks,
		})
		if err != nil {
			n.logger.Warn().Err(err).Msg("failed to encode sync response")
			return
		}
		n.send(resp)

	case wire.SyncResponse:
		// Outside the bootstrap window, an unsolicited SYNC_RESPONSE is
		// simply another chain to compare fork-choice against.
		var p wire.SyncResponsePayload
		if err := wire.Decode(msg, &p); err != nil {
			n.logger.Warn().Err(err).Msg("malformed sync response frame")
			return
		}
		if err := n.adoptChain(p.Blocks); err != nil {
			n.logger.Debug().Err(err).Msg("sync response did not improve local chain")
		}

	case wire.Step:
		n.attemptForge(false)

	case wire.BlockVote:
		var p wire.BlockVotePayload
		if err := wire.Decode(msg, &p); err != nil {
			n.logger.Warn().Err(err).Msg("malformed block vote frame")
			return
		}
		n.handleVote(p.BlockHash, p.VoterID)

	case wire.Hello, wire.Bye:
		// Relay-to-node peer bookkeeping only; nothing for a node to do.

	default:
		n.logger.Debug().Str("type", string(msg.Type)).Msg("unhandled message type")
	}
}

// handleIncomingBlock stores a received block and either installs it
// directly (vote tracker disabled) or puts it up for a vote (§4.4, §4.8).
func (n *Node) handleIncomingBlock(blk *chaintypes.Block) {
	if err := n.chain.Add(blk); err != nil && !errors.Is(err, chain.ErrBlockKnown) {
		n.logger.Debug().Err(err).Str("hash", blk.Hash.String()).Msg("rejected incoming block")
		return
	}

	if n.votes == nil {
		if err := n.chain.TrySetHead(blk); err != nil {
			n.logger.Debug().Err(err).Str("hash", blk.Hash.String()).Msg("incoming block did not become head")
		}
		return
	}

	if err := n.chain.ValidateCandidate(blk); err != nil {
		n.logger.Debug().Err(err).Str("hash", blk.Hash.String()).Msg("not voting for invalid candidate")
		return
	}
	n.votes.Propose(blk, time.Now())
	n.castVote(blk.Hash)
}

// castVote records the node's own vote for hash and broadcasts it, then
// installs the block if that vote reached quorum (§4.8).
func (n *Node) castVote(hash chaintypes.Hash) {
	installable, ok := n.votes.Vote(hash, n.cfg.NodeID, n.knownValidatorCount())
	if !ok {
		return
	}
	msg, err := wire.Encode(wire.BlockVote, wire.BlockVotePayload{VoterID: n.cfg.NodeID, BlockHash: hash})
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to encode own vote")
		return
	}
	n.send(msg)
	if installable {
		n.installVotedBlock(hash)
	}
}

// handleVote records another node's vote and installs the block on
// reaching quorum (§4.8).
func (n *Node) handleVote(hash chaintypes.Hash, voterID string) {
	installable, ok := n.votes.Vote(hash, voterID, n.knownValidatorCount())
	if !ok {
		n.logger.Debug().Str("hash", hash.String()).Str("voter", voterID).Msg("vote for unknown candidate dropped")
		return
	}
	if installable {
		n.installVotedBlock(hash)
	}
}

func (n *Node) installVotedBlock(hash chaintypes.Hash) {
	blk := n.votes.Block(hash)
	if blk == nil {
		return
	}
	if err := n.chain.TrySetHead(blk); err != nil {
		n.logger.Debug().Err(err).Str("hash", hash.String()).Msg("quorum-reached block failed to install")
	}
	n.votes.Discard(hash)
}

// expireVotes discards any vote candidate whose collection window has
// elapsed without reaching quorum (§4.8 "the block is discarded").
func (n *Node) expireVotes() {
	if n.votes == nil {
		return
	}
	for _, hash := range n.votes.Expired(time.Now()) {
		n.votes.Discard(hash)
		n.logger.Debug().Str("hash", hash.String()).Msg("vote candidate timed out without quorum")
	}
}

// attemptForge runs an election for the current head and, if this node
// wins (or forced is true), drains the mempool and proposes a new block
// (§4.6). With the vote tracker disabled the block is installed directly;
// otherwise it is proposed and the node casts its own vote for it.
func (n *Node) attemptForge(forced bool) {
	head := n.chain.Head()
	if head == nil {
		return
	}

	if !forced {
		winner, err := consensus.Elect(n.electionWeights(), head.Hash)
		if err != nil || winner != n.cfg.NodeID {
			return
		}
	}

	ledger := n.chain.Ledger()
	txs := n.pool.DrainApplicable(ledger, forgeBatchLimit)
	blk := chaintypes.New(head.Index+1, head.Hash, n.cfg.NodeID, txs, nowSeconds())

	if err := n.chain.Add(blk); err != nil {
		n.logger.Warn().Err(err).Msg("failed to store forged block")
		return
	}

	msg, err := wire.Encode(wire.Block, wire.BlockPayload{Block: blk})
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to encode forged block")
		return
	}
	n.send(msg)

	if n.votes == nil {
		if err := n.chain.TrySetHead(blk); err != nil {
			n.logger.Warn().Err(err).Msg("forged block failed to become head")
		}
		return
	}
	n.votes.Propose(blk, time.Now())
	n.castVote(blk.Hash)
}

// electionWeights builds the stake-weighted candidate set for this round
// (§4.5 step 1: staked validators, falling back to positive balances when
// no account has a nonzero stake).
func (n *Node) electionWeights() consensus.Weights {
	ledger := n.chain.Ledger()
	weights := make(consensus.Weights)
	for _, id := range ledger.KnownValidators() {
		weights[id] = ledger.Get(id).Stake
	}
	if len(weights) == 0 {
		for _, id := range ledger.PositiveBalances() {
			weights[id] = ledger.Get(id).Balance
		}
	}
	return weights
}

func (n *Node) knownValidatorCount() int {
	return len(n.chain.Ledger().KnownValidators())
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
