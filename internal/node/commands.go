package node

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GZK1108/posnet/pkg/chaintypes"
	"github.com/GZK1108/posnet/pkg/wire"
)

// Command is one REPL input line, already split into a verb and its
// arguments (§6 Node CLI: tx, stake, unstake, forge, sync, chain, wallet,
// mempool, info, nodes, exit).
type Command struct {
	Verb string
	Args []string
}

type commandResult struct {
	text string
	err  error
}

// Execute posts cmd onto the consensus loop and blocks for its result, so
// REPL-driven mutations are serialized with every inbound message exactly
// like the teacher's RPC-to-consensus-loop handoff (§5).
func (n *Node) Execute(cmd Command) (string, error) {
	resp := make(chan commandResult, 1)
	select {
	case n.events <- commandRequest{cmd: cmd, resp: resp}:
	case <-n.stopCh:
		return "", fmt.Errorf("node is shutting down")
	}
	select {
	case r := <-resp:
		return r.text, r.err
	case <-n.stopCh:
		return "", fmt.Errorf("node is shutting down")
	}
}

// runCommand executes cmd on the consensus loop goroutine. It never
// touches the network or chain from any other goroutine.
func (n *Node) runCommand(cmd Command) (string, error) {
	switch cmd.Verb {
	case "tx":
		return n.cmdTransfer(cmd.Args)
	case "stake":
		return n.cmdStake(cmd.Args, chaintypes.Stake)
	case "unstake":
		return n.cmdStake(cmd.Args, chaintypes.Unstake)
	case "forge":
		forced := len(cmd.Args) > 0 && cmd.Args[0] == "--force"
		n.attemptForge(forced)
		return fmt.Sprintf("forge attempted at height %d (forced=%v)", n.chain.Height(), forced), nil
	case "sync":
		if err := n.requestSync(); err != nil {
			return "", err
		}
		return "sync request broadcast", nil
	case "chain":
		return n.cmdChain(), nil
	case "wallet":
		return n.cmdWallet(cmd.Args), nil
	case "mempool":
		return n.cmdMempool(), nil
	case "info":
		return n.cmdInfo(), nil
	case "nodes":
		return n.cmdNodes(), nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd.Verb)
	}
}

func (n *Node) cmdTransfer(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: tx <receiver> <amount>")
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	t := chaintypes.New(n.cfg.NodeID, args[0], amount, nowSeconds(), chaintypes.Transfer)
	return n.submitLocal(t)
}

func (n *Node) cmdStake(args []string, kind chaintypes.Kind) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <amount>", strings.ToLower(kind.String()))
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", args[0], err)
	}
	t := chaintypes.New(n.cfg.NodeID, n.cfg.NodeID, amount, nowSeconds(), kind)
	return n.submitLocal(t)
}

// submitLocal admits a transaction to the local mempool and broadcasts it,
// mirroring how a transaction arriving from another node is treated.
func (n *Node) submitLocal(t *chaintypes.Transaction) (string, error) {
	if err := n.pool.Add(t); err != nil {
		return "", err
	}
	msg, err := wire.Encode(wire.Transaction, wire.TransactionPayload{Tx: t})
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	n.send(msg)
	return fmt.Sprintf("submitted %s %s -> %s %.4f", t.Kind, t.Sender, t.Receiver, t.Amount), nil
}

func (n *Node) cmdChain() string {
	head := n.chain.Head()
	return fmt.Sprintf("height=%d head=%s validator=%s txs=%d", head.Index, head.Hash, head.Validator, len(head.Transactions))
}

func (n *Node) cmdWallet(args []string) string {
	id := n.cfg.NodeID
	if len(args) > 0 {
		id = args[0]
	}
	acc := n.chain.Ledger().Get(id)
	return fmt.Sprintf("%s balance=%.4f stake=%.4f", id, acc.Balance, acc.Stake)
}

func (n *Node) cmdMempool() string {
	pending := n.pool.Pending()
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending\n", len(pending))
	for _, t := range pending {
		fmt.Fprintf(&b, "  %s %s -> %s %.4f\n", t.Kind, t.Sender, t.Receiver, t.Amount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (n *Node) cmdInfo() string {
	head := n.chain.Head()
	voteInfo := "voting disabled"
	if n.votes != nil {
		voteInfo = fmt.Sprintf("voting enabled, quorum=%d/%d", n.votes.Quorum(n.knownValidatorCount()), n.knownValidatorCount())
	}
	return fmt.Sprintf("node=%s height=%d head=%s mempool=%d %s", n.cfg.NodeID, head.Index, head.Hash, n.pool.Count(), voteInfo)
}

func (n *Node) cmdNodes() string {
	validators := n.chain.Ledger().KnownValidators()
	if len(validators) == 0 {
		return "no known validators"
	}
	var b strings.Builder
	for _, id := range validators {
		acc := n.chain.Ledger().Get(id)
		fmt.Fprintf(&b, "%s stake=%.4f\n", id, acc.Stake)
	}
	return strings.TrimRight(b.String(), "\n")
}
