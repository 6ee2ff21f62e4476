package node

import "github.com/GZK1108/posnet/pkg/wire"

// event is anything posted onto a Node's single consensus-loop channel.
// Every goroutine other than consensusLoop only ever produces these; none
// of them mutate chain/mempool/vote state directly (§5).
type event interface {
	isEvent()
}

// inboundEvent carries a decoded frame received from the relay.
type inboundEvent struct {
	msg wire.Message
}

// voteExpiryEvent asks the loop to discard any vote candidates whose
// collection window has elapsed (§4.8).
type voteExpiryEvent struct{}

// commandRequest carries a REPL command into the consensus loop so that
// command execution is serialized with every other state mutation (§5).
type commandRequest struct {
	cmd  Command
	resp chan commandResult
}

func (inboundEvent) isEvent()    {}
func (voteExpiryEvent) isEvent() {}
func (commandRequest) isEvent()  {}
