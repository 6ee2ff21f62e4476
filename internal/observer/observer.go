// Package observer implements the POS+ anomaly detector: a read-only
// subscriber to relay traffic that flags suspicious validator behavior
// without ever mutating chain, mempool, or vote-tracker state (spec.md §9
// design note). It is wired in via relay.Relay.SetObserver, which calls it
// with every message the relay receives from a node, before drop/pause
// filtering (relay-originated STEP is not passed to it), the way the teacher's
// consensus.Tracker collects read-only round statistics off the same
// message stream rather than owning any of it.
package observer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/GZK1108/posnet/pkg/chaintypes"
	"github.com/GZK1108/posnet/pkg/wire"
)

// AlertKind names the heuristic that fired.
type AlertKind string

const (
	// RepeatedForger fires when one validator forges a run of consecutive
	// blocks at or beyond repeatedForgeThreshold, which stake-weighted
	// random election should make exceedingly unlikely.
	RepeatedForger AlertKind = "repeated_forger"

	// VoterSilence fires when a known validator casts no BLOCK_VOTE across
	// silenceThreshold consecutive blocks while other validators do vote.
	VoterSilence AlertKind = "voter_silence"
)

// Alert is one flagged anomaly.
type Alert struct {
	Kind        AlertKind
	ValidatorID string
	Detail      string
	Timestamp   time.Time
}

const (
	defaultRepeatedForgeThreshold = 3
	defaultSilenceThreshold       = 3
)

// Observer tracks per-validator forging and voting behavior across the
// blocks it sees pass through the relay. It never touches chain, mempool,
// or vote-tracker state — it only reads wire messages and logs/records
// alerts.
type Observer struct {
	mu sync.Mutex

	logger zerolog.Logger

	repeatedForgeThreshold int
	silenceThreshold       int

	lastForger    string
	forgerStreak  int
	knownForgers  map[string]struct{}

	// roundVoters accumulates BLOCK_VOTE senders seen since the last BLOCK,
	// i.e. votes cast for the current round's candidate(s).
	roundVoters  map[string]struct{}
	silenceCount map[string]int

	alerts []Alert
}

// New returns an Observer with the default thresholds, matching the
// teacher's NewVoteTracker-style constructor that takes no external state.
func New(logger zerolog.Logger) *Observer {
	return &Observer{
		logger:                 logger,
		repeatedForgeThreshold: defaultRepeatedForgeThreshold,
		silenceThreshold:       defaultSilenceThreshold,
		knownForgers:           make(map[string]struct{}),
		roundVoters:            make(map[string]struct{}),
		silenceCount:           make(map[string]int),
	}
}

// Observe implements relay.ObserverFunc. senderID is whichever node handed
// the relay this frame; msg is the frame as received, before any fault
// injection the relay applies to deliveries.
func (o *Observer) Observe(senderID string, msg wire.Message) {
	switch msg.Type {
	case wire.Block:
		var payload wire.BlockPayload
		if err := wire.Decode(msg, &payload); err != nil || payload.Block == nil {
			return
		}
		o.onBlock(payload.Block)
	case wire.BlockVote:
		var payload wire.BlockVotePayload
		if err := wire.Decode(msg, &payload); err != nil {
			return
		}
		o.onVote(payload.VoterID)
	}
}

func (o *Observer) onBlock(blk *chaintypes.Block) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.knownForgers[blk.Validator] = struct{}{}

	if blk.Validator == o.lastForger {
		o.forgerStreak++
	} else {
		o.lastForger = blk.Validator
		o.forgerStreak = 1
	}
	if o.forgerStreak >= o.repeatedForgeThreshold {
		o.raise(Alert{
			Kind:        RepeatedForger,
			ValidatorID: blk.Validator,
			Detail:      "forged the active chain's last consecutive blocks alone",
		})
	}

	// Close out the round: any known forger that hasn't voted this round
	// extends its silence streak; voters reset theirs.
	for id := range o.knownForgers {
		if _, voted := o.roundVoters[id]; voted {
			o.silenceCount[id] = 0
			continue
		}
		o.silenceCount[id]++
		if o.silenceCount[id] >= o.silenceThreshold {
			o.raise(Alert{
				Kind:        VoterSilence,
				ValidatorID: id,
				Detail:      "cast no vote across the last several blocks",
			})
			o.silenceCount[id] = 0 // avoid re-alerting every subsequent block
		}
	}
	o.roundVoters = make(map[string]struct{})
}

func (o *Observer) onVote(voterID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.roundVoters[voterID] = struct{}{}
}

// raise records alert and logs it. Caller must hold o.mu.
func (o *Observer) raise(a Alert) {
	a.Timestamp = time.Now()
	o.alerts = append(o.alerts, a)
	o.logger.Warn().
		Str("kind", string(a.Kind)).
		Str("validator", a.ValidatorID).
		Str("detail", a.Detail).
		Msg("anomaly flagged")
}

// Alerts returns every anomaly flagged so far, oldest first.
func (o *Observer) Alerts() []Alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Alert, len(o.alerts))
	copy(out, o.alerts)
	return out
}

// Reset clears accumulated alerts and streak state, used by the relay's
// `detect reset` admin command.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastForger = ""
	o.forgerStreak = 0
	o.knownForgers = make(map[string]struct{})
	o.roundVoters = make(map[string]struct{})
	o.silenceCount = make(map[string]int)
	o.alerts = nil
}
