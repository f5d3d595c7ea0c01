// Package reaction keeps the local view of a voter's reactions in step with
// the ledger. Every vote goes through Reconciler.Vote.
package reaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

var ErrVotePending = errors.New("a vote on this target is already pending")

var votesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainblog_votes_processed_total",
	Help: "The total number of vote attempts by target type and outcome",
}, []string{"target", "outcome"})

type Status string

const (
	Unvoted Status = "unvoted"
	Pending Status = "pending"
	Voted   Status = "voted"
)

// Ledger is the part of the ledger client the reconciler drives.
type Ledger interface {
	Address() (common.Address, bool)
	Refresh(ctx context.Context) (common.Address, error)
	HasReacted(ctx context.Context, target models.Target, voter common.Address) (models.ReactionState, error)
	Tally(ctx context.Context, target models.Target) (models.Tally, error)
	SubmitVote(ctx context.Context, target models.Target, d models.Direction) (ledger.Tx, error)
}

// Entry is the local view of one (target, voter) pair.
type Entry struct {
	Target   models.Target        `json:"target"`
	Voter    common.Address       `json:"voter"`
	Status   Status               `json:"status"`
	Reaction models.ReactionState `json:"reaction"`
	Tally    models.Tally         `json:"tally"`
	TxHash   common.Hash          `json:"txHash,omitempty"`

	// Optimistic is set when the counters could not be re-read after a
	// vote and were advanced locally instead.
	Optimistic bool `json:"optimistic,omitempty"`
}

type key struct {
	voter common.Address
	typ   models.TargetType
	id    uint64
}

type Option func(*Reconciler)

// WithRefreshTimeout bounds the authoritative re-read after a vote.
func WithRefreshTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.refreshTimeout = d }
}

type Reconciler struct {
	ledger         Ledger
	refreshTimeout time.Duration
	log            zerolog.Logger
	unsubscribe    func()

	mu      sync.Mutex
	entries map[key]Entry
}

func NewReconciler(l Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:         l,
		refreshTimeout: 15 * time.Second,
		log:            log.With().Str("component", "reaction").Logger(),
		entries:        make(map[key]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if notifier, ok := l.(interface {
		OnAccountChanged(ledger.AccountListener) func()
	}); ok {
		r.unsubscribe = notifier.OnAccountChanged(func(prev, next common.Address) {
			r.log.Debug().Str("from", prev.Hex()).Str("to", next.Hex()).Msg("Account changed, dropping cached reactions")
			r.Reset()
		})
	}
	return r
}

// Close stops following account changes of the ledger.
func (r *Reconciler) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func keyOf(target models.Target, voter common.Address) key {
	return key{voter: voter, typ: target.Type, id: target.ID}
}

// Observe loads the voter's reaction and the counters of target and
// caches them. Without an identity only the counters are read.
func (r *Reconciler) Observe(ctx context.Context, target models.Target) (Entry, error) {
	voter, connected := r.ledger.Address()
	if connected {
		if entry, ok := r.get(keyOf(target, voter)); ok && entry.Status == Pending {
			return entry, nil
		}
	}

	tally, err := r.ledger.Tally(ctx, target)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Target: target, Voter: voter, Status: Unvoted, Tally: tally}
	if !connected {
		return entry, nil
	}

	state, err := r.ledger.HasReacted(ctx, target, voter)
	if err != nil {
		return Entry{}, err
	}
	entry.Reaction = state
	if state.Any() {
		entry.Status = Voted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// a vote may have started while we were reading
	if current, ok := r.entries[keyOf(target, voter)]; ok && current.Status == Pending {
		return current, nil
	}
	r.entries[keyOf(target, voter)] = entry
	return entry, nil
}

// Cached returns the local view of target for the current identity.
func (r *Reconciler) Cached(target models.Target) (Entry, bool) {
	voter, connected := r.ledger.Address()
	if !connected {
		return Entry{}, false
	}
	return r.get(keyOf(target, voter))
}

// Reset drops every cached entry, for instance after an account switch.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[key]Entry)
}

func (r *Reconciler) get(k key) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[k]
	return entry, ok
}

func (r *Reconciler) put(k key, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[k] = entry
}

// Vote casts d on target for the current identity. The wallet and then
// the ledger are asked again right before submitting; an existing reaction
// fails with ledger.ErrAlreadyReacted and nothing is sent. After the
// transaction settles, whatever the outcome, the entry is rebuilt from the
// ledger for the account that actually signed.
func (r *Reconciler) Vote(ctx context.Context, target models.Target, d models.Direction) (Entry, error) {
	if _, connected := r.ledger.Address(); !connected {
		return Entry{}, ledger.ErrNotConnected
	}
	voter, err := r.ledger.Refresh(ctx)
	if err != nil {
		votesProcessed.WithLabelValues(string(target.Type), "error").Inc()
		return Entry{}, err
	}
	k := keyOf(target, voter)

	r.mu.Lock()
	prev, seen := r.entries[k]
	if seen && prev.Status == Pending {
		r.mu.Unlock()
		votesProcessed.WithLabelValues(string(target.Type), "pending").Inc()
		return prev, ErrVotePending
	}
	if !seen {
		prev = Entry{Target: target, Voter: voter, Status: Unvoted}
	}
	prev.Target = target
	pending := prev
	pending.Status = Pending
	r.entries[k] = pending
	r.mu.Unlock()

	state, err := r.ledger.HasReacted(ctx, target, voter)
	if err != nil {
		r.put(k, prev)
		votesProcessed.WithLabelValues(string(target.Type), "error").Inc()
		return prev, err
	}
	if state.Any() {
		prev.Status, prev.Reaction = Voted, state
		r.put(k, prev)
		votesProcessed.WithLabelValues(string(target.Type), "already_reacted").Inc()
		r.log.Info().Str("target", target.String()).Str("voter", voter.Hex()).Msg("Vote rejected, voter already reacted")
		return prev, fmt.Errorf("%s: %w", target, ledger.ErrAlreadyReacted)
	}

	tx, voteErr := r.ledger.SubmitVote(ctx, target, d)
	if signer, ok := r.ledger.Address(); ok && signer != voter {
		// the wallet switched while submitting; the old entry went with Reset
		r.log.Warn().Str("target", target.String()).Str("checked", voter.Hex()).Str("signer", signer.Hex()).Msg("Account changed during vote")
		k = keyOf(target, signer)
		prev = Entry{Target: target, Voter: signer, Status: Unvoted}
	}
	entry := r.settle(ctx, prev, d, tx, voteErr)
	r.put(k, entry)

	switch {
	case voteErr == nil:
		votesProcessed.WithLabelValues(string(target.Type), "ok").Inc()
	case errors.Is(voteErr, ledger.ErrTransactionReverted):
		votesProcessed.WithLabelValues(string(target.Type), "reverted").Inc()
	case errors.Is(voteErr, ledger.ErrTimeout):
		votesProcessed.WithLabelValues(string(target.Type), "timeout").Inc()
	default:
		votesProcessed.WithLabelValues(string(target.Type), "error").Inc()
	}
	return entry, voteErr
}

// settle re-reads the ledger after a terminal vote outcome. The re-read
// survives cancellation of ctx since the transaction may still land.
func (r *Reconciler) settle(ctx context.Context, prev Entry, d models.Direction, tx ledger.Tx, voteErr error) Entry {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
	defer cancel()

	entry := prev
	entry.TxHash = tx.Hash
	entry.Optimistic = false

	state, stateErr := r.ledger.HasReacted(rctx, prev.Target, prev.Voter)
	tally, tallyErr := r.ledger.Tally(rctx, prev.Target)
	if err := errors.Join(stateErr, tallyErr); err != nil {
		r.log.Warn().Err(err).Str("target", prev.Target.String()).Msg("Could not re-read ledger after vote")
		if voteErr != nil {
			entry.Status = Unvoted
			return entry
		}
		entry.Status = Voted
		entry.Reaction = models.ReactionState{Upvoted: d == models.Up, Downvoted: d == models.Down}
		entry.Tally = prev.Tally.Add(d)
		entry.Optimistic = true
		return entry
	}

	entry.Reaction, entry.Tally = state, tally
	entry.Status = Unvoted
	if state.Any() {
		entry.Status = Voted
	}
	if voteErr != nil {
		r.log.Info().Err(voteErr).Str("target", prev.Target.String()).Str("status", string(entry.Status)).Msg("Vote did not go through, entry reconciled")
	}
	return entry
}
