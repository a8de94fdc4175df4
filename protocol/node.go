package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/ledger"
)

// Submission identifies the caller of a state-changing operation and, for
// payment-bearing operations, carries the idempotency key under which the
// result is stored. Resubmitting with the same caller and key returns the
// original receipt without charging again.
type Submission struct {
	Caller crypto.Address
	Key    string
}

// Receipt is the durable result of a committed operation: the ledger position
// it landed at and every event it produced.
type Receipt struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Events []Event   `json:"events"`
}

// MatchCreated returns the ID of the match this receipt's transaction
// created, if any. Callers use it to tell a plain like from a completed
// reciprocal pair.
func (r *Receipt) MatchCreated() (MatchID, bool) {
	for _, ev := range r.Events {
		if ev.Kind != EvMatchCreated {
			continue
		}
		payload, err := decodeEvent[MatchCreatedEvent](ev)
		if err != nil {
			return "", false
		}
		return payload.MatchID, true
	}
	return "", false
}

// Notice is one committed transaction as delivered to event subscribers.
type Notice struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Op     string    `json:"op"`
	Events []Event   `json:"events"`
}

// committedTx is the ledger payload of one operation: who submitted it,
// under which idempotency key, and the events it produced. The record's
// kind field carries the operation name.
type committedTx struct {
	Caller crypto.Address `json:"caller"`
	Key    string         `json:"key,omitempty"`
	Events []Event        `json:"events"`
}

// AttestationVerifier checks a verification oracle's attestation quote. The
// tdx package provides the production implementation.
type AttestationVerifier interface {
	Verify(ctx context.Context, quote []byte) error
}

type reputationAggregate struct {
	Sum   gateway.Ciphertext
	Count uint64
}

// Node is the coordination core. It validates operations against current
// state, serializes them through the commit log and maintains every
// projection by applying committed events. All authoritative state is a
// deterministic function of the log; a Node that replays the same log
// arrives at identical projections.
type Node struct {
	cfg    *Config
	gw     gateway.Gateway
	log    ledger.Log
	lg     *slog.Logger
	attest AttestationVerifier

	mu          sync.RWMutex
	profiles    map[crypto.Address]*Profile
	prefs       map[crypto.Address]*PreferenceSet
	likes       map[crypto.Address]map[crypto.Address]bool
	likedBy     map[crypto.Address]map[crypto.Address]bool
	matches     map[MatchID]*Match
	userMatches map[crypto.Address][]MatchID
	messages    map[MatchID][]Message
	stakes      map[crypto.Address]uint64
	rated       map[MatchID]map[crypto.Address]bool
	reputation  map[crypto.Address]*reputationAggregate
	compat      map[MatchID]gateway.Ciphertext
	tokens      map[crypto.Address]*TokenAccount
	activeCount int
	applied     map[string]*Receipt

	subs    map[int]chan Notice
	nextSub int

	// clock is the read-side time source for premium and boost queries.
	// Commit timestamps always come from the ledger.
	clock func() time.Time
}

// NewNode builds a node over the given gateway and commit log and replays
// the log to recover all projections. The log is not closed on error.
func NewNode(cfg *Config, gw gateway.Gateway, log ledger.Log, lg *slog.Logger) (*Node, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = slog.Default()
	}
	n := &Node{
		cfg:         cfg,
		gw:          gw,
		log:         log,
		lg:          lg,
		profiles:    make(map[crypto.Address]*Profile),
		prefs:       make(map[crypto.Address]*PreferenceSet),
		likes:       make(map[crypto.Address]map[crypto.Address]bool),
		likedBy:     make(map[crypto.Address]map[crypto.Address]bool),
		matches:     make(map[MatchID]*Match),
		userMatches: make(map[crypto.Address][]MatchID),
		messages:    make(map[MatchID][]Message),
		stakes:      make(map[crypto.Address]uint64),
		rated:       make(map[MatchID]map[crypto.Address]bool),
		reputation:  make(map[crypto.Address]*reputationAggregate),
		compat:      make(map[MatchID]gateway.Ciphertext),
		tokens:      make(map[crypto.Address]*TokenAccount),
		applied:     make(map[string]*Receipt),
		subs:        make(map[int]chan Notice),
		clock:       time.Now,
	}
	var replayed int
	err := log.Replay(context.Background(), func(rec ledger.Record) error {
		var tx committedTx
		if err := json.Unmarshal(rec.Payload, &tx); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		if err := n.applyTx(rec, tx); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		replayed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replaying commit log: %w", err)
	}
	if replayed > 0 {
		lg.Info("recovered state from commit log", "records", replayed)
	}
	return n, nil
}

// Config returns the deployment parameters. The returned value is shared;
// callers must not mutate it.
func (n *Node) Config() *Config { return n.cfg }

// Gateway returns the encryption gateway this node validates ciphertexts
// against. The server exposes it to clients for input encryption.
func (n *Node) Gateway() gateway.Gateway { return n.gw }

// SetAttestationVerifier installs the quote verifier consulted by
// VerifyHuman. A nil verifier leaves the oracle's signature as the only
// check.
func (n *Node) SetAttestationVerifier(v AttestationVerifier) { n.attest = v }

// Subscribe registers a committed-transaction feed. Every transaction
// committed after the call is delivered in order; a subscriber that falls
// behind the buffer has notices dropped rather than stalling commits. The
// channel is closed when ctx ends.
func (n *Node) Subscribe(ctx context.Context, buffer int) <-chan Notice {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notice, buffer)

	n.mu.Lock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = ch
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		close(ch)
	}()
	return ch
}

// History returns the committed transactions with sequence numbers >= from,
// read back from the commit log. Subscribers use it to catch up before
// switching to the live feed.
func (n *Node) History(ctx context.Context, from uint64) ([]Notice, error) {
	var out []Notice
	err := n.log.Replay(ctx, func(rec ledger.Record) error {
		if rec.Seq < from {
			return nil
		}
		var tx committedTx
		if err := json.Unmarshal(rec.Payload, &tx); err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		out = append(out, Notice{Seq: rec.Seq, Time: rec.Time, Op: rec.Kind, Events: tx.Events})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading commit log: %w", err)
	}
	return out, nil
}

// submit runs one state-changing operation: idempotency check, validation
// and event construction against the commit-point state, append, apply,
// notify. The write lock is held across the whole pipeline so the state the
// events were validated against is exactly the state they apply to.
func (n *Node) submit(ctx context.Context, sub Submission, op string, build func() ([]Event, error)) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sub.Key != "" {
		if r, ok := n.applied[appliedKey(sub.Caller, sub.Key)]; ok {
			n.lg.Debug("replaying stored receipt", "op", op, "caller", sub.Caller, "key", sub.Key)
			return r, nil
		}
	}

	events, err := build()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		// Idempotent no-op, nothing to commit.
		return &Receipt{}, nil
	}

	tx := committedTx{Caller: sub.Caller, Key: sub.Key, Events: events}
	payload, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("encoding %s transaction: %w", op, err)
	}
	rec, err := n.log.Append(ctx, op, payload)
	if err != nil {
		// The append outcome is ambiguous: the record may or may not be
		// durable. No projection changed either way.
		return nil, &SubmissionError{Op: op, IdempotencyKey: sub.Key, Err: err}
	}
	if err := n.applyTx(rec, tx); err != nil {
		return nil, fmt.Errorf("applying committed %s at seq %d: %w", op, rec.Seq, err)
	}
	n.lg.Debug("committed", "op", op, "seq", rec.Seq, "caller", sub.Caller, "events", len(events))

	r := n.applied[appliedKey(tx.Caller, tx.Key)]
	if r == nil {
		r = &Receipt{Seq: rec.Seq, Time: rec.Time, Events: events}
	}
	n.notify(Notice{Seq: rec.Seq, Time: rec.Time, Op: op, Events: events})
	return r, nil
}

// notify is called with the write lock held.
func (n *Node) notify(notice Notice) {
	for id, ch := range n.subs {
		select {
		case ch <- notice:
		default:
			n.lg.Warn("dropping notice for slow subscriber", "subscriber", id, "seq", notice.Seq)
		}
	}
}

func appliedKey(caller crypto.Address, key string) string {
	return caller.String() + "/" + key
}

// applyTx applies every event of a committed transaction to the projections
// and stores the receipt under the transaction's idempotency key. It runs
// both on live commits and on replay; the receipt store therefore survives
// restarts with the log.
func (n *Node) applyTx(rec ledger.Record, tx committedTx) error {
	for _, ev := range tx.Events {
		if err := n.applyEvent(rec, ev); err != nil {
			return err
		}
	}
	if tx.Key != "" {
		n.applied[appliedKey(tx.Caller, tx.Key)] = &Receipt{Seq: rec.Seq, Time: rec.Time, Events: tx.Events}
	}
	return nil
}

func (n *Node) applyEvent(rec ledger.Record, ev Event) error {
	switch ev.Kind {
	case EvProfileCreated:
		p, err := decodeEvent[ProfileCreatedEvent](ev)
		if err != nil {
			return err
		}
		n.profiles[p.Owner] = &Profile{
			Owner:        p.Owner,
			Attrs:        p.Attrs,
			PublicHandle: p.Handle,
			ExchangeKey:  p.ExchangeKey,
			IsActive:     true,
			CreatedAt:    rec.Time,
		}
		if p.Stake > math.MaxUint64-n.stakes[p.Owner] {
			return fmt.Errorf("%s overflows stake of %s", ev.Kind, p.Owner)
		}
		n.stakes[p.Owner] += p.Stake
		n.activeCount++

	case EvProfileUpdated:
		p, err := decodeEvent[ProfileUpdatedEvent](ev)
		if err != nil {
			return err
		}
		profile, ok := n.profiles[p.Owner]
		if !ok {
			return fmt.Errorf("%s for unknown profile %s", ev.Kind, p.Owner)
		}
		if profile.IsActive != p.IsActive {
			if p.IsActive {
				n.activeCount++
			} else {
				n.activeCount--
			}
		}
		profile.IsActive = p.IsActive

	case EvPreferencesSet:
		p, err := decodeEvent[PreferencesSetEvent](ev)
		if err != nil {
			return err
		}
		prefs := p.Prefs
		n.prefs[p.Owner] = &prefs

	case EvLikeSent:
		p, err := decodeEvent[LikeSentEvent](ev)
		if err != nil {
			return err
		}
		if n.likes[p.From] == nil {
			n.likes[p.From] = make(map[crypto.Address]bool)
		}
		n.likes[p.From][p.To] = true
		if n.likedBy[p.To] == nil {
			n.likedBy[p.To] = make(map[crypto.Address]bool)
		}
		n.likedBy[p.To][p.From] = true

	case EvMatchCreated:
		p, err := decodeEvent[MatchCreatedEvent](ev)
		if err != nil {
			return err
		}
		m := &Match{
			ID:        p.MatchID,
			User1:     p.User1,
			User2:     p.User2,
			MatchedAt: rec.Time,
		}
		n.matches[p.MatchID] = m
		n.userMatches[p.User1] = append(n.userMatches[p.User1], p.MatchID)
		n.userMatches[p.User2] = append(n.userMatches[p.User2], p.MatchID)

	case EvMatchAccepted:
		p, err := decodeEvent[MatchAcceptedEvent](ev)
		if err != nil {
			return err
		}
		m, ok := n.matches[p.MatchID]
		if !ok {
			return fmt.Errorf("%s for unknown match %s", ev.Kind, p.MatchID)
		}
		switch p.User {
		case m.User1:
			m.User1Accepted = true
		case m.User2:
			m.User2Accepted = true
		default:
			return fmt.Errorf("%s by non-party %s", ev.Kind, p.User)
		}

	case EvMatchRevealed:
		p, err := decodeEvent[MatchRevealedEvent](ev)
		if err != nil {
			return err
		}
		m, ok := n.matches[p.MatchID]
		if !ok {
			return fmt.Errorf("%s for unknown match %s", ev.Kind, p.MatchID)
		}
		m.IsRevealed = true

	case EvMessageSent:
		p, err := decodeEvent[MessageSentEvent](ev)
		if err != nil {
			return err
		}
		n.messages[p.MatchID] = append(n.messages[p.MatchID], Message{
			Sender:       p.Sender,
			Content:      p.Content,
			Timestamp:    rec.Time,
			StakedAmount: p.Fee,
		})
		if n.stakes[p.Sender] < p.Fee {
			return fmt.Errorf("%s overdraws stake of %s", ev.Kind, p.Sender)
		}
		n.stakes[p.Sender] -= p.Fee

	case EvStakeDeposited:
		p, err := decodeEvent[StakeDepositedEvent](ev)
		if err != nil {
			return err
		}
		if p.Amount > math.MaxUint64-n.stakes[p.Owner] {
			return fmt.Errorf("%s overflows stake of %s", ev.Kind, p.Owner)
		}
		n.stakes[p.Owner] += p.Amount

	case EvStakeWithdrawn:
		p, err := decodeEvent[StakeWithdrawnEvent](ev)
		if err != nil {
			return err
		}
		if n.stakes[p.Owner] < p.Amount {
			return fmt.Errorf("%s overdraws stake of %s", ev.Kind, p.Owner)
		}
		n.stakes[p.Owner] -= p.Amount

	case EvMatchRated:
		p, err := decodeEvent[MatchRatedEvent](ev)
		if err != nil {
			return err
		}
		if n.rated[p.MatchID] == nil {
			n.rated[p.MatchID] = make(map[crypto.Address]bool)
		}
		n.rated[p.MatchID][p.Rater] = true
		n.reputation[p.Ratee] = &reputationAggregate{Sum: p.NewSum, Count: p.NewCount}

	case EvCompatibilityScored:
		p, err := decodeEvent[CompatibilityScoredEvent](ev)
		if err != nil {
			return err
		}
		n.compat[p.MatchID] = p.Score

	case EvTokensMinted:
		p, err := decodeEvent[TokensMintedEvent](ev)
		if err != nil {
			return err
		}
		n.tokenAccount(p.To).Balance = p.NewBalance

	case EvSuperLikePurchased:
		p, err := decodeEvent[SuperLikePurchasedEvent](ev)
		if err != nil {
			return err
		}
		acct := n.tokenAccount(p.User)
		acct.Balance = p.NewBalance
		acct.SuperLikesRemaining += p.Count

	case EvProfileBoosted:
		p, err := decodeEvent[ProfileBoostedEvent](ev)
		if err != nil {
			return err
		}
		acct := n.tokenAccount(p.User)
		acct.Balance = p.NewBalance
		acct.BoostExpiry = rec.Time.Add(n.cfg.BoostDuration)

	case EvPremiumActivated:
		p, err := decodeEvent[PremiumActivatedEvent](ev)
		if err != nil {
			return err
		}
		acct := n.tokenAccount(p.User)
		acct.Balance = p.NewBalance
		acct.PremiumExpiry = rec.Time.Add(n.cfg.PremiumDuration)

	case EvHumanVerified:
		p, err := decodeEvent[HumanVerifiedEvent](ev)
		if err != nil {
			return err
		}
		profile, ok := n.profiles[p.User]
		if !ok {
			return fmt.Errorf("%s for unknown profile %s", ev.Kind, p.User)
		}
		profile.IsVerified = true

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

func (n *Node) tokenAccount(addr crypto.Address) *TokenAccount {
	acct, ok := n.tokens[addr]
	if !ok {
		acct = &TokenAccount{}
		n.tokens[addr] = acct
	}
	return acct
}

// requireActiveProfile is called with the lock held. Missing and deactivated
// profiles are indistinguishable to the caller.
func (n *Node) requireActiveProfile(addr crypto.Address) (*Profile, error) {
	p, ok := n.profiles[addr]
	if !ok || !p.IsActive {
		return nil, ErrNoProfile
	}
	return p, nil
}

// requireParty resolves a match and checks the caller is one of its parties.
// Called with the lock held.
func (n *Node) requireParty(id MatchID, caller crypto.Address) (*Match, error) {
	m, ok := n.matches[id]
	if !ok {
		return nil, ErrUnknownMatch
	}
	if !m.HasUser(caller) {
		return nil, ErrNotAParty
	}
	return m, nil
}
