package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
)

// EventKind names one append-only ledger event. Clients consume these to
// refresh their views; the node consumes them to rebuild projections on
// replay. An event payload is self-contained: applying the log from zero
// reproduces identical state.
type EventKind string

const (
	EvProfileCreated      EventKind = "ProfileCreated"
	EvProfileUpdated      EventKind = "ProfileUpdated"
	EvPreferencesSet      EventKind = "PreferencesSet"
	EvLikeSent            EventKind = "LikeSent"
	EvMatchCreated        EventKind = "MatchCreated"
	EvMatchAccepted       EventKind = "MatchAccepted"
	EvMatchRevealed       EventKind = "MatchRevealed"
	EvMessageSent         EventKind = "MessageSent"
	EvStakeDeposited      EventKind = "StakeDeposited"
	EvStakeWithdrawn      EventKind = "StakeWithdrawn"
	EvMatchRated          EventKind = "MatchRated"
	EvCompatibilityScored EventKind = "CompatibilityScored"
	EvTokensMinted        EventKind = "TokensMinted"
	EvSuperLikePurchased  EventKind = "SuperLikePurchased"
	EvProfileBoosted      EventKind = "ProfileBoosted"
	EvPremiumActivated    EventKind = "PremiumActivated"
	EvHumanVerified       EventKind = "HumanVerified"
)

// Event is one committed event as stored in (and replayed from) the ledger.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func newEvent(kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s event: %w", kind, err)
	}
	return Event{Kind: kind, Payload: raw}, nil
}

func decodeEvent[T any](ev Event) (*T, error) {
	var payload T
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", ev.Kind, err)
	}
	return &payload, nil
}

// ProfileCreatedEvent records a new profile plus its mandatory stake credit.
type ProfileCreatedEvent struct {
	Owner       crypto.Address      `json:"owner"`
	Handle      string              `json:"handle,omitempty"`
	ExchangeKey []byte              `json:"exchange_key"`
	Attrs       EncryptedAttributes `json:"attrs"`
	Stake       uint64              `json:"stake"`
}

// ProfileUpdatedEvent records an isActive flip.
type ProfileUpdatedEvent struct {
	Owner    crypto.Address `json:"owner"`
	IsActive bool           `json:"is_active"`
}

// PreferencesSetEvent records a wholesale preference overwrite.
type PreferencesSetEvent struct {
	Owner crypto.Address `json:"owner"`
	Prefs PreferenceSet  `json:"prefs"`
}

// LikeSentEvent records a new directed like edge.
type LikeSentEvent struct {
	From crypto.Address `json:"from"`
	To   crypto.Address `json:"to"`
}

// MatchCreatedEvent records match synthesis from a completed reciprocal pair.
type MatchCreatedEvent struct {
	MatchID MatchID        `json:"match_id"`
	User1   crypto.Address `json:"user1"`
	User2   crypto.Address `json:"user2"`
}

// MatchAcceptedEvent records one party's accept flag being set.
type MatchAcceptedEvent struct {
	MatchID MatchID        `json:"match_id"`
	User    crypto.Address `json:"user"`
}

// MatchRevealedEvent records a match being revealed.
type MatchRevealedEvent struct {
	MatchID MatchID `json:"match_id"`
}

// MessageSentEvent records one message append plus its fee debit from the
// sender's stake balance, applied atomically.
type MessageSentEvent struct {
	MatchID MatchID        `json:"match_id"`
	Sender  crypto.Address `json:"sender"`
	Content []byte         `json:"content"`
	Fee     uint64         `json:"fee"`
}

// StakeDepositedEvent records a stake balance credit.
type StakeDepositedEvent struct {
	Owner  crypto.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// StakeWithdrawnEvent records a stake balance debit and transfer out.
type StakeWithdrawnEvent struct {
	Owner  crypto.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// MatchRatedEvent records an encrypted rating and the resulting reputation
// aggregate of the rated party. Aggregation results are carried in the event
// so applying it is deterministic.
type MatchRatedEvent struct {
	MatchID  MatchID            `json:"match_id"`
	Rater    crypto.Address     `json:"rater"`
	Ratee    crypto.Address     `json:"ratee"`
	Rating   gateway.Ciphertext `json:"rating"`
	NewSum   gateway.Ciphertext `json:"new_sum"`
	NewCount uint64             `json:"new_count"`
}

// CompatibilityScoredEvent records a scorer-submitted encrypted score.
type CompatibilityScoredEvent struct {
	MatchID MatchID            `json:"match_id"`
	Score   gateway.Ciphertext `json:"score"`
}

// TokensMintedEvent records an admin mint. NewBalance is the account's
// resulting encrypted balance.
type TokensMintedEvent struct {
	To         crypto.Address     `json:"to"`
	Amount     uint64             `json:"amount"`
	NewBalance gateway.Ciphertext `json:"new_balance"`
}

// SuperLikePurchasedEvent records a super-like purchase and the resulting
// encrypted balance.
type SuperLikePurchasedEvent struct {
	User       crypto.Address     `json:"user"`
	Count      uint64             `json:"count"`
	NewBalance gateway.Ciphertext `json:"new_balance"`
}

// ProfileBoostedEvent records a boost purchase; the expiry is derived from
// the commit time plus the configured duration at apply time.
type ProfileBoostedEvent struct {
	User       crypto.Address     `json:"user"`
	NewBalance gateway.Ciphertext `json:"new_balance"`
}

// PremiumActivatedEvent records a premium activation; the expiry is derived
// from the commit time plus the configured duration at apply time.
type PremiumActivatedEvent struct {
	User       crypto.Address     `json:"user"`
	NewBalance gateway.Ciphertext `json:"new_balance"`
}

// HumanVerifiedEvent records the verification oracle marking a user verified.
type HumanVerifiedEvent struct {
	User crypto.Address `json:"user"`
}
