package protocol

import (
	"context"

	"github.com/shivaniD96/web3cupid/crypto"
)

// LikeUser records a directed interest edge from the caller to target. Both
// sides need an active profile. A repeated like commits nothing. When target
// has already liked the caller, the reciprocal pair is completed and the
// Match is created in the same transaction; the receipt's MatchCreated
// reports it.
func (n *Node) LikeUser(ctx context.Context, sub Submission, target crypto.Address) (*Receipt, error) {
	return n.submit(ctx, sub, "likeUser", func() ([]Event, error) {
		if sub.Caller == target {
			return nil, ErrSelfLike
		}
		if _, err := n.requireActiveProfile(sub.Caller); err != nil {
			return nil, err
		}
		if _, err := n.requireActiveProfile(target); err != nil {
			return nil, err
		}
		if n.likes[sub.Caller][target] {
			return nil, nil
		}
		like, err := newEvent(EvLikeSent, LikeSentEvent{From: sub.Caller, To: target})
		if err != nil {
			return nil, err
		}
		events := []Event{like}

		if n.likes[target][sub.Caller] {
			id := MatchIDFor(sub.Caller, target)
			if _, exists := n.matches[id]; !exists {
				u1, u2 := CanonicalPair(sub.Caller, target)
				created, err := newEvent(EvMatchCreated, MatchCreatedEvent{MatchID: id, User1: u1, User2: u2})
				if err != nil {
					return nil, err
				}
				events = append(events, created)
			}
		}
		return events, nil
	})
}

// AcceptMatch sets the caller's accept flag on the match. Accepting twice
// commits nothing; the flag never unsets.
func (n *Node) AcceptMatch(ctx context.Context, sub Submission, id MatchID) (*Receipt, error) {
	return n.submit(ctx, sub, "acceptMatch", func() ([]Event, error) {
		m, err := n.requireParty(id, sub.Caller)
		if err != nil {
			return nil, err
		}
		if m.Accepted(sub.Caller) {
			return nil, nil
		}
		ev, err := newEvent(EvMatchAccepted, MatchAcceptedEvent{MatchID: id, User: sub.Caller})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// RequestReveal marks a mutually accepted match as revealed, permitting the
// parties to exchange identifying details. Either party may request it;
// before mutual acceptance it fails with ErrNotRevealable.
func (n *Node) RequestReveal(ctx context.Context, sub Submission, id MatchID) (*Receipt, error) {
	return n.submit(ctx, sub, "requestReveal", func() ([]Event, error) {
		m, err := n.requireParty(id, sub.Caller)
		if err != nil {
			return nil, err
		}
		if !m.CanMessage() {
			return nil, ErrNotRevealable
		}
		if m.IsRevealed {
			return nil, nil
		}
		ev, err := newEvent(EvMatchRevealed, MatchRevealedEvent{MatchID: id})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// GetMatch returns a copy of the match, ErrUnknownMatch if the ID was never
// created.
func (n *Node) GetMatch(id MatchID) (Match, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.matches[id]
	if !ok {
		return Match{}, ErrUnknownMatch
	}
	return *m, nil
}

// UserMatches returns the IDs of every match addr is a party to, in creation
// order.
func (n *Node) UserMatches(addr crypto.Address) []MatchID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := n.userMatches[addr]
	out := make([]MatchID, len(ids))
	copy(out, ids)
	return out
}

// GetLikes returns the admirers of addr that addr has not liked back yet.
// Completed pairs graduate to matches and drop out of this list.
func (n *Node) GetLikes(addr crypto.Address) []crypto.Address {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var out []crypto.Address
	for admirer := range n.likedBy[addr] {
		if !n.likes[addr][admirer] {
			out = append(out, admirer)
		}
	}
	return out
}

// HasLiked reports whether from has liked to.
func (n *Node) HasLiked(from, to crypto.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.likes[from][to]
}
