package protocol

import (
	"context"
	"fmt"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
)

// RateMatch submits an encrypted rating of the caller's counterparty on a
// mutually accepted match. Clients range-check the plaintext with
// ValidateRating before encrypting. One rating per party per match; a second
// attempt fails with ErrAlreadyRated. The running encrypted sum is folded
// inside the transaction so the plaintext never surfaces.
func (n *Node) RateMatch(ctx context.Context, sub Submission, id MatchID, rating gateway.Ciphertext) (*Receipt, error) {
	return n.submit(ctx, sub, "rateMatch", func() ([]Event, error) {
		m, err := n.requireParty(id, sub.Caller)
		if err != nil {
			return nil, err
		}
		if !m.CanMessage() {
			return nil, ErrNotMatched
		}
		if len(rating) == 0 {
			return nil, &ValidationError{Field: "rating", Reason: "ciphertext is required"}
		}
		if n.rated[id][sub.Caller] {
			return nil, ErrAlreadyRated
		}
		ratee, _ := m.OtherUser(sub.Caller)

		newSum := rating
		var newCount uint64 = 1
		if agg := n.reputation[ratee]; agg != nil {
			newSum, err = n.gw.Add(agg.Sum, rating)
			if err != nil {
				return nil, fmt.Errorf("folding rating: %w", err)
			}
			newCount = agg.Count + 1
		}
		ev, err := newEvent(EvMatchRated, MatchRatedEvent{
			MatchID:  id,
			Rater:    sub.Caller,
			Ratee:    ratee,
			Rating:   rating,
			NewSum:   newSum,
			NewCount: newCount,
		})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// SubmitCompatibilityScore stores the scorer's encrypted compatibility score
// for a match. Only the configured scorer address may call it; resubmission
// overwrites.
func (n *Node) SubmitCompatibilityScore(ctx context.Context, sub Submission, id MatchID, score gateway.Ciphertext) (*Receipt, error) {
	return n.submit(ctx, sub, "submitCompatibilityScore", func() ([]Event, error) {
		if n.cfg.Scorer == crypto.ZeroAddress || sub.Caller != n.cfg.Scorer {
			return nil, ErrNotScorer
		}
		if _, ok := n.matches[id]; !ok {
			return nil, ErrUnknownMatch
		}
		if len(score) == 0 {
			return nil, &ValidationError{Field: "score", Reason: "ciphertext is required"}
		}
		ev, err := newEvent(EvCompatibilityScored, CompatibilityScoredEvent{MatchID: id, Score: score})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// ReputationScore seals user's rating sum under the permit and returns it
// with the plaintext rating count. A user nobody rated yet has a zero count
// and no sealed sum.
func (n *Node) ReputationScore(user crypto.Address, permit gateway.Permit) (gateway.SealedValue, uint64, error) {
	n.mu.RLock()
	agg := n.reputation[user]
	n.mu.RUnlock()
	if agg == nil {
		return nil, 0, nil
	}
	sealed, err := n.gw.SealedDecrypt(agg.Sum, permit)
	if err != nil {
		return nil, 0, fmt.Errorf("sealing reputation sum: %w", err)
	}
	return sealed, agg.Count, nil
}

// ReputationAverage seals user's mean rating under the permit, rounded down.
func (n *Node) ReputationAverage(user crypto.Address, permit gateway.Permit) (gateway.SealedValue, error) {
	n.mu.RLock()
	agg := n.reputation[user]
	n.mu.RUnlock()
	if agg == nil || agg.Count == 0 {
		return nil, nil
	}
	mean, err := n.gw.DivPlain(agg.Sum, agg.Count)
	if err != nil {
		return nil, fmt.Errorf("averaging reputation: %w", err)
	}
	sealed, err := n.gw.SealedDecrypt(mean, permit)
	if err != nil {
		return nil, fmt.Errorf("sealing reputation average: %w", err)
	}
	return sealed, nil
}

// CompatibilityScore seals the scorer-submitted score of a match under the
// permit. Only the match parties may read it.
func (n *Node) CompatibilityScore(id MatchID, caller crypto.Address, permit gateway.Permit) (gateway.SealedValue, error) {
	n.mu.RLock()
	m, ok := n.matches[id]
	var score gateway.Ciphertext
	if ok {
		score = n.compat[id]
	}
	n.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownMatch
	}
	if !m.HasUser(caller) {
		return nil, ErrNotAParty
	}
	if len(score) == 0 {
		return nil, nil
	}
	sealed, err := n.gw.SealedDecrypt(score, permit)
	if err != nil {
		return nil, fmt.Errorf("sealing compatibility score: %w", err)
	}
	return sealed, nil
}
