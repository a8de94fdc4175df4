package protocol

import (
	"context"
	"math"

	"github.com/shivaniD96/web3cupid/crypto"
)

// DepositStake credits amount to the caller's stake balance. A zero amount
// is rejected before anything is committed.
func (n *Node) DepositStake(ctx context.Context, sub Submission, amount uint64) (*Receipt, error) {
	return n.submit(ctx, sub, "depositStake", func() ([]Event, error) {
		if amount == 0 {
			return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
		}
		if _, ok := n.profiles[sub.Caller]; !ok {
			return nil, ErrNoProfile
		}
		if amount > math.MaxUint64-n.stakes[sub.Caller] {
			return nil, &ValidationError{Field: "amount", Reason: "balance would overflow"}
		}
		ev, err := newEvent(EvStakeDeposited, StakeDepositedEvent{Owner: sub.Caller, Amount: amount})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// WithdrawStake debits amount from the caller's stake balance. The balance
// check and the debit are one atomic step under the commit lock, so
// concurrent withdrawals can never overdraw.
func (n *Node) WithdrawStake(ctx context.Context, sub Submission, amount uint64) (*Receipt, error) {
	return n.submit(ctx, sub, "withdrawStake", func() ([]Event, error) {
		if amount == 0 {
			return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
		}
		if n.stakes[sub.Caller] < amount {
			return nil, ErrInsufficientBalance
		}
		ev, err := newEvent(EvStakeWithdrawn, StakeWithdrawnEvent{Owner: sub.Caller, Amount: amount})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// StakingBalance returns addr's stake balance in the smallest unit.
func (n *Node) StakingBalance(addr crypto.Address) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stakes[addr]
}
