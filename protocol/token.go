package protocol

import (
	"context"
	"fmt"
	"math"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
)

// Mint credits amount CUPID tokens to an account, creating it if needed.
// Admin only. Balances stay encrypted end to end: the mint amount is
// encrypted by the gateway and folded into the running balance ciphertext.
func (n *Node) Mint(ctx context.Context, sub Submission, to crypto.Address, amount uint64) (*Receipt, error) {
	return n.submit(ctx, sub, "mint", func() ([]Event, error) {
		if n.cfg.Admin == crypto.ZeroAddress || sub.Caller != n.cfg.Admin {
			return nil, ErrNotAdmin
		}
		if amount == 0 {
			return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
		}
		minted, err := n.gw.Encrypt(amount, gateway.Uint64)
		if err != nil {
			return nil, fmt.Errorf("encrypting mint amount: %w", err)
		}
		newBalance := minted
		if acct, ok := n.tokens[to]; ok && len(acct.Balance) > 0 {
			newBalance, err = n.gw.Add(acct.Balance, minted)
			if err != nil {
				return nil, fmt.Errorf("crediting balance: %w", err)
			}
		}
		ev, err := newEvent(EvTokensMinted, TokensMintedEvent{To: to, Amount: amount, NewBalance: newBalance})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// PurchaseSuperLikes buys count super likes at the configured per-unit cost,
// debiting the caller's encrypted token balance.
func (n *Node) PurchaseSuperLikes(ctx context.Context, sub Submission, count uint64) (*Receipt, error) {
	return n.submit(ctx, sub, "purchaseSuperLikes", func() ([]Event, error) {
		if count == 0 {
			return nil, &ValidationError{Field: "count", Reason: "must be positive"}
		}
		if n.cfg.SuperLikeCost > 0 && count > math.MaxUint64/n.cfg.SuperLikeCost {
			return nil, &ValidationError{Field: "count", Reason: "total cost overflows"}
		}
		newBalance, err := n.debitTokens(sub.Caller, count*n.cfg.SuperLikeCost)
		if err != nil {
			return nil, err
		}
		ev, err := newEvent(EvSuperLikePurchased, SuperLikePurchasedEvent{
			User:       sub.Caller,
			Count:      count,
			NewBalance: newBalance,
		})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// PurchaseProfileBoost buys one boost period starting at the commit time.
func (n *Node) PurchaseProfileBoost(ctx context.Context, sub Submission) (*Receipt, error) {
	return n.submit(ctx, sub, "purchaseProfileBoost", func() ([]Event, error) {
		newBalance, err := n.debitTokens(sub.Caller, n.cfg.ProfileBoostCost)
		if err != nil {
			return nil, err
		}
		ev, err := newEvent(EvProfileBoosted, ProfileBoostedEvent{User: sub.Caller, NewBalance: newBalance})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// ActivatePremium buys one premium period starting at the commit time.
func (n *Node) ActivatePremium(ctx context.Context, sub Submission) (*Receipt, error) {
	return n.submit(ctx, sub, "activatePremium", func() ([]Event, error) {
		newBalance, err := n.debitTokens(sub.Caller, n.cfg.PremiumCost)
		if err != nil {
			return nil, err
		}
		ev, err := newEvent(EvPremiumActivated, PremiumActivatedEvent{User: sub.Caller, NewBalance: newBalance})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// debitTokens checks balance >= cost with a homomorphic compare and returns
// the post-debit balance ciphertext. Called with the write lock held.
func (n *Node) debitTokens(addr crypto.Address, cost uint64) (gateway.Ciphertext, error) {
	acct, ok := n.tokens[addr]
	if !ok || len(acct.Balance) == 0 {
		return nil, ErrNoTokenAccount
	}
	enough, err := n.gw.CmpGE(acct.Balance, cost)
	if err != nil {
		return nil, fmt.Errorf("comparing balance: %w", err)
	}
	if !enough {
		return nil, ErrInsufficientTokens
	}
	newBalance, err := n.gw.SubPlain(acct.Balance, cost)
	if err != nil {
		return nil, fmt.Errorf("debiting balance: %w", err)
	}
	return newBalance, nil
}

// BalanceOf seals addr's token balance under the permit. ErrNoTokenAccount
// if nothing was ever minted to addr.
func (n *Node) BalanceOf(addr crypto.Address, permit gateway.Permit) (gateway.SealedValue, error) {
	n.mu.RLock()
	acct, ok := n.tokens[addr]
	var balance gateway.Ciphertext
	if ok {
		balance = acct.Balance
	}
	n.mu.RUnlock()
	if !ok || len(balance) == 0 {
		return nil, ErrNoTokenAccount
	}
	sealed, err := n.gw.SealedDecrypt(balance, permit)
	if err != nil {
		return nil, fmt.Errorf("sealing balance: %w", err)
	}
	return sealed, nil
}

// SuperLikesRemaining returns addr's unused super likes.
func (n *Node) SuperLikesRemaining(addr crypto.Address) uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if acct, ok := n.tokens[addr]; ok {
		return acct.SuperLikesRemaining
	}
	return 0
}

// IsPremium reports whether addr's premium period covers the current time.
// No boolean is stored; the answer flips when the expiry passes.
func (n *Node) IsPremium(addr crypto.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if acct, ok := n.tokens[addr]; ok {
		return acct.PremiumAt(n.clock())
	}
	return false
}

// IsBoosted reports whether addr's boost period covers the current time.
func (n *Node) IsBoosted(addr crypto.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if acct, ok := n.tokens[addr]; ok {
		return acct.BoostedAt(n.clock())
	}
	return false
}
