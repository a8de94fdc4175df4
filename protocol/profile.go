package protocol

import (
	"context"
	"crypto/ecdh"

	"github.com/shivaniD96/web3cupid/crypto"
)

// CreateProfileParams carries everything a new profile needs. Attrs must be
// ciphertexts produced by this deployment's gateway; ExchangeKey is the
// owner's P-256 public key peers will encrypt message content to.
type CreateProfileParams struct {
	Attrs       EncryptedAttributes `json:"attrs"`
	Handle      string              `json:"handle,omitempty"`
	ExchangeKey []byte              `json:"exchange_key"`
	Payment     uint64              `json:"payment"`
}

// CreateProfile registers the caller's profile and credits the payment to
// their stake balance in one transaction. Exactly one profile per address,
// ever: a deactivated profile still blocks re-creation.
func (n *Node) CreateProfile(ctx context.Context, sub Submission, params CreateProfileParams) (*Receipt, error) {
	return n.submit(ctx, sub, "createProfile", func() ([]Event, error) {
		if _, exists := n.profiles[sub.Caller]; exists {
			return nil, ErrProfileExists
		}
		if !params.Attrs.complete() {
			return nil, &ValidationError{Field: "attrs", Reason: "all eight attribute ciphertexts are required"}
		}
		if _, err := ecdh.P256().NewPublicKey(params.ExchangeKey); err != nil {
			return nil, &ValidationError{Field: "exchangeKey", Reason: "not a valid P-256 public key"}
		}
		if params.Payment < n.cfg.MinStake {
			return nil, ErrInsufficientStake
		}
		ev, err := newEvent(EvProfileCreated, ProfileCreatedEvent{
			Owner:       sub.Caller,
			Handle:      params.Handle,
			ExchangeKey: params.ExchangeKey,
			Attrs:       params.Attrs,
			Stake:       params.Payment,
		})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// DeactivateProfile hides the caller from matching. Deactivating an already
// inactive profile commits nothing.
func (n *Node) DeactivateProfile(ctx context.Context, sub Submission) (*Receipt, error) {
	return n.setActive(ctx, sub, "deactivateProfile", false)
}

// ReactivateProfile undoes a deactivation. Idempotent like its counterpart.
func (n *Node) ReactivateProfile(ctx context.Context, sub Submission) (*Receipt, error) {
	return n.setActive(ctx, sub, "reactivateProfile", true)
}

func (n *Node) setActive(ctx context.Context, sub Submission, op string, active bool) (*Receipt, error) {
	return n.submit(ctx, sub, op, func() ([]Event, error) {
		p, ok := n.profiles[sub.Caller]
		if !ok {
			return nil, ErrNoProfile
		}
		if p.IsActive == active {
			return nil, nil
		}
		ev, err := newEvent(EvProfileUpdated, ProfileUpdatedEvent{Owner: sub.Caller, IsActive: active})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// SetPreferences overwrites the caller's matching criteria wholesale. All
// eight ciphertexts must be present; clients fill unset criteria with the
// permissive defaults before encrypting.
func (n *Node) SetPreferences(ctx context.Context, sub Submission, prefs PreferenceSet) (*Receipt, error) {
	return n.submit(ctx, sub, "setPreferences", func() ([]Event, error) {
		if _, err := n.requireActiveProfile(sub.Caller); err != nil {
			return nil, err
		}
		if !prefs.complete() {
			return nil, &ValidationError{Field: "preferences", Reason: "all eight criterion ciphertexts are required"}
		}
		ev, err := newEvent(EvPreferencesSet, PreferencesSetEvent{Owner: sub.Caller, Prefs: prefs})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// VerifyHuman marks a user as a verified human. Only the configured oracle
// address may call it; if the node carries an attestation verifier the quote
// must check out first.
func (n *Node) VerifyHuman(ctx context.Context, sub Submission, user crypto.Address, attestation []byte) (*Receipt, error) {
	if n.attest != nil {
		if err := n.attest.Verify(ctx, attestation); err != nil {
			return nil, err
		}
	}
	return n.submit(ctx, sub, "verifyHuman", func() ([]Event, error) {
		if n.cfg.Oracle == crypto.ZeroAddress || sub.Caller != n.cfg.Oracle {
			return nil, ErrNotOracle
		}
		p, ok := n.profiles[user]
		if !ok {
			return nil, ErrNoProfile
		}
		if p.IsVerified {
			return nil, nil
		}
		ev, err := newEvent(EvHumanVerified, HumanVerifiedEvent{User: user})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// HasProfile reports whether a profile exists for addr, active or not.
func (n *Node) HasProfile(addr crypto.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.profiles[addr]
	return ok
}

// GetProfile returns a copy of the profile for addr, ErrNoProfile if none
// was ever created.
func (n *Node) GetProfile(addr crypto.Address) (Profile, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.profiles[addr]
	if !ok {
		return Profile{}, ErrNoProfile
	}
	return *p, nil
}

// IsVerifiedHuman reports whether the oracle has verified addr.
func (n *Node) IsVerifiedHuman(addr crypto.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.profiles[addr]
	return ok && p.IsVerified
}

// ActiveUserCount returns the number of currently active profiles.
func (n *Node) ActiveUserCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.activeCount
}
