package protocol

import (
	"time"

	"github.com/shivaniD96/web3cupid/crypto"
)

// Config provides the chain parameters of a web3cupid deployment. Stake
// amounts are in the smallest monetary unit ("wei"); token costs are in
// whole CUPID tokens.
type Config struct {
	// MinStake is the mandatory anti-spam deposit bundled into profile
	// creation.
	MinStake uint64 `json:"min_stake"`

	// MessageStake is the per-message fee debited from the sender's stake
	// balance.
	MessageStake uint64 `json:"message_stake"`

	// SuperLikeCost is the token price of one super like.
	SuperLikeCost uint64 `json:"super_like_cost"`

	// ProfileBoostCost is the token price of one profile boost.
	ProfileBoostCost uint64 `json:"profile_boost_cost"`

	// PremiumCost is the token price of one premium period.
	PremiumCost uint64 `json:"premium_cost"`

	// BoostDuration is how long a purchased boost lasts.
	BoostDuration time.Duration `json:"boost_duration,string"`

	// PremiumDuration is how long a purchased premium period lasts.
	PremiumDuration time.Duration `json:"premium_duration,string"`

	// Oracle is the only address allowed to submit human-verification
	// attestations. Empty disables verification.
	Oracle crypto.Address `json:"oracle,omitempty"`

	// Admin is the only address allowed to mint tokens.
	Admin crypto.Address `json:"admin,omitempty"`

	// Scorer is the only address allowed to submit compatibility scores.
	// Empty disables score submission.
	Scorer crypto.Address `json:"scorer,omitempty"`
}

// DefaultConfig returns the parameters used by tests and local deployments:
// 0.001 units minimum stake, 0.00001 units per message.
func DefaultConfig() *Config {
	return &Config{
		MinStake:         1_000_000_000_000_000, // 0.001 * 1e18
		MessageStake:     10_000_000_000_000,    // 0.00001 * 1e18
		SuperLikeCost:    10,
		ProfileBoostCost: 50,
		PremiumCost:      100,
		BoostDuration:    24 * time.Hour,
		PremiumDuration:  30 * 24 * time.Hour,
	}
}

// Validate reports a ConfigurationError for parameters no deployment can run
// with.
func (c *Config) Validate() error {
	if c.MinStake == 0 {
		return &ConfigurationError{Reason: "min stake must be positive"}
	}
	if c.MessageStake == 0 {
		return &ConfigurationError{Reason: "message stake must be positive"}
	}
	if c.PremiumDuration <= 0 || c.BoostDuration <= 0 {
		return &ConfigurationError{Reason: "premium and boost durations must be positive"}
	}
	if c.Oracle != crypto.ZeroAddress && !c.Oracle.Valid() {
		return &ConfigurationError{Reason: "oracle address malformed"}
	}
	if c.Admin != crypto.ZeroAddress && !c.Admin.Valid() {
		return &ConfigurationError{Reason: "admin address malformed"}
	}
	if c.Scorer != crypto.ZeroAddress && !c.Scorer.Valid() {
		return &ConfigurationError{Reason: "scorer address malformed"}
	}
	return nil
}
