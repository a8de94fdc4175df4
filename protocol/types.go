package protocol

import (
	"time"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
)

// ProfileAttributes are the plaintext attributes a user discloses only to the
// encryption gateway. They exist client-side for validation and encryption;
// the ledger only ever sees the resulting ciphertexts.
type ProfileAttributes struct {
	Age              uint8 `json:"age"`
	CryptoExperience uint8 `json:"crypto_experience"`
	RiskTolerance    uint8 `json:"risk_tolerance"`
	InvestmentStyle  uint8 `json:"investment_style"`
	PreferredChain   uint8 `json:"preferred_chain"`
	TradingFrequency uint8 `json:"trading_frequency"`
	PortfolioRange   uint8 `json:"portfolio_range"`
	SocialActivity   uint8 `json:"social_activity"`
}

// Validate checks every attribute against its allowed range. The first
// offending field is reported; nothing is encrypted or submitted on failure.
func (a ProfileAttributes) Validate() error {
	switch {
	case a.Age < 18 || a.Age > 99:
		return &ValidationError{Field: "age", Reason: "must be between 18 and 99"}
	case a.CryptoExperience > 20:
		return &ValidationError{Field: "cryptoExperience", Reason: "must be between 0 and 20 years"}
	case a.RiskTolerance < 1 || a.RiskTolerance > 10:
		return &ValidationError{Field: "riskTolerance", Reason: "must be between 1 and 10"}
	case a.InvestmentStyle < 1 || a.InvestmentStyle > 4:
		return &ValidationError{Field: "investmentStyle", Reason: "must be between 1 and 4"}
	case a.PreferredChain < 1 || a.PreferredChain > 4:
		return &ValidationError{Field: "preferredChain", Reason: "must be between 1 and 4"}
	case a.TradingFrequency < 1 || a.TradingFrequency > 4:
		return &ValidationError{Field: "tradingFrequency", Reason: "must be between 1 and 4"}
	case a.PortfolioRange < 1 || a.PortfolioRange > 5:
		return &ValidationError{Field: "portfolioRange", Reason: "must be between 1 and 5"}
	case a.SocialActivity < 1 || a.SocialActivity > 4:
		return &ValidationError{Field: "socialActivity", Reason: "must be between 1 and 4"}
	}
	return nil
}

// EncryptedAttributes is the ciphertext form of ProfileAttributes. Set at
// profile creation and immutable thereafter.
type EncryptedAttributes struct {
	Age              gateway.Ciphertext `json:"age"`
	CryptoExperience gateway.Ciphertext `json:"crypto_experience"`
	RiskTolerance    gateway.Ciphertext `json:"risk_tolerance"`
	InvestmentStyle  gateway.Ciphertext `json:"investment_style"`
	PreferredChain   gateway.Ciphertext `json:"preferred_chain"`
	TradingFrequency gateway.Ciphertext `json:"trading_frequency"`
	PortfolioRange   gateway.Ciphertext `json:"portfolio_range"`
	SocialActivity   gateway.Ciphertext `json:"social_activity"`
}

func (e EncryptedAttributes) complete() bool {
	return len(e.Age) > 0 && len(e.CryptoExperience) > 0 && len(e.RiskTolerance) > 0 &&
		len(e.InvestmentStyle) > 0 && len(e.PreferredChain) > 0 && len(e.TradingFrequency) > 0 &&
		len(e.PortfolioRange) > 0 && len(e.SocialActivity) > 0
}

// Profile is the per-identity record. Exactly one per address; created once,
// never deleted, only deactivated and reactivated.
type Profile struct {
	Owner        crypto.Address      `json:"owner"`
	Attrs        EncryptedAttributes `json:"attrs"`
	PublicHandle string              `json:"public_handle,omitempty"`
	// ExchangeKey is the owner's published P-256 public key. Peers encrypt
	// message content to it before submission.
	ExchangeKey []byte    `json:"exchange_key"`
	IsActive    bool      `json:"is_active"`
	IsVerified  bool      `json:"is_verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// PreferenceCriteria are the plaintext compatibility criteria. Unset fields
// default to permissive bounds before encryption.
type PreferenceCriteria struct {
	MinAge                   uint8 `json:"min_age"`
	MaxAge                   uint8 `json:"max_age"`
	MinCryptoExperience      uint8 `json:"min_crypto_experience"`
	MinRiskTolerance         uint8 `json:"min_risk_tolerance"`
	MaxRiskTolerance         uint8 `json:"max_risk_tolerance"`
	PreferredInvestmentStyle uint8 `json:"preferred_investment_style"`
	PreferredChain           uint8 `json:"preferred_chain"`
	MinPortfolioRange        uint8 `json:"min_portfolio_range"`
}

// WithDefaults fills unset fields with the permissive bounds the source
// applies: any age, any experience, any style/chain.
func (c PreferenceCriteria) WithDefaults() PreferenceCriteria {
	if c.MinAge == 0 {
		c.MinAge = 18
	}
	if c.MaxAge == 0 {
		c.MaxAge = 99
	}
	if c.MinRiskTolerance == 0 {
		c.MinRiskTolerance = 1
	}
	if c.MaxRiskTolerance == 0 {
		c.MaxRiskTolerance = 10
	}
	if c.MinPortfolioRange == 0 {
		c.MinPortfolioRange = 1
	}
	// PreferredInvestmentStyle and PreferredChain stay 0 = any.
	return c
}

// PreferenceSet is the ciphertext form of PreferenceCriteria. Overwritten
// wholesale by each setPreferences call; may be absent.
type PreferenceSet struct {
	MinAge                   gateway.Ciphertext `json:"min_age"`
	MaxAge                   gateway.Ciphertext `json:"max_age"`
	MinCryptoExperience      gateway.Ciphertext `json:"min_crypto_experience"`
	MinRiskTolerance         gateway.Ciphertext `json:"min_risk_tolerance"`
	MaxRiskTolerance         gateway.Ciphertext `json:"max_risk_tolerance"`
	PreferredInvestmentStyle gateway.Ciphertext `json:"preferred_investment_style"`
	PreferredChain           gateway.Ciphertext `json:"preferred_chain"`
	MinPortfolioRange        gateway.Ciphertext `json:"min_portfolio_range"`
}

func (p PreferenceSet) complete() bool {
	return len(p.MinAge) > 0 && len(p.MaxAge) > 0 && len(p.MinCryptoExperience) > 0 &&
		len(p.MinRiskTolerance) > 0 && len(p.MaxRiskTolerance) > 0 &&
		len(p.PreferredInvestmentStyle) > 0 && len(p.PreferredChain) > 0 &&
		len(p.MinPortfolioRange) > 0
}

// Match is a confirmed mutual-interest pairing. User1 and User2 are in
// canonical order; the ID is deterministic in the unordered pair.
type Match struct {
	ID            MatchID        `json:"id"`
	User1         crypto.Address `json:"user1"`
	User2         crypto.Address `json:"user2"`
	MatchedAt     time.Time      `json:"matched_at"`
	User1Accepted bool           `json:"user1_accepted"`
	User2Accepted bool           `json:"user2_accepted"`
	IsRevealed    bool           `json:"is_revealed"`
}

// HasUser reports whether addr is one of the two parties.
func (m *Match) HasUser(addr crypto.Address) bool {
	return m.User1 == addr || m.User2 == addr
}

// OtherUser returns the counterparty of addr, false if addr is not a party.
func (m *Match) OtherUser(addr crypto.Address) (crypto.Address, bool) {
	switch addr {
	case m.User1:
		return m.User2, true
	case m.User2:
		return m.User1, true
	}
	return crypto.ZeroAddress, false
}

// Accepted reports whether addr has accepted the match.
func (m *Match) Accepted(addr crypto.Address) bool {
	switch addr {
	case m.User1:
		return m.User1Accepted
	case m.User2:
		return m.User2Accepted
	}
	return false
}

// CanMessage is always derived, never cached: messaging opens exactly when
// both parties have accepted.
func (m *Match) CanMessage() bool {
	return m.User1Accepted && m.User2Accepted
}

// Message is one entry in a match's append-only message log. Content is
// opaque bytes; the channel does not encrypt, the sender must.
type Message struct {
	Sender       crypto.Address `json:"sender"`
	Content      []byte         `json:"content"`
	Timestamp    time.Time      `json:"timestamp"`
	StakedAmount uint64         `json:"staked_amount"`
}

// TokenAccount holds a user's encrypted CUPID balance and the plaintext
// premium-feature state. IsPremium/IsBoosted are derived from the expiry
// timestamps against ledger time, never stored as separate booleans.
type TokenAccount struct {
	Balance             gateway.Ciphertext `json:"balance"`
	SuperLikesRemaining uint64             `json:"super_likes_remaining"`
	PremiumExpiry       time.Time          `json:"premium_expiry"`
	BoostExpiry         time.Time          `json:"boost_expiry"`
}

// PremiumAt reports whether the account has premium at the given ledger time.
func (a *TokenAccount) PremiumAt(now time.Time) bool {
	return a.PremiumExpiry.After(now)
}

// BoostedAt reports whether the profile is boosted at the given ledger time.
func (a *TokenAccount) BoostedAt(now time.Time) bool {
	return a.BoostExpiry.After(now)
}

// Rating bounds for rateMatch.
const (
	MinRating = 1
	MaxRating = 5
)

// ValidateRating checks a rating against the allowed range before any
// ciphertext is produced.
func ValidateRating(rating uint8) error {
	if rating < MinRating || rating > MaxRating {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	return nil
}
