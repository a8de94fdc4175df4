package protocol

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, cfg *Config) (*Node, *gateway.InMemoryGateway, *ledger.MemLog) {
	t.Helper()
	gw, err := gateway.NewInMemoryGateway()
	require.NoError(t, err)
	log := ledger.NewMemLog()
	n, err := NewNode(cfg, gw, log, testLogger())
	require.NoError(t, err)
	return n, gw, log
}

type testUser struct {
	addr     crypto.Address
	exchPriv *ecdh.PrivateKey
}

func newTestUser(t *testing.T) testUser {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	exch, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testUser{addr: pub.Address(), exchPriv: exch}
}

func (u testUser) sub() Submission {
	return Submission{Caller: u.addr, Key: uuid.NewString()}
}

func validAttrs() ProfileAttributes {
	return ProfileAttributes{
		Age:              29,
		CryptoExperience: 5,
		RiskTolerance:    7,
		InvestmentStyle:  2,
		PreferredChain:   1,
		TradingFrequency: 3,
		PortfolioRange:   3,
		SocialActivity:   2,
	}
}

func encryptAttrs(t *testing.T, gw gateway.Gateway, a ProfileAttributes) EncryptedAttributes {
	t.Helper()
	enc := func(v uint8) gateway.Ciphertext {
		ct, err := gw.Encrypt(uint64(v), gateway.Uint8)
		require.NoError(t, err)
		return ct
	}
	return EncryptedAttributes{
		Age:              enc(a.Age),
		CryptoExperience: enc(a.CryptoExperience),
		RiskTolerance:    enc(a.RiskTolerance),
		InvestmentStyle:  enc(a.InvestmentStyle),
		PreferredChain:   enc(a.PreferredChain),
		TradingFrequency: enc(a.TradingFrequency),
		PortfolioRange:   enc(a.PortfolioRange),
		SocialActivity:   enc(a.SocialActivity),
	}
}

func encryptPrefs(t *testing.T, gw gateway.Gateway, c PreferenceCriteria) PreferenceSet {
	t.Helper()
	c = c.WithDefaults()
	enc := func(v uint8) gateway.Ciphertext {
		ct, err := gw.Encrypt(uint64(v), gateway.Uint8)
		require.NoError(t, err)
		return ct
	}
	return PreferenceSet{
		MinAge:                   enc(c.MinAge),
		MaxAge:                   enc(c.MaxAge),
		MinCryptoExperience:      enc(c.MinCryptoExperience),
		MinRiskTolerance:         enc(c.MinRiskTolerance),
		MaxRiskTolerance:         enc(c.MaxRiskTolerance),
		PreferredInvestmentStyle: enc(c.PreferredInvestmentStyle),
		PreferredChain:           enc(c.PreferredChain),
		MinPortfolioRange:        enc(c.MinPortfolioRange),
	}
}

func createProfile(t *testing.T, n *Node, u testUser) {
	t.Helper()
	_, err := n.CreateProfile(context.Background(), u.sub(), CreateProfileParams{
		Attrs:       encryptAttrs(t, n.Gateway(), validAttrs()),
		Handle:      "anon",
		ExchangeKey: u.exchPriv.PublicKey().Bytes(),
		Payment:     n.Config().MinStake,
	})
	require.NoError(t, err)
}

// createMatch sets up two profiles with a completed reciprocal pair and
// returns the match ID.
func createMatch(t *testing.T, n *Node, a, b testUser) MatchID {
	t.Helper()
	ctx := context.Background()
	createProfile(t, n, a)
	createProfile(t, n, b)
	_, err := n.LikeUser(ctx, a.sub(), b.addr)
	require.NoError(t, err)
	r, err := n.LikeUser(ctx, b.sub(), a.addr)
	require.NoError(t, err)
	id, ok := r.MatchCreated()
	require.True(t, ok)
	return id
}

func acceptBoth(t *testing.T, n *Node, id MatchID, a, b testUser) {
	t.Helper()
	ctx := context.Background()
	_, err := n.AcceptMatch(ctx, a.sub(), id)
	require.NoError(t, err)
	_, err = n.AcceptMatch(ctx, b.sub(), id)
	require.NoError(t, err)
}

func TestCreateProfile(t *testing.T) {
	n, gw, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)

	attrs := encryptAttrs(t, gw, validAttrs())
	params := CreateProfileParams{
		Attrs:       attrs,
		Handle:      "satoshi_admirer",
		ExchangeKey: u.exchPriv.PublicKey().Bytes(),
		Payment:     n.Config().MinStake,
	}

	r, err := n.CreateProfile(ctx, u.sub(), params)
	require.NoError(t, err)
	require.NotZero(t, r.Seq)
	require.Len(t, r.Events, 1)

	require.True(t, n.HasProfile(u.addr))
	p, err := n.GetProfile(u.addr)
	require.NoError(t, err)
	require.True(t, p.IsActive)
	require.False(t, p.IsVerified)
	require.Equal(t, "satoshi_admirer", p.PublicHandle)
	require.Equal(t, u.exchPriv.PublicKey().Bytes(), p.ExchangeKey)
	require.Equal(t, n.Config().MinStake, n.StakingBalance(u.addr))
	require.Equal(t, 1, n.ActiveUserCount())

	// One profile per address, ever.
	_, err = n.CreateProfile(ctx, u.sub(), params)
	require.ErrorIs(t, err, ErrProfileExists)
}

func TestCreateProfileRejectsBadInput(t *testing.T) {
	n, gw, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)
	attrs := encryptAttrs(t, gw, validAttrs())
	key := u.exchPriv.PublicKey().Bytes()

	_, err := n.CreateProfile(ctx, u.sub(), CreateProfileParams{
		Attrs: attrs, ExchangeKey: key, Payment: n.Config().MinStake - 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStake)

	incomplete := attrs
	incomplete.Age = nil
	_, err = n.CreateProfile(ctx, u.sub(), CreateProfileParams{
		Attrs: incomplete, ExchangeKey: key, Payment: n.Config().MinStake,
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "attrs", vErr.Field)

	_, err = n.CreateProfile(ctx, u.sub(), CreateProfileParams{
		Attrs: attrs, ExchangeKey: []byte{0x04, 0x01}, Payment: n.Config().MinStake,
	})
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "exchangeKey", vErr.Field)

	// Nothing committed by any of the rejections.
	require.False(t, n.HasProfile(u.addr))
	require.Zero(t, n.ActiveUserCount())
}

func TestAttributeValidationRanges(t *testing.T) {
	for _, tc := range []struct {
		field  string
		mutate func(*ProfileAttributes)
	}{
		{"age", func(a *ProfileAttributes) { a.Age = 17 }},
		{"age", func(a *ProfileAttributes) { a.Age = 100 }},
		{"cryptoExperience", func(a *ProfileAttributes) { a.CryptoExperience = 21 }},
		{"riskTolerance", func(a *ProfileAttributes) { a.RiskTolerance = 0 }},
		{"riskTolerance", func(a *ProfileAttributes) { a.RiskTolerance = 11 }},
		{"investmentStyle", func(a *ProfileAttributes) { a.InvestmentStyle = 5 }},
		{"preferredChain", func(a *ProfileAttributes) { a.PreferredChain = 0 }},
		{"tradingFrequency", func(a *ProfileAttributes) { a.TradingFrequency = 5 }},
		{"portfolioRange", func(a *ProfileAttributes) { a.PortfolioRange = 6 }},
		{"socialActivity", func(a *ProfileAttributes) { a.SocialActivity = 0 }},
	} {
		attrs := validAttrs()
		tc.mutate(&attrs)
		err := attrs.Validate()
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		require.Equal(t, tc.field, vErr.Field)
	}
	require.NoError(t, validAttrs().Validate())
}

func TestDeactivateReactivate(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)
	createProfile(t, n, u)

	r, err := n.DeactivateProfile(ctx, u.sub())
	require.NoError(t, err)
	require.NotZero(t, r.Seq)
	require.Zero(t, n.ActiveUserCount())

	// Repeat is a silent no-op: nothing new is committed.
	r, err = n.DeactivateProfile(ctx, u.sub())
	require.NoError(t, err)
	require.Zero(t, r.Seq)

	r, err = n.ReactivateProfile(ctx, u.sub())
	require.NoError(t, err)
	require.NotZero(t, r.Seq)
	require.Equal(t, 1, n.ActiveUserCount())

	other := newTestUser(t)
	_, err = n.DeactivateProfile(ctx, other.sub())
	require.ErrorIs(t, err, ErrNoProfile)
}

func TestSetPreferences(t *testing.T) {
	n, gw, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)

	prefs := encryptPrefs(t, gw, PreferenceCriteria{MinAge: 25, MaxAge: 35})
	_, err := n.SetPreferences(ctx, u.sub(), prefs)
	require.ErrorIs(t, err, ErrNoProfile)

	createProfile(t, n, u)
	_, err = n.SetPreferences(ctx, u.sub(), prefs)
	require.NoError(t, err)

	_, err = n.SetPreferences(ctx, u.sub(), PreferenceSet{MinAge: prefs.MinAge})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestLikeAndMatch(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	createProfile(t, n, a)
	createProfile(t, n, b)

	_, err := n.LikeUser(ctx, a.sub(), a.addr)
	require.ErrorIs(t, err, ErrSelfLike)

	r, err := n.LikeUser(ctx, a.sub(), b.addr)
	require.NoError(t, err)
	_, matched := r.MatchCreated()
	require.False(t, matched)
	require.True(t, n.HasLiked(a.addr, b.addr))
	require.False(t, n.HasLiked(b.addr, a.addr))
	require.Equal(t, []crypto.Address{a.addr}, n.GetLikes(b.addr))

	// Repeat like commits nothing.
	r, err = n.LikeUser(ctx, a.sub(), b.addr)
	require.NoError(t, err)
	require.Zero(t, r.Seq)

	r, err = n.LikeUser(ctx, b.sub(), a.addr)
	require.NoError(t, err)
	id, matched := r.MatchCreated()
	require.True(t, matched)
	require.Equal(t, MatchIDFor(a.addr, b.addr), id)
	require.True(t, id.Valid())

	m, err := n.GetMatch(id)
	require.NoError(t, err)
	require.True(t, m.HasUser(a.addr))
	require.True(t, m.HasUser(b.addr))
	require.False(t, m.CanMessage())
	require.Equal(t, []MatchID{id}, n.UserMatches(a.addr))
	require.Equal(t, []MatchID{id}, n.UserMatches(b.addr))

	// A completed pair drops out of the likes list.
	require.Empty(t, n.GetLikes(b.addr))
	require.Empty(t, n.GetLikes(a.addr))
}

func TestLikeRequiresActiveProfiles(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	createProfile(t, n, a)

	_, err := n.LikeUser(ctx, a.sub(), b.addr)
	require.ErrorIs(t, err, ErrNoProfile)

	createProfile(t, n, b)
	_, err = n.DeactivateProfile(ctx, b.sub())
	require.NoError(t, err)
	_, err = n.LikeUser(ctx, a.sub(), b.addr)
	require.ErrorIs(t, err, ErrNoProfile)
}

func TestConcurrentReciprocalLikes(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	createProfile(t, n, a)
	createProfile(t, n, b)

	var wg sync.WaitGroup
	for _, pair := range [][2]testUser{{a, b}, {b, a}} {
		wg.Add(1)
		go func(from, to testUser) {
			defer wg.Done()
			_, err := n.LikeUser(ctx, from.sub(), to.addr)
			require.NoError(t, err)
		}(pair[0], pair[1])
	}
	wg.Wait()

	// Exactly one match regardless of interleaving.
	id := MatchIDFor(a.addr, b.addr)
	_, err := n.GetMatch(id)
	require.NoError(t, err)
	require.Len(t, n.UserMatches(a.addr), 1)
	require.Len(t, n.UserMatches(b.addr), 1)
}

func TestAcceptAndReveal(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)

	stranger := newTestUser(t)
	_, err := n.AcceptMatch(ctx, stranger.sub(), id)
	require.ErrorIs(t, err, ErrNotAParty)
	_, err = n.AcceptMatch(ctx, a.sub(), MatchID("0xdeadbeef"))
	require.ErrorIs(t, err, ErrUnknownMatch)

	_, err = n.RequestReveal(ctx, a.sub(), id)
	require.ErrorIs(t, err, ErrNotRevealable)

	_, err = n.AcceptMatch(ctx, a.sub(), id)
	require.NoError(t, err)
	m, err := n.GetMatch(id)
	require.NoError(t, err)
	require.True(t, m.Accepted(a.addr))
	require.False(t, m.CanMessage())

	// Accepting again commits nothing.
	r, err := n.AcceptMatch(ctx, a.sub(), id)
	require.NoError(t, err)
	require.Zero(t, r.Seq)

	_, err = n.AcceptMatch(ctx, b.sub(), id)
	require.NoError(t, err)
	m, err = n.GetMatch(id)
	require.NoError(t, err)
	require.True(t, m.CanMessage())
	require.False(t, m.IsRevealed)

	_, err = n.RequestReveal(ctx, b.sub(), id)
	require.NoError(t, err)
	m, err = n.GetMatch(id)
	require.NoError(t, err)
	require.True(t, m.IsRevealed)

	// Reveal is terminal and idempotent.
	r, err = n.RequestReveal(ctx, a.sub(), id)
	require.NoError(t, err)
	require.Zero(t, r.Seq)
}

func TestMessaging(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)
	fee := n.Config().MessageStake

	_, err := n.SendMessage(ctx, a.sub(), id, []byte("gm"), fee)
	require.ErrorIs(t, err, ErrNotMatched)

	acceptBoth(t, n, id, a, b)

	_, err = n.SendMessage(ctx, a.sub(), id, []byte("gm"), fee-1)
	require.ErrorIs(t, err, ErrInsufficientStake)
	_, err = n.SendMessage(ctx, a.sub(), id, nil, fee)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	before := n.StakingBalance(a.addr)
	_, err = n.SendMessage(ctx, a.sub(), id, []byte("gm"), fee)
	require.NoError(t, err)
	require.Equal(t, before-fee, n.StakingBalance(a.addr))

	_, err = n.SendMessage(ctx, b.sub(), id, []byte("gm gm"), fee)
	require.NoError(t, err)

	msgs, err := n.Messages(id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, a.addr, msgs[0].Sender)
	require.Equal(t, []byte("gm"), msgs[0].Content)
	require.Equal(t, fee, msgs[0].StakedAmount)
	require.Equal(t, b.addr, msgs[1].Sender)
	require.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))

	stranger := newTestUser(t)
	_, err = n.SendMessage(ctx, stranger.sub(), id, []byte("hi"), fee)
	require.ErrorIs(t, err, ErrNotAParty)
	_, err = n.Messages(MatchID("0xffff"))
	require.ErrorIs(t, err, ErrUnknownMatch)
}

func TestMessageFeeCannotOverdrawStake(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)
	acceptBoth(t, n, id, a, b)

	// Drain the stake balance, then the fee has nothing to come from.
	_, err := n.WithdrawStake(ctx, a.sub(), n.StakingBalance(a.addr))
	require.NoError(t, err)
	_, err = n.SendMessage(ctx, a.sub(), id, []byte("gm"), n.Config().MessageStake)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestStakeLedger(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)

	_, err := n.DepositStake(ctx, u.sub(), 100)
	require.ErrorIs(t, err, ErrNoProfile)

	createProfile(t, n, u)
	base := n.Config().MinStake

	_, err = n.DepositStake(ctx, u.sub(), 500)
	require.NoError(t, err)
	require.Equal(t, base+500, n.StakingBalance(u.addr))

	_, err = n.WithdrawStake(ctx, u.sub(), 200)
	require.NoError(t, err)
	require.Equal(t, base+300, n.StakingBalance(u.addr))

	_, err = n.WithdrawStake(ctx, u.sub(), base+301)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, base+300, n.StakingBalance(u.addr))

	_, err = n.DepositStake(ctx, u.sub(), 0)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestDepositStakeCannotOverflowBalance(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)
	createProfile(t, n, u)
	base := n.Config().MinStake

	// A deposit that would wrap the uint64 balance past zero must be
	// rejected outright, not committed with a shrunken balance.
	_, err := n.DepositStake(ctx, u.sub(), math.MaxUint64)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, base, n.StakingBalance(u.addr))

	_, err = n.DepositStake(ctx, u.sub(), math.MaxUint64-base)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), n.StakingBalance(u.addr))

	_, err = n.DepositStake(ctx, u.sub(), 1)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, uint64(math.MaxUint64), n.StakingBalance(u.addr))
}

func TestRateMatch(t *testing.T) {
	n, gw, _ := newTestNode(t, nil)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)

	rating := func(v uint8) gateway.Ciphertext {
		require.NoError(t, ValidateRating(v))
		ct, err := gw.Encrypt(uint64(v), gateway.Uint8)
		require.NoError(t, err)
		return ct
	}

	_, err := n.RateMatch(ctx, a.sub(), id, rating(5))
	require.ErrorIs(t, err, ErrNotMatched)

	acceptBoth(t, n, id, a, b)

	_, err = n.RateMatch(ctx, a.sub(), id, rating(5))
	require.NoError(t, err)
	_, err = n.RateMatch(ctx, a.sub(), id, rating(1))
	require.ErrorIs(t, err, ErrAlreadyRated)

	// The counterparty's rating is independent.
	_, err = n.RateMatch(ctx, b.sub(), id, rating(4))
	require.NoError(t, err)

	priv, permit, err := gateway.GeneratePermit()
	require.NoError(t, err)

	sealed, count, err := n.ReputationScore(b.addr, permit)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	sum, err := gateway.Unseal(priv, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(5), sum)

	// Rating an unknown address yields nothing, not an error.
	sealed, count, err = n.ReputationScore(newTestUser(t).addr, permit)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Nil(t, sealed)
}

func TestReputationAggregation(t *testing.T) {
	n, gw, _ := newTestNode(t, nil)
	ctx := context.Background()
	b := newTestUser(t)
	createProfile(t, n, b)

	// Three raters, three mutually accepted matches with b.
	for _, v := range []uint64{5, 4, 3} {
		r := newTestUser(t)
		createProfile(t, n, r)
		_, err := n.LikeUser(ctx, r.sub(), b.addr)
		require.NoError(t, err)
		rec, err := n.LikeUser(ctx, b.sub(), r.addr)
		require.NoError(t, err)
		id, ok := rec.MatchCreated()
		require.True(t, ok)
		acceptBoth(t, n, id, r, b)

		ct, err := gw.Encrypt(v, gateway.Uint8)
		require.NoError(t, err)
		_, err = n.RateMatch(ctx, r.sub(), id, ct)
		require.NoError(t, err)
	}

	priv, permit, err := gateway.GeneratePermit()
	require.NoError(t, err)

	sealed, count, err := n.ReputationScore(b.addr, permit)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)
	sum, err := gateway.Unseal(priv, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(12), sum)

	sealedAvg, err := n.ReputationAverage(b.addr, permit)
	require.NoError(t, err)
	avg, err := gateway.Unseal(priv, sealedAvg)
	require.NoError(t, err)
	require.Equal(t, uint64(4), avg)
}

func TestCompatibilityScore(t *testing.T) {
	scorer := newTestUser(t)
	cfg := DefaultConfig()
	cfg.Scorer = scorer.addr
	n, gw, _ := newTestNode(t, cfg)
	ctx := context.Background()
	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)

	score, err := gw.Encrypt(87, gateway.Uint8)
	require.NoError(t, err)

	_, err = n.SubmitCompatibilityScore(ctx, a.sub(), id, score)
	require.ErrorIs(t, err, ErrNotScorer)
	_, err = n.SubmitCompatibilityScore(ctx, scorer.sub(), MatchID("0xfefe"), score)
	require.ErrorIs(t, err, ErrUnknownMatch)

	_, err = n.SubmitCompatibilityScore(ctx, scorer.sub(), id, score)
	require.NoError(t, err)

	priv, permit, err := gateway.GeneratePermit()
	require.NoError(t, err)

	sealed, err := n.CompatibilityScore(id, a.addr, permit)
	require.NoError(t, err)
	v, err := gateway.Unseal(priv, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(87), v)

	_, err = n.CompatibilityScore(id, newTestUser(t).addr, permit)
	require.ErrorIs(t, err, ErrNotAParty)
}

func TestTokenEconomy(t *testing.T) {
	admin := newTestUser(t)
	cfg := DefaultConfig()
	cfg.Admin = admin.addr
	n, _, _ := newTestNode(t, cfg)
	ctx := context.Background()
	u := newTestUser(t)
	createProfile(t, n, u)

	_, err := n.Mint(ctx, u.sub(), u.addr, 1000)
	require.ErrorIs(t, err, ErrNotAdmin)

	priv, permit, err := gateway.GeneratePermit()
	require.NoError(t, err)
	_, err = n.BalanceOf(u.addr, permit)
	require.ErrorIs(t, err, ErrNoTokenAccount)

	_, err = n.Mint(ctx, admin.sub(), u.addr, 1000)
	require.NoError(t, err)
	_, err = n.Mint(ctx, admin.sub(), u.addr, 500)
	require.NoError(t, err)

	balance := func() uint64 {
		sealed, err := n.BalanceOf(u.addr, permit)
		require.NoError(t, err)
		v, err := gateway.Unseal(priv, sealed)
		require.NoError(t, err)
		return v
	}
	require.Equal(t, uint64(1500), balance())

	_, err = n.PurchaseSuperLikes(ctx, u.sub(), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n.SuperLikesRemaining(u.addr))
	require.Equal(t, uint64(1500-3*cfg.SuperLikeCost), balance())

	_, err = n.PurchaseProfileBoost(ctx, u.sub())
	require.NoError(t, err)
	require.True(t, n.IsBoosted(u.addr))
	require.False(t, n.IsPremium(u.addr))

	_, err = n.ActivatePremium(ctx, u.sub())
	require.NoError(t, err)
	require.True(t, n.IsPremium(u.addr))

	// Both flip off once their expiry passes; no stored boolean to unset.
	n.clock = func() time.Time { return time.Now().Add(cfg.BoostDuration + time.Minute) }
	require.False(t, n.IsBoosted(u.addr))
	require.True(t, n.IsPremium(u.addr))
	n.clock = func() time.Time { return time.Now().Add(cfg.PremiumDuration + time.Minute) }
	require.False(t, n.IsPremium(u.addr))
}

func TestTokenPurchaseInsufficient(t *testing.T) {
	admin := newTestUser(t)
	cfg := DefaultConfig()
	cfg.Admin = admin.addr
	n, _, _ := newTestNode(t, cfg)
	ctx := context.Background()
	u := newTestUser(t)

	_, err := n.PurchaseProfileBoost(ctx, u.sub())
	require.ErrorIs(t, err, ErrNoTokenAccount)

	_, err = n.Mint(ctx, admin.sub(), u.addr, cfg.ProfileBoostCost-1)
	require.NoError(t, err)
	_, err = n.PurchaseProfileBoost(ctx, u.sub())
	require.ErrorIs(t, err, ErrInsufficientTokens)
	require.False(t, n.IsBoosted(u.addr))
}

func TestSuperLikePurchaseCountOverflow(t *testing.T) {
	admin := newTestUser(t)
	cfg := DefaultConfig()
	cfg.Admin = admin.addr
	n, _, _ := newTestNode(t, cfg)
	ctx := context.Background()
	u := newTestUser(t)

	priv, permit, err := gateway.GeneratePermit()
	require.NoError(t, err)
	_, err = n.Mint(ctx, admin.sub(), u.addr, 5)
	require.NoError(t, err)

	// count times the per-unit cost wraps past 2^64 to a tiny total. The
	// purchase must fail rather than be priced at the wrapped value.
	count := math.MaxUint64/cfg.SuperLikeCost + 1
	_, err = n.PurchaseSuperLikes(ctx, u.sub(), count)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	require.Zero(t, n.SuperLikesRemaining(u.addr))
	sealed, err := n.BalanceOf(u.addr, permit)
	require.NoError(t, err)
	v, err := gateway.Unseal(priv, sealed)
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
}

func TestVerifyHuman(t *testing.T) {
	oracle := newTestUser(t)
	cfg := DefaultConfig()
	cfg.Oracle = oracle.addr
	n, _, _ := newTestNode(t, cfg)
	ctx := context.Background()
	u := newTestUser(t)
	createProfile(t, n, u)

	_, err := n.VerifyHuman(ctx, u.sub(), u.addr, nil)
	require.ErrorIs(t, err, ErrNotOracle)
	require.False(t, n.IsVerifiedHuman(u.addr))

	_, err = n.VerifyHuman(ctx, oracle.sub(), u.addr, nil)
	require.NoError(t, err)
	require.True(t, n.IsVerifiedHuman(u.addr))

	// Second verification commits nothing.
	r, err := n.VerifyHuman(ctx, oracle.sub(), u.addr, nil)
	require.NoError(t, err)
	require.Zero(t, r.Seq)
}

func TestIdempotentResubmission(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx := context.Background()
	u := newTestUser(t)
	createProfile(t, n, u)
	base := n.StakingBalance(u.addr)

	sub := Submission{Caller: u.addr, Key: uuid.NewString()}
	first, err := n.DepositStake(ctx, sub, 500)
	require.NoError(t, err)

	// Resubmitting under the same key returns the stored receipt and does
	// not charge again.
	second, err := n.DepositStake(ctx, sub, 500)
	require.NoError(t, err)
	require.Equal(t, first.Seq, second.Seq)
	require.Equal(t, base+500, n.StakingBalance(u.addr))

	// A different caller with the same key is unrelated.
	other := newTestUser(t)
	createProfile(t, n, other)
	_, err = n.DepositStake(ctx, Submission{Caller: other.addr, Key: sub.Key}, 500)
	require.NoError(t, err)
	require.Equal(t, base+500, n.StakingBalance(u.addr))
}

func TestReplayReproducesState(t *testing.T) {
	gw, err := gateway.NewInMemoryGateway()
	require.NoError(t, err)
	log := ledger.NewMemLog()
	admin, oracle := newTestUser(t), newTestUser(t)
	cfg := DefaultConfig()
	cfg.Admin = admin.addr
	cfg.Oracle = oracle.addr

	n, err := NewNode(cfg, gw, log, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	a, b := newTestUser(t), newTestUser(t)
	id := createMatch(t, n, a, b)
	acceptBoth(t, n, id, a, b)
	_, err = n.SendMessage(ctx, a.sub(), id, []byte("gm"), cfg.MessageStake)
	require.NoError(t, err)
	_, err = n.RequestReveal(ctx, a.sub(), id)
	require.NoError(t, err)
	_, err = n.Mint(ctx, admin.sub(), a.addr, 200)
	require.NoError(t, err)
	_, err = n.PurchaseSuperLikes(ctx, a.sub(), 2)
	require.NoError(t, err)
	_, err = n.VerifyHuman(ctx, oracle.sub(), b.addr, nil)
	require.NoError(t, err)
	dupKey := Submission{Caller: a.addr, Key: uuid.NewString()}
	firstReceipt, err := n.DepositStake(ctx, dupKey, 42)
	require.NoError(t, err)

	// A fresh node over the same log arrives at the same projections.
	n2, err := NewNode(cfg, gw, log, testLogger())
	require.NoError(t, err)

	require.Equal(t, n.ActiveUserCount(), n2.ActiveUserCount())
	require.Equal(t, n.StakingBalance(a.addr), n2.StakingBalance(a.addr))
	require.Equal(t, n.StakingBalance(b.addr), n2.StakingBalance(b.addr))
	require.Equal(t, n.SuperLikesRemaining(a.addr), n2.SuperLikesRemaining(a.addr))
	require.True(t, n2.IsVerifiedHuman(b.addr))

	m1, err := n.GetMatch(id)
	require.NoError(t, err)
	m2, err := n2.GetMatch(id)
	require.NoError(t, err)
	require.Equal(t, m1, m2)

	msgs1, err := n.Messages(id)
	require.NoError(t, err)
	msgs2, err := n2.Messages(id)
	require.NoError(t, err)
	require.Equal(t, msgs1, msgs2)

	p1, err := n.GetProfile(a.addr)
	require.NoError(t, err)
	p2, err := n2.GetProfile(a.addr)
	require.NoError(t, err)
	require.Equal(t, p1, p2)

	// Idempotency keys survive the replay.
	replayed, err := n2.DepositStake(ctx, dupKey, 42)
	require.NoError(t, err)
	require.Equal(t, firstReceipt.Seq, replayed.Seq)
	require.Equal(t, n.StakingBalance(a.addr), n2.StakingBalance(a.addr))
}

func TestSubscribe(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := n.Subscribe(ctx, 16)
	u := newTestUser(t)
	createProfile(t, n, u)
	_, err := n.DepositStake(context.Background(), u.sub(), 100)
	require.NoError(t, err)

	first := <-feed
	require.Equal(t, "createProfile", first.Op)
	require.Equal(t, uint64(1), first.Seq)
	require.Len(t, first.Events, 1)
	require.Equal(t, EvProfileCreated, first.Events[0].Kind)

	second := <-feed
	require.Equal(t, "depositStake", second.Op)
	require.Equal(t, uint64(2), second.Seq)

	cancel()
	for range feed {
	}
}

func TestMatchIDCanonical(t *testing.T) {
	a, b := newTestUser(t).addr, newTestUser(t).addr
	require.Equal(t, MatchIDFor(a, b), MatchIDFor(b, a))
	u1, u2 := CanonicalPair(b, a)
	v1, v2 := CanonicalPair(a, b)
	require.Equal(t, u1, v1)
	require.Equal(t, u2, v2)
	require.Less(t, u1.String(), u2.String())
	require.True(t, MatchIDFor(a, b).Valid())
}

func TestHistory(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	u := newTestUser(t)
	createProfile(t, n, u)
	_, err := n.DepositStake(context.Background(), u.sub(), 100)
	require.NoError(t, err)
	_, err = n.DepositStake(context.Background(), u.sub(), 200)
	require.NoError(t, err)

	all, err := n.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "createProfile", all[0].Op)
	require.Equal(t, uint64(1), all[0].Seq)

	tail, err := n.History(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "depositStake", tail[0].Op)
	require.Equal(t, uint64(3), tail[0].Seq)
}
