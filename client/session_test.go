package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/ledger"
	"github.com/shivaniD96/web3cupid/protocol"
	"github.com/shivaniD96/web3cupid/server"
)

func startTestNode(t *testing.T, cfg *protocol.Config) (*httptest.Server, *protocol.Node) {
	t.Helper()
	gw, err := gateway.NewInMemoryGateway()
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	node, err := protocol.NewNode(cfg, gw, ledger.NewMemLog(), log)
	require.NoError(t, err)

	router := chi.NewRouter()
	server.NewNodeHandler(node, log).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, node
}

func dialSession(t *testing.T, srv *httptest.Server, key crypto.PrivateKey) *Session {
	t.Helper()
	s, err := Dial(context.Background(), SessionConfig{
		BaseURL:    srv.URL,
		SigningKey: key,
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return s
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("0.001")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000_000_000), v)

	v, err = ParseAmount("1")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000_000_000_000), v)

	_, err = ParseAmount("-1")
	require.Error(t, err)
	_, err = ParseAmount("0.0000000000000000001")
	require.Error(t, err)
	_, err = ParseAmount("not a number")
	require.Error(t, err)

	require.Equal(t, "0.001", FormatAmount(1_000_000_000_000_000))
}

func TestSessionEndToEnd(t *testing.T) {
	srv, _ := startTestNode(t, nil)
	ctx := context.Background()

	alice := dialSession(t, srv, nil)
	bob := dialSession(t, srv, nil)
	minStake := alice.ChainConfig().MinStake

	attrs := protocol.ProfileAttributes{
		Age: 27, CryptoExperience: 3, RiskTolerance: 8, InvestmentStyle: 1,
		PreferredChain: 2, TradingFrequency: 4, PortfolioRange: 2, SocialActivity: 3,
	}
	_, err := alice.CreateProfile(ctx, attrs, "alice", minStake)
	require.NoError(t, err)
	attrs.Age = 31
	_, err = bob.CreateProfile(ctx, attrs, "bob", minStake)
	require.NoError(t, err)

	// Out-of-range plaintext never reaches the wire.
	bad := attrs
	bad.Age = 17
	_, err = alice.CreateProfile(ctx, bad, "", minStake)
	var vErr *protocol.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = alice.SetPreferences(ctx, protocol.PreferenceCriteria{MinAge: 25, MaxAge: 40})
	require.NoError(t, err)

	_, err = alice.LikeUser(ctx, bob.Address())
	require.NoError(t, err)
	likes, err := bob.Likes(ctx)
	require.NoError(t, err)
	require.Equal(t, []crypto.Address{alice.Address()}, likes)

	r, err := bob.LikeUser(ctx, alice.Address())
	require.NoError(t, err)
	id, ok := r.MatchCreated()
	require.True(t, ok)

	_, err = alice.AcceptMatch(ctx, id)
	require.NoError(t, err)
	_, err = bob.AcceptMatch(ctx, id)
	require.NoError(t, err)

	// The message is encrypted to bob's exchange key; only bob opens it.
	_, err = alice.SendMessage(ctx, id, "wanna talk tokenomics?")
	require.NoError(t, err)

	msgs, err := bob.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	plain, err := bob.DecryptMessage(msgs[0])
	require.NoError(t, err)
	require.Equal(t, "wanna talk tokenomics?", plain)
	_, err = alice.DecryptMessage(msgs[0])
	require.Error(t, err)

	balance, err := alice.StakingBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, minStake-alice.ChainConfig().MessageStake, balance)

	_, err = alice.RateMatch(ctx, id, 5)
	require.NoError(t, err)
	_, err = alice.RateMatch(ctx, id, 6)
	require.ErrorAs(t, err, &vErr)

	sum, count, err := bob.Reputation(ctx, bob.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
	require.Equal(t, uint64(5), sum)

	_, err = alice.RequestReveal(ctx, id)
	require.NoError(t, err)
	m, err := alice.Match(ctx, id)
	require.NoError(t, err)
	require.True(t, m.IsRevealed)
}

func TestSessionTokenFlow(t *testing.T) {
	adminPub, adminKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := protocol.DefaultConfig()
	cfg.Admin = adminPub.Address()
	srv, node := startTestNode(t, cfg)
	ctx := context.Background()

	admin := dialSession(t, srv, adminKey)
	user := dialSession(t, srv, nil)

	_, err = node.Mint(ctx, protocol.Submission{Caller: admin.Address(), Key: "mint-1"}, user.Address(), 500)
	require.NoError(t, err)

	balance, err := user.TokenBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), balance)

	_, err = user.PurchaseSuperLikes(ctx, 2)
	require.NoError(t, err)
	balance, err = user.TokenBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500-2*cfg.SuperLikeCost), balance)

	// A session with no tokens cannot read a balance that was never minted.
	stranger := dialSession(t, srv, nil)
	_, err = stranger.TokenBalance(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.Status)
}

func TestSessionWatchEvents(t *testing.T) {
	srv, _ := startTestNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := dialSession(t, srv, nil)
	feed, err := watcher.WatchEvents(ctx)
	require.NoError(t, err)

	actor := dialSession(t, srv, nil)
	attrs := protocol.ProfileAttributes{
		Age: 30, CryptoExperience: 1, RiskTolerance: 5, InvestmentStyle: 2,
		PreferredChain: 1, TradingFrequency: 1, PortfolioRange: 1, SocialActivity: 1,
	}
	_, err = actor.CreateProfile(ctx, attrs, "watched", actor.ChainConfig().MinStake)
	require.NoError(t, err)

	notice := <-feed
	require.Equal(t, "createProfile", notice.Op)
	require.Len(t, notice.Events, 1)
	require.Equal(t, protocol.EvProfileCreated, notice.Events[0].Kind)
}

func TestSessionClosed(t *testing.T) {
	srv, _ := startTestNode(t, nil)
	s := dialSession(t, srv, nil)

	s.Close()
	s.Close() // second close is a no-op

	_, err := s.StakingBalance(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.DepositStake(context.Background(), 1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.WatchEvents(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
