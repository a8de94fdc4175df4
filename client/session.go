package client

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/atomic"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/protocol"
	"github.com/shivaniD96/web3cupid/server"
)

// APIError is a non-success response from the node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned status %d: %s", e.Status, e.Message)
}

// SessionConfig configures a Session. Only BaseURL is required; a missing
// signing key means a fresh identity.
type SessionConfig struct {
	BaseURL    string
	SigningKey crypto.PrivateKey
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Session is one identity's connection to a node. It owns the three private
// keys a participant holds: the Ed25519 signing key (the identity), the
// P-256 exchange key (messages are encrypted to its public half) and the
// permit key (private reads are sealed to it). None of them ever leave the
// session.
type Session struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	signKey   crypto.PrivateKey
	publicKey crypto.PublicKey
	exchPriv  *ecdh.PrivateKey

	permitPriv *ecdh.PrivateKey
	permit     gateway.Permit

	chainCfg protocol.Config
	closed   atomic.Bool
}

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("client: session closed")

// Dial creates a session against the node at cfg.BaseURL and fetches the
// deployment's chain parameters.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	signKey := cfg.SigningKey
	if signKey == nil {
		var err error
		_, signKey, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}
	publicKey, err := signKey.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	exchPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating exchange key: %w", err)
	}
	permitPriv, permit, err := gateway.GeneratePermit()
	if err != nil {
		return nil, err
	}

	s := &Session{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       cfg.HTTPClient,
		log:        cfg.Log,
		signKey:    signKey,
		publicKey:  publicKey,
		exchPriv:   exchPriv,
		permitPriv: permitPriv,
		permit:     permit,
	}
	if err := s.getJSON(ctx, "/api/config", &s.chainCfg); err != nil {
		return nil, fmt.Errorf("fetching chain parameters: %w", err)
	}
	return s, nil
}

// Address returns the session identity's address.
func (s *Session) Address() crypto.Address {
	return s.publicKey.Address()
}

// ChainConfig returns the deployment parameters fetched at dial time.
func (s *Session) ChainConfig() protocol.Config {
	return s.chainCfg
}

// Close ends the session: further operations return ErrClosed and idle
// connections to the node are dropped. Event watchers shut down through
// their own contexts.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.http.CloseIdleConnections()
	}
}

// ParseAmount converts a decimal token string ("0.001") to the smallest
// monetary unit.
func ParseAmount(amount string) (uint64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	smallest := d.Mul(decimal.New(1, 18))
	if smallest.IsNegative() || !smallest.IsInteger() {
		return 0, fmt.Errorf("amount %q does not resolve to a whole number of smallest units", amount)
	}
	bi := smallest.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return bi.Uint64(), nil
}

// FormatAmount renders a smallest-unit value as a decimal token string.
func FormatAmount(v uint64) string {
	return decimal.NewFromUint64(v).Div(decimal.New(1, 18)).String()
}

// CreateProfile validates the plaintext attributes, encrypts them through
// the node's gateway and submits the creation with the session's exchange
// public key and the given stake payment.
func (s *Session) CreateProfile(ctx context.Context, attrs protocol.ProfileAttributes, handle string, payment uint64) (*protocol.Receipt, error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	enc, err := s.encryptAttributes(ctx, attrs)
	if err != nil {
		return nil, err
	}
	return s.submitTx(ctx, "createProfile", protocol.CreateProfileParams{
		Attrs:       enc,
		Handle:      handle,
		ExchangeKey: s.exchPriv.PublicKey().Bytes(),
		Payment:     payment,
	})
}

// SetPreferences fills unset criteria with permissive defaults, encrypts
// all eight and overwrites the stored set.
func (s *Session) SetPreferences(ctx context.Context, criteria protocol.PreferenceCriteria) (*protocol.Receipt, error) {
	criteria = criteria.WithDefaults()
	fields := []uint8{
		criteria.MinAge, criteria.MaxAge, criteria.MinCryptoExperience,
		criteria.MinRiskTolerance, criteria.MaxRiskTolerance,
		criteria.PreferredInvestmentStyle, criteria.PreferredChain,
		criteria.MinPortfolioRange,
	}
	cts := make([]gateway.Ciphertext, len(fields))
	for i, v := range fields {
		ct, err := s.encryptScalar(ctx, uint64(v), gateway.Uint8)
		if err != nil {
			return nil, err
		}
		cts[i] = ct
	}
	return s.submitTx(ctx, "setPreferences", protocol.PreferenceSet{
		MinAge:                   cts[0],
		MaxAge:                   cts[1],
		MinCryptoExperience:      cts[2],
		MinRiskTolerance:         cts[3],
		MaxRiskTolerance:         cts[4],
		PreferredInvestmentStyle: cts[5],
		PreferredChain:           cts[6],
		MinPortfolioRange:        cts[7],
	})
}

func (s *Session) DeactivateProfile(ctx context.Context) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "deactivateProfile", nil)
}

func (s *Session) ReactivateProfile(ctx context.Context) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "reactivateProfile", nil)
}

// LikeUser submits a like. The returned receipt reports whether this
// completed a reciprocal pair.
func (s *Session) LikeUser(ctx context.Context, target crypto.Address) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "likeUser", server.LikeParams{Target: target})
}

func (s *Session) AcceptMatch(ctx context.Context, id protocol.MatchID) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "acceptMatch", server.MatchParams{MatchID: id})
}

func (s *Session) RequestReveal(ctx context.Context, id protocol.MatchID) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "requestReveal", server.MatchParams{MatchID: id})
}

func (s *Session) DepositStake(ctx context.Context, amount uint64) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "depositStake", server.AmountParams{Amount: amount})
}

func (s *Session) WithdrawStake(ctx context.Context, amount uint64) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "withdrawStake", server.AmountParams{Amount: amount})
}

// SendMessage encrypts the plaintext to the counterparty's exchange key and
// submits it with the message fee attached. The node never sees the
// plaintext.
func (s *Session) SendMessage(ctx context.Context, id protocol.MatchID, plaintext string) (*protocol.Receipt, error) {
	m, err := s.Match(ctx, id)
	if err != nil {
		return nil, err
	}
	peer, ok := m.OtherUser(s.Address())
	if !ok {
		return nil, protocol.ErrNotAParty
	}
	profile, err := s.Profile(ctx, peer)
	if err != nil {
		return nil, err
	}
	peerKey, err := ecdh.P256().NewPublicKey(profile.ExchangeKey)
	if err != nil {
		return nil, fmt.Errorf("counterparty exchange key: %w", err)
	}
	env, err := crypto.Encrypt(peerKey, []byte(plaintext))
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}
	return s.submitTx(ctx, "sendMessage", server.SendMessageParams{
		MatchID: id,
		Content: env.Bytes(),
		Payment: s.chainCfg.MessageStake,
	})
}

// DecryptMessage opens a message addressed to this session's exchange key.
func (s *Session) DecryptMessage(msg protocol.Message) (string, error) {
	env, err := crypto.ParseEncryptedMessage(msg.Content)
	if err != nil {
		return "", err
	}
	plain, err := crypto.Decrypt(s.exchPriv, env)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// RateMatch range-checks the rating, encrypts it and submits it. The
// plaintext rating exists only on this side of the wire.
func (s *Session) RateMatch(ctx context.Context, id protocol.MatchID, rating uint8) (*protocol.Receipt, error) {
	if err := protocol.ValidateRating(rating); err != nil {
		return nil, err
	}
	ct, err := s.encryptScalar(ctx, uint64(rating), gateway.Uint8)
	if err != nil {
		return nil, err
	}
	return s.submitTx(ctx, "rateMatch", server.RateParams{MatchID: id, Rating: ct})
}

func (s *Session) PurchaseSuperLikes(ctx context.Context, count uint64) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "purchaseSuperLikes", server.CountParams{Count: count})
}

func (s *Session) PurchaseProfileBoost(ctx context.Context) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "purchaseProfileBoost", nil)
}

func (s *Session) ActivatePremium(ctx context.Context) (*protocol.Receipt, error) {
	return s.submitTx(ctx, "activatePremium", nil)
}

// Profile fetches a profile by address.
func (s *Session) Profile(ctx context.Context, addr crypto.Address) (*protocol.Profile, error) {
	var p protocol.Profile
	if err := s.getJSON(ctx, "/api/profile/"+addr.String(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Match fetches a match by ID.
func (s *Session) Match(ctx context.Context, id protocol.MatchID) (*protocol.Match, error) {
	var m protocol.Match
	if err := s.getJSON(ctx, "/api/match/"+id.String(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Matches lists the session identity's match IDs.
func (s *Session) Matches(ctx context.Context) ([]protocol.MatchID, error) {
	var ids []protocol.MatchID
	err := s.getJSON(ctx, "/api/profile/"+s.Address().String()+"/matches", &ids)
	return ids, err
}

// Likes lists admirers the session identity has not liked back.
func (s *Session) Likes(ctx context.Context) ([]crypto.Address, error) {
	var likes []crypto.Address
	err := s.getJSON(ctx, "/api/profile/"+s.Address().String()+"/likes", &likes)
	return likes, err
}

// Messages fetches a match's message log.
func (s *Session) Messages(ctx context.Context, id protocol.MatchID) ([]protocol.Message, error) {
	var msgs []protocol.Message
	err := s.getJSON(ctx, "/api/match/"+id.String()+"/messages", &msgs)
	return msgs, err
}

// StakingBalance fetches the session identity's stake balance.
func (s *Session) StakingBalance(ctx context.Context) (uint64, error) {
	var resp map[string]uint64
	if err := s.getJSON(ctx, "/api/stake/"+s.Address().String(), &resp); err != nil {
		return 0, err
	}
	return resp["balance"], nil
}

// TokenBalance performs the sealed read of the session identity's encrypted
// token balance and opens it with the permit key. Decryption is strictly
// local.
func (s *Session) TokenBalance(ctx context.Context) (uint64, error) {
	var resp map[string]gateway.SealedValue
	err := s.postJSON(ctx, "/api/profile/"+s.Address().String()+"/balance",
		server.SealedReadRequest{Permit: s.permit}, &resp)
	if err != nil {
		return 0, err
	}
	return gateway.Unseal(s.permitPriv, resp["sealed_balance"])
}

// Reputation fetches a user's sealed rating sum and plaintext count and
// opens the sum locally. Zero count means nobody rated them yet.
func (s *Session) Reputation(ctx context.Context, addr crypto.Address) (sum, count uint64, err error) {
	var resp struct {
		SealedSum gateway.SealedValue `json:"sealed_sum"`
		Count     uint64              `json:"count"`
	}
	err = s.postJSON(ctx, "/api/profile/"+addr.String()+"/reputation",
		server.SealedReadRequest{Permit: s.permit}, &resp)
	if err != nil || resp.Count == 0 {
		return 0, resp.Count, err
	}
	sum, err = gateway.Unseal(s.permitPriv, resp.SealedSum)
	return sum, resp.Count, err
}

// CompatibilityScore fetches and opens the sealed compatibility score of one
// of the session identity's matches.
func (s *Session) CompatibilityScore(ctx context.Context, id protocol.MatchID) (uint64, error) {
	var resp map[string]gateway.SealedValue
	path := fmt.Sprintf("/api/match/%s/compatibility?caller=%s", id, s.Address())
	if err := s.postJSON(ctx, path, server.SealedReadRequest{Permit: s.permit}, &resp); err != nil {
		return 0, err
	}
	sealed := resp["sealed_score"]
	if len(sealed) == 0 {
		return 0, errors.New("no compatibility score submitted yet")
	}
	return gateway.Unseal(s.permitPriv, sealed)
}

// WatchEvents opens the node's committed-transaction feed. The channel
// closes when ctx ends or the connection drops.
func (s *Session) WatchEvents(ctx context.Context) (<-chan protocol.Notice, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	wsURL := strings.Replace(s.baseURL, "http", "ws", 1) + "/api/events"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing event feed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ch := make(chan protocol.Notice, 64)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var notice protocol.Notice
			if err := conn.ReadJSON(&notice); err != nil {
				return
			}
			select {
			case ch <- notice:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *Session) encryptAttributes(ctx context.Context, a protocol.ProfileAttributes) (protocol.EncryptedAttributes, error) {
	fields := []uint8{
		a.Age, a.CryptoExperience, a.RiskTolerance, a.InvestmentStyle,
		a.PreferredChain, a.TradingFrequency, a.PortfolioRange, a.SocialActivity,
	}
	cts := make([]gateway.Ciphertext, len(fields))
	for i, v := range fields {
		ct, err := s.encryptScalar(ctx, uint64(v), gateway.Uint8)
		if err != nil {
			return protocol.EncryptedAttributes{}, err
		}
		cts[i] = ct
	}
	return protocol.EncryptedAttributes{
		Age:              cts[0],
		CryptoExperience: cts[1],
		RiskTolerance:    cts[2],
		InvestmentStyle:  cts[3],
		PreferredChain:   cts[4],
		TradingFrequency: cts[5],
		PortfolioRange:   cts[6],
		SocialActivity:   cts[7],
	}, nil
}

func (s *Session) encryptScalar(ctx context.Context, value uint64, typ gateway.ScalarType) (gateway.Ciphertext, error) {
	var resp map[string]gateway.Ciphertext
	err := s.postJSON(ctx, "/api/encrypt", server.EncryptRequest{Value: value, Type: typ}, &resp)
	if err != nil {
		return nil, err
	}
	return resp["ciphertext"], nil
}

// submitTx signs and posts one transaction. A fresh idempotency key is
// generated per call and reused for the retry after an ambiguous failure,
// so the node never applies the operation twice.
func (s *Session) submitTx(ctx context.Context, op string, params any) (*protocol.Receipt, error) {
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s params: %w", op, err)
		}
	}
	signed, err := crypto.NewSigned(s.signKey, &server.TxRequest{
		Op:     op,
		Key:    uuid.NewString(),
		Params: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", op, err)
	}
	body, err := crypto.SerializeMessage(signed)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		receipt, err := s.postTx(ctx, op, body)
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
			return nil, err
		}
		s.log.Warn("resubmitting after ambiguous failure", "op", op)
	}
	return nil, lastErr
}

func (s *Session) postTx(ctx context.Context, op string, body []byte) (*protocol.Receipt, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/tx/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return crypto.DecodeMessage[protocol.Receipt](resp.Body)
}

func (s *Session) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	return s.doJSON(req, out)
}

func (s *Session) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(req, out)
}

func (s *Session) doJSON(req *http.Request, out any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
