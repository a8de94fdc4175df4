package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/metrics"
	"github.com/shivaniD96/web3cupid/protocol"
)

// TxRequest is the signed envelope body of every state-changing call. The
// caller address is recovered from the envelope signature, never taken from
// the body. Op must match the URL; Params carries the op-specific payload.
type TxRequest struct {
	Op     string          `json:"op"`
	Key    string          `json:"key,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Per-op parameter payloads.
type (
	LikeParams struct {
		Target crypto.Address `json:"target"`
	}
	MatchParams struct {
		MatchID protocol.MatchID `json:"match_id"`
	}
	SendMessageParams struct {
		MatchID protocol.MatchID `json:"match_id"`
		Content []byte           `json:"content"`
		Payment uint64           `json:"payment"`
	}
	AmountParams struct {
		Amount uint64 `json:"amount"`
	}
	RateParams struct {
		MatchID protocol.MatchID   `json:"match_id"`
		Rating  gateway.Ciphertext `json:"rating"`
	}
	ScoreParams struct {
		MatchID protocol.MatchID   `json:"match_id"`
		Score   gateway.Ciphertext `json:"score"`
	}
	MintParams struct {
		To     crypto.Address `json:"to"`
		Amount uint64         `json:"amount"`
	}
	CountParams struct {
		Count uint64 `json:"count"`
	}
	VerifyParams struct {
		User        crypto.Address `json:"user"`
		Attestation []byte         `json:"attestation,omitempty"`
	}
	EncryptRequest struct {
		Value uint64             `json:"value"`
		Type  gateway.ScalarType `json:"type"`
	}
	SealedReadRequest struct {
		Permit gateway.Permit `json:"permit"`
	}
)

// NodeHandler exposes the node over HTTP: the signed transaction surface,
// the read surface and the committed-event websocket feed.
type NodeHandler struct {
	node *protocol.Node
	log  *slog.Logger

	upgrader websocket.Upgrader
}

func NewNodeHandler(node *protocol.Node, log *slog.Logger) *NodeHandler {
	return &NodeHandler{
		node: node,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *NodeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/tx/{op}", h.handleTx)
	r.Post("/api/encrypt", h.handleEncrypt)

	r.Get("/api/config", h.handleConfig)
	r.Get("/api/stats/active-users", h.handleActiveUsers)
	r.Get("/api/profile/{address}", h.handleProfile)
	r.Get("/api/profile/{address}/verified", h.handleVerified)
	r.Get("/api/profile/{address}/likes", h.handleLikes)
	r.Get("/api/profile/{address}/matches", h.handleUserMatches)
	r.Get("/api/profile/{address}/super-likes", h.handleSuperLikes)
	r.Get("/api/profile/{address}/premium", h.handlePremium)
	r.Get("/api/profile/{address}/boosted", h.handleBoosted)
	r.Get("/api/stake/{address}", h.handleStake)
	r.Get("/api/liked/{from}/{to}", h.handleHasLiked)
	r.Get("/api/match/{id}", h.handleMatch)
	r.Get("/api/match/{id}/messages", h.handleMessages)

	// Sealed reads take a permit in the body, the results only open
	// client-side.
	r.Post("/api/profile/{address}/balance", h.handleBalance)
	r.Post("/api/profile/{address}/reputation", h.handleReputation)
	r.Post("/api/match/{id}/compatibility", h.handleCompatibility)

	r.Get("/api/events", h.handleEvents)
}

func (h *NodeHandler) handleTx(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	op := chi.URLParam(r, "op")
	metrics.IncTxSubmitted(op)

	signed, err := crypto.DecodeMessage[crypto.Signed[TxRequest]](r.Body)
	if err != nil {
		metrics.IncTxRejected(op)
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	req, signer, err := signed.Recover()
	if err != nil {
		metrics.IncTxRejected(op)
		http.Error(w, fmt.Sprintf("Invalid signature: %v", err), http.StatusUnauthorized)
		return
	}
	if req.Op != op {
		metrics.IncTxRejected(op)
		http.Error(w, "Operation does not match signed body", http.StatusBadRequest)
		return
	}

	sub := protocol.Submission{Caller: signer.Address(), Key: req.Key}
	receipt, err := h.dispatch(r, sub, op, req.Params)
	if err != nil {
		metrics.IncTxRejected(op)
		h.writeTxError(w, op, err)
		return
	}
	metrics.IncTxCommitted(op)
	metrics.SetLedgerSeq(receipt.Seq)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(receipt)
}

func (h *NodeHandler) dispatch(r *http.Request, sub protocol.Submission, op string, raw json.RawMessage) (*protocol.Receipt, error) {
	ctx := r.Context()
	switch op {
	case "createProfile":
		params, err := decodeParams[protocol.CreateProfileParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.CreateProfile(ctx, sub, *params)
	case "deactivateProfile":
		return h.node.DeactivateProfile(ctx, sub)
	case "reactivateProfile":
		return h.node.ReactivateProfile(ctx, sub)
	case "setPreferences":
		params, err := decodeParams[protocol.PreferenceSet](raw)
		if err != nil {
			return nil, err
		}
		return h.node.SetPreferences(ctx, sub, *params)
	case "likeUser":
		params, err := decodeParams[LikeParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.LikeUser(ctx, sub, params.Target)
	case "acceptMatch":
		params, err := decodeParams[MatchParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.AcceptMatch(ctx, sub, params.MatchID)
	case "requestReveal":
		params, err := decodeParams[MatchParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.RequestReveal(ctx, sub, params.MatchID)
	case "sendMessage":
		params, err := decodeParams[SendMessageParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.SendMessage(ctx, sub, params.MatchID, params.Content, params.Payment)
	case "depositStake":
		params, err := decodeParams[AmountParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.DepositStake(ctx, sub, params.Amount)
	case "withdrawStake":
		params, err := decodeParams[AmountParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.WithdrawStake(ctx, sub, params.Amount)
	case "rateMatch":
		params, err := decodeParams[RateParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.RateMatch(ctx, sub, params.MatchID, params.Rating)
	case "submitCompatibilityScore":
		params, err := decodeParams[ScoreParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.SubmitCompatibilityScore(ctx, sub, params.MatchID, params.Score)
	case "mint":
		params, err := decodeParams[MintParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.Mint(ctx, sub, params.To, params.Amount)
	case "purchaseSuperLikes":
		params, err := decodeParams[CountParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.PurchaseSuperLikes(ctx, sub, params.Count)
	case "purchaseProfileBoost":
		return h.node.PurchaseProfileBoost(ctx, sub)
	case "activatePremium":
		return h.node.ActivatePremium(ctx, sub)
	case "verifyHuman":
		params, err := decodeParams[VerifyParams](raw)
		if err != nil {
			return nil, err
		}
		return h.node.VerifyHuman(ctx, sub, params.User, params.Attestation)
	default:
		return nil, &protocol.ValidationError{Field: "op", Reason: "unknown operation"}
	}
}

func decodeParams[T any](raw json.RawMessage) (*T, error) {
	var params T
	if len(raw) == 0 {
		return &params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &protocol.ValidationError{Field: "params", Reason: err.Error()}
	}
	return &params, nil
}

// writeTxError maps protocol errors onto HTTP status codes. The error text
// goes through verbatim so clients can match on the sentinel messages.
func (h *NodeHandler) writeTxError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var vErr *protocol.ValidationError
	var sErr *protocol.SubmissionError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, protocol.ErrSelfLike),
		errors.Is(err, protocol.ErrNotMatched),
		errors.Is(err, protocol.ErrNotRevealable):
		status = http.StatusBadRequest
	case errors.Is(err, protocol.ErrProfileExists),
		errors.Is(err, protocol.ErrAlreadyRated):
		status = http.StatusConflict
	case errors.Is(err, protocol.ErrNoProfile),
		errors.Is(err, protocol.ErrUnknownMatch),
		errors.Is(err, protocol.ErrNoTokenAccount):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrNotAParty),
		errors.Is(err, protocol.ErrNotOracle),
		errors.Is(err, protocol.ErrNotAdmin),
		errors.Is(err, protocol.ErrNotScorer):
		status = http.StatusForbidden
	case errors.Is(err, protocol.ErrInsufficientStake),
		errors.Is(err, protocol.ErrInsufficientBalance),
		errors.Is(err, protocol.ErrInsufficientTokens):
		status = http.StatusPaymentRequired
	case errors.As(err, &sErr):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("transaction failed", "op", op, "err", err)
	}
	http.Error(w, err.Error(), status)
}

// handleEncrypt produces a gateway ciphertext for a client-supplied scalar.
// Attribute plaintext crosses only this boundary, over the transport the
// deployment fronts it with.
func (h *NodeHandler) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	req, err := crypto.DecodeMessage[EncryptRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	ct, err := h.node.Gateway().Encrypt(req.Value, req.Type)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to encrypt: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]gateway.Ciphertext{"ciphertext": ct})
}

func (h *NodeHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.node.Config())
}

func (h *NodeHandler) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"active_users": h.node.ActiveUserCount()})
}

func (h *NodeHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	p, err := h.node.GetProfile(addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, p)
}

func (h *NodeHandler) handleVerified(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, map[string]bool{"verified": h.node.IsVerifiedHuman(addr)})
}

func (h *NodeHandler) handleLikes(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	likes := h.node.GetLikes(addr)
	if likes == nil {
		likes = []crypto.Address{}
	}
	writeJSON(w, likes)
}

func (h *NodeHandler) handleUserMatches(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, h.node.UserMatches(addr))
}

func (h *NodeHandler) handleSuperLikes(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, map[string]uint64{"super_likes_remaining": h.node.SuperLikesRemaining(addr)})
}

func (h *NodeHandler) handlePremium(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, map[string]bool{"premium": h.node.IsPremium(addr)})
}

func (h *NodeHandler) handleBoosted(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, map[string]bool{"boosted": h.node.IsBoosted(addr)})
}

func (h *NodeHandler) handleStake(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, map[string]uint64{"balance": h.node.StakingBalance(addr)})
}

func (h *NodeHandler) handleHasLiked(w http.ResponseWriter, r *http.Request) {
	from, ok := h.addressParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := h.addressParam(w, r, "to")
	if !ok {
		return
	}
	writeJSON(w, map[string]bool{"liked": h.node.HasLiked(from, to)})
}

func (h *NodeHandler) handleMatch(w http.ResponseWriter, r *http.Request) {
	id := protocol.MatchID(chi.URLParam(r, "id"))
	m, err := h.node.GetMatch(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

func (h *NodeHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := protocol.MatchID(chi.URLParam(r, "id"))
	msgs, err := h.node.Messages(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, msgs)
}

func (h *NodeHandler) handleBalance(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	req, err := crypto.DecodeMessage[SealedReadRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	sealed, err := h.node.BalanceOf(addr, req.Permit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, protocol.ErrNoTokenAccount) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]gateway.SealedValue{"sealed_balance": sealed})
}

func (h *NodeHandler) handleReputation(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	addr, ok := h.addressParam(w, r, "address")
	if !ok {
		return
	}
	req, err := crypto.DecodeMessage[SealedReadRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	sealed, count, err := h.node.ReputationScore(addr, req.Permit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sealed_sum": sealed, "count": count})
}

func (h *NodeHandler) handleCompatibility(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := protocol.MatchID(chi.URLParam(r, "id"))
	caller, ok := h.addressQuery(w, r)
	if !ok {
		return
	}
	req, err := crypto.DecodeMessage[SealedReadRequest](r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return
	}
	sealed, err := h.node.CompatibilityScore(id, caller, req.Permit)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, protocol.ErrUnknownMatch):
			status = http.StatusNotFound
		case errors.Is(err, protocol.ErrNotAParty):
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]gateway.SealedValue{"sealed_score": sealed})
}

// handleEvents streams committed transactions over a websocket, in order.
// With ?from=N the stream starts at sequence N, replaying history before
// switching to the live feed; without it, at the first commit after the
// upgrade.
func (h *NodeHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		if from, err = strconv.ParseUint(s, 10, 64); err != nil {
			http.Error(w, fmt.Sprintf("Invalid from sequence %q", s), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	metrics.IncEventSubscribers()

	// Subscribe before reading history so no commit falls between the two.
	feed := h.node.Subscribe(r.Context(), 256)

	// Reads only serve to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	var lastSent uint64
	if from > 0 {
		history, err := h.node.History(r.Context(), from)
		if err != nil {
			h.log.Warn("event history read failed", "err", err)
			return
		}
		for _, notice := range history {
			if err := conn.WriteJSON(notice); err != nil {
				return
			}
			lastSent = notice.Seq
		}
	}

	for notice := range feed {
		if notice.Seq <= lastSent {
			continue
		}
		if err := conn.WriteJSON(notice); err != nil {
			h.log.Debug("event subscriber gone", "err", err)
			return
		}
	}
}

func (h *NodeHandler) addressParam(w http.ResponseWriter, r *http.Request, name string) (crypto.Address, bool) {
	addr := crypto.Address(chi.URLParam(r, name))
	if !addr.Valid() {
		http.Error(w, fmt.Sprintf("Invalid address %q", addr), http.StatusBadRequest)
		return "", false
	}
	return addr, true
}

func (h *NodeHandler) addressQuery(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr := crypto.Address(r.URL.Query().Get("caller"))
	if !addr.Valid() {
		http.Error(w, fmt.Sprintf("Invalid caller address %q", addr), http.StatusBadRequest)
		return "", false
	}
	return addr, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
