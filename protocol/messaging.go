package protocol

import (
	"context"
)

// SendMessage appends a message to a mutually accepted match. Content is
// opaque bytes; senders encrypt to the recipient's exchange key before
// submitting. The payment is the stake attached to the message, at least the
// configured message fee, and is debited from the sender's stake balance in
// the same transaction.
func (n *Node) SendMessage(ctx context.Context, sub Submission, id MatchID, content []byte, payment uint64) (*Receipt, error) {
	return n.submit(ctx, sub, "sendMessage", func() ([]Event, error) {
		m, err := n.requireParty(id, sub.Caller)
		if err != nil {
			return nil, err
		}
		if !m.CanMessage() {
			return nil, ErrNotMatched
		}
		if len(content) == 0 {
			return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
		}
		if payment < n.cfg.MessageStake {
			return nil, ErrInsufficientStake
		}
		if n.stakes[sub.Caller] < payment {
			return nil, ErrInsufficientBalance
		}
		ev, err := newEvent(EvMessageSent, MessageSentEvent{
			MatchID: id,
			Sender:  sub.Caller,
			Content: content,
			Fee:     payment,
		})
		if err != nil {
			return nil, err
		}
		return []Event{ev}, nil
	})
}

// Messages returns the full ordered message log of a match. Both parties and
// observers read the same ciphertext log; only the recipients can open the
// content.
func (n *Node) Messages(id MatchID) ([]Message, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, ok := n.matches[id]; !ok {
		return nil, ErrUnknownMatch
	}
	msgs := n.messages[id]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
