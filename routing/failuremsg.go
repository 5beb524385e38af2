package routing

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd-mpp/route"
)

// ChannelUpdate is the signed routing-policy gossip message a failing hop
// may attach to its failure, letting us learn (and forward to the
// path-finder) its current fees, CLTV delta, and enabled flag without a
// separate gossip round-trip.
type ChannelUpdate struct {
	ShortChannelID            route.ShortChannelID
	Disabled                  bool
	BaseFeeMsat               uint32
	FeeProportionalMillionths uint32
	TimeLockDelta             uint16
	Timestamp                 uint32

	// Raw is the exact bytes the update was carried in, needed to verify
	// its signature against the claimed origin node.
	Raw []byte

	// Signature is the claimed origin's signature over Raw.
	Signature []byte
}

// SameFeesAndCltv reports whether two updates describe the same forwarding
// policy, ignoring timestamp and position in the route. Used to tell apart
// "channel is imbalanced" (same policy, different short_channel_id or
// failing at the same known policy) from "policy actually changed" during
// remote-failure handling.
func (c ChannelUpdate) SameFeesAndCltv(o ChannelUpdate) bool {
	return c.BaseFeeMsat == o.BaseFeeMsat &&
		c.FeeProportionalMillionths == o.FeeProportionalMillionths &&
		c.TimeLockDelta == o.TimeLockDelta
}

// FailureClass buckets a decrypted FailureMessage into the three policy
// branches spec.md §4.4 distinguishes when reacting to RemoteUpdateFail.
type FailureClass uint8

const (
	// ClassUpdate failures carry a ChannelUpdate describing why the
	// reporting hop refused the HTLC.
	ClassUpdate FailureClass = iota

	// ClassNode failures are attributable to the reporting node as a
	// whole, with no channel-level detail.
	ClassNode

	// ClassOther covers every other decrypted failure (destination-only
	// failures, malformed payloads, unknown next peer, ...).
	ClassOther
)

// FailureMessage is a decrypted BOLT #4 failure reason.
type FailureMessage interface {
	// Classify buckets this failure for the purposes of ledger updates.
	Classify() FailureClass

	// ChannelUpdate returns the embedded update, if any.
	ChannelUpdate() (ChannelUpdate, bool)

	// Code is a short, stable diagnostic string.
	Code() string
}

type updateFailure struct {
	code   string
	update ChannelUpdate
}

func (u updateFailure) Classify() FailureClass               { return ClassUpdate }
func (u updateFailure) ChannelUpdate() (ChannelUpdate, bool) { return u.update, true }
func (u updateFailure) Code() string                         { return u.code }

// NewTemporaryChannelFailure builds the failure a hop sends when it cannot
// currently forward along the chosen channel (e.g. insufficient liquidity).
func NewTemporaryChannelFailure(update ChannelUpdate) FailureMessage {
	return updateFailure{code: "temporary_channel_failure", update: update}
}

// NewFeeInsufficient builds the failure a hop sends when our offered fee
// fell below its advertised policy.
func NewFeeInsufficient(update ChannelUpdate) FailureMessage {
	return updateFailure{code: "fee_insufficient", update: update}
}

// NewExpiryTooSoon builds the failure a hop sends when the HTLC's absolute
// expiry is too close to the current height for its CLTV delta.
func NewExpiryTooSoon(update ChannelUpdate) FailureMessage {
	return updateFailure{code: "expiry_too_soon", update: update}
}

// NewChannelDisabled builds the failure a hop sends for a channel it has
// gossiped as disabled.
func NewChannelDisabled(update ChannelUpdate) FailureMessage {
	return updateFailure{code: "channel_disabled", update: update}
}

type nodeFailure struct{ code string }

func (n nodeFailure) Classify() FailureClass               { return ClassNode }
func (n nodeFailure) ChannelUpdate() (ChannelUpdate, bool) { return ChannelUpdate{}, false }
func (n nodeFailure) Code() string                         { return n.code }

// NewPermanentNodeFailure builds the failure a hop sends to reject a
// payment for a node-level reason unrelated to any specific channel.
func NewPermanentNodeFailure() FailureMessage { return nodeFailure{code: "permanent_node_failure"} }

// NewTemporaryNodeFailure is the temporary counterpart of
// NewPermanentNodeFailure.
func NewTemporaryNodeFailure() FailureMessage { return nodeFailure{code: "temporary_node_failure"} }

type otherFailure struct{ code string }

func (o otherFailure) Classify() FailureClass               { return ClassOther }
func (o otherFailure) ChannelUpdate() (ChannelUpdate, bool) { return ChannelUpdate{}, false }
func (o otherFailure) Code() string                         { return o.code }

// NewUnknownNextPeer builds the failure an intermediate hop sends when it
// cannot find the next hop named by the onion.
func NewUnknownNextPeer() FailureMessage { return otherFailure{code: "unknown_next_peer"} }

// NewInvalidOnionPayload builds the failure a hop sends when it cannot
// parse the TLV payload addressed to it.
func NewInvalidOnionPayload() FailureMessage { return otherFailure{code: "invalid_onion_payload"} }

// NewIncorrectOrUnknownPaymentDetails builds the failure the final hop
// sends when the payment secret, amount, or hash don't match what it
// expects — the canonical "not retriable" terminal failure.
func NewIncorrectOrUnknownPaymentDetails() FailureMessage {
	return otherFailure{code: "incorrect_or_unknown_payment_details"}
}

// PaymentTimeoutFailure is the terminal, final-hop-only failure sent when
// the receiver gave up waiting for every MPP shard to arrive.
type PaymentTimeoutFailure struct{}

func (PaymentTimeoutFailure) Classify() FailureClass               { return ClassOther }
func (PaymentTimeoutFailure) ChannelUpdate() (ChannelUpdate, bool) { return ChannelUpdate{}, false }
func (PaymentTimeoutFailure) Code() string                         { return "mpp_timeout" }

// DecryptedFailure is the result of peeling a sphinx failure packet: which
// hop (by position, 0 = us) produced it, and what it said.
type DecryptedFailure struct {
	SourceIdx int
	Message   FailureMessage
}

// verifyChannelUpdateSignature checks that update.Signature is a valid
// signature by origin over update.Raw, the same double-SHA256-then-ECDSA
// scheme every other gossip message in the protocol uses.
func verifyChannelUpdateSignature(update ChannelUpdate, origin route.Vertex) bool {
	pub, err := btcec.ParsePubKey(origin[:])
	if err != nil {
		return false
	}

	sig, err := ecdsa.ParseDERSignature(update.Signature)
	if err != nil {
		return false
	}

	digest := chainhash.DoubleHashB(update.Raw)
	return sig.Verify(digest, pub)
}
