// Package route describes the external routing-graph vocabulary the payment
// engine consumes from the path-finder: vertices (nodes), directed edges,
// and fully assembled routes. None of the graph search itself lives here —
// that is the path-finder's job (spec.md §1, consumed via PathFinder in the
// routing package) — only the wire-shaped result types it hands back.
package route

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Vertex is the 33-byte compressed public key of a node in the graph.
type Vertex [33]byte

// NewVertex returns the Vertex for the given public key.
func NewVertex(pub *btcec.PublicKey) Vertex {
	var v Vertex
	copy(v[:], pub.SerializeCompressed())
	return v
}

// String returns a human-readable hex encoding of the vertex.
func (v Vertex) String() string {
	return hex.EncodeToString(v[:])
}

// ShortChannelID is the (blockHeight, txIndex, outputIndex) triple
// identifying an on-chain channel, packed as lnd does into a uint64.
type ShortChannelID uint64

// BlockHeight returns the height component of the short channel ID.
func (s ShortChannelID) BlockHeight() uint32 {
	return uint32(s >> 40)
}

func (s ShortChannelID) String() string {
	return fmt.Sprintf("%d:%d:%d", s>>40, (s>>16)&0xFFFFFF, s&0xFFFF)
}

// DirectedNodePair identifies a directed edge by its endpoint vertices only
// (as opposed to a specific channel), used to track per-direction failure
// counts that should survive a channel's specific short-channel-id changing.
type DirectedNodePair struct {
	From, To Vertex
}

// NewDirectedNodePair returns a new DirectedNodePair for the given nodes.
func NewDirectedNodePair(from, to Vertex) DirectedNodePair {
	return DirectedNodePair{From: from, To: to}
}

// ChannelDesc identifies a directed edge by short channel id and endpoints.
type ChannelDesc struct {
	ShortChannelID ShortChannelID
	From, To       Vertex
}

// Hop is a single forwarding step of a route: the node being forwarded to,
// along with the amount and expiry it should see in its onion payload.
type Hop struct {
	// PubKeyBytes is the next hop's node identity.
	PubKeyBytes Vertex

	// ShortChannelID is the channel this hop is reached over.
	ShortChannelID ShortChannelID

	// AmtToForward is the amount, in millisatoshi, this hop is asked to
	// forward onward (or receive, for the final hop).
	AmtToForward uint64

	// OutgoingTimeLock is the absolute block height this hop's
	// outgoing HTLC (or incoming, for the final hop) must expire at.
	OutgoingTimeLock uint32

	// BlindingPoint is set for the introduction hop of a blinded route
	// segment; nil for ordinary hops.
	BlindingPoint *btcec.PublicKey
}

// Route is a fully resolved path from us to a destination, as returned by
// the path-finder.
type Route struct {
	// SourcePubKey is our own node identity, the implicit first vertex.
	SourcePubKey Vertex

	// TotalAmount is the amount, including all fees, that leaves our
	// first hop.
	TotalAmount uint64

	// TotalTimeLock is the outgoing expiry height of the first hop.
	TotalTimeLock uint32

	// Hops is the ordered list of forwarding steps, last element is the
	// final destination.
	Hops []*Hop
}

// ReceiverAmt returns the amount the final hop is asked to receive.
func (r *Route) ReceiverAmt() uint64 {
	if len(r.Hops) == 0 {
		return 0
	}
	return r.Hops[len(r.Hops)-1].AmtToForward
}

// TotalFees returns the total fee paid across the route: the difference
// between what leaves us and what the receiver is credited.
func (r *Route) TotalFees() uint64 {
	return r.TotalAmount - r.ReceiverAmt()
}

// FinalHop returns the last hop of the route, the payment's destination.
func (r *Route) FinalHop() *Hop {
	if len(r.Hops) == 0 {
		return nil
	}
	return r.Hops[len(r.Hops)-1]
}
