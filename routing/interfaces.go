package routing

import (
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// RouteRequest is what a Sender asks the Master to forward to the
// path-finder for a single part.
type RouteRequest struct {
	FullTag      FullPaymentTag
	PartID       PartID
	SourceNode   route.Vertex
	TargetNode   route.Vertex
	Amount       uint64
	Params       RouteParams
	AssistedEdges []AssistedEdge

	// FakeLocalEdge lets the path-finder pretend our own reserved
	// channel already exists as the first hop, the way spec.md §4.4
	// describes ("fakeLocalEdge(self->cnc.remote)").
	FakeLocalEdge LocalEdge

	IgnoreNodes      map[route.Vertex]struct{}
	IgnoreDirections map[route.DirectedNodePair]struct{}
	IgnoreChannels   map[route.ChannelDesc]struct{}
}

// LocalEdge pins the first hop of a route request to a specific, already
// reserved local channel.
type LocalEdge struct {
	From, To route.Vertex
	Chan     ChanAndCommits
}

// RouteResult is the path-finder's asynchronous reply to a RouteRequest.
// A nil Route means NoRouteAvailable.
type RouteResult struct {
	FullTag FullPaymentTag
	PartID  PartID
	Route   *route.Route
}

// RouteResultFunc delivers a RouteResult back into the requester's event
// loop; the path-finder never blocks the caller waiting for a path search
// to complete.
type RouteResultFunc func(RouteResult)

// PathFinder is the external Dijkstra-style route search collaborator.
// Graph search itself is entirely out of this module's scope (spec.md §1);
// only this thin request/response and learning surface is consumed.
type PathFinder interface {
	// FindRoute kicks off a path search. The result is delivered later,
	// on reply, never synchronously.
	FindRoute(req RouteRequest, reply RouteResultFunc)

	// LearnChannelUpdate installs a verified channel_update carried in a
	// failure packet into the path-finder's graph view.
	LearnChannelUpdate(edge route.ChannelDesc, update ChannelUpdate)

	// AddAssistedEdges pushes caller-supplied routing hints into the
	// path-finder ahead of the next FindRoute call for this payment.
	AddAssistedEdges(edges []AssistedEdge)
}

// FinalHopPayload is the multipart payload addressed to the payment's
// final hop.
type FinalHopPayload struct {
	AmountMsat    uint64
	TotalMsat     uint64
	Expiry        uint32
	PaymentSecret [32]byte
	PayeeMetadata fn.Option[[]byte]
	ExtraTlvs     []tlv.Record
}

// PacketAndSecrets is the encrypted onion packet plus the per-hop shared
// secrets needed to later decrypt a returned failure.
type PacketAndSecrets struct {
	OnionPacket   []byte
	SharedSecrets [][32]byte
}

// AddHTLCCommand is what a Sender dispatches to a reserved Channel.
type AddHTLCCommand struct {
	FullTag      FullPaymentTag
	PartID       PartID
	FirstAmount  uint64
	FirstExpiry  uint32
	Packet       PacketAndSecrets
	FinalPayload FinalHopPayload
}

// LocalRejectReason classifies why a Channel refused to accept a dispatched
// AddHTLCCommand.
type LocalRejectReason uint8

const (
	// RejectInPrincipleNotSendable marks a refusal the channel will
	// repeat for any amount right now (e.g. the channel is shutting
	// down); retrying on the same channel is pointless.
	RejectInPrincipleNotSendable LocalRejectReason = iota

	// RejectChannelOffline marks a refusal caused by the peer going
	// offline between reservation and dispatch.
	RejectChannelOffline

	// RejectOther covers every other local refusal (e.g. a transient
	// commitment-slot exhaustion).
	RejectOther
)

// Channel is the externally owned channel-state-machine handle a Sender
// dispatches HTLCs to. Commitment bookkeeping and signing live entirely
// outside this module (spec.md §1); only this query/command surface is
// consumed.
type Channel interface {
	// Snapshot returns the channel's current commitment-level figures.
	Snapshot() ChanAndCommits

	// ProcessAddHTLC asynchronously dispatches cmd. A non-nil error here
	// means the command was malformed and never queued; an accepted
	// dispatch that is later refused arrives as a LocalReject event
	// instead.
	ProcessAddHTLC(cmd AddHTLCCommand) error
}

// InFlightHTLCSet is the external in-flight-HTLC bag a Sender consults
// before finalizing SUCCEEDED, per spec.md §4.4's "gotFirstPreimage" rule
// and §9's second open question. It is consulted only when the host has
// supplied a set through NotifyInFlightPayments; a fulfill with no set
// supplied finalizes on the local parts alone. ABORTED does not consult it.
type InFlightHTLCSet interface {
	// HasTag reports whether any channel still carries an outgoing HTLC
	// tagged with this payment.
	HasTag(tag FullPaymentTag) bool
}
