package routing

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd-mpp/payments"
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// PaymentTagKind distinguishes the origin of a logical payment, carried
// alongside its hash and secret so that two otherwise-identical payments
// (e.g. a locally initiated payment and a trampoline-routed one sharing a
// hash by coincidence) never collide in the sender registry.
type PaymentTagKind uint8

const (
	// LocallySent marks a payment originated by this node directly.
	LocallySent PaymentTagKind = iota

	// TrampolineRouted marks a payment this node is re-routing on behalf
	// of an upstream trampoline hop.
	TrampolineRouted
)

// FullPaymentTag is the unique identity of a logical payment.
type FullPaymentTag struct {
	PaymentHash   chainhash.Hash
	PaymentSecret [32]byte
	Tag           PaymentTagKind
}

// SplitInfo describes how much of a larger, possibly trampoline-relayed,
// total this node is responsible for sending itself.
type SplitInfo struct {
	// TotalSum is the full amount of the logical payment, possibly
	// spanning hops this node doesn't control.
	TotalSum uint64

	// MyPart is the amount this node must actually send; always
	// <= TotalSum.
	MyPart uint64
}

// ChainExpiry is the final hop's requested HTLC expiry, expressed either as
// an absolute block height or as a delta from the current height at
// dispatch time.
type ChainExpiry struct {
	IsDelta bool
	Value   uint32
}

// Resolve returns the absolute block height this expiry refers to, given
// the chain tip at the moment a route is built.
func (c ChainExpiry) Resolve(currentHeight uint32) uint32 {
	if c.IsDelta {
		return currentHeight + c.Value
	}
	return c.Value
}

// AssistedEdge is an extra graph hint supplied by the caller (typically
// decoded from a BOLT-11 routing hint) that augments what the path-finder
// already knows about the graph.
type AssistedEdge struct {
	Desc                      route.ChannelDesc
	FeeBaseMsat               uint64
	FeeProportionalMillionths uint64
	CltvExpiryDelta           uint16
}

// RouteParams bounds a single route request.
type RouteParams struct {
	// FeeLimit is the maximum fee, in millisatoshi, a returned route may
	// carry.
	FeeLimit uint64

	// MaxLength caps the number of hops a returned route may contain.
	MaxLength int

	// MaxCltv caps the total CLTV delta a returned route may accumulate.
	MaxCltv uint32
}

// SendPayment is the immutable command that starts (or resumes assigning
// funds for) a logical payment.
type SendPayment struct {
	FullTag            FullPaymentTag
	Split              SplitInfo
	TargetNodeID       route.Vertex
	ChainExpiry        ChainExpiry
	TotalFeeReserve    uint64
	AllowedChans       []ChanAndCommits
	OuterPaymentSecret [32]byte
	PayeeMetadata      fn.Option[[]byte]
	AssistedEdges      []AssistedEdge
	OnionTlvs          []tlv.Record
	UserCustomTlvs     []tlv.Record

	// ClearFailures requests that the Failure Ledger run a restoration
	// pass before this payment is assigned, per spec.md §4.2.
	ClearFailures bool
}

// ChannelState is the subset of a channel's lifecycle the sendable
// calculator and assignment logic need to know about.
type ChannelState uint8

const (
	// ChanOperationalOpen means the channel is open and its link is up.
	ChanOperationalOpen ChannelState = iota

	// ChanOperationalSleeping means the channel is open but its peer is
	// currently disconnected; it may come back via a ChanGotOnline event.
	ChanOperationalSleeping

	// ChanOffline means the channel is not usable and not expected to
	// recover on its own (closing, force-closed, etc).
	ChanOffline
)

// ChanAndCommits is a snapshot of one locally controlled channel: its
// identity, its remote peer, and the commitment-level figures the sendable
// calculator needs.
type ChanAndCommits struct {
	ChannelID        uint64
	RemoteNodeID     route.Vertex
	AvailableForSend uint64
	MaxSendInFlight  uint64
	MinSendable      uint64

	// AllOutgoing is the sum, as currently reflected by the channel
	// itself, of all outgoing HTLC amounts already committed on this
	// channel (for any payment, any tag).
	AllOutgoing uint64

	State ChannelState
}

// IsOperationalAndOpen reports whether the channel can accept new HTLCs
// right now.
func (c ChanAndCommits) IsOperationalAndOpen() bool {
	return c.State == ChanOperationalOpen
}

// IsOperationalAndSleeping reports whether the channel is open but its peer
// is offline, making it a candidate for a future ChanGotOnline event.
func (c ChanAndCommits) IsOperationalAndSleeping() bool {
	return c.State == ChanOperationalSleeping
}

// Desc returns the directed edge identity of this channel as seen from us.
func (c ChanAndCommits) Desc(selfNode route.Vertex) route.ChannelDesc {
	return route.ChannelDesc{
		ShortChannelID: route.ShortChannelID(c.ChannelID),
		From:           selfNode,
		To:             c.RemoteNodeID,
	}
}

// DescAndCapacity pairs a directed edge identity with its capacity as known
// in the external routing graph.
type DescAndCapacity struct {
	Desc     route.ChannelDesc
	Capacity uint64
}

// PartID is the public key of a part's current onion session keypair. It
// changes whenever the part's onion key is rotated on a remote retry, per
// spec.md §3's invariant.
type PartID = route.Vertex

// NewPartID derives the PartID for a given onion session key.
func NewPartID(onionKey *btcec.PrivateKey) PartID {
	return route.NewVertex(onionKey.PubKey())
}

// PartStatusKind discriminates the two PartStatus variants.
type PartStatusKind uint8

const (
	// PartWaitForChanOnline means no routable channel was available at
	// assignment time; the part is parked until a ChanGotOnline event.
	PartWaitForChanOnline PartStatusKind = iota

	// PartWaitForRouteOrInFlight means a channel has been reserved for
	// this part; it is either awaiting a route (Flight is None) or has
	// been dispatched and is awaiting resolution (Flight is Some).
	PartWaitForRouteOrInFlight
)

// Flight is the record of a part's current dispatched HTLC: the command
// sent to the channel, the route it was built for, and the static attempt
// info (dispatch time, and the part's OnionKey at dispatch). The sphinx
// packet in Cmd is built with a separate session key of its own.
type Flight struct {
	Cmd     AddHTLCCommand
	Route   route.Route
	Attempt payments.AttemptInfo
}

// PartStatus is the tagged-variant state of a single payment part, keyed in
// a PaymentSenderState by its PartID.
type PartStatus struct {
	Kind PartStatusKind

	// OnionKey is this part's current session keypair. Its public key is
	// the part's PartID. buildOnion does not use it as the sphinx session
	// key.
	OnionKey *btcec.PrivateKey

	// Amount is the amount assigned to this part.
	Amount uint64

	// Chan is the channel reserved for this part. Unset while Kind is
	// PartWaitForChanOnline.
	Chan ChanAndCommits

	// Flight is set once a route has been found and the HTLC dispatched.
	Flight fn.Option[Flight]

	// FeesTried accumulates the fee of every route this part has ever
	// been dispatched with. usedFee does not read it; it sums
	// fulfilledFee and the fees of the parts' current flights.
	FeesTried []uint64

	// LocalFailedChans is the set of channel descriptors this part has
	// already tried and locally failed on (NoRouteAvailable or a
	// LocalReject), excluded
	// from the next oneMoreLocalAttempt search.
	LocalFailedChans map[route.ChannelDesc]struct{}

	// RemoteAttempts counts how many times this part has been dispatched
	// and come back with a remote failure; bounded by
	// Config.MaxRemoteAttempts.
	RemoteAttempts int
}

// ID returns this part's current PartID, derived from its onion key.
func (p *PartStatus) ID() PartID {
	return NewPartID(p.OnionKey)
}

// markLocalFailed records that this part's channel is no longer to be
// considered for this part's next local retry.
func (p *PartStatus) markLocalFailed(desc route.ChannelDesc) {
	if p.LocalFailedChans == nil {
		p.LocalFailedChans = make(map[route.ChannelDesc]struct{})
	}
	p.LocalFailedChans[desc] = struct{}{}
}
