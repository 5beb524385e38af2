package routing

import "github.com/lightningnetwork/lnd-mpp/route"

// event is the closed set of messages a Master's single worker consumes
// from its event queue, per spec.md §4.3's transition table.
type event interface{ isEvent() }

// createSenderEvent registers a new Sender under fullTag.
type createSenderEvent struct {
	FullTag   FullPaymentTag
	Listeners []Listener
}

func (createSenderEvent) isEvent() {}

// removeSenderEvent deletes a Sender and fires a state-update notification.
type removeSenderEvent struct {
	FullTag FullPaymentTag
}

func (removeSenderEvent) isEvent() {}

// sendPaymentEvent wraps a SendPayment command addressed to one sender.
type sendPaymentEvent struct {
	Cmd SendPayment
}

func (sendPaymentEvent) isEvent() {}

// chanGotOnlineEvent is broadcast to every sender whenever a previously
// sleeping channel reconnects.
type chanGotOnlineEvent struct {
	AllowedChans []ChanAndCommits
}

func (chanGotOnlineEvent) isEvent() {}

// askForRouteEvent asks every Pending sender, in turn, whether it has a
// part ready for a route request.
type askForRouteEvent struct{}

func (askForRouteEvent) isEvent() {}

// routeResponseEvent is the path-finder's asynchronous reply, re-entering
// the master's worker so it can be delivered to the owning sender.
type routeResponseEvent struct {
	Result RouteResult
}

func (routeResponseEvent) isEvent() {}

// channelFailedAtAmountEvent updates the ledger's chanFailedAtAmount entry
// and bumps the direction counter for dac's edge.
type channelFailedAtAmountEvent struct {
	Dac     DescAndCapacity
	UsedNow uint64
}

func (channelFailedAtAmountEvent) isEvent() {}

// nodeFailedEvent adds inc to a node's strange-failure counter.
type nodeFailedEvent struct {
	Node route.Vertex
	Inc  int
}

func (nodeFailedEvent) isEvent() {}

// channelNotRoutableEvent adds desc to the disabled-edge set.
type channelNotRoutableEvent struct {
	Desc route.ChannelDesc
}

func (channelNotRoutableEvent) isEvent() {}

// inFlightPaymentsEvent fans an external in-flight-HTLC snapshot to every
// sender, letting SUCCEEDED senders finish finalizing.
type inFlightPaymentsEvent struct {
	Bag InFlightHTLCSet
}

func (inFlightPaymentsEvent) isEvent() {}

// localRejectEvent delivers a channel's local refusal of a dispatched HTLC
// to its owning part.
type localRejectEvent struct {
	FullTag FullPaymentTag
	PartID  PartID
	Reason  LocalRejectReason
}

func (localRejectEvent) isEvent() {}

// remoteFulfillEvent delivers a settled HTLC's preimage to its owning part.
type remoteFulfillEvent struct {
	FullTag  FullPaymentTag
	PartID   PartID
	Preimage [32]byte
}

func (remoteFulfillEvent) isEvent() {}

// remoteRejectKind discriminates the two remote HTLC failure messages that
// can reach the master; an UpdateFail whose packet could not be decrypted
// is further marked by remoteRejectEvent.Unreadable.
type remoteRejectKind uint8

const (
	remoteRejectUpdateFail remoteRejectKind = iota
	remoteRejectUpdateMalform
)

// remoteRejectEvent delivers a remote HTLC failure to its owning part. For
// remoteRejectUpdateFail, Decrypted is already populated by the channel
// layer (it holds the shared secrets needed to peel the sphinx packet, not
// this module); Unreadable is set if decryption itself failed.
type remoteRejectEvent struct {
	FullTag    FullPaymentTag
	PartID     PartID
	Kind       remoteRejectKind
	Decrypted  *DecryptedFailure
	Unreadable bool
}

func (remoteRejectEvent) isEvent() {}

// timeoutEvent fires once a sender's abort timer expires.
type timeoutEvent struct {
	FullTag FullPaymentTag
}

func (timeoutEvent) isEvent() {}
