package routing

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrSenderExists is returned by CreateSender when fullTag is already
// registered.
var ErrSenderExists = errors.New("sender already registered for this tag")

// ErrSenderNotFound is returned when an event names a fullTag with no
// registered sender.
var ErrSenderNotFound = errors.New("no sender registered for this tag")

// ErrUnknownChannel is returned by dispatch when no Channel is registered
// under the given channel ID.
var ErrUnknownChannel = errors.New("no channel registered with this id")

// masterPhase is the Payment Master FSM's phase; it serialises at most one
// outstanding path-finder request across every sender it owns.
type masterPhase uint8

const (
	phaseExpectingPayments masterPhase = iota
	phaseWaitingForRoute
)

// senderRecord pairs a live sender with its re-armable abort timer.
type senderRecord struct {
	s     *sender
	timer ticker.Ticker
}

// Master is the Payment Master FSM: the singleton, per-process owner of
// the Failure Ledger and every live Sender. All state mutation happens on
// a single logical worker fed by an explicit event queue, modelled on the
// teacher's own htlcSwitch/invoiceRegistry command-channel pattern rather
// than a bespoke actor framework.
type Master struct {
	cfg        Config
	clock      clock.Clock
	pathFinder PathFinder
	self       route.Vertex
	metrics    *metrics

	rngMu sync.Mutex
	rng   *rand.Rand

	ledger *ledger

	q *queue.ConcurrentQueue

	channelsMu sync.Mutex
	channels   map[uint64]Channel

	blockHeight atomic.Uint32

	// OnSenderRemoved, if set, is invoked on the worker goroutine whenever
	// RemoveSender completes, carrying the state-update notification
	// spec.md §4.3 names without prescribing a shape for.
	OnSenderRemoved func(FullPaymentTag)

	phase   masterPhase
	senders map[FullPaymentTag]*senderRecord

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMaster constructs a Master. The returned value does not start its
// worker until Start is called.
func NewMaster(cfg Config, c clock.Clock, pf PathFinder, self route.Vertex, randSource *rand.Rand) *Master {
	return &Master{
		cfg:        cfg,
		clock:      c,
		pathFinder: pf,
		self:       self,
		rng:        randSource,
		ledger:     newLedger(cfg, c),
		metrics:    newMetrics("lnd_mpp"),
		q:          queue.NewConcurrentQueue(64),
		channels:   make(map[uint64]Channel),
		senders:    make(map[FullPaymentTag]*senderRecord),
		quit:       make(chan struct{}),
	}
}

// Start launches the master's single worker goroutine.
func (m *Master) Start() {
	m.q.Start()
	m.wg.Add(1)
	go m.worker()
}

// Stop shuts the worker down and drains every sender's abort timer.
func (m *Master) Stop() {
	close(m.quit)
	m.wg.Wait()
	for _, rec := range m.senders {
		rec.timer.Stop()
	}
	m.q.Stop()
}

// RegisterChannel installs the Channel handle a dispatched HTLC should land
// on for the given channel ID. The host calls this once per channel as it
// comes under management; channels are externally owned, per spec.md §5.
func (m *Master) RegisterChannel(channelID uint64, ch Channel) {
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()
	m.channels[channelID] = ch
}

// SetBlockHeight updates the chain tip used to resolve relative CLTV
// expiries. Safe for concurrent use; read from the worker goroutine when
// building final-hop payloads.
func (m *Master) SetBlockHeight(height uint32) {
	m.blockHeight.Store(height)
}

// RegisterMetrics installs the master's prometheus gauges into reg.
func (m *Master) RegisterMetrics(reg prometheus.Registerer) error {
	return m.metrics.register(reg)
}

func (m *Master) post(e event) {
	select {
	case m.q.ChanIn() <- e:
	case <-m.quit:
	}
}

// CreateSender registers a new sender for fullTag.
func (m *Master) CreateSender(fullTag FullPaymentTag, listeners []Listener) {
	m.post(createSenderEvent{FullTag: fullTag, Listeners: listeners})
}

// RemoveSender deletes the sender for fullTag.
func (m *Master) RemoveSender(fullTag FullPaymentTag) {
	m.post(removeSenderEvent{FullTag: fullTag})
}

// SendPayment forwards cmd to its sender.
func (m *Master) SendPayment(cmd SendPayment) {
	m.post(sendPaymentEvent{Cmd: cmd})
}

// ChanGotOnline broadcasts an updated channel snapshot to every sender.
func (m *Master) ChanGotOnline(allowedChans []ChanAndCommits) {
	m.post(chanGotOnlineEvent{AllowedChans: allowedChans})
}

// NotifyInFlightPayments fans an external in-flight-HTLC snapshot to every
// sender.
func (m *Master) NotifyInFlightPayments(bag InFlightHTLCSet) {
	m.post(inFlightPaymentsEvent{Bag: bag})
}

// NotifyLocalReject delivers a channel's local refusal to its owning part.
func (m *Master) NotifyLocalReject(fullTag FullPaymentTag, partID PartID, reason LocalRejectReason) {
	m.post(localRejectEvent{FullTag: fullTag, PartID: partID, Reason: reason})
}

// NotifyRemoteFulfill delivers a settled HTLC's preimage to its owning part.
func (m *Master) NotifyRemoteFulfill(fullTag FullPaymentTag, partID PartID, preimage [32]byte) {
	m.post(remoteFulfillEvent{FullTag: fullTag, PartID: partID, Preimage: preimage})
}

// NotifyRemoteUpdateFail delivers a decrypted remote failure to its owning
// part.
func (m *Master) NotifyRemoteUpdateFail(fullTag FullPaymentTag, partID PartID, decrypted *DecryptedFailure) {
	m.post(remoteRejectEvent{
		FullTag: fullTag, PartID: partID,
		Kind: remoteRejectUpdateFail, Decrypted: decrypted,
	})
}

// NotifyRemoteUnreadableFailure delivers a remote failure this node could
// not decrypt to its owning part.
func (m *Master) NotifyRemoteUnreadableFailure(fullTag FullPaymentTag, partID PartID) {
	m.post(remoteRejectEvent{
		FullTag: fullTag, PartID: partID,
		Kind: remoteRejectUpdateFail, Unreadable: true,
	})
}

// NotifyRemoteUpdateMalform delivers a malformed-onion failure to its
// owning part.
func (m *Master) NotifyRemoteUpdateMalform(fullTag FullPaymentTag, partID PartID) {
	m.post(remoteRejectEvent{
		FullTag: fullTag, PartID: partID, Kind: remoteRejectUpdateMalform,
	})
}

func (m *Master) worker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case item, ok := <-m.q.ChanOut():
			if !ok {
				return
			}
			m.process(item.(event))
		}
	}
}

func (m *Master) process(e event) {
	switch ev := e.(type) {
	case createSenderEvent:
		m.onCreateSender(ev)
	case removeSenderEvent:
		m.onRemoveSender(ev)
	case sendPaymentEvent:
		m.onSendPayment(ev)
		m.post(askForRouteEvent{})
	case chanGotOnlineEvent:
		m.onChanGotOnline(ev)
		m.post(askForRouteEvent{})
	case askForRouteEvent:
		m.onAskForRoute()
	case routeResponseEvent:
		m.onRouteResponse(ev)
		m.phase = phaseExpectingPayments
		m.post(askForRouteEvent{})
	case channelFailedAtAmountEvent:
		m.ledger.reportChannelFailedAtAmount(ev.Dac, ev.UsedNow)
		m.ledger.reportDirectionFailed(route.NewDirectedNodePair(
			ev.Dac.Desc.From, ev.Dac.Desc.To,
		))
	case nodeFailedEvent:
		m.ledger.reportNodeFailed(ev.Node, ev.Inc)
	case channelNotRoutableEvent:
		m.ledger.reportChannelNotRoutable(ev.Desc)
	case inFlightPaymentsEvent:
		for _, rec := range m.senders {
			rec.s.maybeSucceed(ev.Bag)
		}
	case localRejectEvent:
		if rec, ok := m.senders[ev.FullTag]; ok {
			rec.s.onLocalReject(ev.PartID, ev.Reason)
		}
		m.post(askForRouteEvent{})
	case remoteFulfillEvent:
		if rec, ok := m.senders[ev.FullTag]; ok {
			rec.s.onRemoteFulfill(ev.PartID, ev.Preimage, nil)
		}
		m.post(askForRouteEvent{})
	case remoteRejectEvent:
		m.onRemoteReject(ev)
		m.post(askForRouteEvent{})
	case timeoutEvent:
		if rec, ok := m.senders[ev.FullTag]; ok {
			rec.s.onTimeout()
		}
	}
}

func (m *Master) onCreateSender(ev createSenderEvent) {
	if _, exists := m.senders[ev.FullTag]; exists {
		log.Debugf("sender already registered for %v", ev.FullTag.PaymentHash)
		return
	}

	s := newSender(m.cfg, m, ev.FullTag, ev.Listeners)
	rec := &senderRecord{s: s, timer: ticker.New(m.cfg.AbortTimeout)}
	m.senders[ev.FullTag] = rec

	m.wg.Add(1)
	go m.watchAbortTimer(ev.FullTag, rec)
}

func (m *Master) watchAbortTimer(fullTag FullPaymentTag, rec *senderRecord) {
	defer m.wg.Done()

	for {
		select {
		case <-m.quit:
			return
		case <-rec.timer.Ticks():
			m.post(timeoutEvent{FullTag: fullTag})
		}
	}
}

func (m *Master) onRemoveSender(ev removeSenderEvent) {
	rec, ok := m.senders[ev.FullTag]
	if !ok {
		return
	}
	rec.timer.Stop()
	delete(m.senders, ev.FullTag)

	if m.OnSenderRemoved != nil {
		m.OnSenderRemoved(ev.FullTag)
	}
}

func (m *Master) onSendPayment(ev sendPaymentEvent) {
	rec, ok := m.senders[ev.Cmd.FullTag]
	if !ok {
		log.Warnf("SendPayment for unregistered tag %v",
			ev.Cmd.FullTag.PaymentHash)
		return
	}

	if ev.Cmd.ClearFailures {
		m.ledger.restore()
	}
	m.pathFinder.AddAssistedEdges(ev.Cmd.AssistedEdges)

	rec.s.onSendPayment(ev.Cmd)
}

func (m *Master) onChanGotOnline(ev chanGotOnlineEvent) {
	for _, rec := range m.senders {
		rec.s.onChanGotOnline(ev.AllowedChans)
	}
}

// onAskForRoute broadcasts AskForRoute to every Pending sender, but only
// while ExpectingPayments; a sender that wants a route while the master is
// WaitingForRoute simply doesn't get one this round and resurfaces on the
// next self-posted AskForRoute.
func (m *Master) onAskForRoute() {
	if m.phase != phaseExpectingPayments {
		return
	}

	for _, rec := range m.senders {
		rec.s.onAskForRoute()
		if m.phase == phaseWaitingForRoute {
			return
		}
	}
}

func (m *Master) onRouteResponse(ev routeResponseEvent) {
	rec, ok := m.senders[ev.Result.FullTag]
	if !ok {
		return
	}
	if ev.Result.Route != nil {
		rec.s.onRouteFound(ev.Result.PartID, ev.Result.Route)
	} else {
		rec.s.onNoRouteAvailable(ev.Result.PartID)
	}
}

func (m *Master) onRemoteReject(ev remoteRejectEvent) {
	rec, ok := m.senders[ev.FullTag]
	if !ok {
		return
	}

	switch {
	case ev.Kind == remoteRejectUpdateMalform:
		rec.s.onRemoteUpdateMalform(ev.PartID, m.ledger.reportNodeFailed)

	case ev.Unreadable:
		rec.s.onUnreadableRemoteFailure(ev.PartID)

	default:
		rec.s.onRemoteUpdateFail(ev.PartID, *ev.Decrypted, m.ledger, m.pathFinder)
	}
}

// rightNowSendableView implements the master interface consumed by sender:
// a thin pass-through to the package-level sendable calculator, using the
// calling sender's own parts map so its own in-flight reservations are
// accounted for.
func (m *Master) rightNowSendableView(
	chans []ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus,
) map[uint64]uint64 {
	return rightNowSendable(chans, maxFee, parts)
}

// resetAbortTimer re-arms fullTag's sender's abort timer, called after
// every assignToChans decision per spec.md §4.4.
func (m *Master) resetAbortTimer(fullTag FullPaymentTag) {
	if rec, ok := m.senders[fullTag]; ok {
		rec.timer.Resume()
	}
}

func (m *Master) requestRoute(req RouteRequest) {
	if m.phase == phaseWaitingForRoute {
		return
	}

	used := usedCapacities(m.allPartsFlattened())
	capacities := m.capacitiesFor(used)

	filter := m.ledger.buildFilter(req.Amount, used, capacities)
	req.IgnoreNodes = mergeVertexSets(req.IgnoreNodes, filter.IgnoreNodes)
	req.IgnoreDirections = mergeDirSets(req.IgnoreDirections, filter.IgnoreDirections)
	req.IgnoreChannels = mergeDescSets(req.IgnoreChannels, filter.IgnoreChannels)
	req.SourceNode = m.self

	m.phase = phaseWaitingForRoute

	m.pathFinder.FindRoute(req, func(res RouteResult) {
		m.post(routeResponseEvent{Result: res})
	})
}

func (m *Master) dispatch(channelID uint64, cmd AddHTLCCommand) error {
	m.channelsMu.Lock()
	ch, ok := m.channels[channelID]
	m.channelsMu.Unlock()

	if !ok {
		return ErrUnknownChannel
	}
	return ch.ProcessAddHTLC(cmd)
}

func (m *Master) randSource() *rand.Rand {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng
}

func (m *Master) currentBlockHeight() uint32 {
	return m.blockHeight.Load()
}

func (m *Master) selfNode() route.Vertex {
	return m.self
}

func (m *Master) now() time.Time {
	return m.clock.Now()
}

func (m *Master) allPartsFlattened() map[PartID]*PartStatus {
	all := make(map[PartID]*PartStatus)
	for _, rec := range m.senders {
		for id, p := range rec.s.parts {
			all[id] = p
		}
	}
	return all
}

func (m *Master) capacitiesFor(used map[route.ChannelDesc]uint64) map[route.ChannelDesc]uint64 {
	m.channelsMu.Lock()
	defer m.channelsMu.Unlock()

	capacities := make(map[route.ChannelDesc]uint64, len(used))
	for desc := range used {
		for _, ch := range m.channels {
			snap := ch.Snapshot()
			if snap.Desc(m.self) == desc {
				capacities[desc] = snap.MaxSendInFlight
			}
		}
	}
	return capacities
}

func mergeVertexSets(a, b map[route.Vertex]struct{}) map[route.Vertex]struct{} {
	out := make(map[route.Vertex]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func mergeDirSets(
	a, b map[route.DirectedNodePair]struct{},
) map[route.DirectedNodePair]struct{} {
	out := make(map[route.DirectedNodePair]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func mergeDescSets(
	a, b map[route.ChannelDesc]struct{},
) map[route.ChannelDesc]struct{} {
	out := make(map[route.ChannelDesc]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
