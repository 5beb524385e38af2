package routing

import (
	"math/rand"
	"time"

	"github.com/lightningnetwork/lnd-mpp/payments"
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// senderPhase is the Payment Sender FSM's phase.
type senderPhase uint8

const (
	senderInit senderPhase = iota
	senderPending
	senderSucceeded
	senderAborted
)

// Listener receives the three whole-payment-level notifications a Sender
// ever fires.
type Listener interface {
	WholePaymentSucceeded(state SenderSnapshot)
	WholePaymentFailed(state SenderSnapshot)
	GotFirstPreimage(state SenderSnapshot, preimage [32]byte)
}

// SenderSnapshot is the read-only view of a Sender's state handed to
// listeners and tests; it never aliases the Sender's live maps.
type SenderSnapshot struct {
	FullTag  FullPaymentTag
	Phase    senderPhase
	Parts    map[PartID]PartStatus
	Failures []PaymentFailure
	UsedFee  uint64
	Settled  []payments.HTLCSettleInfo
}

// master is the narrow slice of the Payment Master a Sender needs: shared
// views onto the Failure Ledger and a way to ask for a route, per spec.md
// §9's "no true cycle" note — the Sender borrows a handle back into its
// owner rather than holding a reference to it.
type master interface {
	rightNowSendableView(chans []ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus) map[uint64]uint64
	requestRoute(req RouteRequest)
	dispatch(channelID uint64, cmd AddHTLCCommand) error
	randSource() *rand.Rand
	currentBlockHeight() uint32
	selfNode() route.Vertex
	resetAbortTimer(fullTag FullPaymentTag)
	now() time.Time
}

// sender is the Payment Sender FSM: it owns exactly one logical payment's
// parts and drives each through local retry, remote retry, and splitting
// until the whole payment succeeds or aborts.
type sender struct {
	cfg Config
	m   master

	fullTag   FullPaymentTag
	listeners []Listener

	phase           senderPhase
	split           SplitInfo
	targetNodeID    route.Vertex
	chainExpiry     ChainExpiry
	totalFeeReserve uint64
	allowedChans    []ChanAndCommits
	outerSecret     [32]byte
	payeeMetadata   fn.Option[[]byte]
	assistedEdges   []AssistedEdge
	onionTlvs       []tlv.Record
	userCustomTlvs  []tlv.Record

	parts    map[PartID]*PartStatus
	failures []PaymentFailure
	settled  []payments.HTLCSettleInfo

	fulfilledAmount uint64
	fulfilledFee    uint64
}

func newSender(cfg Config, m master, fullTag FullPaymentTag, listeners []Listener) *sender {
	return &sender{
		cfg:       cfg,
		m:         m,
		fullTag:   fullTag,
		listeners: listeners,
		phase:     senderInit,
		parts:     make(map[PartID]*PartStatus),
	}
}

// outgoingHtlcSlotsLeft caps how many times this payment may be split.
func (s *sender) outgoingHtlcSlotsLeft() int {
	return len(s.allowedChans)*s.cfg.MaxInChannelHtlcs - len(s.parts)
}

func (s *sender) totalAssigned() uint64 {
	var sum uint64
	for _, p := range s.parts {
		sum += p.Amount
	}
	return sum + s.fulfilledAmount
}

func (s *sender) usedFee() uint64 {
	sum := s.fulfilledFee
	for _, p := range s.parts {
		p.Flight.WhenSome(func(f Flight) {
			sum += f.Route.TotalFees()
		})
	}
	return sum
}

func (s *sender) feeLeftover() uint64 {
	used := s.usedFee()
	if used >= s.totalFeeReserve {
		return 0
	}
	return s.totalFeeReserve - used
}

func (s *sender) snapshot() SenderSnapshot {
	parts := make(map[PartID]PartStatus, len(s.parts))
	for id, p := range s.parts {
		parts[id] = *p
	}
	return SenderSnapshot{
		FullTag:  s.fullTag,
		Phase:    s.phase,
		Parts:    parts,
		Failures: append([]PaymentFailure(nil), s.failures...),
		UsedFee:  s.usedFee(),
		Settled:  append([]payments.HTLCSettleInfo(nil), s.settled...),
	}
}

// onSendPayment handles a SendPayment command arriving in INIT or ABORTED.
func (s *sender) onSendPayment(cmd SendPayment) {
	if s.phase != senderInit && s.phase != senderAborted {
		return
	}

	s.phase = senderInit
	s.split = cmd.Split
	s.targetNodeID = cmd.TargetNodeID
	s.chainExpiry = cmd.ChainExpiry
	s.totalFeeReserve = cmd.TotalFeeReserve
	s.allowedChans = cmd.AllowedChans
	s.outerSecret = cmd.OuterPaymentSecret
	s.payeeMetadata = cmd.PayeeMetadata
	s.assistedEdges = cmd.AssistedEdges
	s.onionTlvs = cmd.OnionTlvs
	s.userCustomTlvs = cmd.UserCustomTlvs

	sendable := s.m.rightNowSendableView(s.allowedChans, s.feeLeftoverForFreshSend(cmd), s.parts)
	s.assignToChans(sendable, cmd.Split.MyPart)
}

// feeLeftoverForFreshSend is the fee budget available to a brand new
// SendPayment: the whole reserve, since no route has been built yet.
func (s *sender) feeLeftoverForFreshSend(cmd SendPayment) uint64 {
	return cmd.TotalFeeReserve
}

// directChannelsFirst orders chans so that channels whose remote peer is the
// payment's target come first, then the rest in the order produced by rng.
func (s *sender) directChannelsFirst(chans []ChanAndCommits) []ChanAndCommits {
	direct := make([]ChanAndCommits, 0, len(chans))
	rest := make([]ChanAndCommits, 0, len(chans))
	for _, c := range chans {
		if c.RemoteNodeID == s.targetNodeID {
			direct = append(direct, c)
		} else {
			rest = append(rest, c)
		}
	}

	rng := s.m.randSource()
	rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})

	return append(direct, rest...)
}

// assignToChans enumerates allowedChans (direct-to-target first, the rest
// shuffled) and greedily assigns min(leftover, chanSendable) to each channel
// until the full amount is placed, or parks the remainder as a single
// WaitForChanOnline part if enough capacity exists on sleeping channels, or
// aborts with NOT_ENOUGH_FUNDS.
func (s *sender) assignToChans(sendable map[uint64]uint64, amount uint64) {
	leftover := amount

	ordered := s.directChannelsFirst(s.allowedChans)

	var newParts []*PartStatus
	for _, c := range ordered {
		if leftover == 0 {
			break
		}

		chanSendable, ok := sendable[c.ChannelID]
		if !ok || chanSendable == 0 {
			continue
		}

		assign := leftover
		if chanSendable < assign {
			assign = chanSendable
		}

		onionKey, err := newSessionKey()
		if err != nil {
			s.failPayment(PaymentFailure{
				Kind:   PaymentNotSendable,
				Amount: assign,
			})
			return
		}

		newParts = append(newParts, &PartStatus{
			Kind:     PartWaitForRouteOrInFlight,
			OnionKey: onionKey,
			Amount:   assign,
			Chan:     c,
		})

		leftover -= assign
	}

	if leftover == 0 {
		for _, p := range newParts {
			s.parts[p.ID()] = p
		}
		s.phase = senderPending
		s.armAbortTimer()
		return
	}

	sleepCap := sleepingSendable(s.allowedChans, s.feeLeftover(), s.parts)

	if sleepCap >= leftover {
		for _, p := range newParts {
			s.parts[p.ID()] = p
		}

		onionKey, err := newSessionKey()
		if err == nil {
			waiting := &PartStatus{
				Kind:     PartWaitForChanOnline,
				OnionKey: onionKey,
				Amount:   leftover,
			}
			s.parts[waiting.ID()] = waiting
		}

		s.phase = senderPending
		s.armAbortTimer()
		return
	}

	s.failPayment(PaymentFailure{Kind: NotEnoughFunds, Amount: leftover})
}

// armAbortTimer is a hook the owning Master/test harness re-arms after
// every assignToChans call; the concrete timer lives on the Master (one per
// sender) per spec.md §5's "each sender carries one re-armable abort timer".
func (s *sender) armAbortTimer() { s.m.resetAbortTimer(s.fullTag) }

// onChanGotOnline re-evaluates every WaitForChanOnline part against the
// newly online channel set.
func (s *sender) onChanGotOnline(allowedChans []ChanAndCommits) {
	if s.phase != senderPending {
		return
	}
	s.allowedChans = allowedChans

	for id, p := range s.parts {
		if p.Kind != PartWaitForChanOnline {
			continue
		}
		delete(s.parts, id)

		sendable := s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)
		s.assignToChans(sendable, p.Amount)
	}
}

// onAskForRoute picks the part with the greatest amount whose flight is
// still None and asks the master to forward a RouteRequest for it.
func (s *sender) onAskForRoute() {
	if s.phase != senderPending {
		return
	}

	var best *PartStatus
	for _, p := range s.parts {
		if p.Kind != PartWaitForRouteOrInFlight || p.Flight.IsSome() {
			continue
		}
		if best == nil || p.Amount > best.Amount {
			best = p
		}
	}
	if best == nil {
		return
	}

	req := RouteRequest{
		FullTag:       s.fullTag,
		PartID:        best.ID(),
		TargetNode:    s.targetNodeID,
		Amount:        best.Amount,
		AssistedEdges: s.assistedEdges,
		FakeLocalEdge: LocalEdge{
			From: s.m.selfNode(),
			To:   best.Chan.RemoteNodeID,
			Chan: best.Chan,
		},
		Params: RouteParams{
			FeeLimit:  s.feeLeftover(),
			MaxLength: s.cfg.InitRouteMaxLength,
			MaxCltv:   s.cfg.RouteMaxCltv,
		},
		IgnoreChannels: cloneDescSet(best.LocalFailedChans),
	}

	// Delivery happens solely via the routeResponseEvent the master posts
	// once the path-finder replies; there is no synchronous result here.
	s.m.requestRoute(req)
}

func cloneDescSet(in map[route.ChannelDesc]struct{}) map[route.ChannelDesc]struct{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[route.ChannelDesc]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// onRouteFound builds the final payload and onion for the given part and
// route, dispatches the HTLC command, and records the flight.
func (s *sender) onRouteFound(partID PartID, rt *route.Route) {
	if s.phase != senderPending {
		return
	}
	p, ok := s.parts[partID]
	if !ok || p.Flight.IsSome() {
		return
	}

	extra := make([]tlv.Record, 0, len(s.onionTlvs)+len(s.userCustomTlvs))
	extra = append(extra, s.onionTlvs...)
	extra = append(extra, s.userCustomTlvs...)

	final := FinalHopPayload{
		AmountMsat:    p.Amount,
		TotalMsat:     s.split.TotalSum,
		Expiry:        s.chainExpiry.Resolve(s.m.currentBlockHeight()),
		PaymentSecret: s.outerSecret,
		PayeeMetadata: s.payeeMetadata,
		ExtraTlvs:     extra,
	}

	firstAmount, firstExpiry, packet, err := buildOnion(rt, final, s.fullTag.PaymentHash)
	if err != nil {
		s.failPart(p, PaymentFailure{
			Kind:   OnionCreationFailure,
			PartID: partID,
			Amount: p.Amount,
			Route:  rt,
		})
		return
	}

	cmd := AddHTLCCommand{
		FullTag:      s.fullTag,
		PartID:       partID,
		FirstAmount:  firstAmount,
		FirstExpiry:  firstExpiry,
		Packet:       packet,
		FinalPayload: final,
	}

	p.Flight = fn.Some(Flight{
		Cmd:     cmd,
		Route:   *rt,
		Attempt: payments.NewAttemptInfo(p.OnionKey, s.m.now()),
	})
	p.FeesTried = append(p.FeesTried, rt.TotalFees())

	if err := s.m.dispatch(p.Chan.ChannelID, cmd); err != nil {
		s.onLocalReject(partID, RejectOther)
	}
}

// onNoRouteAvailable implements spec.md §4.4's NoRouteAvailable handling:
// try another channel excluding this part's known-bad set, else split if
// room remains, else fail outright.
func (s *sender) onNoRouteAvailable(partID PartID) {
	if s.phase != senderPending {
		return
	}
	p, ok := s.parts[partID]
	if !ok {
		return
	}

	sendable := s.sendableExcluding(p.LocalFailedChans)

	if alt, ok := pickChannelAtLeast(s.allowedChans, sendable, p.Amount, p.Chan.ChannelID); ok {
		p.markLocalFailed(p.Chan.Desc(s.m.selfNode()))
		s.oneMoreLocalAttempt(p, alt)
		return
	}

	if s.outgoingHtlcSlotsLeft() >= 1 {
		amount := p.Amount
		delete(s.parts, partID)
		s.cutIntoHalves(amount)
		return
	}

	s.failPart(p, PaymentFailure{
		Kind:   NoRoutesFound,
		PartID: partID,
		Amount: p.Amount,
	})
}

func (s *sender) sendableExcluding(exclude map[route.ChannelDesc]struct{}) map[uint64]uint64 {
	sendable := s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)
	if len(exclude) == 0 {
		return sendable
	}

	filtered := make(map[uint64]uint64, len(sendable))
	for _, c := range s.allowedChans {
		if _, bad := exclude[c.Desc(s.m.selfNode())]; bad {
			continue
		}
		if v, ok := sendable[c.ChannelID]; ok {
			filtered[c.ChannelID] = v
		}
	}
	return filtered
}

// pickChannelAtLeast returns the first channel (by the order chans is
// given) whose sendable amount covers need and whose id differs from
// excludeID, if any.
func pickChannelAtLeast(
	chans []ChanAndCommits, sendable map[uint64]uint64, need uint64, excludeID uint64,
) (ChanAndCommits, bool) {

	for _, c := range chans {
		if c.ChannelID == excludeID {
			continue
		}
		if sendable[c.ChannelID] >= need {
			return c, true
		}
	}
	return ChanAndCommits{}, false
}

// oneMoreLocalAttempt switches a part to a new channel, reusing its onion
// key because the HTLC never actually left this node.
func (s *sender) oneMoreLocalAttempt(p *PartStatus, newChan ChanAndCommits) {
	p.Chan = newChan
	p.Flight = fn.None[Flight]()
	p.Kind = PartWaitForRouteOrInFlight
}

// oneMoreRemoteAttempt switches a part to a new channel with a freshly
// rotated onion key, since a real HTLC was already sent and failed remotely.
func (s *sender) oneMoreRemoteAttempt(p *PartStatus, newChan ChanAndCommits) error {
	onionKey, err := newSessionKey()
	if err != nil {
		return err
	}

	delete(s.parts, p.ID())
	p.OnionKey = onionKey
	p.Chan = newChan
	p.Flight = fn.None[Flight]()
	p.Kind = PartWaitForRouteOrInFlight
	p.RemoteAttempts++
	s.parts[p.ID()] = p
	return nil
}

// onLocalReject implements the LocalReject branch of spec.md §4.4. A reject
// arriving while the sender is still Init has no part context to act on, so
// it's recorded as NotRetryingNoDetails rather than acted on; one arriving
// after the sender reached a terminal phase only drops its part.
func (s *sender) onLocalReject(partID PartID, reason LocalRejectReason) {
	if s.phase == senderInit {
		s.failures = append([]PaymentFailure{{
			Kind:   NotRetryingNoDetails,
			PartID: partID,
		}}, s.failures...)
		return
	}
	if s.phase != senderPending {
		delete(s.parts, partID)
		return
	}
	p, ok := s.parts[partID]
	if !ok || p.Flight.IsNone() {
		return
	}

	if reason == RejectInPrincipleNotSendable {
		s.failPart(p, PaymentFailure{
			Kind:   PaymentNotSendable,
			PartID: partID,
			Amount: p.Amount,
		})
		return
	}

	sendable := s.sendableExcluding(p.LocalFailedChans)
	alt, ok := pickChannelAtLeast(s.allowedChans, sendable, p.Amount, p.Chan.ChannelID)

	switch {
	case !ok && reason == RejectChannelOffline:
		p.markLocalFailed(p.Chan.Desc(s.m.selfNode()))
		amount := p.Amount
		delete(s.parts, partID)
		sendableAll := s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)
		s.assignToChans(sendableAll, amount)

	case !ok:
		s.failPart(p, PaymentFailure{
			Kind:   RunOutOfCapableChannels,
			PartID: partID,
			Amount: p.Amount,
		})

	default:
		p.markLocalFailed(p.Chan.Desc(s.m.selfNode()))
		s.oneMoreLocalAttempt(p, alt)
	}
}

// onRemoteUpdateMalform implements spec.md §4.4's RemoteUpdateMalform
// branch: blame the second-to-last hop and resolve as a local-style failure
// that nonetheless goes through resolveRemoteFail's retry/split logic.
func (s *sender) onRemoteUpdateMalform(partID PartID, reportNodeFailed func(route.Vertex, int)) {
	p, ok := s.parts[partID]
	if !ok || p.Flight.IsNone() {
		return
	}

	p.Flight.WhenSome(func(f Flight) {
		blamed := secondToLastHop(&f.Route)
		reportNodeFailed(blamed, s.cfg.MaxStrangeNodeFailures)
	})

	s.resolveRemoteFail(p, PaymentFailure{
		Kind:   NodeCouldNotParseOnion,
		PartID: partID,
		Amount: p.Amount,
	})
}

// secondToLastHop returns the node blamed when the final hop's onion
// payload can't be parsed: the penultimate hop, or the source if the route
// has only one hop.
func secondToLastHop(rt *route.Route) route.Vertex {
	n := len(rt.Hops)
	if n <= 1 {
		return rt.SourcePubKey
	}
	return rt.Hops[n-2].PubKeyBytes
}

// resolveRemoteFail implements spec.md §4.4's resolveRemoteFail: drop the
// part, prepend the failure, then retry on another channel, split, or fail
// outright depending on remaining capacity and attempts.
func (s *sender) resolveRemoteFail(p *PartStatus, failure PaymentFailure) {
	partID := p.ID()
	delete(s.parts, partID)

	failure.HTLCFail = &payments.HTLCFailInfo{
		FailTime:           s.m.now(),
		Reason:             htlcFailReasonFor(failure),
		FailureSourceIndex: sourceIndexFor(failure),
	}
	s.failures = append([]PaymentFailure{failure}, s.failures...)

	sendable := s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)

	if alt, ok := pickChannelAtLeast(s.allowedChans, sendable, p.Amount, p.Chan.ChannelID); ok &&
		p.RemoteAttempts < s.cfg.MaxRemoteAttempts {

		if err := s.oneMoreRemoteAttempt(p, alt); err == nil {
			return
		}
	}

	if s.outgoingHtlcSlotsLeft() >= 2 {
		s.cutIntoHalves(p.Amount)
		return
	}

	s.failures = append([]PaymentFailure{{
		Kind:   RunOutOfRetryAttempts,
		PartID: partID,
		Amount: p.Amount,
	}}, s.failures...)

	s.maybeAbort()
}

// htlcFailReasonFor classifies a resolveRemoteFail failure for HTLCFailInfo:
// the only case the sphinx decryption itself fails is UnreadableRemoteFailureKind,
// every other path through resolveRemoteFail carries a decrypted or
// locally-synthesized network failure message.
func htlcFailReasonFor(f PaymentFailure) payments.HTLCFailReason {
	if f.Kind == UnreadableRemoteFailureKind {
		return payments.HTLCFailUnreadable
	}
	return payments.HTLCFailMessage
}

// sourceIndexFor reads the blamed hop position out of a decrypted failure,
// defaulting to the sender itself when none is attached (the malformed-onion
// path blames a hop without going through sphinx decryption).
func sourceIndexFor(f PaymentFailure) uint32 {
	if f.Decrypted != nil {
		return uint32(f.Decrypted.SourceIdx)
	}
	return 0
}

// cutIntoHalves splits amount into two parts and runs assignToChans for
// each in turn, so the second call observes the reservations the first
// made.
func (s *sender) cutIntoHalves(amount uint64) {
	first := amount / 2
	second := amount - first

	sendable := s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)
	s.assignToChans(sendable, first)

	sendable = s.m.rightNowSendableView(s.allowedChans, s.feeLeftover(), s.parts)
	s.assignToChans(sendable, second)
}

// onRemoteUpdateFail implements spec.md §4.4's RemoteUpdateFail branch. The
// failure has already been decrypted by the caller (the Master, which holds
// the sphinx shared secrets alongside the dispatched command).
func (s *sender) onRemoteUpdateFail(
	partID PartID, decrypted DecryptedFailure, ledger *ledger, pf PathFinder,
) {
	p, ok := s.parts[partID]
	if !ok || p.Flight.IsNone() {
		return
	}

	var rt *route.Route
	p.Flight.WhenSome(func(f Flight) { rt = &f.Route })

	_, isPaymentTimeout := decrypted.Message.(PaymentTimeoutFailure)
	if decrypted.SourceIdx == len(rt.Hops) || isPaymentTimeout {
		// Terminal for this part: the destination itself rejected it,
		// or it's a PaymentTimeout. Don't retry.
		delete(s.parts, partID)
		s.failures = append([]PaymentFailure{{
			Kind:      RemoteFailureKind,
			PartID:    partID,
			Amount:    p.Amount,
			Route:     rt,
			Decrypted: &decrypted,
		}}, s.failures...)
		s.maybeAbort()
		return
	}

	origin := hopAtIndex(rt, decrypted.SourceIdx)
	edge := route.ChannelDesc{
		ShortChannelID: rt.Hops[decrypted.SourceIdx].ShortChannelID,
		From:           origin,
		To:             hopAtIndex(rt, decrypted.SourceIdx+1),
	}

	switch decrypted.Message.Classify() {
	case ClassUpdate:
		update, _ := decrypted.Message.ChannelUpdate()

		if !verifyChannelUpdateSignature(update, origin) {
			if ledger != nil {
				ledger.reportNodeFailed(origin, s.cfg.MaxStrangeNodeFailures*32)
			}
			break
		}

		if pf != nil {
			pf.LearnChannelUpdate(edge, update)
		}
		if update.Disabled && ledger != nil {
			ledger.reportChannelNotRoutable(edge)
		}

		switch {
		case update.ShortChannelID != edge.ShortChannelID:
			if ledger != nil {
				ledger.reportChannelFailedAtAmount(
					DescAndCapacity{Desc: edge, Capacity: s.edgeCapacityHint(edge, p)},
					p.Amount,
				)
				ledger.reportDirectionFailed(route.NewDirectedNodePair(edge.From, edge.To))
				ledger.reportNodeFailed(origin, 1)
			}

		case ledger != nil && ledger.knownUpdateMatches(edge, update):
			ledger.reportChannelFailedAtAmount(
				DescAndCapacity{Desc: edge, Capacity: s.edgeCapacityHint(edge, p)},
				p.Amount,
			)
			ledger.reportDirectionFailed(route.NewDirectedNodePair(edge.From, edge.To))

		default:
			if ledger != nil {
				ledger.reportNodeFailed(origin, 1)
			}
		}

		if ledger != nil {
			ledger.recordUpdate(edge, update)
		}

	case ClassNode:
		if ledger != nil {
			ledger.reportNodeFailed(origin, s.cfg.MaxStrangeNodeFailures)
		}

	default:
		if ledger != nil {
			ledger.reportChannelNotRoutable(edge)
		}
	}

	s.resolveRemoteFail(p, PaymentFailure{
		Kind:      RemoteFailureKind,
		PartID:    partID,
		Amount:    p.Amount,
		Route:     rt,
		Decrypted: &decrypted,
	})
}

// edgeCapacityHint is a best-effort capacity for a ChannelFailedAtAmount
// entry: the reserved local channel's own ceiling when the failing edge is
// our own first hop, or a multiple of the part's amount otherwise, since
// remote hops' on-chain capacity isn't known to a Sender.
func (s *sender) edgeCapacityHint(edge route.ChannelDesc, p *PartStatus) uint64 {
	if edge == p.Chan.Desc(s.m.selfNode()) {
		return p.Chan.MaxSendInFlight
	}
	return p.Amount * 2
}

// hopAtIndex returns the node at position idx in rt, where 0 is this node
// (the payment's sender) and len(rt.Hops) is the final destination.
func hopAtIndex(rt *route.Route, idx int) route.Vertex {
	if idx == 0 {
		return rt.SourcePubKey
	}
	return rt.Hops[idx-1].PubKeyBytes
}

// onUnreadableRemoteFailure resolves a failure whose packet could not be
// decrypted like any other remote failure. No hop is blamed: nothing is
// reported to the Failure Ledger on this path.
func (s *sender) onUnreadableRemoteFailure(partID PartID) {
	p, ok := s.parts[partID]
	if !ok || p.Flight.IsNone() {
		return
	}

	var rt *route.Route
	p.Flight.WhenSome(func(f Flight) { rt = &f.Route })

	s.resolveRemoteFail(p, PaymentFailure{
		Kind:   UnreadableRemoteFailureKind,
		PartID: partID,
		Amount: p.Amount,
		Route:  rt,
	})
}

// onRemoteFulfill implements spec.md §4.4's fulfill handling.
func (s *sender) onRemoteFulfill(partID PartID, preimage [32]byte, inFlight InFlightHTLCSet) {
	if s.phase == senderInit {
		return
	}

	p, ok := s.parts[partID]
	if !ok {
		return
	}

	if s.phase == senderPending {
		snap := s.snapshot()
		for _, l := range s.listeners {
			l.GotFirstPreimage(snap, preimage)
		}
	}

	s.fulfilledAmount += p.Amount
	p.Flight.WhenSome(func(f Flight) {
		s.fulfilledFee += f.Route.TotalFees()
	})
	s.settled = append(s.settled, payments.HTLCSettleInfo{
		Preimage:   payments.Preimage(preimage),
		SettleTime: s.m.now(),
	})
	delete(s.parts, partID)
	s.phase = senderSucceeded

	s.maybeSucceed(inFlight)
}

func (s *sender) maybeSucceed(inFlight InFlightHTLCSet) {
	if s.phase != senderSucceeded {
		return
	}
	if len(s.parts) != 0 {
		return
	}
	if inFlight != nil && inFlight.HasTag(s.fullTag) {
		return
	}

	snap := s.snapshot()
	for _, l := range s.listeners {
		l.WholePaymentSucceeded(snap)
	}
}

// failPart fails one part with a terminal failure, then decides whether the
// whole payment should abort.
func (s *sender) failPart(p *PartStatus, failure PaymentFailure) {
	delete(s.parts, p.ID())
	s.failures = append([]PaymentFailure{failure}, s.failures...)
	s.maybeAbort()
}

// failPayment fails the payment outright (no parts were ever installed, or
// assignment itself failed) with the given failure.
func (s *sender) failPayment(failure PaymentFailure) {
	s.failures = append([]PaymentFailure{failure}, s.failures...)
	s.maybeAbort()
}

// maybeAbort implements abortMaybeNotify: once no parts remain locally (and
// the sender has not succeeded), it enters ABORTED and notifies
// wholePaymentFailed. While any part remains the phase is left unchanged.
// The external InFlightHTLCSet is not consulted here.
func (s *sender) maybeAbort() {
	if len(s.parts) != 0 {
		return
	}
	if s.phase == senderSucceeded {
		return
	}

	s.phase = senderAborted

	snap := s.snapshot()
	for _, l := range s.listeners {
		l.WholePaymentFailed(snap)
	}
}

// onTimeout implements the abort-timer branch of spec.md §4.4: fail with
// TIMED_OUT if any part is still WaitForChanOnline.
func (s *sender) onTimeout() {
	if s.phase != senderPending {
		return
	}

	var waiting *PartStatus
	for _, p := range s.parts {
		if p.Kind == PartWaitForChanOnline {
			waiting = p
			break
		}
	}
	if waiting == nil {
		return
	}

	s.failPart(waiting, PaymentFailure{
		Kind:   TimedOut,
		PartID: waiting.ID(),
		Amount: waiting.Amount,
	})
}
