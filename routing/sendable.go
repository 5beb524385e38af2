package routing

import "github.com/lightningnetwork/lnd-mpp/route"

// reservedByPart sums the amounts of every PartWaitForRouteOrInFlight part
// reserved against channelID, whether or not its HTLC has been dispatched.
// The channel's AllOutgoing figure is not consulted, so a part that the
// channel snapshot already reflects is counted again.
func reservedByPart(parts map[PartID]*PartStatus, channelID uint64) uint64 {
	var reserved uint64
	for _, p := range parts {
		if p.Kind != PartWaitForRouteOrInFlight {
			continue
		}
		if p.Chan.ChannelID == channelID {
			reserved += p.Amount
		}
	}
	return reserved
}

// chanNetSendable computes what c could carry net of maxFee and any
// reservation already held against it by parts, without regard to its
// operational state; callers filter by state as needed.
func chanNetSendable(c ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus) uint64 {
	chanCap := c.MaxSendInFlight
	if c.AvailableForSend < chanCap {
		chanCap = c.AvailableForSend
	}

	reserved := reservedByPart(parts, c.ChannelID)

	var net uint64
	if maxFee+reserved < chanCap {
		net = chanCap - maxFee - reserved
	}

	return net
}

// rightNowSendable restricts chans to those Operational-and-Open, and for
// each returns the amount it could carry right now net of maxFee and any
// reservation already held against it by parts, excluding channels whose
// result falls below their minSendable floor.
func rightNowSendable(
	chans []ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus,
) map[uint64]uint64 {

	sendable := make(map[uint64]uint64, len(chans))
	for _, c := range chans {
		if !c.IsOperationalAndOpen() {
			continue
		}

		net := chanNetSendable(c, maxFee, parts)
		if net < c.MinSendable {
			continue
		}

		sendable[c.ChannelID] = net
	}

	return sendable
}

// sleepingSendable sums what every Operational-and-Sleeping channel in chans
// could carry once it reconnects, the estimate assignToChans parks a
// remainder against while waiting for a ChanGotOnline event.
func sleepingSendable(chans []ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus) uint64 {
	var total uint64
	for _, c := range chans {
		if !c.IsOperationalAndSleeping() {
			continue
		}
		total += chanNetSendable(c, maxFee, parts)
	}
	return total
}

// usedCapacities sums the in-flight amount every flighted part is currently
// routed through over every hop of its route, keyed by directed edge: a
// best-effort snapshot of external-channel utilisation consulted by
// route-request filtering in the failure ledger.
func usedCapacities(parts map[PartID]*PartStatus) map[route.ChannelDesc]uint64 {
	used := make(map[route.ChannelDesc]uint64)
	for _, p := range parts {
		p.Flight.WhenSome(func(flight Flight) {
			prevVertex := flight.Route.SourcePubKey
			for _, hop := range flight.Route.Hops {
				desc := route.ChannelDesc{
					ShortChannelID: hop.ShortChannelID,
					From:           prevVertex,
					To:             hop.PubKeyBytes,
				}
				used[desc] += hop.AmtToForward
				prevVertex = hop.PubKeyBytes
			}
		})
	}

	return used
}
