package routing

import (
	"sync"

	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/clock"
)

// chanFailure remembers the amount a channel most recently failed at, and
// when, so restoration can grow that figure back towards the channel's full
// capacity over time.
type chanFailure struct {
	amount uint64
	stamp  int64 // unix millis
}

// ledger is the process-wide Failure Ledger: the shared memory a Master
// consults before forwarding a RouteRequest to the path-finder, and updates
// as remote and local failures come back from Senders. Grounded on the same
// decaying-prune-view shape missionControl uses, generalised from a single
// decay window to the amount-restoration curve spec.md §4.2 describes.
type ledger struct {
	mu sync.Mutex

	cfg   Config
	clock clock.Clock

	chanFailedAtAmount          map[DescAndCapacity]chanFailure
	nodeFailedUnknownUpdateTimes map[route.Vertex]int
	directionFailedTimes        map[route.DirectedNodePair]int
	chanNotRoutable             map[route.ChannelDesc]struct{}

	// knownUpdates remembers the last channel_update learned for each
	// edge, so a fresh remote failure can tell a genuine policy change
	// (retryable) apart from the same policy restated (imbalance).
	knownUpdates map[route.ChannelDesc]ChannelUpdate
}

// newLedger constructs an empty Failure Ledger.
func newLedger(cfg Config, c clock.Clock) *ledger {
	return &ledger{
		cfg:                          cfg,
		clock:                        c,
		chanFailedAtAmount:           make(map[DescAndCapacity]chanFailure),
		nodeFailedUnknownUpdateTimes: make(map[route.Vertex]int),
		directionFailedTimes:         make(map[route.DirectedNodePair]int),
		chanNotRoutable:              make(map[route.ChannelDesc]struct{}),
		knownUpdates:                 make(map[route.ChannelDesc]ChannelUpdate),
	}
}

func (l *ledger) nowMillis() int64 {
	return l.clock.Now().UnixMilli()
}

// reportChannelFailedAtAmount records that dac most recently failed while
// carrying usedNow; a new failure narrows the remembered ceiling to the
// smaller of the previous ceiling and the amount actually in flight.
func (l *ledger) reportChannelFailedAtAmount(dac DescAndCapacity, usedNow uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.chanFailedAtAmount[dac]
	ceiling := usedNow
	if ok && prev.amount < ceiling {
		ceiling = prev.amount
	}

	l.chanFailedAtAmount[dac] = chanFailure{
		amount: ceiling,
		stamp:  l.nowMillis(),
	}
}

// reportDirectionFailed bumps the per-direction failure counter.
func (l *ledger) reportDirectionFailed(dir route.DirectedNodePair) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.directionFailedTimes[dir]++
}

// reportNodeFailed adds inc to the node's unknown-update penalty counter.
func (l *ledger) reportNodeFailed(node route.Vertex, inc int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nodeFailedUnknownUpdateTimes[node] += inc
}

// recordUpdate remembers update as the last known policy for desc.
func (l *ledger) recordUpdate(desc route.ChannelDesc, update ChannelUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.knownUpdates[desc] = update
}

// knownUpdateMatches reports whether update restates the same fees and CLTV
// delta this ledger last learned for desc; a false result also covers the
// case where no prior update for desc is known.
func (l *ledger) knownUpdateMatches(desc route.ChannelDesc, update ChannelUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.knownUpdates[desc]
	return ok && prev.SameFeesAndCltv(update)
}

// reportChannelNotRoutable marks desc disabled until the next reduction
// cycle clears it.
func (l *ledger) reportChannelNotRoutable(desc route.ChannelDesc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.chanNotRoutable[desc] = struct{}{}
}

// restore runs the restoration pass spec.md §4.2 describes: every
// chanFailedAtAmount entry is grown towards its capacity linearly over
// FailedChanRecoveryMsec and dropped once it would equal or exceed capacity;
// every node and direction counter is halved; chanNotRoutable is cleared
// entirely.
func (l *ledger) restore() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowMillis()

	for dac, f := range l.chanFailedAtAmount {
		elapsed := now - f.stamp
		if elapsed < 0 {
			elapsed = 0
		}

		restoredRatio := float64(elapsed) / float64(l.cfg.FailedChanRecoveryMsec)
		if restoredRatio > 1 {
			restoredRatio = 1
		}

		grown := float64(f.amount) +
			float64(dac.Capacity-f.amount)*restoredRatio

		if uint64(grown) >= dac.Capacity {
			delete(l.chanFailedAtAmount, dac)
			continue
		}

		f.amount = uint64(grown)
		l.chanFailedAtAmount[dac] = f
	}

	for node, count := range l.nodeFailedUnknownUpdateTimes {
		l.nodeFailedUnknownUpdateTimes[node] = count / 2
	}
	for dir, count := range l.directionFailedTimes {
		l.directionFailedTimes[dir] = count / 2
	}

	l.chanNotRoutable = make(map[route.ChannelDesc]struct{})
}

// routeFilter is the ignore-set bundle a RouteRequest is built from.
type routeFilter struct {
	IgnoreNodes      map[route.Vertex]struct{}
	IgnoreDirections map[route.DirectedNodePair]struct{}
	IgnoreChannels   map[route.ChannelDesc]struct{}
}

// buildFilter computes, for a route request of amount req carrying the
// current used-capacity snapshot, the ignore sets spec.md §4.2 names.
func (l *ledger) buildFilter(
	req uint64, used map[route.ChannelDesc]uint64,
	capacities map[route.ChannelDesc]uint64,
) routeFilter {

	l.mu.Lock()
	defer l.mu.Unlock()

	filter := routeFilter{
		IgnoreNodes:      make(map[route.Vertex]struct{}),
		IgnoreDirections: make(map[route.DirectedNodePair]struct{}),
		IgnoreChannels:   make(map[route.ChannelDesc]struct{}),
	}

	for desc, capacity := range capacities {
		currentUsed := used[desc]
		if currentUsed+req >= capacity-req/32 {
			filter.IgnoreChannels[desc] = struct{}{}
		}
	}

	for dac, f := range l.chanFailedAtAmount {
		currentUsed := used[dac.Desc]
		if f.amount <= currentUsed+req/8+req {
			filter.IgnoreChannels[dac.Desc] = struct{}{}
		}
	}

	for node, count := range l.nodeFailedUnknownUpdateTimes {
		if count >= l.cfg.MaxStrangeNodeFailures {
			filter.IgnoreNodes[node] = struct{}{}
		}
	}

	for dir, count := range l.directionFailedTimes {
		if count >= l.cfg.MaxDirectionFailures {
			filter.IgnoreDirections[dir] = struct{}{}
		}
	}

	for desc := range l.chanNotRoutable {
		filter.IgnoreChannels[desc] = struct{}{}
	}

	return filter
}
