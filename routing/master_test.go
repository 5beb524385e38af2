package routing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

type fakePathFinder struct {
	requests chan RouteRequest
	route    *route.Route
}

func (f *fakePathFinder) FindRoute(req RouteRequest, reply RouteResultFunc) {
	f.requests <- req
	reply(RouteResult{
		FullTag: req.FullTag,
		PartID:  req.PartID,
		Route:   f.route,
	})
}

func (f *fakePathFinder) LearnChannelUpdate(route.ChannelDesc, ChannelUpdate) {}
func (f *fakePathFinder) AddAssistedEdges([]AssistedEdge)                    {}

type fakeMasterChannel struct {
	snap       ChanAndCommits
	dispatched chan AddHTLCCommand
}

func (c *fakeMasterChannel) Snapshot() ChanAndCommits { return c.snap }

func (c *fakeMasterChannel) ProcessAddHTLC(cmd AddHTLCCommand) error {
	c.dispatched <- cmd
	return nil
}

func waitOrTimeout(t *testing.T, ch <-chan AddHTLCCommand) AddHTLCCommand {
	t.Helper()
	select {
	case cmd := <-ch:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched HTLC")
		return AddHTLCCommand{}
	}
}

// newTestVertex returns the vertex of a freshly generated key, so that
// buildOnion can parse it as a hop public key.
func newTestVertex(t *testing.T) route.Vertex {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return route.NewVertex(priv.PubKey())
}

func newTestMaster(t *testing.T, pf PathFinder) *Master {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AbortTimeout = time.Hour

	m := NewMaster(
		cfg, clock.NewTestClock(time.Now()), pf, route.Vertex{0xAA},
		rand.New(rand.NewSource(7)),
	)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestMasterDispatchesHTLCOnceRouteArrives(t *testing.T) {
	target := newTestVertex(t)

	rt := &route.Route{
		SourcePubKey:  route.Vertex{0xAA},
		TotalAmount:   50_000,
		TotalTimeLock: 500_100,
		Hops: []*route.Hop{{
			PubKeyBytes:      target,
			ShortChannelID:   1,
			AmtToForward:     50_000,
			OutgoingTimeLock: 500_100,
		}},
	}

	pf := &fakePathFinder{requests: make(chan RouteRequest, 1), route: rt}
	m := newTestMaster(t, pf)

	ch := &fakeMasterChannel{
		snap: ChanAndCommits{
			ChannelID:        1,
			RemoteNodeID:     target,
			AvailableForSend: 100_000,
			MaxSendInFlight:  100_000,
			MinSendable:      1,
			State:            ChanOperationalOpen,
		},
		dispatched: make(chan AddHTLCCommand, 1),
	}
	m.RegisterChannel(1, ch)
	m.SetBlockHeight(500_000)

	tag := FullPaymentTag{}
	m.CreateSender(tag, nil)
	m.SendPayment(SendPayment{
		FullTag:         tag,
		TargetNodeID:    target,
		Split:           SplitInfo{TotalSum: 50_000, MyPart: 50_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{ch.snap},
		ChainExpiry:     ChainExpiry{IsDelta: true, Value: 100},
	})

	cmd := waitOrTimeout(t, ch.dispatched)
	require.Equal(t, tag, cmd.FullTag)
	require.Equal(t, uint64(50_000), cmd.FirstAmount)
	require.Equal(t, uint32(500_100), cmd.FirstExpiry)
}

func TestMasterSerializesRouteRequests(t *testing.T) {
	target := newTestVertex(t)

	rt := &route.Route{
		SourcePubKey: route.Vertex{0xAA},
		TotalAmount:  10_000,
		Hops: []*route.Hop{{
			PubKeyBytes:      target,
			ShortChannelID:   1,
			AmtToForward:     10_000,
			OutgoingTimeLock: 100,
		}},
	}

	pf := &fakePathFinder{requests: make(chan RouteRequest, 4), route: rt}
	m := newTestMaster(t, pf)

	ch := &fakeMasterChannel{
		snap: ChanAndCommits{
			ChannelID:        1,
			RemoteNodeID:     target,
			AvailableForSend: 100_000,
			MaxSendInFlight:  100_000,
			MinSendable:      1,
			State:            ChanOperationalOpen,
		},
		dispatched: make(chan AddHTLCCommand, 2),
	}
	m.RegisterChannel(1, ch)

	tagA := FullPaymentTag{PaymentSecret: [32]byte{1}}
	tagB := FullPaymentTag{PaymentSecret: [32]byte{2}}
	m.CreateSender(tagA, nil)
	m.CreateSender(tagB, nil)

	m.SendPayment(SendPayment{
		FullTag:         tagA,
		TargetNodeID:    target,
		Split:           SplitInfo{TotalSum: 10_000, MyPart: 10_000},
		TotalFeeReserve: 500,
		AllowedChans:    []ChanAndCommits{ch.snap},
	})
	m.SendPayment(SendPayment{
		FullTag:         tagB,
		TargetNodeID:    target,
		Split:           SplitInfo{TotalSum: 10_000, MyPart: 10_000},
		TotalFeeReserve: 500,
		AllowedChans:    []ChanAndCommits{ch.snap},
	})

	first := waitOrTimeout(t, ch.dispatched)
	second := waitOrTimeout(t, ch.dispatched)

	require.NotEqual(t, first.FullTag, second.FullTag)
	require.ElementsMatch(t,
		[]FullPaymentTag{tagA, tagB},
		[]FullPaymentTag{first.FullTag, second.FullTag},
	)
}
