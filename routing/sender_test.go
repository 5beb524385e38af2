package routing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/stretchr/testify/require"
)

// fakeMaster is an in-memory stand-in for *Master, letting sender tests
// drive the FSM without the worker goroutine or the queue.
type fakeMaster struct {
	sendable map[uint64]uint64

	requests   []RouteRequest
	dispatched []AddHTLCCommand

	rng         *rand.Rand
	blockHeight uint32
	self        route.Vertex
	clockTime   time.Time

	resetCount int

	dispatchErr error
}

func newFakeMaster() *fakeMaster {
	return &fakeMaster{
		sendable:  make(map[uint64]uint64),
		rng:       rand.New(rand.NewSource(1)),
		clockTime: time.Unix(0, 0),
	}
}

func (f *fakeMaster) rightNowSendableView(
	chans []ChanAndCommits, maxFee uint64, parts map[PartID]*PartStatus,
) map[uint64]uint64 {
	return rightNowSendable(chans, maxFee, parts)
}

func (f *fakeMaster) requestRoute(req RouteRequest) {
	f.requests = append(f.requests, req)
}

func (f *fakeMaster) now() time.Time { return f.clockTime }

func (f *fakeMaster) dispatch(channelID uint64, cmd AddHTLCCommand) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, cmd)
	return nil
}

func (f *fakeMaster) randSource() *rand.Rand          { return f.rng }
func (f *fakeMaster) currentBlockHeight() uint32      { return f.blockHeight }
func (f *fakeMaster) selfNode() route.Vertex          { return f.self }
func (f *fakeMaster) resetAbortTimer(FullPaymentTag)  { f.resetCount++ }

// fakeListener records whole-payment notifications for assertions.
type fakeListener struct {
	succeeded []SenderSnapshot
	failed    []SenderSnapshot
	preimages [][32]byte
}

func (f *fakeListener) WholePaymentSucceeded(s SenderSnapshot) {
	f.succeeded = append(f.succeeded, s)
}

func (f *fakeListener) WholePaymentFailed(s SenderSnapshot) {
	f.failed = append(f.failed, s)
}

func (f *fakeListener) GotFirstPreimage(s SenderSnapshot, preimage [32]byte) {
	f.preimages = append(f.preimages, preimage)
}

func chanOf(id uint64, avail uint64) ChanAndCommits {
	return ChanAndCommits{
		ChannelID:        id,
		AvailableForSend: avail,
		MaxSendInFlight:  avail,
		MinSendable:      1,
		State:            ChanOperationalOpen,
	}
}

func TestSenderAssignsWholeAmountToSingleChannel(t *testing.T) {
	fm := newFakeMaster()
	listener := &fakeListener{}
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, []Listener{listener})

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 50_000, MyPart: 50_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{chanOf(1, 100_000)},
	}

	s.onSendPayment(cmd)

	require.Equal(t, senderPending, s.phase)
	require.Len(t, s.parts, 1)
	require.Equal(t, 1, fm.resetCount)

	for _, p := range s.parts {
		require.Equal(t, uint64(50_000), p.Amount)
		require.Equal(t, uint64(1), p.Chan.ChannelID)
	}
}

func TestSenderSplitsAcrossTwoChannels(t *testing.T) {
	fm := newFakeMaster()
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, nil)

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 150_000, MyPart: 150_000},
		TotalFeeReserve: 1_000,
		AllowedChans: []ChanAndCommits{
			chanOf(1, 100_000),
			chanOf(2, 100_000),
		},
	}

	s.onSendPayment(cmd)

	require.Equal(t, senderPending, s.phase)
	require.Len(t, s.parts, 2)

	var total uint64
	for _, p := range s.parts {
		total += p.Amount
	}
	require.Equal(t, uint64(150_000), total)
}

func TestSenderFailsWithNotEnoughFunds(t *testing.T) {
	fm := newFakeMaster()
	listener := &fakeListener{}
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, []Listener{listener})

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 500_000, MyPart: 500_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{chanOf(1, 100_000)},
	}

	s.onSendPayment(cmd)

	require.Equal(t, senderAborted, s.phase)
	require.Len(t, listener.failed, 1)
	require.Len(t, s.failures, 1)
	require.Equal(t, NotEnoughFunds, s.failures[0].Kind)
}

func TestSenderParksRemainderWaitingForChanOnline(t *testing.T) {
	fm := newFakeMaster()
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, nil)

	sleeping := ChanAndCommits{
		ChannelID:        2,
		AvailableForSend: 100_000,
		MaxSendInFlight:  100_000,
		MinSendable:      1,
		State:            ChanOperationalSleeping,
	}

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 150_000, MyPart: 150_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{chanOf(1, 100_000), sleeping},
	}

	s.onSendPayment(cmd)

	require.Equal(t, senderPending, s.phase)

	var waiting, inFlight int
	for _, p := range s.parts {
		switch p.Kind {
		case PartWaitForChanOnline:
			waiting++
		case PartWaitForRouteOrInFlight:
			inFlight++
		}
	}
	require.Equal(t, 1, waiting, "parts: %v", spew.Sdump(s.parts))
	require.Equal(t, 1, inFlight, "parts: %v", spew.Sdump(s.parts))
}

func TestOnAskForRouteRequestsRouteForLargestFlightlessPart(t *testing.T) {
	fm := newFakeMaster()
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, nil)

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 150_000, MyPart: 150_000},
		TotalFeeReserve: 1_000,
		AllowedChans: []ChanAndCommits{
			chanOf(1, 51_000),
			chanOf(2, 101_000),
		},
	}
	s.onSendPayment(cmd)

	s.onAskForRoute()

	require.Len(t, fm.requests, 1)
	require.Equal(t, uint64(100_000), fm.requests[0].Amount)
}

func TestOnRemoteFulfillSucceedsOnceAllPartsClear(t *testing.T) {
	fm := newFakeMaster()
	listener := &fakeListener{}
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, []Listener{listener})

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 50_000, MyPart: 50_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{chanOf(1, 100_000)},
	}
	s.onSendPayment(cmd)

	var partID PartID
	for id := range s.parts {
		partID = id
	}

	var preimage [32]byte
	preimage[0] = 7

	s.onRemoteFulfill(partID, preimage, nil)

	require.Equal(t, senderSucceeded, s.phase)
	require.Len(t, listener.succeeded, 1)
	require.Len(t, listener.preimages, 1)
	require.Equal(t, preimage, listener.preimages[0])
	require.Empty(t, s.parts)
}

func TestOnTimeoutFailsWaitingPart(t *testing.T) {
	fm := newFakeMaster()
	listener := &fakeListener{}
	s := newSender(DefaultConfig(), fm, FullPaymentTag{}, []Listener{listener})

	sleeping := ChanAndCommits{
		ChannelID:        2,
		AvailableForSend: 100_000,
		MaxSendInFlight:  100_000,
		MinSendable:      1,
		State:            ChanOperationalSleeping,
	}

	cmd := SendPayment{
		Split:           SplitInfo{TotalSum: 150_000, MyPart: 150_000},
		TotalFeeReserve: 1_000,
		AllowedChans:    []ChanAndCommits{chanOf(1, 100_000), sleeping},
	}
	s.onSendPayment(cmd)

	s.onTimeout()

	require.Len(t, listener.failed, 0)

	var remaining int
	for range s.parts {
		remaining++
	}
	require.Equal(t, 1, remaining)
}
