package routing

import (
	"testing"

	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func TestRightNowSendable(t *testing.T) {
	operational := ChanAndCommits{
		ChannelID:        1,
		AvailableForSend: 100_000,
		MaxSendInFlight:  100_000,
		MinSendable:      1_000,
		State:            ChanOperationalOpen,
	}

	testCases := []struct {
		name     string
		chans    []ChanAndCommits
		maxFee   uint64
		parts    map[PartID]*PartStatus
		expected map[uint64]uint64
	}{
		{
			name:     "open channel with no reservations",
			chans:    []ChanAndCommits{operational},
			maxFee:   500,
			expected: map[uint64]uint64{1: 99_500},
		},
		{
			name: "sleeping channel excluded",
			chans: []ChanAndCommits{{
				ChannelID:        2,
				AvailableForSend: 100_000,
				MaxSendInFlight:  100_000,
				State:            ChanOperationalSleeping,
			}},
			expected: map[uint64]uint64{},
		},
		{
			name: "available for send caps max send in flight",
			chans: []ChanAndCommits{{
				ChannelID:        3,
				AvailableForSend: 5_000,
				MaxSendInFlight:  100_000,
				State:            ChanOperationalOpen,
			}},
			expected: map[uint64]uint64{3: 5_000},
		},
		{
			name:     "fee exceeds channel, excluded",
			chans:    []ChanAndCommits{operational},
			maxFee:   200_000,
			expected: map[uint64]uint64{},
		},
		{
			name:     "below min sendable, excluded",
			chans:    []ChanAndCommits{operational},
			maxFee:   99_500,
			expected: map[uint64]uint64{},
		},
		{
			name:  "reservation from an in-flight part is deducted",
			chans: []ChanAndCommits{operational},
			parts: map[PartID]*PartStatus{
				{1}: {
					Kind:   PartWaitForRouteOrInFlight,
					Amount: 40_000,
					Chan:   operational,
				},
			},
			expected: map[uint64]uint64{1: 60_000},
		},
		{
			name:  "reservation from a waiting-for-channel part is ignored",
			chans: []ChanAndCommits{operational},
			parts: map[PartID]*PartStatus{
				{1}: {
					Kind:   PartWaitForChanOnline,
					Amount: 40_000,
					Chan:   operational,
				},
			},
			expected: map[uint64]uint64{1: 100_000},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := rightNowSendable(tc.chans, tc.maxFee, tc.parts)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestSleepingSendable(t *testing.T) {
	sleeping := ChanAndCommits{
		ChannelID:        5,
		AvailableForSend: 100_000,
		MaxSendInFlight:  100_000,
		MinSendable:      1,
		State:            ChanOperationalSleeping,
	}
	open := ChanAndCommits{
		ChannelID:        6,
		AvailableForSend: 50_000,
		MaxSendInFlight:  50_000,
		MinSendable:      1,
		State:            ChanOperationalOpen,
	}

	got := sleepingSendable([]ChanAndCommits{sleeping, open}, 1_000, nil)
	require.Equal(t, uint64(99_000), got)
}

func TestUsedCapacities(t *testing.T) {
	var self, a, b route.Vertex
	self[0], a[0], b[0] = 1, 2, 3

	rt := route.Route{
		SourcePubKey: self,
		Hops: []*route.Hop{
			{PubKeyBytes: a, ShortChannelID: 10, AmtToForward: 5_000},
			{PubKeyBytes: b, ShortChannelID: 20, AmtToForward: 4_800},
		},
	}

	flighted := &PartStatus{
		Kind:   PartWaitForRouteOrInFlight,
		Flight: fn.Some(Flight{Route: rt}),
	}

	notFlighted := &PartStatus{
		Kind:   PartWaitForRouteOrInFlight,
		Flight: fn.None[Flight](),
	}

	parts := map[PartID]*PartStatus{
		{1}: flighted,
		{2}: notFlighted,
	}

	used := usedCapacities(parts)

	require.Equal(t, uint64(5_000), used[route.ChannelDesc{
		ShortChannelID: 10,
		From:           self,
		To:             a,
	}])
	require.Equal(t, uint64(4_800), used[route.ChannelDesc{
		ShortChannelID: 20,
		From:           a,
		To:             b,
	}])
	require.Len(t, used, 2)
}
