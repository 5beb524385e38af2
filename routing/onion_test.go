package routing

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd-mpp/route"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

func TestBuildHopTLVPayloadRoundTrips(t *testing.T) {
	scid := route.ShortChannelID(12345)

	payload, err := buildHopTLVPayload(50_000, 600_000, &scid, nil)
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	var (
		amt   uint64
		cltv  uint64
		next  uint64
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(tlv.Type(2), &amt),
		tlv.MakePrimitiveRecord(tlv.Type(4), &cltv),
		tlv.MakePrimitiveRecord(tlv.Type(6), &next),
	)
	require.NoError(t, err)

	err = stream.Decode(bytes.NewReader(payload))
	require.NoError(t, err)

	require.Equal(t, uint64(50_000), amt)
	require.Equal(t, uint64(600_000), cltv)
	require.Equal(t, uint64(scid), next)
}

func TestBuildFinalHopTLVPayloadIncludesMPPRecord(t *testing.T) {
	final := FinalHopPayload{
		AmountMsat:    25_000,
		TotalMsat:     100_000,
		Expiry:        500_000,
		PaymentSecret: [32]byte{1, 2, 3},
		PayeeMetadata: fn.None[[]byte](),
	}

	payload, err := buildFinalHopTLVPayload(final)
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

func TestBuildOnionProducesPacketAndSecretPerHop(t *testing.T) {
	hopKeys := make([]*btcec.PrivateKey, 3)
	hopVertices := make([]route.Vertex, 3)
	for i := range hopKeys {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		hopKeys[i] = priv
		hopVertices[i] = route.NewVertex(priv.PubKey())
	}

	rt := &route.Route{
		TotalAmount:   103_000,
		TotalTimeLock: 700_090,
		Hops: []*route.Hop{
			{
				PubKeyBytes:      hopVertices[0],
				ShortChannelID:   1,
				AmtToForward:     102_000,
				OutgoingTimeLock: 700_060,
			},
			{
				PubKeyBytes:      hopVertices[1],
				ShortChannelID:   2,
				AmtToForward:     101_000,
				OutgoingTimeLock: 700_030,
			},
			{
				PubKeyBytes:      hopVertices[2],
				ShortChannelID:   3,
				AmtToForward:     100_000,
				OutgoingTimeLock: 700_000,
			},
		},
	}

	final := FinalHopPayload{
		AmountMsat:    100_000,
		TotalMsat:     100_000,
		Expiry:        700_000,
		PaymentSecret: [32]byte{9, 9, 9},
		PayeeMetadata: fn.None[[]byte](),
	}

	var hash chainhash.Hash
	hash[0] = 42

	firstAmount, firstExpiry, pkt, err := buildOnion(rt, final, hash)
	require.NoError(t, err)
	require.Equal(t, rt.TotalAmount, firstAmount)
	require.Equal(t, rt.TotalTimeLock, firstExpiry)
	require.Len(t, pkt.SharedSecrets, len(rt.Hops))
	require.NotEmpty(t, pkt.OnionPacket)
}
