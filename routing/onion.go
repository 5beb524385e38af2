package routing

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd-mpp/route"
	sphinx "github.com/lightningnetwork/lightning-onion"
	"github.com/lightningnetwork/lnd/tlv"
)

// buildHopTLVPayload encodes one hop's forwarding instruction as a BOLT-04
// TLV payload: amount to forward, outgoing CLTV, and (for every hop but the
// last) the next channel's short_channel_id.
func buildHopTLVPayload(
	amtToForward uint64, outgoingCLTV uint32, nextChanID *route.ShortChannelID,
	extra []tlv.Record,
) ([]byte, error) {

	var records []tlv.Record

	amt := amtToForward
	cltv := uint64(outgoingCLTV)
	records = append(records,
		tlv.MakePrimitiveRecord(tlv.Type(2), &amt),
		tlv.MakePrimitiveRecord(tlv.Type(4), &cltv),
	)

	if nextChanID != nil {
		scid := uint64(*nextChanID)
		records = append(records, tlv.MakePrimitiveRecord(tlv.Type(6), &scid))
	}

	records = append(records, extra...)
	tlv.SortRecords(records)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("building hop payload stream: %w", err)
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encoding hop payload: %w", err)
	}

	return buf.Bytes(), nil
}

// buildFinalHopTLVPayload encodes the destination's multipart payload:
// forward amount, CLTV, the MPP record (total amount and payment secret),
// optional payee metadata, plus any caller-supplied onion and custom TLVs.
func buildFinalHopTLVPayload(final FinalHopPayload) ([]byte, error) {
	var records []tlv.Record

	amt := final.AmountMsat
	cltv := uint64(final.Expiry)
	records = append(records,
		tlv.MakePrimitiveRecord(tlv.Type(2), &amt),
		tlv.MakePrimitiveRecord(tlv.Type(4), &cltv),
	)

	total := final.TotalMsat
	secret := final.PaymentSecret
	records = append(records, tlv.MakeStaticRecord(
		tlv.Type(8), nil, 32+8, encodeMPPRecord(&secret, &total), nil,
	))

	final.PayeeMetadata.WhenSome(func(meta []byte) {
		records = append(records,
			tlv.MakePrimitiveRecord(tlv.Type(16), &meta))
	})

	records = append(records, final.ExtraTlvs...)
	tlv.SortRecords(records)

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, fmt.Errorf("building final hop payload stream: %w", err)
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encoding final hop payload: %w", err)
	}

	return buf.Bytes(), nil
}

func encodeMPPRecord(secret *[32]byte, totalMsat *uint64) func(w io.Writer, val interface{}, buf *[8]byte) error {
	return func(w io.Writer, val interface{}, buf *[8]byte) error {
		if _, err := w.Write(secret[:]); err != nil {
			return err
		}
		return tlv.ETUint64(w, totalMsat, buf)
	}
}

// buildOnion is the Onion & HTLC Command Builder. Given the route a part
// was assigned, the final hop's multipart payload, and the payment hash used
// as sphinx associated data, it encodes every hop's TLV payload from the
// route's own per-hop fields and produces a fresh sphinx packet. The
// returned firstAmount/firstExpiry are what the sender itself must commit on
// the first hop.
func buildOnion(
	r *route.Route, final FinalHopPayload, paymentHash chainhash.Hash,
) (firstAmount uint64, firstExpiry uint32, _ PacketAndSecrets, _ error) {

	if len(r.Hops) == 0 {
		return 0, 0, PacketAndSecrets{}, fmt.Errorf("route has no hops")
	}

	firstAmount = r.TotalAmount
	firstExpiry = r.TotalTimeLock

	var hops sphinx.PaymentPath
	if len(r.Hops) > len(hops) {
		return 0, 0, PacketAndSecrets{}, fmt.Errorf(
			"route length %d exceeds sphinx max hop count %d",
			len(r.Hops), len(hops))
	}

	for i, hop := range r.Hops {
		var payload []byte
		var err error
		if i == len(r.Hops)-1 {
			payload, err = buildFinalHopTLVPayload(final)
		} else {
			next := r.Hops[i+1].ShortChannelID
			payload, err = buildHopTLVPayload(
				hop.AmtToForward, hop.OutgoingTimeLock, &next, nil,
			)
		}
		if err != nil {
			return 0, 0, PacketAndSecrets{}, err
		}

		pub, err := btcec.ParsePubKey(hop.PubKeyBytes[:])
		if err != nil {
			return 0, 0, PacketAndSecrets{}, fmt.Errorf(
				"parsing hop pubkey: %w", err)
		}

		hops[i] = sphinx.OnionHop{
			NodePub: *pub,
			HopPayload: sphinx.HopPayload{
				Type:    sphinx.PayloadTLV,
				Payload: payload,
			},
		}
	}

	sessionKey, err := btcec.NewPrivateKey()
	if err != nil {
		return 0, 0, PacketAndSecrets{}, fmt.Errorf(
			"generating onion session key: %w", err)
	}

	pkt, err := sphinx.NewOnionPacket(
		&hops, sessionKey, paymentHash[:], sphinx.DeterministicPacketFiller,
	)
	if err != nil {
		return 0, 0, PacketAndSecrets{}, fmt.Errorf(
			"building sphinx packet: %w", err)
	}

	var buf bytes.Buffer
	if err := pkt.Encode(&buf); err != nil {
		return 0, 0, PacketAndSecrets{}, fmt.Errorf(
			"encoding sphinx packet: %w", err)
	}

	secrets, err := generateSharedSecrets(r, sessionKey)
	if err != nil {
		return 0, 0, PacketAndSecrets{}, err
	}

	return firstAmount, firstExpiry, PacketAndSecrets{
		OnionPacket:   buf.Bytes(),
		SharedSecrets: secrets,
	}, nil
}

// generateSharedSecrets re-derives, hop by hop, the same per-hop shared
// secrets NewOnionPacket used internally, so a later decrypted failure can
// be peeled back open without re-deriving the route.
func generateSharedSecrets(
	r *route.Route, sessionKey *btcec.PrivateKey,
) ([][32]byte, error) {

	pubKeys := make([]*btcec.PublicKey, len(r.Hops))
	for i, hop := range r.Hops {
		pub, err := btcec.ParsePubKey(hop.PubKeyBytes[:])
		if err != nil {
			return nil, fmt.Errorf("parsing hop pubkey: %w", err)
		}
		pubKeys[i] = pub
	}

	hashes, err := sphinx.GenerateSharedSecrets(pubKeys, sessionKey)
	if err != nil {
		return nil, err
	}

	secrets := make([][32]byte, len(hashes))
	for i, h := range hashes {
		secrets[i] = h
	}
	return secrets, nil
}

// newSessionKey generates a fresh part keypair, used both for a new part and
// for every remote retry of a part (a local retry keeps the existing key,
// since no HTLC ever left this node). The public key is the part's PartID.
// buildOnion does not use this key: it builds each sphinx packet with a
// session key of its own.
func newSessionKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}
