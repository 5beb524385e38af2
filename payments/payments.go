// Package payments holds the small, storage-agnostic value types shared
// between a payment part's in-flight bookkeeping and its eventual terminal
// outcome. These are the building blocks the routing package's sender FSM
// uses to remember what it sent and what came back; nothing in this package
// touches disk.
package payments

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Preimage is the 32-byte proof of payment revealed when an HTLC settles.
type Preimage [32]byte

var (
	// ErrValueMismatch is returned if we try to register a non-MPP
	// attempt with an amount that doesn't match the payment amount.
	ErrValueMismatch = errors.New("attempted value doesn't match payment " +
		"amount")

	// ErrValueExceedsAmt is returned if we try to register an attempt
	// that would take the total sent amount above the payment amount.
	ErrValueExceedsAmt = errors.New("attempted value exceeds payment " +
		"amount")

	// ErrMPPRecordInBlindedPayment is returned if we try to register an
	// attempt with an MPP record for a payment to a blinded path.
	ErrMPPRecordInBlindedPayment = errors.New("blinded payment cannot " +
		"contain MPP records")

	// ErrBlindedPaymentTotalAmountMismatch is returned if we try to
	// register an HTLC shard to a blinded route where the total amount
	// doesn't match existing shards.
	ErrBlindedPaymentTotalAmountMismatch = errors.New("blinded path " +
		"total amount mismatch")

	// ErrMPPPaymentAddrMismatch is returned if we try to register an MPP
	// shard where the payment address doesn't match existing shards.
	ErrMPPPaymentAddrMismatch = errors.New("payment address mismatch")

	// ErrMPPTotalAmountMismatch is returned if we try to register an MPP
	// shard where the total amount doesn't match existing shards.
	ErrMPPTotalAmountMismatch = errors.New("mp payment total amount " +
		"mismatch")

	// ErrSentExceedsTotal is returned if the sum of part amounts exceeds
	// the requested split amount at assignment time.
	ErrSentExceedsTotal = errors.New("total assigned exceeds split amount")
)

// HTLCSettleInfo encapsulates the information that augments a resolved part
// in the event that the HTLC is successful.
type HTLCSettleInfo struct {
	// Preimage is the preimage of a successful HTLC. This serves as a
	// proof of payment.
	Preimage Preimage

	// SettleTime is the time at which this HTLC was settled.
	SettleTime time.Time
}

// HTLCFailReason is the reason a part's HTLC failed.
type HTLCFailReason byte

const (
	// HTLCFailUnknown is recorded for htlcs that failed with an unknown
	// reason.
	HTLCFailUnknown HTLCFailReason = 0

	// HTLCFailUnreadable is recorded for htlcs whose failure message
	// couldn't be decrypted.
	HTLCFailUnreadable HTLCFailReason = 1

	// HTLCFailInternal is recorded for htlcs that failed locally, before
	// ever leaving this node.
	HTLCFailInternal HTLCFailReason = 2

	// HTLCFailMessage is recorded for htlcs that failed with a decrypted
	// network failure message.
	HTLCFailMessage HTLCFailReason = 3
)

// HTLCFailInfo encapsulates the information that augments a resolved part in
// the event that the HTLC fails.
type HTLCFailInfo struct {
	// FailTime is the time at which this HTLC was failed.
	FailTime time.Time

	// Reason is the failure reason for this HTLC.
	Reason HTLCFailReason

	// FailureSourceIndex is the position in the path of the node that
	// generated the failure message. Position zero is the sender itself.
	FailureSourceIndex uint32
}

// AttemptInfo contains the static information about a single dispatched
// HTLC attempt for a payment part: its dispatch time and the session key it
// was created with. Session keys are lazily
// deserialized, mirroring the teacher's own lazy EC-point handling, since
// PrivKeyFromBytes is comparatively expensive and most attempts are never
// inspected again once resolved.
type AttemptInfo struct {
	// AttemptTime is the time at which this HTLC was dispatched.
	AttemptTime time.Time

	sessionKey       [btcec.PrivKeyBytesLen]byte
	cachedSessionKey *btcec.PrivateKey
}

// NewAttemptInfo records the session key and dispatch time of a new HTLC
// attempt.
func NewAttemptInfo(sessionKey *btcec.PrivateKey,
	attemptTime time.Time) AttemptInfo {

	var scratch [btcec.PrivKeyBytesLen]byte
	copy(scratch[:], sessionKey.Serialize())

	return AttemptInfo{
		AttemptTime:      attemptTime,
		sessionKey:       scratch,
		cachedSessionKey: sessionKey,
	}
}

// SessionKey returns the ephemeral key used for this attempt, deserializing
// it from the cached raw bytes if necessary.
func (a *AttemptInfo) SessionKey() *btcec.PrivateKey {
	if a.cachedSessionKey == nil {
		a.cachedSessionKey, _ = btcec.PrivKeyFromBytes(a.sessionKey[:])
	}

	return a.cachedSessionKey
}
