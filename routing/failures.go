package routing

import (
	"github.com/lightningnetwork/lnd-mpp/payments"
	"github.com/lightningnetwork/lnd-mpp/route"
)

// FailureKind enumerates the closed set of ways a part (or, for
// NotEnoughFunds, a whole payment before any part existed) can fail.
// Spec.md §7 names each of these.
type FailureKind uint8

const (
	// NoRoutesFound: the path-finder exhausted every channel under the
	// current ignore filters for this part.
	NoRoutesFound FailureKind = iota

	// NotEnoughFunds: sendable across allowed channels fell short of the
	// amount required at assignment time.
	NotEnoughFunds

	// PaymentNotSendable: the channel reported a principled,
	// non-retriable refusal.
	PaymentNotSendable

	// RunOutOfRetryAttempts: after a remote failure, remoteAttempts
	// reached MaxRemoteAttempts or no other channel can take the part,
	// and no split was possible.
	RunOutOfRetryAttempts

	// RunOutOfCapableChannels: after a local failure, no other allowed
	// channel can carry the part; no split is attempted.
	RunOutOfCapableChannels

	// NodeCouldNotParseOnion: a malformed-onion failure was reported;
	// the second-to-last hop was blamed.
	NodeCouldNotParseOnion

	// NotRetryingNoDetails: a reject arrived while the sender was in
	// INIT, with no part context to act on.
	NotRetryingNoDetails

	// OnionCreationFailure: the final onion payload failed to encode
	// (oversized or malformed TLVs).
	OnionCreationFailure

	// TimedOut: the abort timer fired with at least one part still
	// WaitForChanOnline.
	TimedOut

	// RemoteFailureKind: a structured, decrypted remote failure,
	// preserved per-part and surfaced to listeners.
	RemoteFailureKind

	// UnreadableRemoteFailureKind: the sphinx failure packet could not
	// be decrypted with this part's shared secrets.
	UnreadableRemoteFailureKind
)

// PaymentFailure is one entry of a payment's failure history: the kind,
// which part it applied to, and (for the two remote kinds) the decrypted
// detail and route it travelled.
type PaymentFailure struct {
	Kind   FailureKind
	PartID PartID
	Amount uint64

	// Route is set for RemoteFailureKind and UnreadableRemoteFailureKind.
	Route *route.Route

	// Decrypted is set only for RemoteFailureKind.
	Decrypted *DecryptedFailure

	// HTLCFail carries the part's settle-agnostic resolution detail
	// (fail time, reason class, blamed hop index). It is set only on the
	// entry resolveRemoteFail records for the remote failure itself; every
	// other entry, including a RunOutOfRetryAttempts entry and the
	// RemoteFailureKind entry of a failure from the final hop, leaves it
	// nil.
	HTLCFail *payments.HTLCFailInfo
}

// String returns a short diagnostic label for the failure kind.
func (k FailureKind) String() string {
	switch k {
	case NoRoutesFound:
		return "NO_ROUTES_FOUND"
	case NotEnoughFunds:
		return "NOT_ENOUGH_FUNDS"
	case PaymentNotSendable:
		return "PAYMENT_NOT_SENDABLE"
	case RunOutOfRetryAttempts:
		return "RUN_OUT_OF_RETRY_ATTEMPTS"
	case RunOutOfCapableChannels:
		return "RUN_OUT_OF_CAPABLE_CHANNELS"
	case NodeCouldNotParseOnion:
		return "NODE_COULD_NOT_PARSE_ONION"
	case NotRetryingNoDetails:
		return "NOT_RETRYING_NO_DETAILS"
	case OnionCreationFailure:
		return "ONION_CREATION_FAILURE"
	case TimedOut:
		return "TIMED_OUT"
	case RemoteFailureKind:
		return "RemoteFailure"
	case UnreadableRemoteFailureKind:
		return "UnreadableRemoteFailure"
	default:
		return "UNKNOWN"
	}
}
