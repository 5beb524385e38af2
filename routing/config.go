package routing

import "time"

// Config bundles the tunable parameters of the payment engine. A single
// Config is shared by a Master and every Sender it creates.
type Config struct {
	// MaxStrangeNodeFailures is the counter threshold at or above which a
	// node is excluded from route requests (ignoreNodes) for returning
	// failures without a usable channel_update, or with an invalid
	// signature.
	MaxStrangeNodeFailures int

	// MaxDirectionFailures is the counter threshold at or above which a
	// directed edge is excluded from route requests.
	MaxDirectionFailures int

	// MaxRemoteAttempts bounds how many times a single logical part may
	// be retried on a fresh channel after a remote failure before it is
	// instead cut into halves or failed outright.
	MaxRemoteAttempts int

	// MaxInChannelHtlcs bounds, per allowed channel, how many concurrent
	// in-flight HTLCs a payment may occupy; multiplied by the channel
	// count it yields outgoingHtlcSlotsLeft, the ceiling on how many
	// times a payment may be split.
	MaxInChannelHtlcs int

	// FailedChanRecoveryMsec is the time constant over which a channel's
	// chanFailedAtAmount entry linearly recovers back towards its full
	// capacity.
	FailedChanRecoveryMsec int64

	// InitRouteMaxLength is the maximum hop count requested for a route.
	InitRouteMaxLength int

	// RouteMaxCltv is the maximum total CLTV delta a requested route may
	// accumulate.
	RouteMaxCltv uint32

	// AbortTimeout is how long a sender waits, after the most recent
	// assignToChans call, for a WaitForChanOnline part to be resolved by
	// a ChanGotOnline event before failing the payment with TIMED_OUT.
	AbortTimeout time.Duration
}

// DefaultConfig returns sane defaults modelled on lnd's own router
// defaults: a handful of strikes before a node or direction is pruned, a
// generous but bounded split factor, and a multi-minute recovery window so
// that a channel which failed once doesn't stay excluded from every
// subsequent payment for the life of the process.
func DefaultConfig() Config {
	return Config{
		MaxStrangeNodeFailures: 3,
		MaxDirectionFailures:   5,
		MaxRemoteAttempts:      5,
		MaxInChannelHtlcs:      5,
		FailedChanRecoveryMsec: int64(15 * time.Minute / time.Millisecond),
		InitRouteMaxLength:     20,
		RouteMaxCltv:           2016,
		AbortTimeout:           30 * time.Second,
	}
}
