package routing

import "github.com/btcsuite/btclog/v2"

// log is the package-wide logger used by the payment master and sender
// FSMs. It defaults to a no-op logger; the host process installs its own
// via UseLogger, exactly as every other lnd subsystem package does.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by this package. This should
// be called once, at the host's startup, before any master is created.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// DisableLog disables all logging output performed by this package. This
// can be used to selectively quiet the package, as opposed to a global
// logging disable.
func DisableLog() {
	log = btclog.Disabled
}
