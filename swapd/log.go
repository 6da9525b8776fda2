package swapd

import (
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/xswaplabs/xswap/coordinator"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/registry"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
	"github.com/xswaplabs/xswap/vault"
)

const Subsystem = "SWAPD"

var (
	logWriter   *build.RotatingLogWriter
	log         btclog.Logger
	interceptor signal.Interceptor
)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter, intercept signal.Interceptor) {
	genLogger := genSubLogger(root, intercept)

	logWriter = root
	log = build.NewSubLogger(Subsystem, genLogger)
	interceptor = intercept

	lnd.SetSubLogger(root, Subsystem, log)
	lnd.AddSubLogger(root, swap.Subsystem, intercept, swap.UseLogger)
	lnd.AddSubLogger(
		root, monitor.Subsystem, intercept, monitor.UseLogger,
	)
	lnd.AddSubLogger(root, swapdb.Subsystem, intercept, swapdb.UseLogger)
	lnd.AddSubLogger(root, vault.Subsystem, intercept, vault.UseLogger)
	lnd.AddSubLogger(
		root, registry.Subsystem, intercept, registry.UseLogger,
	)
	lnd.AddSubLogger(
		root, coordinator.Subsystem, intercept, coordinator.UseLogger,
	)
}

// genSubLogger creates a logger for a subsystem. We provide an instance of
// a signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	// Return a function which will create a sublogger from our root
	// logger without shutdown fn.
	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}
