package swap

import (
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "SWAP"

// log is a logger that is initialized with no output filters.  This
// means the package will not perform any logging by default until the
// caller requests it.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	UseLogger(build.NewSubLogger(Subsystem, nil))
}

// UseLogger uses a specified Logger to output package logging info.
// This should be used in preference to SetLogWriter if the caller is
// also using btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// PrefixLog logs with a short order id prefix.
type PrefixLog struct {
	// Logger is the underlying based logger.
	Logger btclog.Logger

	// OrderID is the id that identifies the target order.
	OrderID OrderID
}

// Infof formats message according to format specifier and writes to
// log with LevelInfo.
func (s *PrefixLog) Infof(format string, params ...interface{}) {
	s.Logger.Infof(
		fmt.Sprintf("%v %s", ShortID(s.OrderID), format),
		params...,
	)
}

// Warnf formats message according to format specifier and writes to
// log with LevelWarn.
func (s *PrefixLog) Warnf(format string, params ...interface{}) {
	s.Logger.Warnf(
		fmt.Sprintf("%v %s", ShortID(s.OrderID), format),
		params...,
	)
}

// Errorf formats message according to format specifier and writes to
// log with LevelError.
func (s *PrefixLog) Errorf(format string, params ...interface{}) {
	s.Logger.Errorf(
		fmt.Sprintf("%v %s", ShortID(s.OrderID), format),
		params...,
	)
}

// Criticalf formats message according to format specifier and writes
// to log with LevelCritical.
func (s *PrefixLog) Criticalf(format string, params ...interface{}) {
	s.Logger.Criticalf(
		fmt.Sprintf("%v %s", ShortID(s.OrderID), format),
		params...,
	)
}

// ShortID returns a shortened version of the order id suitable for
// use in logging.
func ShortID(id OrderID) string {
	return id.String()[:6]
}
