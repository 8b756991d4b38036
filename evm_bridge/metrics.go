package evmbridge

import "github.com/ethereum/go-ethereum/metrics"

var (
	callTimer = metrics.NewRegisteredTimer("evmbridge/call/time", nil)

	successMeter  = metrics.NewRegisteredMeter("evmbridge/call/success", nil)
	revertedMeter = metrics.NewRegisteredMeter("evmbridge/call/reverted", nil)
	oogMeter      = metrics.NewRegisteredMeter("evmbridge/call/oog", nil)
	staticMeter   = metrics.NewRegisteredMeter("evmbridge/call/static", nil)
	depthMeter    = metrics.NewRegisteredMeter("evmbridge/call/depth", nil)

	rejectedMeter = metrics.NewRegisteredMeter("evmbridge/call/rejected", nil)
	gasUsedGauge  = metrics.NewRegisteredGauge("evmbridge/gas/used", nil)
)

// markOutcome records the terminal state of a top-level bridge call.
func markOutcome(s FrameState) {
	switch s {
	case Success:
		successMeter.Mark(1)
	case Reverted:
		revertedMeter.Mark(1)
	case OutOfGas:
		oogMeter.Mark(1)
	case StaticViolation:
		staticMeter.Mark(1)
	case DepthExceeded:
		depthMeter.Mark(1)
	}
}
