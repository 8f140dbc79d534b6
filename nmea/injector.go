package nmea

import (
	"log"
	"time"
)

// FixObserver receives every injected fix. ObserveFix is called on the
// session goroutine that produced the fix and must not block for long.
type FixObserver interface {
	ObserveFix(fix Fix) error
}

// FixObserverFunc adapts a function to the FixObserver interface
type FixObserverFunc func(fix Fix) error

// ObserveFix calls f(fix)
func (f FixObserverFunc) ObserveFix(fix Fix) error {
	return f(fix)
}

// Injector advances a vessel and encodes its new state as a GPRMC sentence
type Injector struct {
	vessel    *Vessel
	observers []FixObserver
	logger    *log.Logger
}

// NewInjector creates an injector for the vessel
func NewInjector(vessel *Vessel, observers ...FixObserver) *Injector {
	return &Injector{
		vessel:    vessel,
		observers: observers,
		logger:    log.Default(),
	}
}

// SetLogger sets the logger used to report observer failures
func (in *Injector) SetLogger(logger *log.Logger) {
	in.logger = logger
}

// Vessel returns the vessel driven by this injector
func (in *Injector) Vessel() *Vessel {
	return in.vessel
}

// Inject moves the vessel forward and returns the fix for its new position.
// The move happens before formatting, so consecutive fixes always differ.
func (in *Injector) Inject(now time.Time) Fix {
	state := in.vessel.Advance()
	fix := Fix{
		State:     state,
		Sentence:  FormatRMC(state, now),
		Timestamp: now.UTC(),
	}

	for _, observer := range in.observers {
		if err := observer.ObserveFix(fix); err != nil {
			in.logger.Printf("Fix observer error: %v", err)
		}
	}
	return fix
}
