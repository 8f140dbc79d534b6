package nmea

import "sync"

// Vessel is the simulated own-ship. A single Vessel may be shared by every
// session; all access goes through its mutex.
type Vessel struct {
	mu    sync.Mutex
	state VesselState
	step  float64 // degrees of longitude per Advance
}

// NewVessel creates a vessel at the seed state that moves step degrees of
// longitude on every Advance
func NewVessel(seed VesselState, step float64) *Vessel {
	return &Vessel{
		state: seed,
		step:  step,
	}
}

// NewVesselFromConfig creates a vessel seeded from the configuration
func NewVesselFromConfig(config Config) *Vessel {
	return NewVessel(VesselState{
		Latitude:          config.Latitude,
		Longitude:         config.Longitude,
		SpeedKnots:        config.Speed,
		CourseDegreesTrue: config.Course,
	}, config.LongitudeStep)
}

// State returns a snapshot of the current vessel state
func (v *Vessel) State() VesselState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Advance moves the vessel one step east (west for a negative step) and
// returns the new state. Longitude wraps at the antimeridian.
func (v *Vessel) Advance() VesselState {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state.Longitude = normalizeLongitude(v.state.Longitude + v.step)
	return v.state
}

func normalizeLongitude(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
