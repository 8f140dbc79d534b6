package nmea

import "time"

// VesselState is the simulated own-ship position and motion
type VesselState struct {
	Latitude          float64 `json:"latitude"`  // decimal degrees, north positive
	Longitude         float64 `json:"longitude"` // decimal degrees, east positive
	SpeedKnots        float64 `json:"speed_knots"`
	CourseDegreesTrue float64 `json:"course_degrees_true"`
}

// Fix is one injected position report
type Fix struct {
	State     VesselState `json:"state"`
	Sentence  string      `json:"sentence"` // checksummed GPRMC, without line terminator
	Timestamp time.Time   `json:"timestamp"`
}

// SessionState is the lifecycle stage of a streaming session
type SessionState int

const (
	Streaming SessionState = iota
	Draining
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionInfo is a snapshot of one active session
type SessionInfo struct {
	ID        uint64    `json:"id"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	Sentences uint64    `json:"sentences"`
	Fixes     uint64    `json:"fixes"`
	StartTime time.Time `json:"start_time"`
}

// Status represents the current server status
type Status struct {
	Serving     bool          `json:"serving"`
	Address     string        `json:"address,omitempty"`
	StartTime   time.Time     `json:"start_time,omitempty"`
	ElapsedTime time.Duration `json:"elapsed_time"`
	Vessel      VesselState   `json:"vessel"`
	Sessions    []SessionInfo `json:"sessions"`
	Accepted    uint64        `json:"accepted"`
}
