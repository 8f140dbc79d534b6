package nmea

import "errors"

// Session errors. Each one ends only the session that hit it.
var (
	ErrSourceUnavailable = errors.New("sentence source unavailable")
	ErrWriteFailed       = errors.New("sentence write failed")
	ErrDegenerateSource  = errors.New("sentence source yielded no lines in a full pass")
)

// ErrServerClosed is returned by Stream and Go once Wait has been called
var ErrServerClosed = errors.New("nmea server closed")

// Configuration errors returned by Config.Validate
var (
	ErrInvalidPort        = errors.New("port must be between 0 and 65535")
	ErrMissingCorpus      = errors.New("corpus file path is required")
	ErrInvalidDelay       = errors.New("delays must be non-negative")
	ErrInvalidInjectEvery = errors.New("injection interval must be at least 1 sentence")
	ErrInvalidLatitude    = errors.New("latitude must be between -90.0 and 90.0 degrees")
	ErrInvalidLongitude   = errors.New("longitude must be between -180.0 and 180.0 degrees")
	ErrInvalidSpeed       = errors.New("speed must be non-negative")
	ErrInvalidCourse      = errors.New("course must be between 0.0 and 359.9 degrees")
	ErrInvalidBaudRate    = errors.New("baud rate must be positive")
)
