package nmea

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the NMEA server
type Config struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	CorpusFile       string        `yaml:"corpus_file"`     // recorded sentences, one per line
	SentenceDelay    time.Duration `yaml:"sentence_delay"`  // pause after every corpus line
	InjectionDelay   time.Duration `yaml:"injection_delay"` // pause after every injected fix
	InjectEvery      int           `yaml:"inject_every"`    // corpus lines between injected fixes
	Latitude         float64       `yaml:"latitude"`        // seed latitude (decimal degrees)
	Longitude        float64       `yaml:"longitude"`       // seed longitude (decimal degrees)
	Speed            float64       `yaml:"speed"`           // knots
	Course           float64       `yaml:"course"`          // degrees true
	LongitudeStep    float64       `yaml:"longitude_step"`  // degrees added per injection
	// One vessel per client instead of a single vessel seen by every client
	VesselPerSession bool          `yaml:"vessel_per_session"`
	SerialPort       string        `yaml:"serial_port"` // mirror the feed to a serial device
	BaudRate         int           `yaml:"baud_rate"`
	HTTPAddr         string        `yaml:"http_addr"`   // status API and websocket feed (empty = disabled)
	MQTTBroker       string        `yaml:"mqtt_broker"` // publish injected fixes (empty = disabled)
	MQTTTopic        string        `yaml:"mqtt_topic"`
	MQTTClientID     string        `yaml:"mqtt_client_id"`
	GPXFile          string        `yaml:"gpx_file"` // record injected fixes as a GPX track
	Quiet            bool          `yaml:"quiet"`    // suppress informational messages
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           10110,
		CorpusFile:     "nmea.txt",
		SentenceDelay:  1 * time.Second,
		InjectionDelay: 1 * time.Second,
		InjectEvery:    5,
		Latitude:       50.4501, // Kyiv
		Longitude:      30.5234,
		Speed:          10.5,
		Course:         45.0,
		LongitudeStep:  0.0005,
		BaudRate:       4800,
		MQTTTopic:      "nmea/fix",
		MQTTClientID:   "nmea-server",
	}
}

// Address returns the host:port the server listens on
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks if the configuration is valid and returns an error if not
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.CorpusFile == "" {
		return ErrMissingCorpus
	}
	if c.SentenceDelay < 0 || c.InjectionDelay < 0 {
		return ErrInvalidDelay
	}
	if c.InjectEvery < 1 {
		return ErrInvalidInjectEvery
	}
	if c.Latitude < -90.0 || c.Latitude > 90.0 {
		return ErrInvalidLatitude
	}
	if c.Longitude < -180.0 || c.Longitude > 180.0 {
		return ErrInvalidLongitude
	}
	if c.Speed < 0.0 {
		return ErrInvalidSpeed
	}
	if c.Course < 0.0 || c.Course >= 360.0 {
		return ErrInvalidCourse
	}
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	return nil
}

// LoadConfigFile overlays the YAML file at path onto base. Keys missing from
// the file keep their value from base.
func LoadConfigFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := base
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return base, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}
