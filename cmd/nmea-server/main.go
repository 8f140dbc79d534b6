package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.bug.st/serial"

	"github.com/Bucknalla/go-nmea-server/nmea"
	"github.com/Bucknalla/go-nmea-server/publisher"
	"github.com/Bucknalla/go-nmea-server/web"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"     // Will be set to git tag if available, otherwise "dev"
	Commit    = "unknown" // Will be set to git commit hash
	BuildDate = "unknown" // Will be set to build timestamp
)

// options are command line settings that are not part of nmea.Config
type options struct {
	configFile  string
	showVersion bool
}

// newFlagSet binds every command line flag to config and opts
func newFlagSet(config *nmea.Config, opts *options, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("nmea-server", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.BoolVar(&opts.showVersion, "version", false, "Show version information and exit")
	fs.StringVar(&opts.configFile, "config", "", "YAML configuration file; command line flags take precedence")
	fs.StringVar(&config.Host, "host", config.Host, "Listen host")
	fs.IntVar(&config.Port, "port", config.Port, "Listen port")
	fs.StringVar(&config.CorpusFile, "file", config.CorpusFile, "Corpus file with one NMEA sentence per line")
	fs.DurationVar(&config.SentenceDelay, "delay", config.SentenceDelay, "Delay after each corpus sentence (0 = no delay)")
	fs.DurationVar(&config.InjectionDelay, "inject-delay", config.InjectionDelay, "Delay after each injected position fix")
	fs.IntVar(&config.InjectEvery, "inject-every", config.InjectEvery, "Inject a position fix after every N corpus sentences")
	fs.Float64Var(&config.Latitude, "lat", config.Latitude, "Initial vessel latitude (decimal degrees)")
	fs.Float64Var(&config.Longitude, "lon", config.Longitude, "Initial vessel longitude (decimal degrees)")
	fs.Float64Var(&config.Speed, "speed", config.Speed, "Vessel speed in knots")
	fs.Float64Var(&config.Course, "course", config.Course, "Vessel course in degrees true (0-359)")
	fs.Float64Var(&config.LongitudeStep, "lon-step", config.LongitudeStep, "Longitude added to the vessel on every injected fix")
	fs.BoolVar(&config.VesselPerSession, "per-session", config.VesselPerSession, "Give every client its own vessel instead of one shared vessel")
	fs.StringVar(&config.SerialPort, "serial", config.SerialPort, "Also stream to a serial port (e.g., /dev/ttyUSB0, COM1)")
	fs.IntVar(&config.BaudRate, "baud", config.BaudRate, "Serial port baud rate")
	fs.StringVar(&config.HTTPAddr, "http", config.HTTPAddr, "HTTP status API and websocket feed address (e.g., :8080)")
	fs.StringVar(&config.MQTTBroker, "mqtt", config.MQTTBroker, "Publish injected fixes to this MQTT broker (e.g., tcp://localhost:1883)")
	fs.StringVar(&config.MQTTTopic, "mqtt-topic", config.MQTTTopic, "MQTT topic for injected fixes")
	fs.StringVar(&config.MQTTClientID, "mqtt-client-id", config.MQTTClientID, "MQTT client ID")
	fs.StringVar(&config.GPXFile, "gpx", config.GPXFile, "Record injected fixes to this GPX file")
	fs.BoolVar(&config.Quiet, "quiet", config.Quiet, "Suppress info messages")

	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: %s [options]\n", fs.Name())
		fmt.Fprintf(output, "\nNMEA-0183 TCP Test Server\n")
		fmt.Fprintf(output, "Replays a recorded NMEA/AIS corpus to TCP clients and injects a simulated GPRMC position fix.\n\n")
		fmt.Fprintf(output, "Options:\n")
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig builds the configuration from defaults, the optional YAML file
// and finally the command line flags
func loadConfig(args []string, output io.Writer) (nmea.Config, options, error) {
	var opts options
	config := nmea.DefaultConfig()
	if err := newFlagSet(&config, &opts, output).Parse(args); err != nil {
		return config, opts, err
	}
	if opts.showVersion {
		return config, opts, nil
	}

	if opts.configFile != "" {
		fileConfig, err := nmea.LoadConfigFile(opts.configFile, nmea.DefaultConfig())
		if err != nil {
			return config, opts, err
		}
		// Parse again on top of the file so flags win
		config = fileConfig
		if err := newFlagSet(&config, &opts, io.Discard).Parse(args); err != nil {
			return config, opts, err
		}
	}

	if err := config.Validate(); err != nil {
		return config, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, opts, nil
}

func printBanner(config nmea.Config) {
	fmt.Fprintf(os.Stderr, "Starting NMEA server on %s\n", config.Address())
	fmt.Fprintf(os.Stderr, "Corpus: %s\n", config.CorpusFile)
	if summary, err := nmea.InspectCorpus(config.CorpusFile); err != nil {
		fmt.Fprintf(os.Stderr, "Corpus check failed: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Corpus sentences: %d (%d not NMEA-0183)\n", summary.Lines, summary.Invalid)
		for _, name := range summary.TypeNames() {
			fmt.Fprintf(os.Stderr, "  %s: %d\n", name, summary.Types[name])
		}
	}
	fmt.Fprintf(os.Stderr, "Sentence delay: %v, injection delay: %v\n", config.SentenceDelay, config.InjectionDelay)
	fmt.Fprintf(os.Stderr, "Injecting GPRMC every %d sentences\n", config.InjectEvery)
	fmt.Fprintf(os.Stderr, "Initial position: %.6f, %.6f\n", config.Latitude, config.Longitude)
	fmt.Fprintf(os.Stderr, "Speed: %.1f knots, course: %.1f degrees\n", config.Speed, config.Course)
	if config.VesselPerSession {
		fmt.Fprintf(os.Stderr, "Vessel: one per client\n")
	} else {
		fmt.Fprintf(os.Stderr, "Vessel: shared by all clients\n")
	}
	if config.SerialPort != "" {
		fmt.Fprintf(os.Stderr, "Serial mirror: %s (%d baud)\n", config.SerialPort, config.BaudRate)
	}
	if config.HTTPAddr != "" {
		fmt.Fprintf(os.Stderr, "HTTP control: %s\n", config.HTTPAddr)
	}
	if config.MQTTBroker != "" {
		fmt.Fprintf(os.Stderr, "MQTT: %s topic %s\n", config.MQTTBroker, config.MQTTTopic)
	}
	if config.GPXFile != "" {
		fmt.Fprintf(os.Stderr, "GPX output: %s\n", config.GPXFile)
	}
	fmt.Fprintf(os.Stderr, "\nPress Ctrl+C to stop\n\n")
}

func main() {
	config, opts, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatal(err)
	}

	// Handle version flag
	if opts.showVersion {
		if Version != "dev" {
			fmt.Printf("v%s\n", Version)
		} else {
			fmt.Printf("%s\n", Commit)
		}
		os.Exit(0)
	}

	if !config.Quiet {
		printBanner(config)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal(err)
	}
	if !config.Quiet {
		log.Printf("NMEA server stopped")
	}
}

// run serves until ctx is cancelled or the listener fails. Sessions are
// stopped and the fix observers flushed before it returns.
func run(ctx context.Context, config nmea.Config) error {
	var observers []nmea.FixObserver

	if config.GPXFile != "" {
		gpxWriter, err := nmea.NewGPXWriter(config.GPXFile)
		if err != nil {
			return fmt.Errorf("failed to create GPX writer: %w", err)
		}
		defer func() {
			if err := gpxWriter.Close(); err != nil {
				log.Printf("Failed to write GPX file: %v", err)
			}
		}()
		observers = append(observers, gpxWriter)
	}

	if config.MQTTBroker != "" {
		mqttPublisher, err := publisher.NewMQTT(config.MQTTBroker, config.MQTTClientID, config.MQTTTopic)
		if err != nil {
			return fmt.Errorf("failed to start MQTT publisher: %w", err)
		}
		defer mqttPublisher.Close()
		observers = append(observers, mqttPublisher)
	}

	server, err := nmea.NewServer(config, observers...)
	if err != nil {
		return fmt.Errorf("failed to create NMEA server: %w", err)
	}

	// Deferred in this order so sessions end before the observers close
	ctx, cancel := context.WithCancel(ctx)
	defer server.Wait()
	defer cancel()

	if config.SerialPort != "" {
		mode := &serial.Mode{
			BaudRate: config.BaudRate,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}

		port, err := serial.Open(config.SerialPort, mode)
		if err != nil {
			return fmt.Errorf("failed to open serial port %s: %w", config.SerialPort, err)
		}
		// Closing the port unblocks a pending write
		context.AfterFunc(ctx, func() {
			port.Close()
		})
		if !config.Quiet {
			log.Printf("Opened serial port: %s at %d baud", config.SerialPort, config.BaudRate)
		}

		if err := server.Go(ctx, port, "serial:"+config.SerialPort); err != nil {
			return err
		}
	}

	if config.HTTPAddr != "" {
		control := web.NewServer(server)
		go func() {
			if err := control.ListenAndServe(ctx, config.HTTPAddr); err != nil {
				log.Printf("HTTP control server error: %v", err)
			}
		}()
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("failed to serve on %s: %w", config.Address(), err)
	}
	return nil
}
