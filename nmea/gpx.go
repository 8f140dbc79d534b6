package nmea

import (
	"encoding/xml"
	"fmt"
	"os"
	"sync"
	"time"
)

// GPX represents the root GPX document structure
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Track   Track    `xml:"trk"`
}

// Track represents a GPX track
type Track struct {
	Name         string       `xml:"name"`
	TrackSegment TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a segment of a GPX track
type TrackSegment struct {
	TrackPoints []TrackPoint `xml:"trkpt"`
}

// TrackPoint represents a point in a GPX track
type TrackPoint struct {
	Lat  float64   `xml:"lat,attr"`
	Lon  float64   `xml:"lon,attr"`
	Time time.Time `xml:"time"`
}

// gpxFlushEvery is how many points are buffered between rewrites of the file
const gpxFlushEvery = 10

// GPXWriter records injected fixes as a GPX track. It is a FixObserver and is
// safe for use by concurrent sessions.
type GPXWriter struct {
	mu       sync.Mutex
	filename string
	gpx      *GPX
	file     *os.File
}

// NewGPXWriter creates a new GPX writer
func NewGPXWriter(filename string) (*GPXWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %w", filename, err)
	}

	gpx := &GPX{
		Version: "1.1",
		Creator: "go-nmea-server",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Track: Track{
			Name: "Own-ship track",
			TrackSegment: TrackSegment{
				TrackPoints: []TrackPoint{},
			},
		},
	}

	return &GPXWriter{
		filename: filename,
		gpx:      gpx,
		file:     file,
	}, nil
}

// ObserveFix adds the fix position to the track, rewriting the file every
// gpxFlushEvery points
func (w *GPXWriter) ObserveFix(fix Fix) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.gpx.Track.TrackSegment.TrackPoints = append(w.gpx.Track.TrackSegment.TrackPoints, TrackPoint{
		Lat:  fix.State.Latitude,
		Lon:  fix.State.Longitude,
		Time: fix.Timestamp.UTC(),
	})

	if w.file != nil && len(w.gpx.Track.TrackSegment.TrackPoints)%gpxFlushEvery == 0 {
		return w.writeToFile()
	}
	return nil
}

// WriteToFile writes the current GPX data to the file
func (w *GPXWriter) WriteToFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeToFile()
}

func (w *GPXWriter) writeToFile() error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to beginning of file: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := w.file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(w.file)
	encoder.Indent("", "  ")
	if err := encoder.Encode(w.gpx); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close writes the final track and closes the file
func (w *GPXWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.writeToFile()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// GetTrackPointCount returns the number of track points currently stored
func (w *GPXWriter) GetTrackPointCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.gpx.Track.TrackSegment.TrackPoints)
}

// ReadGPXFile reads and parses a GPX file, returning its track points
func ReadGPXFile(filename string) ([]TrackPoint, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPX file %s: %w", filename, err)
	}
	defer file.Close()

	var gpx GPX
	if err := xml.NewDecoder(file).Decode(&gpx); err != nil {
		return nil, fmt.Errorf("failed to parse GPX file %s: %w", filename, err)
	}

	points := gpx.Track.TrackSegment.TrackPoints
	if len(points) == 0 {
		return nil, fmt.Errorf("no track points found in GPX file %s", filename)
	}
	return points, nil
}
