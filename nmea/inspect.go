package nmea

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
)

// CorpusSummary describes the content of a corpus file. Lines are replayed
// verbatim regardless of what is found here.
type CorpusSummary struct {
	Lines   int            `json:"lines"`
	Blank   int            `json:"blank"`
	Invalid int            `json:"invalid"` // not parseable as NMEA-0183
	Types   map[string]int `json:"types"`   // e.g. "AIVDM", "GPGGA"
}

// TypeNames returns the sentence types found, sorted
func (c CorpusSummary) TypeNames() []string {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InspectCorpus reads the corpus file once and counts sentences by type
func InspectCorpus(path string) (CorpusSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return CorpusSummary{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	defer file.Close()

	summary := CorpusSummary{Types: make(map[string]int)}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			summary.Blank++
			continue
		}
		summary.Lines++

		sentence, err := gonmea.Parse(line)
		if err != nil {
			summary.Invalid++
			continue
		}
		summary.Types[sentence.TalkerID()+sentence.DataType()]++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("%w: reading %s: %w", ErrSourceUnavailable, path, err)
	}
	return summary, nil
}
