package nmea

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Source yields raw sentence lines without their line terminator
type Source interface {
	Next() (string, error)
	Close() error
}

// Opener opens the recorded corpus from the beginning
type Opener func() (io.ReadCloser, error)

// maxLineLength bounds a single corpus line
const maxLineLength = 64 * 1024

// Replayer is a Source that replays a corpus forever. When a traversal hits
// end of input the corpus is reopened and replay continues from the first
// line, so the consumer sees one seamless stream.
//
// A Replayer is not safe for concurrent use; every session owns its own.
type Replayer struct {
	name    string
	open    Opener
	reader  io.ReadCloser
	scanner *bufio.Scanner
	// lines yielded in the current traversal
	passLines int
	passes    int
}

// NewReplayer creates a replayer over the corpus returned by open. name is
// used in error messages.
func NewReplayer(name string, open Opener) *Replayer {
	return &Replayer{
		name: name,
		open: open,
	}
}

// NewFileSource replays the corpus file at path, one sentence per line
func NewFileSource(path string) *Replayer {
	return NewReplayer(path, func() (io.ReadCloser, error) {
		return os.Open(path)
	})
}

// NewMemorySource replays an in-memory list of lines
func NewMemorySource(lines []string) *Replayer {
	corpus := strings.Join(lines, "\n")
	return NewReplayer("memory", func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(corpus)), nil
	})
}

// Next returns the next corpus line, restarting from the top after the last
// one. Blank lines are skipped. A traversal that yields no lines at all
// returns ErrDegenerateSource instead of spinning.
func (r *Replayer) Next() (string, error) {
	for {
		if r.scanner == nil {
			if err := r.reopen(); err != nil {
				return "", err
			}
		}

		for r.scanner.Scan() {
			line := strings.TrimRight(r.scanner.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			r.passLines++
			return line, nil
		}

		err := r.scanner.Err()
		r.closeReader()
		if err != nil {
			return "", fmt.Errorf("%w: reading %s: %w", ErrSourceUnavailable, r.name, err)
		}
		if r.passLines == 0 {
			return "", fmt.Errorf("%w: %s", ErrDegenerateSource, r.name)
		}
		r.passes++
	}
}

// Passes returns the number of completed traversals of the corpus
func (r *Replayer) Passes() int {
	return r.passes
}

// Close releases the open corpus, if any
func (r *Replayer) Close() error {
	return r.closeReader()
}

func (r *Replayer) reopen() error {
	reader, err := r.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	r.reader = reader
	r.scanner = bufio.NewScanner(reader)
	r.scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	r.passLines = 0
	return nil
}

func (r *Replayer) closeReader() error {
	r.scanner = nil
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}
