package nmea

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Session streams a replayed corpus to one client, injecting a position fix
// after every InjectEvery corpus lines
type Session struct {
	ID     uint64
	Remote string

	writer         io.Writer
	source         Source
	injector       *Injector
	sentenceDelay  time.Duration
	injectionDelay time.Duration
	injectEvery    uint64

	// corpus lines written; never reset when the corpus restarts
	sentences atomic.Uint64
	fixes     atomic.Uint64
	state     atomic.Int32
	startTime time.Time
}

// NewSession creates a session writing to w. The session owns source and
// closes it when Run returns.
func NewSession(id uint64, remote string, w io.Writer, source Source, injector *Injector, config Config) *Session {
	injectEvery := config.InjectEvery
	if injectEvery < 1 {
		injectEvery = 1
	}

	return &Session{
		ID:             id,
		Remote:         remote,
		writer:         w,
		source:         source,
		injector:       injector,
		sentenceDelay:  config.SentenceDelay,
		injectionDelay: config.InjectionDelay,
		injectEvery:    uint64(injectEvery),
		startTime:      time.Now(),
	}
}

// Run streams until ctx is cancelled or an error occurs. Cancellation is a
// normal close and returns nil; anything else returns the cause, wrapping
// ErrSourceUnavailable, ErrDegenerateSource or ErrWriteFailed.
func (s *Session) Run(ctx context.Context) error {
	defer s.source.Close()
	defer s.setState(Terminated)

	for {
		if ctx.Err() != nil {
			s.setState(Draining)
			return nil
		}

		line, err := s.source.Next()
		if err != nil {
			return err
		}

		if err := s.writeLine(line); err != nil {
			return s.closeOrFail(ctx, err)
		}
		if !s.suspend(ctx, s.sentenceDelay) {
			s.setState(Draining)
			return nil
		}

		if s.sentences.Add(1)%s.injectEvery != 0 {
			continue
		}

		fix := s.injector.Inject(time.Now())
		if err := s.writeLine(fix.Sentence); err != nil {
			return s.closeOrFail(ctx, err)
		}
		s.fixes.Add(1)
		if !s.suspend(ctx, s.injectionDelay) {
			s.setState(Draining)
			return nil
		}
	}
}

// State returns the current lifecycle stage
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Remote:    s.Remote,
		State:     s.State().String(),
		Sentences: s.sentences.Load(),
		Fixes:     s.fixes.Load(),
		StartTime: s.startTime,
	}
}

func (s *Session) setState(state SessionState) {
	// Terminated is final
	if s.State() == Terminated {
		return
	}
	s.state.Store(int32(state))
}

func (s *Session) writeLine(line string) error {
	if _, err := io.WriteString(s.writer, line+"\r\n"); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// closeOrFail maps a write error to a normal close when the connection was
// torn down by shutdown or peer hang-up
func (s *Session) closeOrFail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.setState(Draining)
		return nil
	}
	return err
}

// suspend waits for d, returning false if ctx is cancelled first
func (s *Session) suspend(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
