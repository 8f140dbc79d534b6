package nmea

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Server accepts TCP clients and runs one independent Session per connection
type Server struct {
	mu        sync.RWMutex
	config    Config
	logger    *log.Logger
	injector  *Injector // shared vessel, nil when VesselPerSession is set
	observers []FixObserver
	newSource func() Source
	sessions  map[uint64]*Session
	wg        sync.WaitGroup
	closed    bool // set by Wait; guarded by mu together with wg.Add
	nextID    atomic.Uint64
	accepted  atomic.Uint64
	// Control fields
	serving   bool
	address   string
	startTime time.Time
}

// NewServer creates a server for the configuration. Every injected fix, from
// any session, is passed to the observers.
func NewServer(config Config, observers ...FixObserver) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		logger:    log.Default(),
		observers: observers,
		sessions:  make(map[uint64]*Session),
	}
	s.newSource = func() Source {
		return NewFileSource(s.config.CorpusFile)
	}
	if !config.VesselPerSession {
		s.injector = NewInjector(NewVesselFromConfig(config), observers...)
	}
	return s, nil
}

// SetLogger sets the logger for connection and session events
func (s *Server) SetLogger(logger *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	if s.injector != nil {
		s.injector.SetLogger(logger)
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// A failing session never stops the accept loop. Serve returns nil on
// cancellation; it does not wait for sessions, see Wait.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.serving = true
	s.address = ln.Addr().String()
	s.startTime = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.serving = false
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Transient failures such as EMFILE; retry like net/http does
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.log().Printf("Accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.accepted.Add(1)
		if !s.reserve() {
			conn.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn streams to one TCP client. The client is never expected to
// send anything, so a read returning means the peer has gone.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	s.stream(ctx, conn, conn.RemoteAddr().String())
}

// Stream runs a session writing to w until ctx is cancelled or the session
// fails. It serves writers other than TCP clients, such as the serial and
// websocket mirrors.
func (s *Server) Stream(ctx context.Context, w io.Writer, remote string) error {
	if !s.reserve() {
		return ErrServerClosed
	}
	defer s.wg.Done()
	return s.stream(ctx, w, remote)
}

// Go starts Stream on a new goroutine. The session is registered before Go
// returns, so a later Wait always waits for it.
func (s *Server) Go(ctx context.Context, w io.Writer, remote string) error {
	if !s.reserve() {
		return ErrServerClosed
	}
	go func() {
		defer s.wg.Done()
		s.stream(ctx, w, remote)
	}()
	return nil
}

func (s *Server) stream(ctx context.Context, w io.Writer, remote string) error {
	injector := s.injector
	if injector == nil {
		injector = NewInjector(NewVesselFromConfig(s.config), s.observers...)
		injector.SetLogger(s.log())
	}

	session := NewSession(s.nextID.Add(1), remote, w, s.newSource(), injector, s.config)
	s.track(session)
	defer s.untrack(session)

	if !s.config.Quiet {
		s.log().Printf("Client connected: %s (session %d)", remote, session.ID)
	}

	err := session.Run(ctx)
	switch {
	case err != nil:
		s.log().Printf("Session %d with %s terminated: %v", session.ID, remote, err)
	case !s.config.Quiet:
		s.log().Printf("Client disconnected: %s (session %d, %d sentences)",
			remote, session.ID, session.Info().Sentences)
	}
	return err
}

// Wait blocks until every session has terminated. No new session starts
// once Wait has been called.
func (s *Server) Wait() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

// reserve counts a session in wg unless Wait has been called. The caller
// must call wg.Done when reserve returns true.
func (s *Server) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Vessel returns the state of the shared vessel. With VesselPerSession set
// there is no shared vessel and the configured seed is returned.
func (s *Server) Vessel() VesselState {
	if s.injector == nil {
		return NewVesselFromConfig(s.config).State()
	}
	return s.injector.Vessel().State()
}

// Sessions returns a snapshot of the active sessions ordered by ID
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// GetStatus returns the current server status
func (s *Server) GetStatus() Status {
	s.mu.RLock()
	serving, address, startTime := s.serving, s.address, s.startTime
	s.mu.RUnlock()

	var elapsedTime time.Duration
	if serving {
		elapsedTime = time.Since(startTime)
	}

	return Status{
		Serving:     serving,
		Address:     address,
		StartTime:   startTime,
		ElapsedTime: elapsedTime,
		Vessel:      s.Vessel(),
		Sessions:    s.Sessions(),
		Accepted:    s.accepted.Load(),
	}
}

// Config returns the server configuration
func (s *Server) Config() Config {
	return s.config
}

func (s *Server) track(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session.ID)
}

func (s *Server) log() *log.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
