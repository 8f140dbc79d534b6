package nmea

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"strings"
	"testing"
	"time"
)

// startTestServer serves config on a loopback port and returns its address
func startTestServer(t *testing.T, config Config, observers ...FixObserver) (*Server, string) {
	t.Helper()

	server, err := NewServer(config, observers...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	server.SetLogger(newTestLogger(io.Discard))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
		server.Wait()
	})
	return server, ln.Addr().String()
}

func dialAndRead(t *testing.T, addr string, n int) []string {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Read %d failed: %v", len(lines), err)
		}
		if !strings.HasSuffix(line, "\r\n") {
			t.Errorf("Line %q is not CRLF terminated", line)
		}
		lines = append(lines, strings.TrimSuffix(line, "\r\n"))
	}
	return lines
}

func TestNewServerValidatesConfig(t *testing.T) {
	config := createTestConfig()
	config.InjectEvery = 0

	if _, err := NewServer(config); !errors.Is(err, ErrInvalidInjectEvery) {
		t.Errorf("Expected ErrInvalidInjectEvery, got %v", err)
	}
}

func TestServerEndToEnd(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "!AIVDM,1\n!AIVDM,2\n!AIVDM,3\n!AIVDM,4\n!AIVDM,5\n")
	_, addr := startTestServer(t, config)

	lines := dialAndRead(t, addr, 6)

	for i := 0; i < 5; i++ {
		want := "!AIVDM," + string(rune('1'+i))
		if lines[i] != want {
			t.Errorf("Line %d: expected %q, got %q", i, want, lines[i])
		}
	}

	fix := lines[5]
	if !strings.HasPrefix(fix, "$GPRMC,") {
		t.Fatalf("Expected GPRMC after 5 lines, got %q", fix)
	}
	star := strings.LastIndexByte(fix, '*')
	if star == -1 || Checksum(fix[:star]) != fix[star+1:] {
		t.Errorf("Checksum does not validate: %q", fix)
	}
	fields := strings.Split(fix, ",")
	lon := decodeCoordinate(t, fields[5]+","+fields[6], 3)
	if math.Abs(lon-(config.Longitude+config.LongitudeStep)) > 1e-4 {
		t.Errorf("Expected longitude seed + one step, got %f", lon)
	}
}

// sessionSentences returns the sentence count of session id, or false once
// the session has gone
func sessionSentences(server *Server, id uint64) (uint64, bool) {
	for _, info := range server.Sessions() {
		if info.ID == id {
			return info.Sentences, true
		}
	}
	return 0, false
}

func TestServerConcurrentSessionsAreIsolated(t *testing.T) {
	// Lines large enough that a client which never reads fills the socket
	// buffers within a few passes and its session blocks in Write
	corpus := make([]string, 4)
	for i := range corpus {
		corpus[i] = "!AIVDM," + string(rune('A'+i)) + strings.Repeat("x", 32*1024)
	}
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, strings.Join(corpus, "\n"))
	config.InjectEvery = 5
	server, addr := startTestServer(t, config)

	slow, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer slow.Close()

	var slowID uint64
	deadline := time.Now().Add(5 * time.Second)
	for slowID == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Slow session never started")
		}
		if sessions := server.Sessions(); len(sessions) == 1 {
			slowID = sessions[0].ID
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Wait until the slow session stops making progress
	var stalled uint64
	for {
		if time.Now().After(deadline) {
			t.Fatal("Slow session never blocked on its writer")
		}
		before, _ := sessionSentences(server, slowID)
		time.Sleep(50 * time.Millisecond)
		after, ok := sessionSentences(server, slowID)
		if !ok {
			t.Fatal("Slow session ended while its client was still connected")
		}
		if after > uint64(len(corpus)) && after == before {
			stalled = after
			break
		}
	}

	lines := dialAndRead(t, addr, 4*len(corpus))
	sentence := 0
	for i, line := range lines {
		if (i+1)%(config.InjectEvery+1) == 0 {
			if !strings.HasPrefix(line, "$GPRMC,") {
				t.Errorf("Line %d: expected an injected fix, got %.20q", i, line)
			}
			continue
		}
		if want := corpus[sentence%len(corpus)]; line != want {
			t.Errorf("Line %d: expected %.20q, got %.20q", i, want, line)
		}
		sentence++
	}

	if n, _ := sessionSentences(server, slowID); n != stalled {
		t.Errorf("Slow session moved from %d to %d sentences without a reader", stalled, n)
	}
}

func TestServerSharedVesselAcrossClients(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\n")
	config.InjectEvery = 1
	server, addr := startTestServer(t, config)

	first := dialAndRead(t, addr, 2)
	second := dialAndRead(t, addr, 2)

	if first[1] == second[1] {
		t.Errorf("Clients share one vessel, so the second fix should be further along: %q", second[1])
	}
	if server.Vessel().Longitude <= config.Longitude+config.LongitudeStep {
		t.Errorf("Shared vessel should have advanced at least twice, at %f", server.Vessel().Longitude)
	}
}

func TestServerVesselPerSession(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\n")
	config.InjectEvery = 1
	config.VesselPerSession = true
	server, addr := startTestServer(t, config)

	first := dialAndRead(t, addr, 2)
	second := dialAndRead(t, addr, 2)

	// Each client starts from the seed, so both first fixes share a position
	firstFields := strings.Split(first[1], ",")
	secondFields := strings.Split(second[1], ",")
	if firstFields[5] != secondFields[5] {
		t.Errorf("Expected identical first positions, got %s and %s", firstFields[5], secondFields[5])
	}
	if server.Vessel().Longitude != config.Longitude {
		t.Errorf("Without a shared vessel, Vessel should report the seed, got %f", server.Vessel().Longitude)
	}
}

func TestServerKeepsAcceptingAfterSessionFailure(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "")
	_, addr := startTestServer(t, config)

	// Every session fails with a degenerate corpus and closes the connection
	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("Dial %d failed after earlier session failures: %v", i, err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
			t.Errorf("Expected EOF from a failed session, got %v", err)
		}
		conn.Close()
	}
}

func TestServerStatusAndSessions(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\nB\n")
	config.SentenceDelay = 10 * time.Millisecond
	server, addr := startTestServer(t, config)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	status := server.GetStatus()
	if !status.Serving {
		t.Error("Server should report serving")
	}
	if status.Address != addr {
		t.Errorf("Expected address %s, got %s", addr, status.Address)
	}
	if status.Accepted != 1 {
		t.Errorf("Expected 1 accepted connection, got %d", status.Accepted)
	}
	if len(status.Sessions) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(status.Sessions))
	}
	if status.Sessions[0].State != "streaming" {
		t.Errorf("Expected streaming session, got %s", status.Sessions[0].State)
	}

	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for len(server.Sessions()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Session was not removed after the client disconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStreamToWriter(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\nB\n")
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	server.SetLogger(newTestLogger(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	recorder := &lineRecorder{limit: 4, cancel: cancel}

	if err := server.Stream(ctx, recorder, "serial:/dev/null"); err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	want := []string{"A\r\n", "B\r\n", "A\r\n", "B\r\n"}
	for i, line := range recorder.Lines() {
		if line != want[i] {
			t.Errorf("Line %d: expected %q, got %q", i, want[i], line)
		}
	}
}

func TestServerGoIsCoveredByWait(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\nB\n")
	config.SentenceDelay = time.Millisecond
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	server.SetLogger(newTestLogger(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &lineRecorder{limit: 20, cancel: cancel}

	if err := server.Go(ctx, recorder, "serial:/dev/null"); err != nil {
		t.Fatalf("Go returned error: %v", err)
	}

	// Wait right after Go must still wait for the session to finish
	server.Wait()
	if n := len(recorder.Lines()); n != 20 {
		t.Errorf("Expected Wait to return after 20 lines, got %d", n)
	}
}

func TestServerRefusesSessionsAfterWait(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\n")
	server, addr := startTestServer(t, config)
	server.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recorder := &lineRecorder{limit: 1, cancel: cancel}

	if err := server.Stream(ctx, recorder, "late"); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Stream: expected ErrServerClosed, got %v", err)
	}
	if err := server.Go(ctx, recorder, "late"); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Go: expected ErrServerClosed, got %v", err)
	}
	if n := len(recorder.Lines()); n != 0 {
		t.Errorf("Expected no output from refused sessions, got %d lines", n)
	}

	// TCP clients are hung up on without a session
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != io.EOF {
		t.Errorf("Expected EOF from a closed server, got %v", err)
	}
}

func TestServerObserversSeeEveryFix(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\n")
	config.InjectEvery = 1

	fixes := make(chan Fix, 100)
	observer := FixObserverFunc(func(fix Fix) error {
		fixes <- fix
		return nil
	})
	_, addr := startTestServer(t, config, observer)

	lines := dialAndRead(t, addr, 2)

	select {
	case fix := <-fixes:
		if fix.Sentence != lines[1] {
			t.Errorf("Observer saw %q, client saw %q", fix.Sentence, lines[1])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Observer was not called")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	config := createTestConfig()
	config.CorpusFile = writeCorpus(t, "A\n")
	config.SentenceDelay = time.Hour

	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	server.SetLogger(newTestLogger(io.Discard))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, ln)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	waited := make(chan struct{})
	go func() {
		server.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Sessions did not stop after cancel")
	}

	if server.GetStatus().Serving {
		t.Error("Server should not report serving after Serve returns")
	}
}
