package replica

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/note"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type savedNote struct {
	note   note.Note
	origin note.Origin
}

type memStore struct {
	mu      sync.Mutex
	current note.Note
	saves   []savedNote
	failErr error
}

func newMemStore(text string, ts float64) *memStore {
	return &memStore{current: note.Note{Text: text, Timestamp: ts}}
}

func (s *memStore) Current(context.Context) (note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *memStore) Save(_ context.Context, n note.Note, origin note.Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.current = n
	s.saves = append(s.saves, savedNote{note: n, origin: origin})
	return nil
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *memStore) saved() []savedNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedNote(nil), s.saves...)
}

var errSendFailed = errors.New("send failed")

type fakePeer struct {
	id     string
	mu     sync.Mutex
	sent   [][]byte
	fail   atomic.Bool
	closed atomic.Bool
}

func (p *fakePeer) ID() string         { return p.id }
func (p *fakePeer) RemoteAddr() string { return "fake:" + p.id }

func (p *fakePeer) Send(data []byte) error {
	if p.fail.Load() {
		return errSendFailed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePeer) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *fakePeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, d := range p.sent {
		out[i] = string(d)
	}
	return out
}

// pipeConn is an in-memory Conn. The test writes into in and reads from out.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	default:
	}
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) RemoteAddr() string { return "pipe" }

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case data := <-c.out:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return ""
	}
}

func (c *pipeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected frame %s", data)
	case <-time.After(d):
	}
}

func startEngine(t *testing.T, store note.Store, opts ...Option) *Engine {
	t.Helper()
	e := New(store, append([]Option{WithLogger(discardLogger())}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return e
}
