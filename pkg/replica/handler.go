package replica

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/protocol"
)

var (
	ErrPeerClosed    = errors.New("peer closed")
	ErrSendQueueFull = errors.New("peer send queue full")
)

// Conn is a message-oriented, bidirectional connection. ReadMessage is called from one
// goroutine and WriteMessage from another; Close may be called from anywhere.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	RemoteAddr() string
	Close() error
}

// Handle runs one connection until it fails, the peer goes away or ctx is done. The
// peer gets the current note first and is dropped from the registry on every exit path.
func (e *Engine) Handle(ctx context.Context, conn Conn) error {
	p := newPeer(conn, e.sendQueue, e.heartbeat, e.logger)
	if !e.net.Post(func(context.Context) { e.register(p) }) {
		_ = p.Close()
		return loop.ErrStopped
	}
	defer func() {
		if !e.net.Post(func(context.Context) { e.drop(p) }) {
			_ = p.Close()
		}
	}()
	stop := context.AfterFunc(ctx, func() { _ = p.Close() })
	defer stop()

	go p.writePump()

	var limiter *rate.Limiter
	if e.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.rateLimit), e.rateBurst)
	}
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || p.isClosed() || ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			e.malformed.Add(1)
			e.logger.Debug("dropping malformed frame", "peer", p.id, "err", err)
			continue
		}
		// updates are never limited: dropping the newest one would leave the replicas apart
		if m.Type != protocol.TypeUpdate && limiter != nil && !limiter.Allow() {
			e.rateLimited.Add(1)
			e.logger.Warn("peer over rate limit, dropping frame", "peer", p.id, "type", m.Type)
			continue
		}
		// one reader posting to one FIFO queue keeps the peer's frames in order
		if !e.net.Post(func(ctx context.Context) { e.dispatch(ctx, p, m) }) {
			return nil
		}
	}
}

type peer struct {
	id        string
	conn      Conn
	send      chan []byte
	heartbeat time.Duration
	logger    *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newPeer(conn Conn, queue int, heartbeat time.Duration, logger *slog.Logger) *peer {
	return &peer{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, queue),
		heartbeat: heartbeat,
		logger:    logger,
		closed:    make(chan struct{}),
	}
}

func (p *peer) ID() string {
	return p.id
}

func (p *peer) RemoteAddr() string {
	return p.conn.RemoteAddr()
}

func (p *peer) Send(data []byte) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.closed:
		return ErrPeerClosed
	default:
		return ErrSendQueueFull
	}
}

func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}

func (p *peer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// writePump is the only writer of the connection.
func (p *peer) writePump() {
	var tick <-chan time.Time
	if p.heartbeat > 0 {
		t := time.NewTicker(p.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	ping, _ := protocol.Encode(protocol.Ping())
	for {
		select {
		case <-p.closed:
			return
		case data := <-p.send:
			if err := p.conn.WriteMessage(data); err != nil {
				p.logger.Debug("failed to write to peer", "peer", p.id, "err", err)
				_ = p.Close()
				return
			}
		case <-tick:
			if err := p.conn.WriteMessage(ping); err != nil {
				p.logger.Debug("failed to ping peer", "peer", p.id, "err", err)
				_ = p.Close()
				return
			}
		}
	}
}
