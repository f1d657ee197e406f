package replica

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/aretw0/introspection"

	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/note"
	"github.com/astromechza/notesync/pkg/protocol"
)

const (
	DefaultSendQueue      = 16
	DefaultMaxMessageSize = 1 << 20
	DefaultRateLimit      = 20
	DefaultRateBurst      = 40
)

// Engine owns the network side of a replica: the registry of peers, the cached note
// and every write to the store. All of that state lives on its network loop.
type Engine struct {
	store  note.Store
	net    *loop.Loop
	logger *slog.Logger

	heartbeat      time.Duration
	sendQueue      int
	maxMessageSize int64
	rateLimit      float64
	rateBurst      int

	onRemoteUpdate atomic.Pointer[func(note.Note)]

	// owned by the network loop
	registry *Registry
	current  note.Note

	peers       atomic.Int64
	accepted    atomic.Int64
	rejected    atomic.Int64
	malformed   atomic.Int64
	rateLimited atomic.Int64
	currentTS   atomic.Uint64
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithHeartbeat makes every connection send a ping each interval and give up on a
// peer that has been silent for two intervals. Zero disables it.
func WithHeartbeat(interval time.Duration) Option {
	return func(e *Engine) {
		e.heartbeat = interval
	}
}

func WithSendQueue(size int) Option {
	return func(e *Engine) {
		e.sendQueue = size
	}
}

func WithMaxMessageSize(size int64) Option {
	return func(e *Engine) {
		e.maxMessageSize = size
	}
}

// WithRateLimit caps inbound ping and pong frames per connection. Updates always go
// through. A limit of zero disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		e.rateLimit = perSecond
		e.rateBurst = burst
	}
}

func New(store note.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		net:            loop.New("network", 64),
		logger:         slog.Default(),
		sendQueue:      DefaultSendQueue,
		maxMessageSize: DefaultMaxMessageSize,
		rateLimit:      DefaultRateLimit,
		rateBurst:      DefaultRateBurst,
		registry:       NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sendQueue < 1 {
		e.sendQueue = 1
	}
	if e.rateBurst < 1 {
		e.rateBurst = 1
	}
	return e
}

// OnRemoteUpdate installs the handler for accepted remote updates. It is called on
// the network loop after the update has been saved, so it must hand work off rather
// than block.
func (e *Engine) OnRemoteUpdate(fn func(note.Note)) {
	e.onRemoteUpdate.Store(&fn)
}

// Run loads the current note from the store and then serves the network loop until
// ctx is done. Every peer still registered is closed on the way out.
func (e *Engine) Run(ctx context.Context) error {
	current, err := e.store.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to load current note: %w", err)
	}
	e.setCurrent(current)
	e.logger.Info("loaded note", "ts", current.Timestamp, "#text", len(current.Text))

	err = e.net.Run(ctx)

	// the loop has stopped, so its state is ours now
	for _, p := range e.registry.Snapshot() {
		e.registry.Remove(p.ID())
		_ = p.Close()
	}
	e.peers.Store(0)
	return err
}

// Current returns the note as the network loop sees it.
func (e *Engine) Current(ctx context.Context) (note.Note, error) {
	var out note.Note
	if err := e.net.Do(ctx, func(context.Context) {
		out = e.current
	}); err != nil {
		return note.Note{}, err
	}
	return out, nil
}

// Broadcast hands a local edit to the network loop without waiting. It reports false
// once the loop has stopped.
func (e *Engine) Broadcast(text string, ts float64) bool {
	return e.net.Post(func(ctx context.Context) {
		if err := e.publishLocal(ctx, text, ts); err != nil {
			e.logger.Error("failed to publish local edit", "err", err)
		}
	})
}

// Publish is Broadcast that waits for the edit to be saved and sent.
func (e *Engine) Publish(ctx context.Context, text string, ts float64) error {
	var publishErr error
	if err := e.net.Do(ctx, func(ctx context.Context) {
		publishErr = e.publishLocal(ctx, text, ts)
	}); err != nil {
		return err
	}
	return publishErr
}

func (e *Engine) publishLocal(ctx context.Context, text string, ts float64) error {
	if ts <= e.current.Timestamp {
		// a peer with a fast clock got there first; stay strictly newer so it accepts us
		restamped := math.Nextafter(e.current.Timestamp, math.Inf(1))
		e.logger.Warn("local clock behind current note, restamping", "ts", ts, "current", e.current.Timestamp, "restamped", restamped)
		ts = restamped
	}
	n := note.Note{Text: text, Timestamp: ts}
	if err := e.store.Save(ctx, n, note.OriginLocal); err != nil {
		return fmt.Errorf("failed to save local edit: %w", err)
	}
	e.setCurrent(n)
	e.logger.Debug("publishing local edit", "ts", ts, "#text", len(text), "peers", e.registry.Len())
	e.broadcastAll(protocol.Update(n.Text, n.Timestamp))
	return nil
}

// broadcastAll sends m to every registered peer. A failed send only drops that peer,
// and dropping happens after the walk so the registry never changes under it.
func (e *Engine) broadcastAll(m protocol.Message) {
	data, err := protocol.Encode(m)
	if err != nil {
		e.logger.Error("failed to encode broadcast", "err", err)
		return
	}
	var dead []Peer
	for _, p := range e.registry.Snapshot() {
		if err := p.Send(data); err != nil {
			e.logger.Warn("failed to send to peer", "peer", p.ID(), "remote", p.RemoteAddr(), "err", err)
			dead = append(dead, p)
		}
	}
	for _, p := range dead {
		e.drop(p)
	}
}

// register adds p and queues the snapshot in the same task, so the snapshot is always
// the first thing the peer receives.
func (e *Engine) register(p Peer) {
	e.registry.Add(p)
	e.peers.Store(int64(e.registry.Len()))
	e.logger.Info("peer connected", "peer", p.ID(), "remote", p.RemoteAddr(), "peers", e.registry.Len())

	data, err := protocol.Encode(protocol.Update(e.current.Text, e.current.Timestamp))
	if err != nil {
		e.logger.Error("failed to encode snapshot", "err", err)
		return
	}
	if err := p.Send(data); err != nil {
		e.logger.Warn("failed to send snapshot", "peer", p.ID(), "err", err)
		e.drop(p)
	}
}

func (e *Engine) drop(p Peer) {
	if e.registry.Remove(p.ID()) {
		e.peers.Store(int64(e.registry.Len()))
		e.logger.Info("peer disconnected", "peer", p.ID(), "remote", p.RemoteAddr(), "peers", e.registry.Len())
	}
	_ = p.Close()
}

// dispatch handles one decoded frame from p on the network loop.
func (e *Engine) dispatch(ctx context.Context, p Peer, m protocol.Message) {
	switch m.Type {
	case protocol.TypeUpdate:
		e.reconcile(ctx, p, note.Note{Text: m.Text, Timestamp: m.Timestamp})
	case protocol.TypePing:
		data, _ := protocol.Encode(protocol.Pong())
		if err := p.Send(data); err != nil {
			e.logger.Warn("failed to answer ping", "peer", p.ID(), "err", err)
			e.drop(p)
		}
	case protocol.TypePong:
		e.logger.Debug("pong", "peer", p.ID())
	}
}

func (e *Engine) reconcile(ctx context.Context, p Peer, candidate note.Note) {
	if Reconcile(candidate, e.current) == Reject {
		e.rejected.Add(1)
		e.logger.Debug("rejected stale update", "peer", p.ID(), "ts", candidate.Timestamp, "current", e.current.Timestamp)
		return
	}
	if err := e.store.Save(ctx, candidate, note.OriginRemote); err != nil {
		e.logger.Error("failed to save remote update, not applying it", "peer", p.ID(), "err", err)
		return
	}
	e.setCurrent(candidate)
	e.accepted.Add(1)
	e.logger.Info("accepted remote update", "peer", p.ID(), "ts", candidate.Timestamp, "#text", len(candidate.Text))
	if fn := e.onRemoteUpdate.Load(); fn != nil {
		(*fn)(candidate)
	}
}

func (e *Engine) setCurrent(n note.Note) {
	e.current = n
	e.currentTS.Store(math.Float64bits(n.Timestamp))
}

// EngineState is the observable state of an Engine.
type EngineState struct {
	Peers            int64   `json:"peers"`
	CurrentTimestamp float64 `json:"current_ts"`
	Accepted         int64   `json:"accepted"`
	Rejected         int64   `json:"rejected"`
	Malformed        int64   `json:"malformed"`
	RateLimited      int64   `json:"rate_limited"`
	Heartbeat        string  `json:"heartbeat,omitempty"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	s := EngineState{
		Peers:            e.peers.Load(),
		CurrentTimestamp: math.Float64frombits(e.currentTS.Load()),
		Accepted:         e.accepted.Load(),
		Rejected:         e.rejected.Load(),
		Malformed:        e.malformed.Load(),
		RateLimited:      e.rateLimited.Load(),
	}
	if e.heartbeat > 0 {
		s.Heartbeat = e.heartbeat.String()
	}
	return s
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "sync-engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
