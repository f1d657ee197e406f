package replica

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/astromechza/notesync/pkg/debounce"
	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/note"
	"github.com/astromechza/notesync/pkg/surface"
)

// Binding connects a Surface to an Engine. Edits are debounced and published, remote
// updates are written to the surface without being mistaken for edits. Everything
// except the edit hook runs on the ui loop.
type Binding struct {
	engine    *Engine
	surface   surface.Surface
	ui        *loop.Loop
	debouncer *debounce.Debouncer
	logger    *slog.Logger

	suppressed atomic.Int32
}

func Bind(engine *Engine, s surface.Surface, ui *loop.Loop, window time.Duration, logger *slog.Logger) *Binding {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Binding{engine: engine, surface: s, ui: ui, logger: logger}
	b.debouncer = debounce.New(window, b.flush, debounce.WithDispatch(func(fn func()) {
		ui.Post(func(context.Context) { fn() })
	}))
	s.OnLocalEdit(b.localEdit)
	engine.OnRemoteUpdate(func(n note.Note) {
		if !ui.Post(func(context.Context) { b.applyRemote(n) }) {
			logger.Warn("ui loop stopped, remote update not shown", "ts", n.Timestamp)
		}
	})
	return b
}

func (b *Binding) localEdit() {
	if b.suppressed.Load() > 0 {
		return
	}
	b.debouncer.Notify()
}

func (b *Binding) flush() {
	text, err := b.surface.Text()
	if err != nil {
		b.logger.Error("failed to read surface", "err", err)
		return
	}
	if !b.engine.Broadcast(text, note.Now()) {
		b.logger.Warn("network loop stopped, local edit not published")
	}
}

func (b *Binding) applyRemote(n note.Note) {
	if b.debouncer.Cancel() {
		b.logger.Info("remote update replaced an unpublished local edit", "ts", n.Timestamp)
	}
	b.suppressed.Add(1)
	defer b.suppressed.Add(-1)
	if err := b.surface.ApplyRemoteText(n.Text, n.Timestamp); err != nil {
		b.logger.Error("failed to apply remote text", "err", err)
	}
}

// Load seeds the surface from the engine's current note. A surface that already holds
// different, non-empty text was edited while we were not running, so that counts as
// an edit.
func (b *Binding) Load(ctx context.Context) error {
	current, err := b.engine.Current(ctx)
	if err != nil {
		return err
	}
	return b.ui.Do(ctx, func(context.Context) {
		text, err := b.surface.Text()
		if err != nil {
			b.logger.Error("failed to read surface", "err", err)
			return
		}
		switch {
		case text == current.Text:
		case text == "":
			b.applyRemote(current)
		default:
			b.logger.Info("surface changed while offline, publishing it")
			b.debouncer.Notify()
		}
	})
}

// Close stops debouncing and publishes an edit that was still waiting, so the last
// keystrokes are saved before the network loop goes away.
func (b *Binding) Close(ctx context.Context) error {
	var pending bool
	var text string
	var readErr error
	if err := b.ui.Do(ctx, func(context.Context) {
		pending = b.debouncer.Stop()
		if pending {
			text, readErr = b.surface.Text()
		}
	}); err != nil {
		return err
	}
	if !pending {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	b.logger.Info("flushing pending edit")
	return b.engine.Publish(ctx, text, note.Now())
}
