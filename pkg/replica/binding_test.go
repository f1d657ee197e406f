package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/note"
	"github.com/astromechza/notesync/pkg/surface"
)

func startUILoop(t *testing.T) *loop.Loop {
	ui := loop.New("ui", 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ui.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ui
}

func TestBindingDebouncesEdits(t *testing.T) {
	store := newMemStore("", 0)
	e := startEngine(t, store)
	mem := surface.NewMemory("")
	Bind(e, mem, startUILoop(t), 50*time.Millisecond, discardLogger())

	for _, text := range []string{"h", "he", "hel", "hello"} {
		mem.SetText(text)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "hello", saves[0].note.Text)
	assert.Equal(t, note.OriginLocal, saves[0].origin)
}

func TestBindingSuppressesEchoOfRemoteUpdate(t *testing.T) {
	store := newMemStore("", 0)
	e := startEngine(t, store)
	mem := surface.NewMemory("")
	Bind(e, mem, startUILoop(t), 30*time.Millisecond, discardLogger())

	ctx := context.Background()
	require.NoError(t, e.net.Do(ctx, func(ctx context.Context) {
		e.reconcile(ctx, &fakePeer{id: "phone"}, note.Note{Text: "from phone", Timestamp: note.Now() + 60})
	}))

	require.Eventually(t, func() bool {
		text, _ := mem.Text()
		return text == "from phone"
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	saves := store.saved()
	require.Len(t, saves, 1, "applying the remote text must not be published back")
	assert.Equal(t, note.OriginRemote, saves[0].origin)
}

func TestBindingRemoteUpdateCancelsPendingEdit(t *testing.T) {
	store := newMemStore("", 0)
	e := startEngine(t, store)
	mem := surface.NewMemory("")
	Bind(e, mem, startUILoop(t), 200*time.Millisecond, discardLogger())

	mem.SetText("typing")
	ctx := context.Background()
	require.NoError(t, e.net.Do(ctx, func(ctx context.Context) {
		e.reconcile(ctx, &fakePeer{id: "phone"}, note.Note{Text: "remote", Timestamp: note.Now() + 60})
	}))

	time.Sleep(400 * time.Millisecond)
	text, err := mem.Text()
	require.NoError(t, err)
	assert.Equal(t, "remote", text)
	require.Len(t, store.saved(), 1)
}

func TestBindingCloseFlushesPendingEdit(t *testing.T) {
	store := newMemStore("", 0)
	e := startEngine(t, store)
	mem := surface.NewMemory("")
	b := Bind(e, mem, startUILoop(t), time.Hour, discardLogger())

	mem.SetText("last words")
	require.NoError(t, b.Close(context.Background()))

	saves := store.saved()
	require.Len(t, saves, 1)
	assert.Equal(t, "last words", saves[0].note.Text)

	// nothing is pending the second time round, and later edits are ignored
	mem.SetText("ignored")
	require.NoError(t, b.Close(context.Background()))
	assert.Len(t, store.saved(), 1)
}

func TestBindingLoad(t *testing.T) {
	t.Run("empty surface takes the stored note", func(t *testing.T) {
		store := newMemStore("stored", 10)
		e := startEngine(t, store)
		mem := surface.NewMemory("")
		b := Bind(e, mem, startUILoop(t), 20*time.Millisecond, discardLogger())

		require.NoError(t, b.Load(context.Background()))
		text, _ := mem.Text()
		assert.Equal(t, "stored", text)
		time.Sleep(100 * time.Millisecond)
		assert.Empty(t, store.saved())
	})

	t.Run("offline edit is published", func(t *testing.T) {
		store := newMemStore("stored", 10)
		e := startEngine(t, store)
		mem := surface.NewMemory("edited offline")
		b := Bind(e, mem, startUILoop(t), 20*time.Millisecond, discardLogger())

		require.NoError(t, b.Load(context.Background()))
		require.Eventually(t, func() bool { return len(store.saved()) == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, "edited offline", store.saved()[0].note.Text)
	})
}

func TestBindingRemoteUpdateQueuedBeforeFlushWins(t *testing.T) {
	store := newMemStore("", 0)
	e := startEngine(t, store)
	mem := surface.NewMemory("")
	ui := startUILoop(t)
	Bind(e, mem, ui, 30*time.Millisecond, discardLogger())

	// hold the ui loop so the remote update and the flush queue up behind it
	release := make(chan struct{})
	require.True(t, ui.Post(func(context.Context) { <-release }))

	mem.SetText("typing")
	ctx := context.Background()
	require.NoError(t, e.net.Do(ctx, func(ctx context.Context) {
		e.reconcile(ctx, &fakePeer{id: "phone"}, note.Note{Text: "remote", Timestamp: note.Now() + 60})
	}))
	// the window passes while the ui loop is held, so the flush is queued after the update
	time.Sleep(100 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		text, _ := mem.Text()
		return text == "remote"
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	saves := store.saved()
	require.Len(t, saves, 1, "the remote text must not be published back")
	assert.Equal(t, note.OriginRemote, saves[0].origin)
}
