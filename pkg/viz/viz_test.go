package viz

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/note"
)

func sampleHistory() []note.Revision {
	return []note.Revision{
		{ID: 1, Origin: note.OriginLocal, Note: note.Note{Text: "a", Timestamp: 10}, RecordedAt: time.Unix(10, 0)},
		{ID: 2, Origin: note.OriginRemote, Note: note.Note{Text: "b", Timestamp: 20}, RecordedAt: time.Unix(20, 0)},
	}
}

func TestLabel(t *testing.T) {
	rev := note.Revision{ID: 3, Origin: note.OriginRemote, Note: note.Note{Text: "buy\nmilk and a very long list of other things", Timestamp: 0}}
	assert.Equal(t, `#3 remote@1970-01-01T00:00:00Z "buy milk and a very long…"`, Label(rev))
}

func TestWriteDot(t *testing.T) {
	revs := sampleHistory()
	var buf bytes.Buffer
	require.NoError(t, WriteDot(&buf, revs))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "digraph \"history\" {\n"))
	assert.Contains(t, out, `"r1" -> "r2"`)
	assert.Contains(t, out, `"r2" [label="#2 remote@1970-01-01T00:00:20Z \"b\""]`)
	assert.Equal(t, 1, strings.Count(out, "->"))
}

func TestWriteDotEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDot(&buf, nil))
	assert.Equal(t, "digraph \"history\" {\n}\n", buf.String())
}

func TestRenderHistoryToSvg(t *testing.T) {
	out := filepath.Join(t.TempDir(), "history.svg")
	require.NoError(t, RenderHistoryToSvg(sampleHistory(), out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	svg := string(raw)
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "r1")
	assert.Contains(t, svg, "r2")
}

func TestRenderHistoryToSvgBadPath(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "history.svg")
	assert.ErrorContains(t, RenderHistoryToSvg(sampleHistory(), out), "failed to write")
}

func TestRenderToTemp(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())
	out, err := RenderToTemp(sampleHistory())
	require.NoError(t, err)
	assert.Equal(t, ".svg", filepath.Ext(out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
}
