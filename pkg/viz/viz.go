// Package viz draws the revision history of a note as a graph, one node per revision
// in the order the revisions were accepted.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/notesync/pkg/note"
)

const previewLength = 24

func nodeName(rev note.Revision) string {
	return "r" + strconv.FormatInt(rev.ID, 10)
}

// Label is the node label for a revision: id, origin, timestamp and a text preview.
func Label(rev note.Revision) string {
	return fmt.Sprintf("#%d %s@%s %q",
		rev.ID, rev.Origin, note.TimeOf(rev.Note.Timestamp).UTC().Format(time.RFC3339), preview(rev.Note.Text))
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewLength {
		return string(r[:previewLength]) + "…"
	}
	return text
}

func RenderHistoryToSvg(revs []note.Revision, outputPath string) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	var prev *cgraph.Node
	for i, rev := range revs {
		n, err := graph.CreateNode(nodeName(rev))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(Label(rev))
		if rev.Origin == note.OriginRemote {
			n.SetShape(cgraph.BoxShape)
		}
		if prev != nil {
			if _, err := graph.CreateEdge(strconv.Itoa(i), prev, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
		prev = n
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

func RenderToTemp(revs []note.Revision) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("notesync-%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(revs, tf); err != nil {
		return "", err
	}
	return tf, nil
}

// WriteDot writes the history as Graphviz DOT without going through the graphviz library.
func WriteDot(w io.Writer, revs []note.Revision) error {
	var b strings.Builder
	b.WriteString("digraph \"history\" {\n")
	for i, rev := range revs {
		fmt.Fprintf(&b, "    %q [label=%q]\n", nodeName(rev), Label(rev))
		if i > 0 {
			fmt.Fprintf(&b, "    %q -> %q\n", nodeName(revs[i-1]), nodeName(rev))
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
