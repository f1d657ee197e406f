package replica

import "github.com/astromechza/notesync/pkg/note"

type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Reconcile is the last-write-wins rule: a candidate replaces the current note only
// when it is strictly newer. Equal timestamps keep what is already there.
func Reconcile(candidate, current note.Note) Decision {
	if candidate.Timestamp > current.Timestamp {
		return Accept
	}
	return Reject
}
