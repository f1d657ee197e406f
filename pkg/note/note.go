package note

import (
	"context"
	"time"
)

// Note is the whole replicated document: the text and the Unix time (in seconds, with
// a fractional part) of the write that produced it.
type Note struct {
	Text      string  `json:"text"`
	Timestamp float64 `json:"ts"`
}

// Origin says which side of the sync produced a write.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Revision is one persisted write, as kept by stores that remember history.
type Revision struct {
	ID         int64
	Note       Note
	Origin     Origin
	RecordedAt time.Time
}

// Store is the local persistence of a replica.
type Store interface {
	// Current returns the last saved note. A store that cannot read its timestamp
	// reports 0 so that any remote update wins.
	Current(ctx context.Context) (Note, error)
	Save(ctx context.Context, n Note, origin Origin) error
	Close() error
}

// Historian is implemented by stores that keep every revision.
type Historian interface {
	History(ctx context.Context, limit int) ([]Revision, error)
}

// Now returns the current wall-clock time as fractional Unix seconds.
func Now() float64 {
	return TimestampOf(time.Now())
}

func TimestampOf(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func TimeOf(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}
