// Package surface holds the visible side of a replica: the buffer a person edits.
package surface

import "sync"

// Surface is the editable buffer shown to the user.
type Surface interface {
	// Text returns what the buffer holds right now.
	Text() (string, error)
	// ApplyRemoteText overwrites the buffer with an accepted remote update.
	ApplyRemoteText(text string, ts float64) error
	// OnLocalEdit installs the hook called whenever the buffer changes.
	OnLocalEdit(hook func())
}

// Memory is an in-process buffer. ApplyRemoteText runs the edit hook just like a
// widget's change signal would, so callers must suppress their own writes.
type Memory struct {
	mu     sync.Mutex
	text   string
	ts     float64
	onEdit func()
}

func NewMemory(text string) *Memory {
	return &Memory{text: text}
}

func (m *Memory) Text() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

// SetText simulates typing.
func (m *Memory) SetText(text string) {
	m.mu.Lock()
	m.text = text
	hook := m.onEdit
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (m *Memory) ApplyRemoteText(text string, ts float64) error {
	m.mu.Lock()
	m.ts = ts
	m.mu.Unlock()
	m.SetText(text)
	return nil
}

// LastRemoteTimestamp is the timestamp of the last applied remote update. Only tests
// read it; nothing in the sync path depends on it.
func (m *Memory) LastRemoteTimestamp() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts
}

func (m *Memory) OnLocalEdit(hook func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEdit = hook
}

var _ Surface = (*Memory)(nil)
