package conn

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Recorder.Send after Close.
var ErrClosed = errors.New("connection closed")

// Recorder is an in-memory Connection that keeps every frame it is sent.
// It backs tests and in-process tooling.
type Recorder struct {
	Attributes
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

var _ Connection = (*Recorder)(nil)

func NewRecorder(id string) *Recorder {
	return &Recorder{id: id}
}

func (r *Recorder) ID() string { return r.id }

func (r *Recorder) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.frames = append(r.frames, cp)
	return nil
}

// Frames returns a copy of everything sent so far.
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

// Reset forgets recorded frames.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
