package mail

import (
	"context"
	"sync"
)

// Recorder is an in-memory Sink that keeps every message it is given.
// Fail makes Send return the error for the matching template instead.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Fail     map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{Fail: map[string]error{}}
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail[msg.Template]; err != nil {
		return err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Templates returns the template id of every recorded message, in order.
func (r *Recorder) Templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Template
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
