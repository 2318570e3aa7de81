package connection

import (
	"context"
	"sync"

	"github.com/mrjvadi/go-signal-server/signal"
)

// Recorder is a Connection that keeps every signal sent to it. Tests and
// in-process tooling use it in place of a socket.
type Recorder struct {
	clientID string
	uniqueID string

	mu      sync.Mutex
	sent    []*signal.Signal
	sendErr error
}

func NewRecorder(clientID, uniqueID string) *Recorder {
	return &Recorder{clientID: clientID, uniqueID: uniqueID}
}

func (r *Recorder) ClientID() string { return r.clientID }
func (r *Recorder) UniqueID() string { return r.uniqueID }

func (r *Recorder) Send(_ context.Context, sig *signal.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, sig.Clone())
	return nil
}

// FailWith makes every following Send return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.sendErr = err
	r.mu.Unlock()
}

// Sent returns a snapshot of the delivered signals.
func (r *Recorder) Sent() []*signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*signal.Signal(nil), r.sent...)
}
