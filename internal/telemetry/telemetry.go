// Package telemetry records internal security events.
//
// This is the only place where outcomes the user-facing responses
// deliberately blur — wrong password vs locked account, expired vs revoked
// token — are kept distinct. Emission is best-effort and never blocks a
// request: a full buffer drops the event and counts the drop.
package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// EventType names one security-relevant outcome.
type EventType string

const (
	EventLoginSuccess       EventType = "login_success"
	EventLoginFailure       EventType = "login_failure"
	EventLoginLocked        EventType = "login_locked"
	EventLockoutTripped     EventType = "lockout_tripped"
	EventRateLimited        EventType = "rate_limited"
	EventRefreshRotated     EventType = "refresh_rotated"
	EventRefreshReuse       EventType = "refresh_reuse_detected"
	EventFamilyRevoked      EventType = "family_revoked"
	EventLogout             EventType = "logout"
	EventPasswordChanged    EventType = "password_changed"
	EventAccountRegistered  EventType = "account_registered"
	EventAccountDeactivated EventType = "account_deactivated"
	EventCSRFRejected       EventType = "csrf_rejected"
)

// Event is one structured security-event record.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Family    string    `json:"family,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink receives emitted events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards everything.
type NoOpSink struct{}

// Emit drops the event.
func (NoOpSink) Emit(context.Context, Event) {}

// JSONWriterSink writes one JSON object per line, suitable for piping into
// a log shipper.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

// Emit marshals and writes the event. Marshal failures are swallowed;
// telemetry never surfaces errors into request handling.
func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// Recorder fans events out to a sink from a single background goroutine.
// Emit never blocks the caller.
type Recorder struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewRecorder starts a Recorder with the given buffer size. A nil sink is
// replaced with NoOpSink.
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	r := &Recorder{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.ch:
			r.sink.Emit(context.Background(), event)
		case <-r.done:
			// Drain whatever was queued before Close.
			for {
				select {
				case event := <-r.ch:
					r.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Record enqueues an event, stamping the timestamp if unset. A full buffer
// drops the event.
func (r *Recorder) Record(event Event) {
	if r == nil || r.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case r.ch <- event:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

// Close drains the queue and stops the background goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}
