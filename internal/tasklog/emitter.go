package tasklog

import (
	"log/slog"
	"time"

	"github.com/atlas2/coderagent/pkg/models"
)

// Callback is the single opaque function supplied at task creation that
// spec.md §4.10 describes as the event emitter's sole consumer.
type Callback func(models.TaskEvent)

// Emitter wraps a caller-supplied Callback so that a panic inside it can
// never propagate into the iteration driver's state machine — the
// callback runs in the emitter's own goroutine stack, and a recover
// converts any panic into a logged warning instead of an unwind through
// C7.
type Emitter struct {
	cb  Callback
	log *slog.Logger
}

// NewEmitter constructs an Emitter. A nil callback makes Emit a no-op;
// a nil logger falls back to slog.Default().
func NewEmitter(cb Callback, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{cb: cb, log: log}
}

// Emit delivers one event of kind for taskID/domainID carrying payload.
// Safe to call even when no callback was supplied.
func (e *Emitter) Emit(kind models.EventKind, taskID, domainID string, payload any) {
	if e.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event callback panicked", "kind", kind, "task_id", taskID, "recovered", r)
		}
	}()
	e.cb(models.TaskEvent{
		EventKind: kind,
		TaskID:    taskID,
		DomainID:  domainID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
