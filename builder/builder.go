// Package builder implements the memory segment builder: a dedicated worker
// that validates, resets and loads zone-data segments in the background so
// that slow loads never block query serving or configuration handling.
//
// Producers append commands to a Queue; the builder drains the whole
// backlog at once, drops commands obsoleted by Cancel or Shutdown, and runs
// the rest in order. Every response is appended to the Queue and announced
// through a Waker.
package builder

import (
	"fmt"
	"log/slog"

	"jabberwocky238/jw238memmgr/internal/types"
)

// Builder is the worker serving one Queue.
type Builder struct {
	queue *Queue
	waker Waker
	log   *slog.Logger
	done  chan struct{}
}

// New creates a Builder for queue. waker may be nil; log defaults to
// slog.Default().
func New(queue *Queue, waker Waker, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		queue: queue,
		waker: waker,
		log:   log.With("component", "builder"),
		done:  make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (b *Builder) Done() <-chan struct{} {
	return b.done
}

// Run processes commands until a Shutdown or an unknown command is
// processed. It must be called at most once.
func (b *Builder) Run() {
	defer close(b.done)
	b.log.Info("memory segment builder started")

	for {
		backlog := b.queue.drain()
		for _, cmd := range handleCancels(backlog) {
			switch c := cmd.(type) {
			case Shutdown:
				b.log.Info("memory segment builder shutting down")
				return
			case Cancel:
				b.respond(CancelCompleted{Token: c.Token})
			case Validate:
				b.respond(b.handleValidate(c))
			case Load:
				if resp, ok := b.handleLoad(c); ok {
					b.respond(resp)
				}
			default:
				b.log.Error("unknown command, builder stops", "command", fmt.Sprintf("%T", cmd))
				b.respond(BadCommand{})
				return
			}
		}
	}
}

func (b *Builder) respond(resp Response) {
	b.queue.respond(resp, b.waker)
}

func (b *Builder) handleValidate(cmd Validate) Response {
	ok, err := runValidate(cmd.Action)
	if err != nil {
		b.log.Warn("segment validation failed",
			"class", types.ClassString(cmd.Class),
			"datasrc", cmd.DataSource,
			"error", err,
		)
	}
	return ValidateCompleted{
		Context:    cmd.Context,
		Class:      cmd.Class,
		DataSource: cmd.DataSource,
		OK:         ok,
	}
}

// runValidate calls action, turning errors and panics into a failed
// validation.
func runValidate(action ValidateFunc) (ok bool, err error) {
	if action == nil {
		return false, fmt.Errorf("%w: no validate action", types.ErrValidation)
	}
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: panic: %v", types.ErrValidation, r)
		}
	}()
	ok, err = action()
	if err != nil {
		return false, fmt.Errorf("%w: %w", types.ErrValidation, err)
	}
	return ok, nil
}
