// Package shutdown provides the pause/resume/activate lifecycle primitive
// used by the Pool Manager and every Connection Automaton. It is adapted
// from the teacher's ShutdownHelper: a promise-shaped async lifecycle base
// that a managed object embeds, implementing spec's start/stop-promise
// surface with a single async-wake primitive.
package shutdown

import (
	"context"
	"sync"

	"github.com/relaymesh/activeproxy/internal/logging"
)

// OnceHandler is called exactly once, in its own goroutine, to perform the
// managed object's actual teardown. It receives an advisory completion
// error and returns the real completion error.
type OnceHandler interface {
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by objects offering asynchronous shutdown,
// including a Helper itself, so children can be chained.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	DoneChan() <-chan struct{}
	IsDone() bool
	Wait() error
}

// Helper manages clean asynchronous shutdown for an object implementing
// OnceHandler. Embed it by value and call Init from the owning
// constructor.
type Helper struct {
	Logger logging.Logger

	mu sync.Mutex

	handler OnceHandler

	pauseCount   int
	activated    bool
	scheduled    bool
	started      bool
	done         bool
	err          error
	startedChan  chan struct{}
	handlerDone  chan struct{}
	doneChan     chan struct{}
	wg           sync.WaitGroup
}

// Init initializes a Helper in place.
func (h *Helper) Init(logger logging.Logger, handler OnceHandler) {
	h.Logger = logger
	h.handler = handler
	h.startedChan = make(chan struct{})
	h.handlerDone = make(chan struct{})
	h.doneChan = make(chan struct{})
}

func (h *Helper) asyncRun() {
	close(h.startedChan)
	go func() {
		h.err = h.handler.HandleOnceShutdown(h.err)
		close(h.handlerDone)
		h.wg.Wait()
		h.mu.Lock()
		h.done = true
		h.mu.Unlock()
		close(h.doneChan)
	}()
}

// PauseShutdown increments the pause count, preventing shutdown from
// starting even if scheduled. Returns an error if shutdown has already
// started. Every successful call must be paired with ResumeShutdown.
func (h *Helper) PauseShutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errAlreadyStarted
	}
	h.pauseCount++
	return nil
}

// ResumeShutdown decrements the pause count, starting shutdown if it was
// scheduled and the count reaches zero.
func (h *Helper) ResumeShutdown() {
	h.mu.Lock()
	if h.pauseCount < 1 {
		h.mu.Unlock()
		h.Logger.Panicf("ResumeShutdown called without matching PauseShutdown")
		return
	}
	h.pauseCount--
	runNow := h.pauseCount == 0 && h.scheduled && !h.started
	if runNow {
		h.started = true
	}
	h.mu.Unlock()
	if runNow {
		h.asyncRun()
	}
}

// Activate marks the object as activated. No-op if already activated;
// fails if shutdown has already started.
func (h *Helper) Activate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activated {
		return nil
	}
	if h.started {
		return errAlreadyStarted
	}
	h.activated = true
	return nil
}

// OnceActivateFunc performs one-time activation work with shutdown paused.
type OnceActivateFunc func() error

// DoOnceActivate pauses shutdown, invokes activate, then activates the
// object on success or begins shutdown on failure. Mirrors the teacher's
// DoOnceActivate: the return value from activate() becomes the
// initialize() promise's outcome.
func (h *Helper) DoOnceActivate(activate OnceActivateFunc) error {
	h.mu.Lock()
	if h.activated {
		h.mu.Unlock()
		return nil
	}
	if h.started {
		h.mu.Unlock()
		return errAlreadyStarted
	}
	h.pauseCount++
	h.mu.Unlock()

	err := activate()
	if err == nil {
		err = h.Activate()
	}
	if err != nil {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	return err
}

// StartShutdown schedules shutdown, running it immediately unless paused.
// Idempotent: only the first call takes effect.
func (h *Helper) StartShutdown(completionErr error) {
	var runNow bool
	h.mu.Lock()
	if !h.scheduled {
		h.err = completionErr
		h.scheduled = true
		runNow = h.pauseCount == 0
		h.started = runNow
	}
	h.mu.Unlock()
	if runNow {
		h.asyncRun()
	}
}

// ShutdownOnContext begins background monitoring of ctx and starts
// shutdown with ctx.Err() if it completes first.
func (h *Helper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// Wait blocks until shutdown is complete and returns the final status.
func (h *Helper) Wait() error {
	<-h.doneChan
	return h.err
}

// Shutdown starts shutdown (if not already started) and waits for it.
func (h *Helper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.Wait()
}

// DoneChan returns a channel closed once shutdown is complete.
func (h *Helper) DoneChan() <-chan struct{} { return h.doneChan }

// HandlerDoneChan returns a channel closed after HandleOnceShutdown
// returns, before children finish draining.
func (h *Helper) HandlerDoneChan() <-chan struct{} { return h.handlerDone }

// StartedChan returns a channel closed as soon as shutdown is scheduled and
// unpaused.
func (h *Helper) StartedChan() <-chan struct{} { return h.startedChan }

// IsStarted reports whether shutdown has begun.
func (h *Helper) IsStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// IsDone reports whether shutdown has completed.
func (h *Helper) IsDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// WG exposes the internal WaitGroup so callers can defer completion of
// shutdown until a specified number of Done() calls occur.
func (h *Helper) WG() *sync.WaitGroup { return &h.wg }

// AddChild registers a child whose shutdown will be waited on, and which
// will itself be shut down (with the parent's completion error) once the
// parent's HandleOnceShutdown returns.
func (h *Helper) AddChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		select {
		case <-child.DoneChan():
		case <-h.handlerDone:
			child.StartShutdown(h.err)
			child.Wait()
		}
		h.wg.Done()
	}()
}

// AddChildChan registers a channel that must close before shutdown is
// considered complete; the caller is responsible for closing it.
func (h *Helper) AddChildChan(done <-chan struct{}) {
	h.wg.Add(1)
	go func() {
		<-done
		h.wg.Done()
	}()
}

var errAlreadyStarted = shutdownError("shutdown already started")

type shutdownError string

func (e shutdownError) Error() string { return string(e) }
