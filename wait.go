package zcipc

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// WaitEvent is what ended a Wait.
type WaitEvent uint8

const (
	// Tick means the cycle elapsed.
	Tick WaitEvent = iota
	// TerminationRequest means SIGTERM arrived or the context was canceled.
	TerminationRequest
	// InterruptSignal means SIGINT arrived.
	InterruptSignal
)

func (e WaitEvent) String() string {
	switch e {
	case Tick:
		return "tick"
	case TerminationRequest:
		return "termination_request"
	case InterruptSignal:
		return "interrupt_signal"
	}
	return "unknown"
}

// Wait blocks for cycle and reports what ended the wait. The context error
// is returned alongside TerminationRequest when ctx ends the wait.
func Wait(ctx context.Context, cycle time.Duration) (WaitEvent, error) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)

	t := time.NewTimer(cycle)
	defer t.Stop()

	select {
	case <-t.C:
		return Tick, nil
	case s := <-sig:
		if s == syscall.SIGINT {
			return InterruptSignal, nil
		}
		return TerminationRequest, nil
	case <-ctx.Done():
		return TerminationRequest, ctx.Err()
	}
}
