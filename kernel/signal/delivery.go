package signal

import (
	"badgeros/kernel"
	"badgeros/kernel/task"
)

var (
	// ErrNoHandlerFrame is returned by a sigreturn that has no saved
	// handler context to restore.
	ErrNoHandlerFrame = &kernel.Error{Module: "signal", Message: "sigreturn without an active handler frame"}
)

// userRedZone is the ABI-mandated scratch area below RSP that a handler
// frame must not clobber.
const userRedZone = 128

// Outcome reports what delivering pending signals did to the target.
type Outcome uint8

const (
	// OutcomeNone means no deliverable signal changed anything.
	OutcomeNone Outcome = iota

	// OutcomeTerminated means a default action killed the target.
	OutcomeTerminated

	// OutcomeStopped means a default action suspended the target.
	OutcomeStopped

	// OutcomeContinued means a stopped target was resumed.
	OutcomeContinued

	// OutcomeHandler means the saved frame now enters a user handler.
	OutcomeHandler
)

// Callbacks carry the process lifecycle effects of signal delivery. The
// process manager supplies them; routing effects through callbacks keeps
// this package free of a process dependency.
type Callbacks struct {
	// Terminate removes the thread's process with the given exit code.
	Terminate func(t *task.Thread, exitCode int32)

	// Stop suspends the thread until a continue signal.
	Stop func(t *task.Thread)

	// Continue resumes a stopped thread.
	Continue func(t *task.Thread)

	// Wake interrupts a thread sleeping in an interruptible block so it
	// can observe the new pending signal.
	Wake func(t *task.Thread)
}

// Delivery applies pending signals to threads.
type Delivery struct {
	callbacks Callbacks
}

// NewDelivery returns a delivery engine using the supplied callbacks.
func NewDelivery(callbacks Callbacks) *Delivery {
	return &Delivery{callbacks: callbacks}
}

// Post marks a signal pending and wakes the target if it sleeps in an
// interruptible block. SIGCONT additionally clears a pending stop and
// resumes a stopped thread even while blocked, matching POSIX.
func (d *Delivery) Post(s *State, t *task.Thread, sig uint32) {
	if Mask(sig) == 0 {
		return
	}
	s.SetPending(sig)

	if sig == SIGCONT {
		s.ClearPending(SIGSTOP)
		s.ClearPending(SIGTSTP)
		s.ClearPending(SIGTTIN)
		s.ClearPending(SIGTTOU)
		if t.State() == task.Blocked && t.BlockReason() == task.BlockStopped {
			d.callbacks.Continue(t)
			return
		}
	}
	if DefaultActionFor(sig) == ActionStop {
		s.ClearPending(SIGCONT)
	}

	if !s.HasDeliverable() {
		return
	}
	if t.State() != task.Blocked || !t.BlockReason().Interruptible() {
		return
	}
	// Pause resumes only for a signal with a visible effect; interrupted
	// reads and waits re-execute their call and self-correct, so any
	// deliverable signal may wake those.
	if t.BlockReason() == task.BlockPause && !s.HasActionable() {
		return
	}
	d.callbacks.Wake(t)
}

// DeliverPending consumes deliverable signals for the thread just before
// it returns to user mode. Ignored signals drain in a loop; the first
// signal with a visible effect decides the outcome.
func (d *Delivery) DeliverPending(s *State, t *task.Thread) Outcome {
	for {
		sig := s.NextDeliverable()
		if sig == 0 {
			return OutcomeNone
		}
		s.ClearPending(sig)

		action := s.ActionFor(sig)
		switch {
		case action.Handler == HandlerIgnore:
			// Drained; look for the next one.
		case action.UserHandler():
			if s.inHandler {
				// One handler frame at a time. Leave the signal
				// pending and deliver it on sigreturn.
				s.SetPending(sig)
				return OutcomeNone
			}
			d.enterHandler(s, t, sig, action)
			return OutcomeHandler
		default:
			if outcome := d.applyDefault(s, t, sig); outcome != OutcomeNone {
				return outcome
			}
		}
	}
}

func (d *Delivery) applyDefault(s *State, t *task.Thread, sig uint32) Outcome {
	switch DefaultActionFor(sig) {
	case ActionTerminate:
		d.callbacks.Terminate(t, 128+int32(sig))
		return OutcomeTerminated
	case ActionCoreDump:
		// No dump support; the 0x80 bit records that one was due.
		d.callbacks.Terminate(t, 128+int32(sig)|0x80)
		return OutcomeTerminated
	case ActionStop:
		d.callbacks.Stop(t)
		return OutcomeStopped
	case ActionContinue:
		if t.State() == task.Blocked && t.BlockReason() == task.BlockStopped {
			d.callbacks.Continue(t)
			return OutcomeContinued
		}
		return OutcomeNone
	default:
		return OutcomeNone
	}
}

// enterHandler rewrites the saved frame so the thread resumes in its
// handler. The interrupted frame and the mask in force are saved for
// sigreturn; the delivered signal and the action mask are blocked while
// the handler runs unless the action opts out.
func (d *Delivery) enterHandler(s *State, t *task.Thread, sig uint32, action Action) {
	saved := t.Frame
	t.SignalFrame = &saved

	s.savedBlocked = s.Blocked()
	s.inHandler = true
	if action.Flags&FlagNoDefer == 0 {
		s.BlockSignals(Mask(sig))
	}
	s.BlockSignals(action.Mask)

	t.Frame.RIP = action.Handler
	t.Frame.RDI = uint64(sig)
	t.Frame.RSI = 0
	t.Frame.RDX = 0
	// The handler stack starts strictly below the interrupted frame's
	// red zone, 16 byte aligned; aligning down from the red zone edge
	// alone could land exactly on it.
	t.Frame.RSP = (t.Frame.RSP - userRedZone - 8) &^ 0xf
}

// Sigreturn restores the frame interrupted by a handler along with the
// blocked mask in force before delivery.
func Sigreturn(s *State, t *task.Thread) *kernel.Error {
	if !s.inHandler || t.SignalFrame == nil {
		return ErrNoHandlerFrame
	}

	t.Frame = *t.SignalFrame
	t.SignalFrame = nil
	s.SetBlocked(s.savedBlocked)
	s.savedBlocked = 0
	s.inHandler = false
	return nil
}
