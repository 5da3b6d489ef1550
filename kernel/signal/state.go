// Package signal tracks per-process signal state and delivers pending
// signals at the return-to-user boundary. The package knows nothing about
// processes; lifecycle effects (exit, stop, continue, wakeup) are injected
// by the process manager as callbacks.
package signal

// Signal numbers follow the Linux ABI so user space headers keep working.
const (
	SIGHUP    = 1
	SIGINT    = 2
	SIGQUIT   = 3
	SIGILL    = 4
	SIGTRAP   = 5
	SIGABRT   = 6
	SIGBUS    = 7
	SIGFPE    = 8
	SIGKILL   = 9
	SIGUSR1   = 10
	SIGSEGV   = 11
	SIGUSR2   = 12
	SIGPIPE   = 13
	SIGALRM   = 14
	SIGTERM   = 15
	SIGSTKFLT = 16
	SIGCHLD   = 17
	SIGCONT   = 18
	SIGSTOP   = 19
	SIGTSTP   = 20
	SIGTTIN   = 21
	SIGTTOU   = 22
	SIGURG    = 23
	SIGXCPU   = 24
	SIGXFSZ   = 25
	SIGVTALRM = 26
	SIGPROF   = 27
	SIGWINCH  = 28
	SIGIO     = 29
	SIGPWR    = 30
	SIGSYS    = 31

	// NumSignals bounds the action table; signals are 1-based.
	NumSignals = 64
)

// Reserved handler values in Action.Handler.
const (
	// HandlerDefault selects the per-signal default action.
	HandlerDefault = 0

	// HandlerIgnore discards the signal.
	HandlerIgnore = 1
)

// Action flags.
const (
	// FlagNoDefer leaves the delivered signal unblocked while its
	// handler runs.
	FlagNoDefer = 0x40000000
)

// DefaultAction describes what the kernel does with a signal whose action
// is HandlerDefault.
type DefaultAction uint8

const (
	// ActionTerminate kills the process.
	ActionTerminate DefaultAction = iota

	// ActionCoreDump kills the process and marks the exit as a dump.
	ActionCoreDump

	// ActionIgnore discards the signal.
	ActionIgnore

	// ActionStop suspends the process until a continue signal.
	ActionStop

	// ActionContinue resumes a stopped process.
	ActionContinue
)

// DefaultActionFor returns the default action for a signal. Unknown and
// realtime numbers terminate, matching the POSIX fallback.
func DefaultActionFor(sig uint32) DefaultAction {
	switch sig {
	case SIGQUIT, SIGILL, SIGTRAP, SIGABRT, SIGBUS, SIGFPE, SIGSEGV,
		SIGXCPU, SIGXFSZ, SIGSYS:
		return ActionCoreDump
	case SIGCHLD, SIGURG, SIGWINCH:
		return ActionIgnore
	case SIGSTOP, SIGTSTP, SIGTTIN, SIGTTOU:
		return ActionStop
	case SIGCONT:
		return ActionContinue
	default:
		return ActionTerminate
	}
}

// Mask returns the bitmap bit for a signal, or 0 for invalid numbers.
func Mask(sig uint32) uint64 {
	if sig == 0 || sig > NumSignals {
		return 0
	}
	return 1 << (sig - 1)
}

// uncatchableSignals can never be blocked, ignored or handled.
const uncatchableSignals = (1 << (SIGKILL - 1)) | (1 << (SIGSTOP - 1))

// Uncatchable returns true for signals whose disposition is fixed.
func Uncatchable(sig uint32) bool {
	return Mask(sig)&uncatchableSignals != 0
}

// Action is the registered disposition for one signal.
type Action struct {
	// Handler is HandlerDefault, HandlerIgnore or a user code address.
	Handler uint64

	// Mask holds additional signals blocked while the handler runs.
	Mask uint64

	// Flags modifies delivery (FlagNoDefer).
	Flags uint64
}

// UserHandler returns true if the action names user code.
func (a Action) UserHandler() bool { return a.Handler > HandlerIgnore }

// State is the signal bookkeeping of one process.
type State struct {
	pending uint64
	blocked uint64
	actions [NumSignals]Action

	// savedBlocked holds the mask in force before the currently running
	// user handler blocked extra signals; sigreturn restores it.
	savedBlocked uint64
	inHandler    bool
}

// NewState returns a state with every signal at its default action.
func NewState() *State {
	return &State{}
}

// Pending returns the pending bitmap.
func (s *State) Pending() uint64 { return s.pending }

// Blocked returns the blocked bitmap.
func (s *State) Blocked() uint64 { return s.blocked }

// SetPending marks a signal pending. Invalid numbers are ignored.
func (s *State) SetPending(sig uint32) { s.pending |= Mask(sig) }

// ClearPending removes a signal from the pending set.
func (s *State) ClearPending(sig uint32) { s.pending &^= Mask(sig) }

// HasDeliverable returns true if a pending signal is not blocked.
func (s *State) HasDeliverable() bool {
	return s.pending&^s.blocked != 0
}

// HasActionable returns true if a deliverable signal would visibly act on
// the target: run a user handler, terminate it, dump core or stop it.
// Signals that resolve to ignore, and a continue for a thread that is not
// stopped, are invisible; a sleeping pause call must not wake for them.
func (s *State) HasActionable() bool {
	deliverable := s.pending &^ s.blocked
	for sig := uint32(1); sig <= NumSignals; sig++ {
		if deliverable&Mask(sig) == 0 {
			continue
		}
		action := s.ActionFor(sig)
		if action.Handler == HandlerIgnore {
			continue
		}
		if action.UserHandler() {
			return true
		}
		switch DefaultActionFor(sig) {
		case ActionTerminate, ActionCoreDump, ActionStop:
			return true
		}
	}
	return false
}

// NextDeliverable returns the lowest-numbered pending unblocked signal, or
// 0 if none exists.
func (s *State) NextDeliverable() uint32 {
	deliverable := s.pending &^ s.blocked
	if deliverable == 0 {
		return 0
	}
	sig := uint32(1)
	for deliverable&1 == 0 {
		deliverable >>= 1
		sig++
	}
	return sig
}

// ActionFor returns the registered action for a signal. Invalid numbers
// report the default action.
func (s *State) ActionFor(sig uint32) Action {
	if sig == 0 || sig > NumSignals {
		return Action{}
	}
	return s.actions[sig-1]
}

// SetAction installs a disposition and returns the previous one. Changing
// an uncatchable signal or an invalid number fails.
func (s *State) SetAction(sig uint32, action Action) (Action, bool) {
	if sig == 0 || sig > NumSignals || Uncatchable(sig) {
		return Action{}, false
	}
	prev := s.actions[sig-1]
	action.Mask &^= uncatchableSignals
	s.actions[sig-1] = action
	return prev, true
}

// BlockSignals adds signals to the blocked mask. SIGKILL and SIGSTOP stay
// unblockable.
func (s *State) BlockSignals(mask uint64) {
	s.blocked |= mask &^ uncatchableSignals
}

// UnblockSignals removes signals from the blocked mask.
func (s *State) UnblockSignals(mask uint64) {
	s.blocked &^= mask
}

// SetBlocked replaces the blocked mask.
func (s *State) SetBlocked(mask uint64) {
	s.blocked = mask &^ uncatchableSignals
}

// ForkCopy returns the state inherited by a forked child: dispositions and
// the blocked mask carry over, pending signals do not.
func (s *State) ForkCopy() *State {
	child := &State{blocked: s.blocked}
	child.actions = s.actions
	return child
}

// ExecReset applies the exec transition: pending signals are dropped and
// caught signals revert to their defaults; ignored dispositions survive.
func (s *State) ExecReset() {
	s.pending = 0
	s.inHandler = false
	s.savedBlocked = 0
	for i := range s.actions {
		if s.actions[i].UserHandler() {
			s.actions[i] = Action{}
		}
	}
}
