// Package erase tracks the life cycle of a single erase operation on the chip
// and arbitrates suspend/resume requests against it.
//
// The chip only ever has one erase outstanding. A [Machine] owns the record of
// that erase; nothing else may change it. Completion is observed by polling,
// either once at a time with [Machine.Poll] or in a bounded loop with
// [Machine.Wait].
package erase

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/transport"
)

// Phase is where an erase is in its life cycle.
type Phase int

const (
	// Idle means no erase is outstanding.
	Idle Phase = iota
	// InProgress means the chip is erasing the target.
	InProgress
	// Suspended means the erase has been paused to service a read. The chip
	// keeps the partial progress.
	Suspended
	// Failed means the chip reported the erase failed. Nothing else can happen
	// until the failure is acknowledged with [Machine.Recover].
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case InProgress:
		return "in progress"
	case Suspended:
		return "suspended"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is a snapshot of the machine. Target and Unit are meaningless when
// the phase is Idle.
type State struct {
	Phase  Phase
	Target uint32
	Unit   geometry.EraseUnit
}

func (s State) String() string {
	if s.Phase == Idle {
		return s.Phase.String()
	}
	return fmt.Sprintf("%s (%s at %#x)", s.Phase, s.Unit, s.Target)
}

// Status is the result of a single non-blocking poll.
type Status int

const (
	Busy Status = iota
	Done
	ComponentFailure
)

func (s Status) String() string {
	switch s {
	case Busy:
		return "busy"
	case Done:
		return "done"
	case ComponentFailure:
		return "component failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Policy bounds how long [Machine.Wait] polls for. Polls start InitialBackoff
// apart and the gap doubles after every busy poll, up to MaxBackoff.
type Policy struct {
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is generous enough for a 64 KiB sector erase on every chip in
// the predefined table. Chip erases need a much longer timeout.
var DefaultPolicy = Policy{
	Timeout:        5 * time.Second,
	InitialBackoff: 100 * time.Microsecond,
	MaxBackoff:     10 * time.Millisecond,
}

// Normalize fills in zero fields from [DefaultPolicy].
func (p Policy) Normalize() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy.Timeout
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Machine is the erase state machine. It isn't safe for concurrent use.
type Machine struct {
	driver   transport.Driver
	geometry geometry.Descriptor
	policy   Policy
	logger   *log.Logger
	state    State
}

// New creates a machine in the Idle phase. A nil logger discards messages.
func New(
	driver transport.Driver,
	geo geometry.Descriptor,
	policy Policy,
	logger *log.Logger,
) *Machine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Machine{
		driver:   driver,
		geometry: geo,
		policy:   policy.Normalize(),
		logger:   logger,
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	return m.state
}

// Policy returns the normalized poll policy the machine was created with.
func (m *Machine) Policy() Policy {
	return m.policy
}

func (m *Machine) invalidTransition(operation string) error {
	return norblock.ErrInvalidStateTransition.WithMessage(
		fmt.Sprintf("can't %s: erase is %s", operation, m.state))
}

// Begin starts erasing the unit containing `address`. The chip erases from the
// start of the unit, so that aligned address becomes the target.
//
// Begin is only valid from Idle. If the chip refuses the command, the machine
// stays Idle.
func (m *Machine) Begin(address uint32, unit geometry.EraseUnit) error {
	if m.state.Phase != Idle {
		return m.invalidTransition(fmt.Sprintf("begin %s erase at %#x", unit, address))
	}

	target, err := m.geometry.AlignDown(address, unit)
	if err != nil {
		return err
	}

	err = m.driver.EraseBlock(target, unit)
	if err != nil {
		return norblock.ErrEraseFailed.WithMessage(
			fmt.Sprintf("chip refused %s erase at %#x", unit, target)).Wrap(err)
	}

	m.state = State{Phase: InProgress, Target: target, Unit: unit}
	m.logger.Printf("erase: started %s erase at %#x", unit, target)
	return nil
}

// Suspend pauses the outstanding erase so the chip can service reads. It's only
// valid from InProgress.
func (m *Machine) Suspend() error {
	if m.state.Phase != InProgress {
		return m.invalidTransition("suspend")
	}
	if err := m.driver.SuspendErase(); err != nil {
		return norblock.ErrEraseFailed.WithMessage(
			fmt.Sprintf("chip refused to suspend erase at %#x", m.state.Target)).Wrap(err)
	}
	m.state.Phase = Suspended
	return nil
}

// Resume continues a suspended erase. The chip picks up where it left off; the
// erase isn't restarted. It's only valid from Suspended.
func (m *Machine) Resume() error {
	if m.state.Phase != Suspended {
		return m.invalidTransition("resume")
	}
	if err := m.driver.ResumeErase(); err != nil {
		return norblock.ErrEraseFailed.WithMessage(
			fmt.Sprintf("chip refused to resume erase at %#x", m.state.Target)).Wrap(err)
	}
	m.state.Phase = InProgress
	return nil
}

// Poll checks on the erase without blocking.
//
// The chip is only queried while the erase is in progress. A suspended erase
// is reported as Busy since it's still outstanding. Status codes other than
// success and component failure are treated as Busy, so a chip returning
// garbage is eventually caught by the deadline in [Machine.Wait] rather than
// being mistaken for success or failure.
func (m *Machine) Poll() Status {
	switch m.state.Phase {
	case Idle:
		return Done
	case Failed:
		return ComponentFailure
	case Suspended:
		return Busy
	}

	code := m.driver.Status()
	switch code {
	case transport.StatusOK:
		m.logger.Printf("erase: %s erase at %#x done", m.state.Unit, m.state.Target)
		m.state = State{Phase: Idle}
		return Done
	case transport.StatusComponentFailure:
		m.logger.Printf("erase: chip reports %s erase at %#x failed", m.state.Unit, m.state.Target)
		m.state.Phase = Failed
		return ComponentFailure
	case transport.StatusBusy:
		return Busy
	default:
		m.logger.Printf("erase: treating status %d (%s) as busy", int(code), code)
		return Busy
	}
}

// Wait polls until the erase finishes, fails, or the deadline passes. The
// deadline is the earlier of the context's and the policy timeout.
//
// Waiting on an idle machine returns immediately. Waiting on a suspended erase
// is a contract violation, since it can't ever finish. A timeout leaves the
// machine InProgress: the chip may still finish later.
func (m *Machine) Wait(ctx context.Context) error {
	if m.state.Phase == Suspended {
		return m.invalidTransition("wait")
	}

	ctx, cancel := context.WithTimeout(ctx, m.policy.Timeout)
	defer cancel()

	backoff := m.policy.InitialBackoff
	polls := 0
	for {
		polls++
		switch m.Poll() {
		case Done:
			return nil
		case ComponentFailure:
			return norblock.ErrEraseFailed.WithMessage(
				fmt.Sprintf("chip reports %s erase at %#x failed", m.state.Unit, m.state.Target))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return norblock.ErrTimeout.WithMessage(
				fmt.Sprintf(
					"%s erase at %#x still busy after %d polls: %s",
					m.state.Unit,
					m.state.Target,
					polls,
					ctx.Err()))
		case <-timer.C:
		}

		backoff *= 2
		if backoff > m.policy.MaxBackoff {
			backoff = m.policy.MaxBackoff
		}
	}
}

// Recover acknowledges a failed erase and returns the machine to Idle. It
// returns the failed target so the caller can decide whether to erase it again
// or retire it; the machine never retries on its own. Only valid from Failed.
func (m *Machine) Recover() (State, error) {
	if m.state.Phase != Failed {
		return State{}, m.invalidTransition("recover")
	}
	failed := m.state
	m.state = State{Phase: Idle}
	m.logger.Printf("erase: recovered from failed %s erase at %#x", failed.Unit, failed.Target)
	return failed, nil
}
