package kronix

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
)

// StepStatus is the lifecycle state of a build step.
type StepStatus int

const (
	StatusPending StepStatus = iota
	StatusRunning
	StatusSucceeded
	// StatusFailedRecovered marks a step that failed but whose run was
	// allowed to continue.
	StatusFailedRecovered
	// StatusFailedAborted marks the step whose failure stopped the run, and
	// every step refused after it.
	StatusFailedAborted
)

func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailedRecovered:
		return "failed (recovered)"
	case StatusFailedAborted:
		return "failed (aborted)"
	}
	return "unknown"
}

// Substep identifies one part of a multi-part action, like the ordered
// install targets of a compiler build.
type Substep struct {
	Index int // 1-based position within the action
	Desc  string
}

// Step is a unit of work the runner executes and reports on. Dir and Env
// declare ambient requirements: the runner applies them around Run and
// reverts them afterwards, so Run may assume the working directory and
// environment it asked for.
type Step struct {
	Component Component
	Action    Action
	Substep   *Substep
	Dir       string
	Env       map[string]string
	Run       func(ctx context.Context) error
}

// Subject names the step's target, with the part decoration when the step
// is one piece of a multi-part action.
func (s Step) Subject() string {
	if s.Substep != nil {
		return fmt.Sprintf("%s (part %d: %s)", s.Component, s.Substep.Index, s.Substep.Desc)
	}
	return s.Component.String()
}

// Desc is the in-progress phrase, "building gcc".
func (s Step) Desc() string {
	return s.Action.Gerund() + " " + s.Subject()
}

// Done is the completed phrase, "built gcc".
func (s Step) Done() string {
	return s.Action.Past() + " " + s.Subject()
}

// Key is the manifest key the step's filesystem writes are recorded under.
func (s Step) Key() string {
	key := s.Component.String() + ":" + s.Action.String()
	if s.Substep != nil {
		key += ":" + strconv.Itoa(s.Substep.Index)
	}
	return key
}

// StepResult reports how a step ended. N is the step's run-wide number,
// zero when the step was refused because the run had already aborted.
type StepResult struct {
	N      uint64
	Step   Step
	Status StepStatus
	Err    error
}

// RecoveryPolicy is consulted after a step fails. Returning true lets the
// run continue with the step marked recovered; false aborts the run.
type RecoveryPolicy func(ctx context.Context, st Step, err error) bool

// AutoPolicy answers every failure the same way without consulting anyone.
func AutoPolicy(keepGoing bool) RecoveryPolicy {
	return func(context.Context, Step, error) bool { return keepGoing }
}

// Runner executes steps in sequence, numbering them across the whole run.
// After the first aborting failure every later step is refused immediately
// and silently.
type Runner struct {
	Observer StepObserver
	Policy   RecoveryPolicy

	counter   atomic.Uint64
	aborted   atomic.Bool
	recovered atomic.Uint64
}

func NewRunner(obs StepObserver, policy RecoveryPolicy) *Runner {
	return &Runner{Observer: obs, Policy: policy}
}

// Exec runs one step. A canceled context never reaches the recovery
// policy: interruption always aborts.
func (r *Runner) Exec(ctx context.Context, st Step) StepResult {
	if r.aborted.Load() {
		return StepResult{Step: st, Status: StatusFailedAborted, Err: ErrAborted}
	}

	n := r.counter.Add(1)
	res := StepResult{N: n, Step: st, Status: StatusRunning}
	r.observer().StepStarted(n, st.Desc())

	err := r.runScoped(ctx, st)
	if err == nil {
		res.Status = StatusSucceeded
		r.observer().StepSucceeded(n, st.Done())
		return res
	}

	res.Err = err
	r.observer().StepFailed(n, st.Desc(), err)

	if ctx.Err() == nil && r.Policy != nil && r.Policy(ctx, st, err) {
		res.Status = StatusFailedRecovered
		r.recovered.Add(1)
		r.observer().StepRecovered(n, st.Desc())
		return res
	}

	res.Status = StatusFailedAborted
	r.aborted.Store(true)
	r.observer().StepAborted(n, st.Desc())
	return res
}

func (r *Runner) runScoped(ctx context.Context, st Step) error {
	if st.Dir == "" && len(st.Env) == 0 {
		return st.Run(ctx)
	}
	state, err := EnterEnv(st.Env, st.Dir)
	if err != nil {
		return err
	}
	defer state.Restore()
	return st.Run(ctx)
}

// Count reports how many steps have started.
func (r *Runner) Count() uint64 { return r.counter.Load() }

// Recovered reports how many failed steps the run continued past.
func (r *Runner) Recovered() uint64 { return r.recovered.Load() }

// Aborted reports whether the run has stopped accepting steps.
func (r *Runner) Aborted() bool { return r.aborted.Load() }

func (r *Runner) observer() StepObserver {
	if r.Observer != nil {
		return r.Observer
	}
	return noopObserver{}
}

type noopObserver struct{}

func (noopObserver) StepStarted(uint64, string)          {}
func (noopObserver) StepSucceeded(uint64, string)        {}
func (noopObserver) StepFailed(uint64, string, error)    {}
func (noopObserver) StepRecovered(uint64, string)        {}
func (noopObserver) StepAborted(uint64, string)          {}
func (noopObserver) Infof(string, ...any)                {}
func (noopObserver) Warnf(string, ...any)                {}
