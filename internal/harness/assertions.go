package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/store"
	"github.com/roach88/lessonstate/internal/testutil"
)

// AssertionContext provides what assertions inspect besides the trace.
type AssertionContext struct {
	Ctx      context.Context
	Store    store.StateStore
	Client   *testutil.RecordingClient
	Identity state.Identity
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %6s s%d %s", ev.Seq, ev.At, ev.Session, ev.Type)
		if ev.Exercise != "" {
			fmt.Fprintf(&buf, " %s", ev.Exercise)
		}
		if ev.State != "" {
			fmt.Fprintf(&buf, " %s", ev.State)
		}
		if ev.Outcome != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Outcome)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(trace []TraceEvent, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPushCount:
		return assertPushCount(trace, a, actx)
	case AssertFetchCount:
		return assertFetchCount(trace, a, actx)
	case AssertLastPush:
		return assertLastPush(trace, a)
	case AssertStored:
		return assertStored(trace, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPushCount counts pushes the sync client received, for one exercise
// or overall.
func assertPushCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	n := len(actx.Client.Pushes())
	what := "pushes"
	if a.Exercise != "" {
		n = len(actx.Client.PushesFor(a.Exercise))
		what = "pushes of " + a.Exercise
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertPushCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d %s", n, what),
			Trace:    trace,
		}
	}
	return nil
}

func assertFetchCount(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if n := len(actx.Client.Fetches()); n != a.Count {
		return &AssertionError{
			Type:     AssertFetchCount,
			Expected: fmt.Sprintf("%d fetches", a.Count),
			Actual:   fmt.Sprintf("%d fetches", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertLastPush checks the most recent push event for an exercise.
func assertLastPush(trace []TraceEvent, a Assertion) error {
	var last *TraceEvent
	for i := range trace {
		if trace[i].Type == EventPush && trace[i].Exercise == a.Exercise {
			last = &trace[i]
		}
	}
	if last == nil {
		return &AssertionError{
			Type:     AssertLastPush,
			Expected: fmt.Sprintf("a push of %s with %s", a.Exercise, a.State),
			Actual:   "no push",
			Trace:    trace,
		}
	}
	if !jsonEqual([]byte(last.State), []byte(a.State)) {
		return &AssertionError{
			Type:     AssertLastPush,
			Expected: fmt.Sprintf("last push of %s with %s", a.Exercise, a.State),
			Actual:   fmt.Sprintf("pushed %s", last.State),
			Trace:    trace,
		}
	}
	if a.Outcome != "" && last.Outcome != a.Outcome {
		return &AssertionError{
			Type:     AssertLastPush,
			Expected: fmt.Sprintf("outcome %s", a.Outcome),
			Actual:   fmt.Sprintf("outcome %s", last.Outcome),
			Trace:    trace,
		}
	}
	return nil
}

// assertStored checks the durable record for the scenario identity.
func assertStored(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	if actx.Identity.IsGuest() {
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("stored %s = %s", a.Exercise, a.State),
			Actual:   "guest scenarios store nothing",
			Trace:    trace,
		}
	}

	rec, err := actx.Store.Get(actx.Ctx, actx.Identity, a.Exercise)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if a.Absent {
			return nil
		}
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("stored %s = %s", a.Exercise, a.State),
			Actual:   "no record",
			Trace:    trace,
		}
	case err != nil:
		return fmt.Errorf("read stored %s: %w", a.Exercise, err)
	}

	if a.Absent {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("no record for %s", a.Exercise),
			Actual:   fmt.Sprintf("stored %s", rec.State),
			Trace:    trace,
		}
	}
	if !jsonEqual(rec.State, []byte(a.State)) {
		return &AssertionError{
			Type:     AssertStored,
			Expected: fmt.Sprintf("stored %s = %s", a.Exercise, a.State),
			Actual:   fmt.Sprintf("stored %s", rec.State),
			Trace:    trace,
		}
	}
	return nil
}
