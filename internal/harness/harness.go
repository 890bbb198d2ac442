package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/roach88/lessonstate/internal/debounce"
	"github.com/roach88/lessonstate/internal/session"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/store"
	"github.com/roach88/lessonstate/internal/syncclient"
	"github.com/roach88/lessonstate/internal/testutil"
)

// Injected failures for fail_pushes and fail_fetches steps.
var (
	ErrInjectedPush  = errors.New("injected push failure")
	ErrInjectedFetch = errors.New("injected fetch failure")
)

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	client   *testutil.RecordingClient
	clock    *testutil.FakeClock
	start    time.Time
	quiet    time.Duration
	logger   *slog.Logger

	cache    *session.Cache
	mode     session.CloseMode
	sessions int
	closed   bool

	mu     sync.Mutex
	result *Result
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes session and store logs to l (default: discarded).
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database on a fresh fake clock.
// An error is returned only when the scenario cannot be executed; read and
// assertion failures are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	clk := testutil.NewFakeClock(time.Time{})
	st, err := store.Open(":memory:", store.WithClock(clk))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    clk,
		start:    clk.Now(),
		quiet:    debounce.DefaultQuiet,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:   NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.client = testutil.NewRecordingClient(syncclient.NewLocal(st, h.logger))
	if scenario.Quiet != "" {
		if h.quiet, err = time.ParseDuration(scenario.Quiet); err != nil {
			return nil, fmt.Errorf("invalid quiet: %w", err)
		}
	}

	ctx := context.Background()

	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		Client:   h.client,
		Identity: state.Identity(scenario.Identity),
	}
	for _, errMsg := range EvaluateAssertions(h.snapshotTrace(), scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	return h.result, nil
}

// seed stores the scenario's seed records. States that are not valid JSON
// are written straight to the table so they come back verbatim.
func (h *Harness) seed(ctx context.Context) error {
	for _, r := range h.scenario.Seed {
		rec := state.Record{
			Identity:   state.Identity(firstNonEmpty(r.Identity, h.scenario.Identity)),
			LessonID:   firstNonEmpty(r.Lesson, h.scenario.Lesson),
			ExerciseID: r.Exercise,
			State:      json.RawMessage(r.State),
			WrittenAt:  h.start,
		}
		if json.Valid(rec.State) {
			if _, _, err := h.store.Upsert(ctx, rec); err != nil {
				return err
			}
			continue
		}
		ns := h.start.UnixNano()
		if _, err := h.store.DB().ExecContext(ctx, `INSERT INTO exercise_states
			(identity, exercise_id, lesson_id, state, updated_at, written_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(rec.Identity), rec.ExerciseID, rec.LessonID, r.State, ns, ns); err != nil {
			return fmt.Errorf("seed %s: %w", rec.ExerciseID, err)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) error {
	switch {
	case step.Open != nil:
		return h.open(ctx, step.Open)

	case step.Write != nil:
		if err := h.requireOpen("write"); err != nil {
			return err
		}
		h.record(TraceEvent{Type: EventWrite, Exercise: step.Write.Exercise, State: step.Write.State})
		h.cache.Write(step.Write.Exercise, json.RawMessage(step.Write.State))
		return nil

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil

	case step.Read != nil:
		if h.cache == nil {
			return errors.New("read: no session has been opened")
		}
		h.checkRead(index, step.Read)
		return nil

	case step.Close != nil:
		if err := h.requireOpen("close"); err != nil {
			return err
		}
		h.record(TraceEvent{
			Type:  EventClose,
			Mode:  h.mode.String(),
			Count: intPtr(h.cache.PendingPushes()),
		})
		h.closed = true
		return h.cache.Close(ctx)

	case step.FailPushes != nil:
		h.client.SetPushErr(errIf(*step.FailPushes, ErrInjectedPush))
		return nil

	case step.FailFetches != nil:
		h.client.SetFetchErr(errIf(*step.FailFetches, ErrInjectedFetch))
		return nil
	}
	return errors.New("empty step")
}

func (h *Harness) open(ctx context.Context, step *OpenStep) error {
	if h.cache != nil && !h.closed {
		return fmt.Errorf("open: session %d is still open", h.sessions)
	}

	identity := h.scenario.Identity
	if step.Identity != nil {
		identity = *step.Identity
	}
	mode := h.closeMode(step)
	h.mode = mode

	h.sessions++
	n := h.sessions
	h.cache = session.New(h.scenario.Lesson, state.Identity(identity), h.client,
		session.WithClock(h.clock),
		session.WithQuiet(h.quiet),
		session.WithLogger(h.logger),
		session.WithCloseMode(mode),
		session.WithSessionID(fmt.Sprintf("session-%d", n)),
		session.WithPushObserver(func(res syncclient.Result) { h.observePush(n, res) }),
	)
	h.closed = false

	h.record(TraceEvent{Type: EventOpen, Identity: identity, Mode: mode.String()})
	if err := h.cache.Hydrate(ctx); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	h.record(TraceEvent{Type: EventHydrated, Count: intPtr(len(h.cache.States()))})
	return nil
}

// closeMode resolves the close mode for an open step.
func (h *Harness) closeMode(step *OpenStep) session.CloseMode {
	name := h.scenario.CloseMode
	if step.CloseMode != "" {
		name = step.CloseMode
	}
	m, _ := session.ParseCloseMode(name)
	return m
}

func (h *Harness) observePush(sessionNum int, res syncclient.Result) {
	var st string
	if pushes := h.client.PushesFor(res.ExerciseID); len(pushes) > 0 {
		st = string(pushes[len(pushes)-1].State)
	}
	h.recordAt(sessionNum, TraceEvent{
		Type:     EventPush,
		Exercise: res.ExerciseID,
		State:    st,
		Outcome:  res.Outcome.String(),
	})
}

func (h *Harness) checkRead(index int, r *ReadStep) {
	got, ok := h.cache.Read(r.Exercise)
	at := h.clock.Now().Sub(h.start)
	switch {
	case r.Absent && ok:
		h.result.AddError(fmt.Sprintf("steps[%d] read %s at %s: expected no state, got %s", index, r.Exercise, at, got))
	case !r.Absent && !ok:
		h.result.AddError(fmt.Sprintf("steps[%d] read %s at %s: expected %s, got no state", index, r.Exercise, at, r.Expect))
	case !r.Absent && !jsonEqual(got, []byte(r.Expect)):
		h.result.AddError(fmt.Sprintf("steps[%d] read %s at %s: expected %s, got %s", index, r.Exercise, at, r.Expect, got))
	}
}

func (h *Harness) requireOpen(action string) error {
	if h.cache == nil || h.closed {
		return fmt.Errorf("%s: no open session", action)
	}
	return nil
}

func (h *Harness) record(ev TraceEvent) {
	h.recordAt(h.sessions, ev)
}

func (h *Harness) recordAt(sessionNum int, ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Seq = len(h.result.Trace) + 1
	ev.At = h.clock.Now().Sub(h.start).String()
	ev.Session = sessionNum
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) snapshotTrace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent(nil), h.result.Trace...)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func errIf(on bool, err error) error {
	if on {
		return err
	}
	return nil
}

// jsonEqual compares two JSON texts semantically.
func jsonEqual(a, b []byte) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
