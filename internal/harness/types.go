package harness

// Trace event types.
const (
	EventOpen     = "open"
	EventHydrated = "hydrated"
	EventWrite    = "write"
	EventPush     = "push"
	EventClose    = "close"
)

// TraceEvent is one observable thing a session did.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	At      string `json:"at"` // offset from scenario start
	Session int    `json:"session"`
	Type    string `json:"type"`

	Identity string `json:"identity,omitempty"` // open
	Exercise string `json:"exercise,omitempty"` // write, push
	State    string `json:"state,omitempty"`    // write, push
	Outcome  string `json:"outcome,omitempty"`  // push
	Mode     string `json:"mode,omitempty"`     // open, close

	// Count is the number of hydrated exercises (hydrated) or of pending
	// pushes (close).
	Count *int `json:"count,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every read step and assertion held.
	Pass bool `json:"pass"`

	// Trace lists session events in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains read and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func intPtr(n int) *int {
	return &n
}
