package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lessonstate/internal/session"
	"github.com/roach88/lessonstate/internal/syncclient"
)

// Scenario defines a session scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Lesson is the lesson every session opens.
	Lesson string `yaml:"lesson"`

	// Identity is the default identity for sessions. Empty means guest.
	Identity string `yaml:"identity,omitempty"`

	// Quiet is the debounce interval as a duration string (default 1500ms).
	Quiet string `yaml:"quiet,omitempty"`

	// CloseMode is the default close mode: detach, flush or abandon.
	CloseMode string `yaml:"close_mode,omitempty"`

	// Seed lists records stored before the first step.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a stored record present before the scenario starts.
type SeedRecord struct {
	Exercise string `yaml:"exercise"`
	State    string `yaml:"state"`

	// Lesson defaults to the scenario lesson, Identity to the scenario identity.
	Lesson   string `yaml:"lesson,omitempty"`
	Identity string `yaml:"identity,omitempty"`
}

// Step is one scenario step. Exactly one field must be set.
type Step struct {
	Open        *OpenStep  `yaml:"open,omitempty"`
	Write       *WriteStep `yaml:"write,omitempty"`
	Advance     string     `yaml:"advance,omitempty"`
	Read        *ReadStep  `yaml:"read,omitempty"`
	Close       *CloseStep `yaml:"close,omitempty"`
	FailPushes  *bool      `yaml:"fail_pushes,omitempty"`
	FailFetches *bool      `yaml:"fail_fetches,omitempty"`
}

// OpenStep starts and hydrates a session.
type OpenStep struct {
	// Identity overrides the scenario identity; an explicit "" opens a guest session.
	Identity *string `yaml:"identity,omitempty"`

	// CloseMode overrides the scenario close mode for this session.
	CloseMode string `yaml:"close_mode,omitempty"`
}

// WriteStep writes an exercise state.
type WriteStep struct {
	Exercise string `yaml:"exercise"`
	State    string `yaml:"state"`
}

// ReadStep checks the cached state of an exercise.
type ReadStep struct {
	Exercise string `yaml:"exercise"`
	Expect   string `yaml:"expect,omitempty"`
	Absent   bool   `yaml:"absent,omitempty"`
}

// CloseStep ends the open session.
type CloseStep struct{}

// Assertion validates the scenario's final outcome.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Exercise selects the exercise (push_count, last_push, stored).
	Exercise string `yaml:"exercise,omitempty"`

	// Count is the expected number (push_count, fetch_count).
	Count int `yaml:"count,omitempty"`

	// State is the expected JSON text (last_push, stored).
	State string `yaml:"state,omitempty"`

	// Outcome is the expected push outcome (last_push), e.g. "persist_failed".
	Outcome string `yaml:"outcome,omitempty"`

	// Absent expects no stored record (stored).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertPushCount  = "push_count"
	AssertFetchCount = "fetch_count"
	AssertLastPush   = "last_push"
	AssertStored     = "stored"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir in lexical order.
// A path naming a single file is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Lesson == "" {
		return fmt.Errorf("lesson is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Quiet != "" {
		if d, err := time.ParseDuration(s.Quiet); err != nil || d <= 0 {
			return fmt.Errorf("quiet must be a positive duration, got %q", s.Quiet)
		}
	}
	if _, err := session.ParseCloseMode(s.CloseMode); err != nil {
		return fmt.Errorf("close_mode: %w", err)
	}

	for i, r := range s.Seed {
		if r.Exercise == "" {
			return fmt.Errorf("seed[%d]: exercise is required", i)
		}
		if r.Identity == "" && s.Identity == "" {
			return fmt.Errorf("seed[%d]: identity is required when the scenario has none", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	var set []string
	if st.Open != nil {
		set = append(set, "open")
		if _, err := session.ParseCloseMode(st.Open.CloseMode); err != nil {
			return fmt.Errorf("steps[%d].open: %w", index, err)
		}
	}
	if st.Write != nil {
		set = append(set, "write")
		if st.Write.Exercise == "" {
			return fmt.Errorf("steps[%d].write: exercise is required", index)
		}
		if st.Write.State == "" {
			return fmt.Errorf("steps[%d].write: state is required", index)
		}
	}
	if st.Advance != "" {
		set = append(set, "advance")
		if d, err := time.ParseDuration(st.Advance); err != nil || d < 0 {
			return fmt.Errorf("steps[%d].advance: invalid duration %q", index, st.Advance)
		}
	}
	if st.Read != nil {
		set = append(set, "read")
		if st.Read.Exercise == "" {
			return fmt.Errorf("steps[%d].read: exercise is required", index)
		}
		if (st.Read.Expect == "") == !st.Read.Absent {
			return fmt.Errorf("steps[%d].read: exactly one of expect or absent is required", index)
		}
	}
	if st.Close != nil {
		set = append(set, "close")
	}
	if st.FailPushes != nil {
		set = append(set, "fail_pushes")
	}
	if st.FailFetches != nil {
		set = append(set, "fail_fetches")
	}

	switch len(set) {
	case 0:
		return fmt.Errorf("steps[%d]: empty step", index)
	case 1:
		return nil
	default:
		return fmt.Errorf("steps[%d]: one action per step, got %s", index, strings.Join(set, ", "))
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPushCount, AssertFetchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertLastPush:
		if a.Exercise == "" {
			return fmt.Errorf("assertions[%d]: exercise is required for last_push", index)
		}
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for last_push", index)
		}
		switch a.Outcome {
		case "", syncclient.OutcomeOK.String(), syncclient.OutcomePersistFailed.String():
		default:
			return fmt.Errorf("assertions[%d]: unknown outcome %q", index, a.Outcome)
		}
	case AssertStored:
		if a.Exercise == "" {
			return fmt.Errorf("assertions[%d]: exercise is required for stored", index)
		}
		if (a.State == "") == !a.Absent {
			return fmt.Errorf("assertions[%d]: exactly one of state or absent is required for stored", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
