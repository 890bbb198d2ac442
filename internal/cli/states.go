package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lessonstate/internal/config"
	"github.com/roach88/lessonstate/internal/state"
)

// StatesOptions holds flags for the states command.
type StatesOptions struct {
	*RootOptions
	conn     connFlags
	Identity string
	Lesson   string
}

// StatesResult is the JSON payload of the states command.
type StatesResult struct {
	Identity string                     `json:"identity"`
	Lesson   string                     `json:"lesson"`
	States   map[string]json.RawMessage `json:"states"`
}

// NewStatesCommand creates the states command.
func NewStatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "states",
		Short: "Print the stored exercise states of a lesson",
		Long: `Print every stored exercise state for one identity within a lesson.

Records whose state is not valid JSON are skipped and reported in the log.

Example:
  lessonstate states --identity u1 --lesson intro-to-go
  lessonstate states --identity u1 --lesson intro-to-go --server http://localhost:8087 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStates(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "identity whose states to print (required)")
	cmd.Flags().StringVar(&opts.Lesson, "lesson", "", "lesson id (required)")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("lesson")
	opts.conn.register(cmd, true)

	return cmd
}

func runStates(opts *StatesOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(func(c *config.Config) { opts.conn.apply(cmd, c) })
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := commandContext(cmd)
	client, release, err := newSyncClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	states, err := client.FetchStates(ctx, state.Identity(opts.Identity), opts.Lesson)
	if err != nil {
		_ = out.Error("E_FETCH", "failed to fetch states", err.Error())
		return WrapExitError(ExitFailure, "failed to fetch states", err)
	}

	return out.Emit(StatesResult{
		Identity: opts.Identity,
		Lesson:   opts.Lesson,
		States:   states,
	}, func(w io.Writer) {
		fmt.Fprintf(w, "Lesson %s for %s: %d exercise(s)\n", opts.Lesson, opts.Identity, len(states))
		for _, id := range slices.Sorted(maps.Keys(states)) {
			fmt.Fprintf(w, "  %s  %s\n", id, states[id])
		}
	})
}
