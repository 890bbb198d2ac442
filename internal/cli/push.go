package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lessonstate/internal/config"
	"github.com/roach88/lessonstate/internal/session"
	"github.com/roach88/lessonstate/internal/state"
	"github.com/roach88/lessonstate/internal/syncclient"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	conn      connFlags
	Identity  string
	Lesson    string
	Exercise  string
	State     string
	CloseMode string
}

// PushResult is the JSON payload of the push command.
type PushResult struct {
	Identity  string    `json:"identity"`
	Lesson    string    `json:"lesson"`
	Exercise  string    `json:"exercise"`
	Outcome   string    `json:"outcome"`
	WrittenAt time.Time `json:"written_at"`
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Write one exercise state through a session",
		Long: `Open a session for the lesson, write one exercise state and wait for it
to be persisted.

The write goes through the same hydrate, debounce and push path a lesson
page uses. With --close-mode detach the command waits out the debounce
interval; flush pushes immediately on close; abandon drops the edit and
exits with status 1.

Example:
  lessonstate push --identity u1 --lesson intro-to-go --exercise ex-1 --state '{"code":"fmt.Println()"}'
  lessonstate push --identity u1 --lesson intro-to-go --exercise ex-1 --state '"done"' --close-mode flush`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Identity, "identity", "", "identity to write as (required)")
	cmd.Flags().StringVar(&opts.Lesson, "lesson", "", "lesson id (required)")
	cmd.Flags().StringVar(&opts.Exercise, "exercise", "", "exercise id (required)")
	cmd.Flags().StringVar(&opts.State, "state", "", "exercise state as JSON text (required)")
	cmd.Flags().StringVar(&opts.CloseMode, "close-mode", "", "detach, flush or abandon, overrides LESSONSTATE_CLOSE_MODE")
	for _, name := range []string{"identity", "lesson", "exercise", "state"} {
		_ = cmd.MarkFlagRequired(name)
	}
	opts.conn.register(cmd, true)

	return cmd
}

func runPush(opts *PushOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(func(c *config.Config) {
		opts.conn.apply(cmd, c)
		if cmd.Flags().Changed("close-mode") {
			c.CloseMode = opts.CloseMode
		}
	})
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

	id := state.Identity(opts.Identity)
	if id.IsGuest() {
		return NewExitError(ExitCommandError, "push requires a non-empty --identity")
	}
	raw := json.RawMessage(opts.State)
	if err := state.ValidateState(raw); err != nil {
		return WrapExitError(ExitCommandError, "invalid --state", err)
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), cfg.Debounce+cfg.HydrateTimeout+session.DefaultPushTimeout)
	defer cancel()

	client, release, err := newSyncClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	mode := cfg.SessionCloseMode()
	results := make(chan syncclient.Result, 1)
	cache := session.New(opts.Lesson, id, client,
		session.WithQuiet(cfg.Debounce),
		session.WithHydrateTimeout(cfg.HydrateTimeout),
		session.WithCloseMode(mode),
		session.WithLogger(logger),
		session.WithPushObserver(func(res syncclient.Result) {
			select {
			case results <- res:
			default:
			}
		}),
	)

	if err := cache.Hydrate(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to open session", err)
	}
	if prev, ok := cache.Read(opts.Exercise); ok {
		out.VerboseLog("replacing %s = %s", opts.Exercise, prev)
	}
	cache.Write(opts.Exercise, raw)

	var res syncclient.Result
	if mode == session.CloseDetach {
		out.VerboseLog("waiting %s for the debounced push", cfg.Debounce)
		select {
		case res = <-results:
		case <-ctx.Done():
			return WrapExitError(ExitFailure, "push did not complete", ctx.Err())
		}
		_ = cache.Close(ctx)
	} else {
		if err := cache.Close(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to close session", err)
		}
		select {
		case res = <-results:
		default:
			_ = out.Error("E_ABANDONED", fmt.Sprintf("edit to %s was abandoned on close", opts.Exercise), nil)
			return NewExitError(ExitFailure, "edit abandoned")
		}
	}

	if !res.OK() {
		_ = out.Error("E_PUSH", fmt.Sprintf("push of %s was not persisted", opts.Exercise), res.Err.Error())
		return WrapExitError(ExitFailure, "push not persisted", res.Err)
	}

	return out.Emit(PushResult{
		Identity:  opts.Identity,
		Lesson:    opts.Lesson,
		Exercise:  res.ExerciseID,
		Outcome:   res.Outcome.String(),
		WrittenAt: res.At,
	}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s/%s pushed (%s)\n", opts.Lesson, res.ExerciseID, res.Outcome)
	})
}
