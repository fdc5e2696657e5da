// File: cmd/enroll.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veilkit/pane/api/schemas"
)

// newEnrollCmd creates the `enroll` command: one signup run, in process,
// result printed as JSON.
func newEnrollCmd(state *appState) *cobra.Command {
	var (
		contextName string
		seed        string
		headful     bool
	)

	enrollCmd := &cobra.Command{
		Use:   "enroll [target-url]",
		Short: "Runs one enrollment against the target signup page",
		Long: `Runs the full enrollment flow against the target: launch a hardened
browser session, dismiss consent, detect and fill the signup form, submit,
and classify the outcome. The identity comes from a stored context
(--context) or is derived ephemerally (--seed, never persisted).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := state.logger

			if contextName != "" && seed != "" {
				return fmt.Errorf("--context and --seed are mutually exclusive")
			}

			// Local copy so the flag override stays with this run.
			cfg := *state.cfg
			if headful {
				cfg.Browser.Headless = false
			}

			targetURL := args[0]
			if !strings.HasPrefix(targetURL, "http://") && !strings.HasPrefix(targetURL, "https://") {
				targetURL = "https://" + targetURL
			}

			var ec schemas.EnrollmentContext
			if contextName != "" {
				st, pool, err := openStore(ctx, &cfg, logger)
				if err != nil {
					return err
				}
				defer pool.Close()

				env, err := st.Get(ctx, contextName)
				if err != nil {
					return err
				}
				if env.Tombstoned() {
					return fmt.Errorf("context %q is tombstoned; mint a new one", contextName)
				}
				ec = env.Context()
			} else {
				var err error
				ec, err = ephemeralContext(ctx, &cfg, seed, logger)
				if err != nil {
					return err
				}
			}

			logger.Info("Starting enrollment.",
				zap.String("target", targetURL),
				zap.String("context", ec.Name),
			)

			components, err := buildEngine(ctx, &cfg, false, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize enrollment engine: %w", err)
			}
			defer components.Shutdown(logger)

			progress := func(ev schemas.ProgressEvent) {
				logger.Info("Progress.",
					zap.String("step", string(ev.Step)),
					zap.Int("percent", ev.PercentComplete),
					zap.String("message", ev.Message),
				)
			}

			res := components.Machine.Run(ctx, targetURL, ec, progress)

			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}

			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				return fmt.Errorf("enrollment aborted: %w", ctx.Err())
			case res.Error != "":
				return fmt.Errorf("enrollment failed (%s): %s", res.FailureKind, res.Error)
			case !res.Success:
				return fmt.Errorf("enrollment rejected by the form: %s", res.FormError)
			}

			logger.Info("Enrollment complete.",
				zap.String("context", ec.Name),
				zap.Bool("unconfirmed", res.Unconfirmed),
				zap.String("signal", res.MatchedSignal),
			)
			return nil
		},
	}

	enrollCmd.Flags().StringVar(&contextName, "context", "", "Stored context name to enroll with.")
	enrollCmd.Flags().StringVarP(&seed, "seed", "s", "", "Derive an ephemeral identity from this seed. Empty draws a random one.")
	enrollCmd.Flags().BoolVar(&headful, "headful", false, "Run the browser with a visible window.")

	return enrollCmd
}
