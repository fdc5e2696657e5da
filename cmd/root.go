// File: cmd/root.go

// Package cmd wires the pane commands: one-shot enrollments, seed and
// context management, and the HTTP serve mode.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/veilkit/pane/internal/config"
	"github.com/veilkit/pane/internal/observability"
)

var cmdJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// appState carries what PersistentPreRunE resolves for the subcommands:
// the merged configuration and the initialized logger.
type appState struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// newRootCmd builds the full command tree. Returned alongside its state so
// tests can execute an isolated tree and inspect what it resolved.
func newRootCmd() (*cobra.Command, *appState) {
	state := &appState{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "pane",
		Short:         "Pane enrolls disposable alias identities on signup pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.initialize(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&state.cfgFile, "config", "c", "", "config file (default is ./pane.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(
		newEnrollCmd(state),
		newSeedCmd(state),
		newContextCmd(state),
		newServeCmd(state),
	)
	return rootCmd, state
}

// initialize merges defaults, the config file and PANE_* environment
// variables, validates the result and stands up the global logger.
func (s *appState) initialize(cmd *cobra.Command) error {
	v := s.v
	config.SetDefaults(v)

	if s.cfgFile != "" {
		v.SetConfigFile(s.cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pane")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the run.
	}

	// Bind only when set; an unchanged flag must not shadow the file value.
	if flag := cmd.Root().PersistentFlags().Lookup("log-level"); flag != nil && flag.Changed {
		if err := v.BindPFlag("logger.level", flag); err != nil {
			return err
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	s.cfg = cfg

	observability.InitializeLogger(cfg.Logger)
	s.logger = observability.GetLogger()
	s.logger.Debug("Configuration loaded.", zap.String("version", Version))
	return nil
}

// Execute runs the command tree under the signal-aware context from main.
func Execute(ctx context.Context) error {
	rootCmd, state := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if state.logger != nil {
			state.logger.Error("Command failed.", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	observability.Sync()
	return err
}

func printJSON(w io.Writer, v any) error {
	out, err := cmdJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
