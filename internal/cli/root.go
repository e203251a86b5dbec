// Package cli implements the clipforge command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/clipforge/internal/app"
	"github.com/MrWong99/clipforge/internal/config"
)

// Dependencies are the process-level inputs of the command tree.
type Dependencies struct {
	Version string

	// Out receives command output, Err receives logs. Both default to the
	// process streams.
	Out io.Writer
	Err io.Writer

	// AppOptions are passed to every app.New call. Tests use them to inject
	// an encoder double.
	AppOptions []app.Option
}

// state is shared by the subcommands of one invocation.
type state struct {
	deps *Dependencies

	configPath string
	logLevel   string
	sessions   []string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd returns the clipforge root command.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Err == nil {
		deps.Err = os.Stderr
	}
	s := &state{deps: deps}

	rootCmd := &cobra.Command{
		Use:   "clipforge",
		Short: "Build stimulus clips from multi-party conversation recordings",
		Long: "clipforge cuts, for every target utterance of a recorded session, a mixed audio excerpt " +
			"with the preceding conversation, an animated waveform video that reveals the speakers' " +
			"transcripts, and the merged clip.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.load()
		},
	}
	rootCmd.Version = deps.Version
	rootCmd.SetOut(deps.Out)
	rootCmd.SetErr(deps.Err)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&s.configPath, "config", "c", "clipforge.yaml", "path to the YAML configuration file")
	pf.StringVar(&s.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	pf.StringSliceVarP(&s.sessions, "session", "s", nil, "session to process; repeatable (default: session from the config)")

	rootCmd.AddCommand(newBuildCmd(s))
	rootCmd.AddCommand(newDoctorCmd(s))
	rootCmd.AddCommand(newPathsCmd(s))
	rootCmd.AddCommand(newListCmd(s))

	return rootCmd
}

// load reads the config and installs the logger.
func (s *state) load() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", s.configPath)
		}
		return err
	}
	if s.logLevel != "" {
		lvl := config.LogLevel(s.logLevel)
		if !lvl.IsValid() {
			return fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", s.logLevel)
		}
		cfg.LogLevel = lvl
	}
	s.log = newLogger(s.deps.Err, cfg.LogLevel)
	slog.SetDefault(s.log)
	s.cfg = cfg
	return nil
}

// targetSessions returns the --session values, or the configured session.
func (s *state) targetSessions() ([]string, error) {
	if len(s.sessions) > 0 {
		return s.sessions, nil
	}
	if s.cfg.Session != "" {
		return []string{s.cfg.Session}, nil
	}
	return nil, app.ErrNoSession
}

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
