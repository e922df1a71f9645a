package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"querychat/internal/api"
	"querychat/internal/config"
	"querychat/internal/conversation"
	"querychat/internal/export"
	"querychat/internal/logging"
	"querychat/internal/session"
	"querychat/internal/status"
	"querychat/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "0.1.0"

// annotationLogStderr marks commands that log to stderr instead of the log
// file. Only commands that do not own the terminal set it.
const annotationLogStderr = "querychat/log-stderr"

// app is the state shared by every command once flags are resolved.
type app struct {
	configPath string
	flags      config.AppConfig
	verbose    bool

	cfg config.AppConfig
	log *zap.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the full command tree. Running it without a
// subcommand starts the chat TUI.
func NewRootCommand() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "querychat",
		Short: "Chat with your database from the terminal",
		Long: `querychat is a terminal client for a natural-language SQL assistant.

Ask a question, review the SQL the assistant proposes, edit it if needed and
run it. Results show up as a sortable, filterable table.

Quick Start:
  querychat                               # Start the chat UI
  querychat ask "top scorers" --execute   # One-shot question
  querychat sql "SELECT 1"                # Run SQL directly
  querychat devserver --seed              # Local backend for trying it out`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runTUI(cmd.Context())
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to config.yaml (default $XDG_CONFIG_HOME/querychat/config.yaml)")
	pf.StringVar(&a.flags.APIURL, "api-url", "", "Backend base URL (default "+config.DefaultAPIURL+")")
	pf.DurationVar(&a.flags.Timeout, "timeout", 0, "Per-request timeout (default 30s)")
	pf.StringVar(&a.flags.ExportDir, "export-dir", "", "Directory for exported transcripts (default cwd)")
	pf.StringVar(&a.flags.ExportFormat, "export-format", "", "Export format: png or md (default png)")
	pf.StringVar(&a.flags.GlamourStyle, "glamour-style", "", "Glamour style for rendered markdown (default dark)")
	pf.DurationVar(&a.flags.StatusWindow, "status-window", 0, "How long status messages stay visible (default 3s)")
	pf.StringVar(&a.flags.LogFile, "log-file", "", "Log file path")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.flags.ChromePath, "chrome-path", "", "Chrome binary used for PNG export")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newAskCommand(a),
		newSQLCommand(a),
		newHealthCommand(a),
		newSessionCommand(a),
		newDevserverCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.Load(path, a.flags)
	if err != nil {
		return err
	}
	a.cfg = cfg

	opts := logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Verbose: a.verbose}
	if _, ok := cmd.Annotations[annotationLogStderr]; ok {
		opts.File = ""
	}
	log, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.log = log
	a.log.Debug("config resolved",
		zap.String("config", path),
		zap.String("api_url", cfg.APIURL),
		zap.Duration("timeout", cfg.Timeout),
		zap.String("export_format", cfg.ExportFormat))
	return nil
}

func (a *app) client() (*api.Client, error) {
	return api.New(a.cfg.APIURL, api.WithTimeout(a.cfg.Timeout), api.WithLogger(a.log))
}

// engine builds a conversation engine. A non-empty sessionID continues that
// backend session.
func (a *app) engine(sessionID string, opts ...conversation.Option) (*conversation.Engine, error) {
	c, err := a.client()
	if err != nil {
		return nil, err
	}
	store := session.NewStore()
	store.Adopt(sessionID)
	opts = append([]conversation.Option{
		conversation.WithLogger(a.log),
		conversation.WithSessionStore(store),
	}, opts...)
	return conversation.New(c, opts...), nil
}

func (a *app) runTUI(ctx context.Context) error {
	signals := status.New(a.cfg.StatusWindow)
	defer signals.Close()

	eng, err := a.engine("", conversation.WithStatus(signals))
	if err != nil {
		return err
	}
	exp, err := export.New(a.cfg.ExportDir, a.cfg.ExportFormat,
		export.WithLogger(a.log),
		export.WithCapturer(&export.RodCapturer{ChromePath: a.cfg.ChromePath}))
	if err != nil {
		return err
	}

	a.log.Info("starting ui", zap.String("api_url", a.cfg.APIURL))
	m := ui.NewModel(a.cfg, eng, exp, signals, a.log)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
