package cli

import (
	"fmt"

	"querychat/internal/devserver"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDevserverCommand(a *app) *cobra.Command {
	var (
		addr        string
		dbPath      string
		seed        bool
		ollamaModel string
		ollamaURL   string
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve the chat and SQL API over a local sqlite database",
		Long: `Run a development backend that speaks the same HTTP API the client uses.

Chat replies come from a simple rule set by default: name a table and get a
starter query, paste SQL and get it back ready to run. With --ollama-model the
replies come from a local Ollama model that is given the database schema.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLogStderr: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := devserver.OpenStore(dbPath, a.log)
			if err != nil {
				return err
			}
			defer store.Close()

			if seed {
				if err := store.Seed(ctx); err != nil {
					return err
				}
			}

			var responder devserver.Responder = devserver.NewRuleResponder(store)
			if ollamaModel != "" {
				llm, err := devserver.NewOllamaResponder(ollamaModel, ollamaURL, store)
				if err != nil {
					return fmt.Errorf("set up ollama responder: %w", err)
				}
				responder = llm
				a.log.Info("using ollama responder", zap.String("model", ollamaModel))
			}

			fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render("querychat devserver on http://"+addr))
			srv := devserver.NewServer(store, responder, devserver.WithLogger(a.log))
			return devserver.Run(ctx, addr, srv)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	f.StringVar(&dbPath, "db", "", "sqlite database file (default in-memory)")
	f.BoolVar(&seed, "seed", false, "Create and fill the demo players table")
	f.StringVar(&ollamaModel, "ollama-model", "", "Answer chat with this Ollama model")
	f.StringVar(&ollamaURL, "ollama-url", "", "Ollama server URL (default http://localhost:11434)")
	return cmd
}
