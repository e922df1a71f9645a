package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"querychat/internal/conversation"

	"github.com/spf13/cobra"
)

func newAskCommand(a *app) *cobra.Command {
	var (
		execute   bool
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the assistant a single question",
		Long: `Send one message to the assistant and print the rendered reply.

With --execute, the SQL the reply proposes is run as well and the result is
printed as a table.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			reply, sent, err := eng.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !sent {
				return errors.New("question is empty")
			}
			if err := printMarkdown(out, reply.Content, a.cfg.GlamourStyle); err != nil {
				return err
			}
			if id, ok := eng.SessionID(); ok {
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("session: "+id))
			}

			if !execute {
				return nil
			}
			parsed := reply.Parse()
			if !parsed.HasQuery {
				fmt.Fprintln(out, warningStyle.Render("The reply did not include a query to run."))
				return nil
			}
			fmt.Fprintln(out, infoStyle.Render("Running: ")+parsed.Query)
			return runStaged(out, cmd, eng, parsed.Query)
		},
	}
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "Run the query from the reply")
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	return cmd
}

func newSQLCommand(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Run SQL against the backend and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(sessionID)
			if err != nil {
				return err
			}
			return runStaged(cmd.OutOrStdout(), cmd, eng, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to run the query in")
	return cmd
}

// runStaged executes query and prints either the table or the message the
// engine appended in its place. A failed execution is returned as an error.
func runStaged(out io.Writer, cmd *cobra.Command, eng *conversation.Engine, query string) error {
	res, err := eng.Execute(cmd.Context(), query)
	if err != nil {
		return err
	}
	if !res.Result.Success {
		return errors.New(res.Result.FailureText())
	}
	if res.Appended != nil {
		fmt.Fprintln(out, successStyle.Render(res.Appended.Content))
		return nil
	}
	printTable(out, eng.Table())
	if n := len(res.Projection.Dropped); n > 0 {
		fmt.Fprintln(out, warningStyle.Render(fmt.Sprintf("%d column(s) not present in the first row were hidden: %s",
			n, strings.Join(res.Projection.Dropped, ", "))))
	}
	return nil
}

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, infoStyle.Render("Checking "+c.BaseURL()+" ..."))
			h, err := c.Health(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, errorStyle.Render("API health check failed!"))
				return err
			}
			fmt.Fprintln(out, successStyle.Render("API health check successful!"))
			if h.Status != "" {
				fmt.Fprintf(out, "   status:  %s\n", h.Status)
			}
			if h.Version != "" {
				fmt.Fprintf(out, "   version: %s\n", h.Version)
			}
			return nil
		},
	}
}

func newSessionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage backend sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Request a fresh session id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			id, err := c.NewSessionID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})
	return cmd
}
