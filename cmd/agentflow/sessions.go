package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsCreateCmd(opts),
		newSessionsShowCmd(opts),
		newSessionsDeleteCmd(opts),
		newSessionsOutcomesCmd(opts),
	)
	return cmd
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List session names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			names, err := app.sessions.ListSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, name := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newSessionsCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			record, err := app.sessions.Create(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", record.Name)
			return err
		},
	}
}

func newSessionsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a session record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			record, err := app.sessions.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), record)
		},
	}
}

func newSessionsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.sessions.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

func newSessionsOutcomesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes <name>",
		Short: "List task outcomes recorded for a session and not yet delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.close()

			outcomes, err := app.tasks.Outcomes(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load outcomes: %w", err)
			}
			ids := make([]string, 0, len(outcomes))
			for id := range outcomes {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			list := make([]any, 0, len(ids))
			for _, id := range ids {
				list = append(list, outcomes[id])
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
