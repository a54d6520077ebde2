package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect and resolve pending actions",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List proposed actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := buildRuntime()
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := rt.actions.List(cmd.Context(), status)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTOOL\tEXPIRES\tDESCRIPTION")
			for _, a := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.Status, a.Tool, a.ExpiresAt.Format("2006-01-02 15:04"), a.Description)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, executed, ...)")

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and execute a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := buildRuntime()
			if err != nil {
				return err
			}
			defer cleanup()

			action, err := rt.actions.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n%s\n", action.ID, action.Status, action.Result)
			return nil
		},
	}

	var reason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := buildRuntime()
			if err != nil {
				return err
			}
			defer cleanup()

			action, err := rt.actions.Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", action.ID, action.Status)
			return nil
		},
	}
	reject.Flags().StringVarP(&reason, "reason", "r", "rejected", "reason recorded on the action")

	cmd.AddCommand(list, approve, reject)
	return cmd
}
